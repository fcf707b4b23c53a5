package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
)

// --- Face tags ---

// ReplaceTagsForVideo transactionally deletes all tags of a video and
// inserts the new set. Re-running a full analysis is therefore idempotent
// at the video level.
func (s *PostgresStore) ReplaceTagsForVideo(ctx context.Context, videoID uuid.UUID, tags []models.FaceTag) error {
	for _, t := range tags {
		if !t.Valid() {
			return fmt.Errorf("tentative tag without child or thumbnail (video %s, start %.1f)",
				videoID, t.StartTime)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM face_tags WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}

	for i := range tags {
		t := &tags[i]
		t.ID = uuid.New()
		t.VideoID = videoID
		err := tx.QueryRow(ctx,
			`INSERT INTO face_tags (id, video_id, child_id, label, start_time, end_time, confidence, tentative, thumbnail_key)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING created_at`,
			t.ID, t.VideoID, t.ChildID, t.Label, t.StartTime, t.EndTime,
			t.Confidence, t.Tentative, t.ThumbnailKey,
		).Scan(&t.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// UpsertTagIfAbsent inserts a tag only when no tag exists for the same
// (video, child, startTime) triple. Used by the on-demand sweep so repeated
// triggers never duplicate appearances. Returns whether a row was inserted.
func (s *PostgresStore) UpsertTagIfAbsent(ctx context.Context, t *models.FaceTag) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("tentative tag without child or thumbnail (video %s, start %.1f)",
			t.VideoID, t.StartTime)
	}

	t.ID = uuid.New()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_tags (id, video_id, child_id, label, start_time, end_time, confidence, tentative, thumbnail_key)
		 SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		 WHERE NOT EXISTS (
		     SELECT 1 FROM face_tags
		     WHERE video_id = $2 AND child_id IS NOT DISTINCT FROM $3 AND start_time = $5
		 )
		 RETURNING created_at`,
		t.ID, t.VideoID, t.ChildID, t.Label, t.StartTime, t.EndTime,
		t.Confidence, t.Tentative, t.ThumbnailKey,
	).Scan(&t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("upsert tag: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, id uuid.UUID) (*models.FaceTag, error) {
	t := &models.FaceTag{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, video_id, child_id, label, start_time, end_time, confidence, tentative,
		        COALESCE(thumbnail_key, ''), created_at
		 FROM face_tags WHERE id = $1`, id,
	).Scan(&t.ID, &t.VideoID, &t.ChildID, &t.Label, &t.StartTime, &t.EndTime,
		&t.Confidence, &t.Tentative, &t.ThumbnailKey, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListTagsForVideo(ctx context.Context, videoID uuid.UUID) ([]models.FaceTag, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, video_id, child_id, label, start_time, end_time, confidence, tentative,
		        COALESCE(thumbnail_key, ''), created_at
		 FROM face_tags WHERE video_id = $1 ORDER BY start_time, label`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []models.FaceTag
	for rows.Next() {
		var t models.FaceTag
		if err := rows.Scan(&t.ID, &t.VideoID, &t.ChildID, &t.Label, &t.StartTime, &t.EndTime,
			&t.Confidence, &t.Tentative, &t.ThumbnailKey, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM face_tags WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tag not found")
	}
	return nil
}

// DeleteTagsForChild removes every tag pointing at a child, across all
// videos. Used when a child's face registration is fully cleared so no
// unverifiable tags dangle.
func (s *PostgresStore) DeleteTagsForChild(ctx context.Context, childID uuid.UUID) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM face_tags WHERE child_id = $1`, childID)
	if err != nil {
		return 0, fmt.Errorf("delete tags for child: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PromoteTag marks a tentative tag confirmed at the given confidence.
func (s *PostgresStore) PromoteTag(ctx context.Context, id uuid.UUID, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE face_tags SET tentative = false, confidence = $1 WHERE id = $2`,
		confidence, id)
	if err != nil {
		return fmt.Errorf("promote tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tag not found")
	}
	return nil
}
