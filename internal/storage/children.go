package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
)

// --- Children ---

func (s *PostgresStore) CreateChild(ctx context.Context, c *models.Child) error {
	c.ID = uuid.New()
	return s.pool.QueryRow(ctx,
		`INSERT INTO children (id, school_id, name) VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		c.ID, c.SchoolID, c.Name,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (s *PostgresStore) GetChild(ctx context.Context, id uuid.UUID) (*models.Child, error) {
	c := &models.Child{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, school_id, name, primary_face_id, COALESCE(primary_face_key, ''), created_at, updated_at
		 FROM children WHERE id = $1`, id,
	).Scan(&c.ID, &c.SchoolID, &c.Name, &c.PrimaryFaceID, &c.PrimaryFaceKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get child: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListChildren(ctx context.Context, schoolID uuid.UUID) ([]models.Child, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, school_id, name, primary_face_id, COALESCE(primary_face_key, ''), created_at, updated_at
		 FROM children WHERE school_id = $1 ORDER BY name`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []models.Child
	for rows.Next() {
		var c models.Child
		if err := rows.Scan(&c.ID, &c.SchoolID, &c.Name, &c.PrimaryFaceID, &c.PrimaryFaceKey,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, c)
	}
	return children, nil
}

// --- Reference faces ---

// AddReferenceFace inserts a reference face and bumps the owning child's
// denormalized primary-face pointer, in one transaction.
func (s *PostgresStore) AddReferenceFace(ctx context.Context, f *models.ReferenceFace) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	f.ID = uuid.New()
	err = tx.QueryRow(ctx,
		`INSERT INTO reference_faces (id, child_id, provider_face_id, image_key)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		f.ID, f.ChildID, f.ProviderFaceID, f.ImageKey,
	).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("add reference face: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE children SET primary_face_id = $1, primary_face_key = $2, updated_at = now()
		 WHERE id = $3`,
		f.ID, f.ImageKey, f.ChildID)
	if err != nil {
		return fmt.Errorf("update primary face: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetReferenceFace(ctx context.Context, childID, faceID uuid.UUID) (*models.ReferenceFace, error) {
	f := &models.ReferenceFace{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, child_id, provider_face_id, image_key, created_at
		 FROM reference_faces WHERE id = $1 AND child_id = $2`, faceID, childID,
	).Scan(&f.ID, &f.ChildID, &f.ProviderFaceID, &f.ImageKey, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get reference face: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListReferenceFaces(ctx context.Context, childID uuid.UUID) ([]models.ReferenceFace, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, child_id, provider_face_id, image_key, created_at
		 FROM reference_faces WHERE child_id = $1 ORDER BY created_at DESC`, childID)
	if err != nil {
		return nil, fmt.Errorf("list reference faces: %w", err)
	}
	defer rows.Close()

	var faces []models.ReferenceFace
	for rows.Next() {
		var f models.ReferenceFace
		if err := rows.Scan(&f.ID, &f.ChildID, &f.ProviderFaceID, &f.ImageKey, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, nil
}

// CountReferenceFaces counts registered faces across all children. The
// orchestrator short-circuits a run when this is zero.
func (s *PostgresStore) CountReferenceFaces(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reference_faces`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reference faces: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CountReferenceFacesForChild(ctx context.Context, childID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reference_faces WHERE child_id = $1`, childID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count reference faces for child: %w", err)
	}
	return count, nil
}

// DeleteReferenceFace removes one face row and repairs the primary pointer
// if it pointed at the deleted row.
func (s *PostgresStore) DeleteReferenceFace(ctx context.Context, childID, faceID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM reference_faces WHERE id = $1 AND child_id = $2`, faceID, childID)
	if err != nil {
		return fmt.Errorf("delete reference face: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reference face not found")
	}

	_, err = tx.Exec(ctx,
		`UPDATE children c
		 SET primary_face_id = latest.id, primary_face_key = COALESCE(latest.image_key, ''), updated_at = now()
		 FROM (SELECT NULL) AS noop
		 LEFT JOIN LATERAL (
		     SELECT id, image_key FROM reference_faces
		     WHERE child_id = $1 ORDER BY created_at DESC LIMIT 1
		 ) latest ON true
		 WHERE c.id = $1 AND c.primary_face_id = $2`,
		childID, faceID)
	if err != nil {
		return fmt.Errorf("repair primary face: %w", err)
	}

	return tx.Commit(ctx)
}

// ClearReferenceFaces deletes every reference face of a child and clears the
// primary pointer. Returns the removed rows so the caller can invalidate the
// remote index entries (best-effort).
func (s *PostgresStore) ClearReferenceFaces(ctx context.Context, childID uuid.UUID) ([]models.ReferenceFace, error) {
	faces, err := s.ListReferenceFaces(ctx, childID)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM reference_faces WHERE child_id = $1`, childID); err != nil {
		return nil, fmt.Errorf("clear reference faces: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE children SET primary_face_id = NULL, primary_face_key = '', updated_at = now()
		 WHERE id = $1`, childID); err != nil {
		return nil, fmt.Errorf("clear primary face: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return faces, nil
}

// --- Guardianship ---

func (s *PostgresStore) IsGuardianOf(ctx context.Context, guardianID, childID uuid.UUID) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM guardianships WHERE guardian_id = $1 AND child_id = $2)`,
		guardianID, childID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("is guardian of: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) AddGuardianship(ctx context.Context, guardianID, childID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO guardianships (guardian_id, child_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		guardianID, childID)
	if err != nil {
		return fmt.Errorf("add guardianship: %w", err)
	}
	return nil
}
