package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Videos ---

func (s *PostgresStore) CreateVideo(ctx context.Context, v *models.Video) error {
	v.ID = uuid.New()
	return s.pool.QueryRow(ctx,
		`INSERT INTO videos (id, school_id, class_id, title, external_id, source_url, analysis_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		v.ID, v.SchoolID, v.ClassID, v.Title, v.ExternalID, v.SourceURL, v.AnalysisState,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (s *PostgresStore) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	v := &models.Video{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, school_id, class_id, title, external_id, source_url,
		        analysis_state, analysis_percent, analysis_children, analysis_appearances,
		        created_at, updated_at
		 FROM videos WHERE id = $1`, id,
	).Scan(&v.ID, &v.SchoolID, &v.ClassID, &v.Title, &v.ExternalID, &v.SourceURL,
		&v.AnalysisState, &v.AnalysisPercent, &v.AnalysisChildren, &v.AnalysisAppearances,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListVideos(ctx context.Context, classID *uuid.UUID) ([]models.Video, error) {
	query := `SELECT id, school_id, class_id, title, external_id, source_url,
	                 analysis_state, analysis_percent, analysis_children, analysis_appearances,
	                 created_at, updated_at
	          FROM videos`
	args := []interface{}{}
	if classID != nil {
		query += ` WHERE class_id = $1`
		args = append(args, *classID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []models.Video
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.SchoolID, &v.ClassID, &v.Title, &v.ExternalID, &v.SourceURL,
			&v.AnalysisState, &v.AnalysisPercent, &v.AnalysisChildren, &v.AnalysisAppearances,
			&v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, nil
}

// SetAnalysisProgress persists one state transition. Transitions are written
// before the orchestrator moves to the next step so a crash leaves the last
// committed state inspectable.
func (s *PostgresStore) SetAnalysisProgress(ctx context.Context, videoID uuid.UUID,
	state models.AnalysisState, percent, children, appearances int) error {

	_, err := s.pool.Exec(ctx,
		`UPDATE videos
		 SET analysis_state = $1, analysis_percent = $2,
		     analysis_children = $3, analysis_appearances = $4, updated_at = now()
		 WHERE id = $5`,
		state, percent, children, appearances, videoID)
	if err != nil {
		return fmt.Errorf("set analysis progress: %w", err)
	}
	return nil
}

// --- Analysis runs ---

// ClaimRun inserts a run row for the video unless an unfinished run already
// exists. Returns (nil, nil) when the claim is not acquired, so a concurrent
// re-trigger becomes an explicit conflict instead of a last-writer-wins race.
func (s *PostgresStore) ClaimRun(ctx context.Context, videoID uuid.UUID, kind models.RunKind) (*models.AnalysisRun, error) {
	run := &models.AnalysisRun{ID: uuid.New(), VideoID: videoID, Kind: kind}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO analysis_runs (id, video_id, kind)
		 SELECT $1, $2, $3
		 WHERE NOT EXISTS (
		     SELECT 1 FROM analysis_runs WHERE video_id = $2 AND finished_at IS NULL
		 )
		 RETURNING started_at`,
		run.ID, videoID, kind,
	).Scan(&run.StartedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim run: %w", err)
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID uuid.UUID, outcome models.AnalysisState) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs SET outcome = $1, finished_at = now() WHERE id = $2`,
		outcome, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasActiveRun(ctx context.Context, videoID uuid.UUID) (bool, error) {
	var active bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM analysis_runs WHERE video_id = $1 AND finished_at IS NULL)`,
		videoID).Scan(&active)
	if err != nil {
		return false, fmt.Errorf("has active run: %w", err)
	}
	return active, nil
}

// ReleaseStaleRuns closes runs abandoned by a dead process (older than
// maxAge and never finished). Called on analyzer startup. Only videos whose
// stale run was a full analysis are marked failed: sweeps never own the
// status columns, and a video already in a terminal state keeps it.
func (s *PostgresStore) ReleaseStaleRuns(ctx context.Context, maxAge time.Duration) (int, error) {
	terminal := make([]string, 0, len(models.TerminalStates()))
	for _, st := range models.TerminalStates() {
		terminal = append(terminal, string(st))
	}
	tag, err := s.pool.Exec(ctx,
		`WITH stale AS (
		     UPDATE analysis_runs SET outcome = $1, finished_at = now()
		     WHERE finished_at IS NULL AND started_at < now() - $2::interval
		     RETURNING video_id, kind
		 )
		 UPDATE videos SET analysis_state = $1, updated_at = now()
		 WHERE id IN (SELECT video_id FROM stale WHERE kind = $3)
		   AND analysis_state <> ALL($4)`,
		models.AnalysisFailed, maxAge.String(), models.RunFull, terminal)
	if err != nil {
		return 0, fmt.Errorf("release stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- School settings ---

// AnalysisEnabled reports the per-school policy gate. Schools without a
// settings row default to enabled.
func (s *PostgresStore) AnalysisEnabled(ctx context.Context, schoolID uuid.UUID) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx,
		`SELECT analysis_enabled FROM school_settings WHERE school_id = $1`, schoolID,
	).Scan(&enabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return true, nil
		}
		return false, fmt.Errorf("analysis enabled: %w", err)
	}
	return enabled, nil
}

func (s *PostgresStore) SetAnalysisEnabled(ctx context.Context, schoolID uuid.UUID, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO school_settings (school_id, analysis_enabled) VALUES ($1, $2)
		 ON CONFLICT (school_id) DO UPDATE SET analysis_enabled = EXCLUDED.analysis_enabled`,
		schoolID, enabled)
	if err != nil {
		return fmt.Errorf("set analysis enabled: %w", err)
	}
	return nil
}
