package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/livestab/internal/config"
	"github.com/your-org/livestab/internal/models"
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

// --- Streams ---

func (s *PostgresStore) CreateStream(ctx context.Context, st *models.Stream) error {
	st.ID = uuid.New()
	st.Status = models.StreamStatusStopped
	if st.Config == nil {
		st.Config = json.RawMessage("{}")
	}
	return s.pool.QueryRow(ctx,
		`INSERT INTO streams (id, url, stream_type, fps, status, config)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		st.ID, st.URL, st.StreamType, st.FPS, st.Status, st.Config,
	).Scan(&st.CreatedAt, &st.UpdatedAt)
}

func (s *PostgresStore) GetStream(ctx context.Context, id uuid.UUID) (*models.Stream, error) {
	st := &models.Stream{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, url, stream_type, fps, status, config, error_message, created_at, updated_at
		 FROM streams WHERE id = $1`, id,
	).Scan(&st.ID, &st.URL, &st.StreamType, &st.FPS, &st.Status,
		&st.Config, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) ListStreams(ctx context.Context) ([]models.Stream, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, url, stream_type, fps, status, config, error_message, created_at, updated_at
		 FROM streams ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		var st models.Stream
		if err := rows.Scan(&st.ID, &st.URL, &st.StreamType, &st.FPS, &st.Status,
			&st.Config, &st.ErrorMessage, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, nil
}

func (s *PostgresStore) UpdateStreamStatus(ctx context.Context, id uuid.UUID, status models.StreamStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE streams SET status = $1, error_message = $2, updated_at = now() WHERE id = $3`,
		status, errMsg, id)
	return err
}

func (s *PostgresStore) DeleteStream(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stream not found")
	}
	return nil
}

// --- Runs ---

// StartRun records the beginning of a new stabilization run for a stream.
func (s *PostgresStore) StartRun(ctx context.Context, streamID uuid.UUID) (*models.Run, error) {
	r := &models.Run{
		ID:        uuid.New(),
		StreamID:  streamID,
		StartedAt: time.Now(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, stream_id, started_at) VALUES ($1, $2, $3)`,
		r.ID, r.StreamID, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return r, nil
}

// EndRun closes out a run with its final aggregate telemetry.
func (s *PostgresStore) EndRun(ctx context.Context, id uuid.UUID, framesProcessed int64, avgTrust, avgScene float64, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE runs SET ended_at = now(), frames_processed = $1, avg_trust_factor = $2, avg_scene_quality = $3, error_message = $4 WHERE id = $5`,
		framesProcessed, avgTrust, avgScene, errMsg, id)
	return err
}

// CloseOpenRun ends the most recent still-open run for a stream, aggregating
// frame counts and average telemetry from the results recorded since it
// started. It is a no-op if no run is open.
func (s *PostgresStore) CloseOpenRun(ctx context.Context, streamID uuid.UUID, errMsg string) error {
	var runID uuid.UUID
	var startedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, started_at FROM runs WHERE stream_id = $1 AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`,
		streamID,
	).Scan(&runID, &startedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil
		}
		return fmt.Errorf("find open run: %w", err)
	}

	var framesProcessed int64
	var avgTrust, avgScene float64
	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(AVG(trust_factor), 0), COALESCE(AVG(scene_quality), 0)
		 FROM stabilization_results WHERE stream_id = $1 AND timestamp >= $2`,
		streamID, startedAt,
	).Scan(&framesProcessed, &avgTrust, &avgScene)
	if err != nil {
		return fmt.Errorf("aggregate run telemetry: %w", err)
	}

	return s.EndRun(ctx, runID, framesProcessed, avgTrust, avgScene, errMsg)
}

func (s *PostgresStore) ListRuns(ctx context.Context, streamID uuid.UUID) ([]models.Run, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, stream_id, started_at, ended_at, frames_processed, avg_trust_factor, avg_scene_quality, error_message
		 FROM runs WHERE stream_id = $1 ORDER BY started_at DESC`, streamID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.StreamID, &r.StartedAt, &r.EndedAt,
			&r.FramesProcessed, &r.AvgTrustFactor, &r.AvgSceneQuality, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// --- Stabilization results ---

func (s *PostgresStore) CreateResult(ctx context.Context, r *models.StabilizationResult) error {
	r.CreatedAt = time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stabilization_results (stream_id, frame_id, sequence, timestamp, stabilized_ref, trust_factor, scene_quality, ready, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.StreamID, r.FrameID, r.Sequence, r.Timestamp, r.StabilizedRef, r.TrustFactor, r.SceneQuality, r.Ready, r.CreatedAt)
	return err
}

func (s *PostgresStore) QueryResults(ctx context.Context, streamID uuid.UUID, from, to *time.Time, limit, offset int) ([]models.StabilizationResult, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	baseWhere := "WHERE stream_id = $1"
	args := []interface{}{streamID}
	argIdx := 2

	if from != nil {
		baseWhere += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *from)
		argIdx++
	}
	if to != nil {
		baseWhere += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *to)
		argIdx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM stabilization_results " + baseWhere
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count results: %w", err)
	}

	query := fmt.Sprintf(
		`SELECT stream_id, frame_id, sequence, timestamp, stabilized_ref, trust_factor, scene_quality, ready, created_at
		 FROM stabilization_results %s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		baseWhere, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []models.StabilizationResult
	for rows.Next() {
		var r models.StabilizationResult
		if err := rows.Scan(&r.StreamID, &r.FrameID, &r.Sequence, &r.Timestamp,
			&r.StabilizedRef, &r.TrustFactor, &r.SceneQuality, &r.Ready, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, nil
}
