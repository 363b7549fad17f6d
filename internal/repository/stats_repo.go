package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpulse/backend/internal/models"
)

// StatsRepo persists the per-day counter documents and the append-only
// execution audit log.
type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

func (r *StatsRepo) GetDaily(ctx context.Context, date, scope string) (*models.DailyStats, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `
		SELECT data FROM daily_stats WHERE date = $1 AND scope = $2
	`, date, scope).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var s models.DailyStats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode daily stats: %w", err)
	}
	return &s, nil
}

// SaveDaily writes the whole counter document. Last writer wins;
// concurrent increments on the same day+scope may race, which the
// aggregator contract accepts.
func (r *StatsRepo) SaveDaily(ctx context.Context, s *models.DailyStats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode daily stats: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO daily_stats (date, scope, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (date, scope) DO UPDATE
		SET data = EXCLUDED.data, updated_at = now()
	`, s.Date, s.Scope, data)
	return err
}

func (r *StatsRepo) InsertExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO execution_log (id, date, hour, project_id, queue_id, task_id, result,
			error_type, error_message, duration_ms, client_hostname, api_key_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rec.ID, rec.Date, rec.Hour, rec.ProjectID, rec.QueueID, rec.TaskID, rec.Result,
		rec.ErrorType, rec.ErrorMessage, rec.DurationMS, rec.ClientHostname, rec.APIKeyName, rec.CreatedAt)
	return err
}

// ListExecutions returns recent audit rows, newest first. An empty
// projectID lists across every project.
func (r *StatsRepo) ListExecutions(ctx context.Context, projectID string, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, date, hour, project_id, queue_id, task_id, result,
			error_type, error_message, duration_ms, client_hostname, api_key_name, created_at
		FROM execution_log
		WHERE ($1 = '' OR project_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.ExecutionRecord{}
	for rows.Next() {
		var rec models.ExecutionRecord
		if err := rows.Scan(&rec.ID, &rec.Date, &rec.Hour, &rec.ProjectID, &rec.QueueID,
			&rec.TaskID, &rec.Result, &rec.ErrorType, &rec.ErrorMessage, &rec.DurationMS,
			&rec.ClientHostname, &rec.APIKeyName, &rec.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &rec)
	}
	return list, rows.Err()
}
