package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpulse/backend/internal/models"
)

// TaskRepo is the flat per-project task store: one row per task. Claiming
// uses FOR UPDATE SKIP LOCKED so each request grabs the single
// best-ranked eligible row without blocking on concurrent claimants.
//
// The queueID parameter on the shared TaskStore methods is ignored; flat
// tasks belong to no queue.
type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `project_id, id, name, prompt, spec_file, status, report, tags, source,
	priority_label, priority_num, pulled_at, pulled_by, expires_at, deleted_at,
	pull_history, messages, logs, created_at, updated_at, server_modified_at`

// priorityRankSQL mirrors models.Priority.Rank: named levels map to
// 3/2/1, numeric priorities rank as their own value, absent ranks 0.
const priorityRankSQL = `(CASE
	WHEN priority_label = 'high' THEN 3
	WHEN priority_label = 'medium' THEN 2
	WHEN priority_label = 'low' THEN 1
	ELSE priority_num
END)`

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t                                       models.Task
		projectID                               string
		specFile, tags, pullHistory, msgs, logs []byte
	)
	err := row.Scan(&projectID, &t.ID, &t.Name, &t.Prompt, &specFile, &t.Status, &t.Report,
		&tags, &t.Source, &t.Priority.Label, &t.Priority.Num, &t.PulledAt, &t.PulledBy,
		&t.ExpiresAt, &t.DeletedAt, &pullHistory, &msgs, &logs,
		&t.CreatedAt, &t.UpdatedAt, &t.ServerModifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{specFile, &t.SpecFile},
		{tags, &t.Tags},
		{pullHistory, &t.PullHistory},
		{msgs, &t.Messages},
		{logs, &t.Logs},
	} {
		if len(f.raw) > 0 {
			if err := json.Unmarshal(f.raw, f.dst); err != nil {
				return nil, fmt.Errorf("decode task field: %w", err)
			}
		}
	}
	return &t, nil
}

func mustJSON(v any) []byte {
	if v == nil {
		return []byte("[]")
	}
	b, err := json.Marshal(v)
	if err != nil {
		// all inputs are our own model types
		panic(err)
	}
	return b
}

// Create inserts a new flat task. A soft-deleted row with the same id is
// overwritten; a live one yields models.ErrDuplicate. Claim state travels
// with the task, so a claimed task moved in from a queue stays claimed.
func (r *TaskRepo) Create(ctx context.Context, projectID string, t *models.Task) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO tasks (project_id, id, name, prompt, spec_file, status, report, tags, source,
			priority_label, priority_num, pulled_at, pulled_by, expires_at,
			pull_history, messages, logs,
			created_at, updated_at, server_modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (project_id, id) DO UPDATE
		SET name = EXCLUDED.name, prompt = EXCLUDED.prompt, spec_file = EXCLUDED.spec_file,
		    status = EXCLUDED.status, report = EXCLUDED.report, tags = EXCLUDED.tags,
		    source = EXCLUDED.source, priority_label = EXCLUDED.priority_label,
		    priority_num = EXCLUDED.priority_num, expires_at = EXCLUDED.expires_at,
		    pulled_at = EXCLUDED.pulled_at, pulled_by = EXCLUDED.pulled_by, deleted_at = NULL,
		    pull_history = EXCLUDED.pull_history, messages = EXCLUDED.messages,
		    logs = EXCLUDED.logs, created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at, server_modified_at = EXCLUDED.server_modified_at
		WHERE tasks.deleted_at IS NOT NULL
	`, projectID, t.ID, t.Name, t.Prompt, mustJSON(t.SpecFile), t.Status, t.Report,
		mustJSON(t.Tags), t.Source, t.Priority.Label, t.Priority.Num, t.PulledAt, t.PulledBy,
		t.ExpiresAt, mustJSON(t.PullHistory), mustJSON(t.Messages), mustJSON(t.Logs),
		t.CreatedAt, t.UpdatedAt, t.ServerModifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDuplicate
	}
	return nil
}

// GetTask returns the live task with the given id.
func (r *TaskRepo) GetTask(ctx context.Context, projectID, _ string, taskID string) (*models.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL
	`, projectID, taskID)
	return scanTask(row)
}

// SaveTask writes every mutable field of an existing task.
func (r *TaskRepo) SaveTask(ctx context.Context, projectID, _ string, t *models.Task) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET name = $3, prompt = $4, spec_file = $5, status = $6, report = $7, tags = $8,
		    priority_label = $9, priority_num = $10, pulled_at = $11, pulled_by = $12,
		    expires_at = $13, pull_history = $14, messages = $15, logs = $16,
		    updated_at = $17, server_modified_at = $18
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL
	`, projectID, t.ID, t.Name, t.Prompt, mustJSON(t.SpecFile), t.Status, t.Report,
		mustJSON(t.Tags), t.Priority.Label, t.Priority.Num, t.PulledAt, t.PulledBy,
		t.ExpiresAt, mustJSON(t.PullHistory), mustJSON(t.Messages), mustJSON(t.Logs),
		t.UpdatedAt, t.ServerModifiedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AppendToTask atomically appends one entry to messages or logs.
func (r *TaskRepo) AppendToTask(ctx context.Context, projectID, _ string, taskID, field string, entry any, now time.Time) (*models.Task, error) {
	if field != "messages" && field != "logs" {
		return nil, fmt.Errorf("append to unsupported field %q", field)
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", field, err)
	}
	// field is from the fixed whitelist above, never caller input.
	stmt := fmt.Sprintf(`
		UPDATE tasks
		SET %[1]s = %[1]s || $3::jsonb, updated_at = $4, server_modified_at = $4
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING `+taskColumns, field)
	return scanTask(r.pool.QueryRow(ctx, stmt, projectID, taskID, doc, now))
}

// InsertTask adds a task row (move destination).
func (r *TaskRepo) InsertTask(ctx context.Context, projectID, _ string, t *models.Task) error {
	return r.Create(ctx, projectID, t)
}

// RemoveTask deletes the row outright (move source).
func (r *TaskRepo) RemoveTask(ctx context.Context, projectID, _ string, taskID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM tasks WHERE project_id = $1 AND id = $2
	`, projectID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SoftDelete marks the task deleted without destroying it.
func (r *TaskRepo) SoftDelete(ctx context.Context, projectID, taskID string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET deleted_at = $3, updated_at = $3, server_modified_at = $3
		WHERE project_id = $1 AND id = $2 AND deleted_at IS NULL
	`, projectID, taskID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListByProject returns the project's live flat tasks, newest first.
func (r *TaskRepo) ListByProject(ctx context.Context, projectID string) ([]models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// Tasks returns every live task in the project (claim-candidate listing).
func (r *TaskRepo) Tasks(ctx context.Context, projectID, _ string) ([]models.Task, error) {
	return r.ListByProject(ctx, projectID)
}

// Claim conditionally claims the task with the given id; ok=false when a
// concurrent claimant got there first.
func (r *TaskRepo) Claim(ctx context.Context, projectID, _ string, taskID, claimant string, now time.Time) (*models.Task, bool, error) {
	entry := mustJSON([]models.PullRecord{{PulledAt: now, PulledBy: claimant}})
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET pulled_at = $3, pulled_by = $4, server_modified_at = $3, updated_at = $3,
		    pull_history = pull_history || $5::jsonb
		WHERE project_id = $1 AND id = $2 AND pulled_at IS NULL AND deleted_at IS NULL
		RETURNING `+taskColumns,
		projectID, taskID, now, claimant, entry)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return t, true, nil
}

// ClaimTop claims the single best-ranked eligible task matching the
// filter in one statement. ok=false means the eligible pool is empty.
func (r *TaskRepo) ClaimTop(ctx context.Context, f models.PullFilter, claimant string, now time.Time) (*models.Task, bool, error) {
	where := []string{
		"project_id = $1",
		"source = 'server'",
		"pulled_at IS NULL",
		"deleted_at IS NULL",
		"(expires_at IS NULL OR expires_at > $2)",
	}
	args := []any{f.ProjectID, now}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	if len(f.Tags) > 0 {
		where = append(where, "tags ?| "+arg(f.Tags))
	}
	if f.CreatedAfter != nil {
		where = append(where, "created_at > "+arg(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		where = append(where, "created_at < "+arg(*f.CreatedBefore))
	}
	if f.ModifiedAfter != nil {
		where = append(where, "server_modified_at > "+arg(*f.ModifiedAfter))
	}
	if f.ModifiedBefore != nil {
		where = append(where, "server_modified_at < "+arg(*f.ModifiedBefore))
	}
	if f.Priority != nil {
		where = append(where, "priority_label = "+arg(f.Priority.Label))
		where = append(where, "priority_num = "+arg(f.Priority.Num))
	}

	entry := mustJSON([]models.PullRecord{{PulledAt: now, PulledBy: claimant}})
	stmt := fmt.Sprintf(`
		UPDATE tasks
		SET pulled_at = $2, pulled_by = %s, server_modified_at = $2, updated_at = $2,
		    pull_history = pull_history || %s::jsonb
		WHERE (project_id, id) IN (
			SELECT project_id, id FROM tasks
			WHERE %s
			ORDER BY %s DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`,
		arg(claimant), arg(entry), strings.Join(where, " AND "), priorityRankSQL, taskColumns)

	t, err := scanTask(r.pool.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return t, true, nil
}
