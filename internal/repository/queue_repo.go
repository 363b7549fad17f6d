package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpulse/backend/internal/models"
)

// QueueRepo is the embedded task store: one row per (project, queue)
// holding the full task list in a jsonb column. All task-level mutations
// are single-statement conditional updates so two writers can only
// interleave at statement granularity; a statement whose WHERE clause no
// longer matches simply updates nothing, which is the compare-and-set
// primitive the claim path relies on.
type QueueRepo struct {
	pool *pgxpool.Pool
}

func NewQueueRepo(pool *pgxpool.Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

func scanQueue(row pgx.Row) (*models.Queue, error) {
	var q models.Queue
	var meta, tasks []byte
	err := row.Scan(&q.ProjectID, &q.QueueID, &q.Name, &meta, &tasks,
		&q.LastTaskAt, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &q.Meta); err != nil {
			return nil, fmt.Errorf("decode queue meta: %w", err)
		}
	}
	q.Tasks = []models.Task{}
	if len(tasks) > 0 {
		if err := json.Unmarshal(tasks, &q.Tasks); err != nil {
			return nil, fmt.Errorf("decode queue tasks: %w", err)
		}
	}
	return &q, nil
}

const queueColumns = `project_id, queue_id, name, meta, tasks, last_task_at, created_at, updated_at`

func (r *QueueRepo) Get(ctx context.Context, projectID, queueID string) (*models.Queue, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+queueColumns+` FROM queues WHERE project_id = $1 AND queue_id = $2
	`, projectID, queueID)
	return scanQueue(row)
}

func (r *QueueRepo) ListByProject(ctx context.Context, projectID string) ([]*models.Queue, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+queueColumns+` FROM queues WHERE project_id = $1 ORDER BY last_task_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Queue{}
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// Upsert writes the queue document, replacing the task array wholesale.
// The reconciler has already decided per task what survives.
func (r *QueueRepo) Upsert(ctx context.Context, q *models.Queue) error {
	tasks, err := json.Marshal(q.Tasks)
	if err != nil {
		return fmt.Errorf("encode queue tasks: %w", err)
	}
	var meta []byte
	if q.Meta != nil {
		if meta, err = json.Marshal(q.Meta); err != nil {
			return fmt.Errorf("encode queue meta: %w", err)
		}
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO queues (project_id, queue_id, name, meta, tasks, last_task_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, queue_id) DO UPDATE
		SET name = EXCLUDED.name,
		    meta = COALESCE(EXCLUDED.meta, queues.meta),
		    tasks = EXCLUDED.tasks,
		    last_task_at = EXCLUDED.last_task_at,
		    updated_at = now()
	`, q.ProjectID, q.QueueID, q.Name, meta, tasks, q.LastTaskAt)
	return err
}

// Tasks returns the queue's embedded task list in stored order.
func (r *QueueRepo) Tasks(ctx context.Context, projectID, queueID string) ([]models.Task, error) {
	q, err := r.Get(ctx, projectID, queueID)
	if err != nil {
		return nil, err
	}
	return q.Tasks, nil
}

// Claim atomically claims the embedded task with the given id. The WHERE
// clause re-asserts unclaimed and undeleted at claim time; zero rows back
// means a concurrent claimant won since the caller's read, and ok=false
// is returned without error.
func (r *QueueRepo) Claim(ctx context.Context, projectID, queueID, taskID, claimant string, now time.Time) (*models.Task, bool, error) {
	patch, err := json.Marshal(map[string]any{
		"pulled_at":          now,
		"pulled_by":          claimant,
		"server_modified_at": now,
	})
	if err != nil {
		return nil, false, err
	}
	entry, err := json.Marshal(models.PullRecord{PulledAt: now, PulledBy: claimant})
	if err != nil {
		return nil, false, err
	}

	var claimed []byte
	err = r.pool.QueryRow(ctx, `
		UPDATE queues
		SET tasks = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'id' = $3
					THEN jsonb_set(elem || $4::jsonb, '{pull_history}',
						COALESCE(elem->'pull_history', '[]'::jsonb) || $5::jsonb)
					ELSE elem
				END ORDER BY ord), '[]'::jsonb)
			FROM jsonb_array_elements(queues.tasks) WITH ORDINALITY AS t(elem, ord)
		),
		updated_at = now()
		WHERE project_id = $1 AND queue_id = $2
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(queues.tasks) AS t(elem)
			WHERE elem->>'id' = $3
			  AND elem->>'pulled_at' IS NULL
			  AND elem->>'deleted_at' IS NULL
		  )
		RETURNING (
			SELECT elem FROM jsonb_array_elements(tasks) AS t(elem) WHERE elem->>'id' = $3
		)
	`, projectID, queueID, taskID, patch, entry).Scan(&claimed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var task models.Task
	if err := json.Unmarshal(claimed, &task); err != nil {
		return nil, false, fmt.Errorf("decode claimed task: %w", err)
	}
	return &task, true, nil
}

// GetTask returns the embedded task with the given id.
func (r *QueueRepo) GetTask(ctx context.Context, projectID, queueID, taskID string) (*models.Task, error) {
	q, err := r.Get(ctx, projectID, queueID)
	if err != nil {
		return nil, err
	}
	t := q.FindTask(taskID)
	if t == nil {
		return nil, models.ErrNotFound
	}
	return t, nil
}

// SaveTask swaps the embedded task with the given id for the supplied
// document, guarded on the id still being present.
func (r *QueueRepo) SaveTask(ctx context.Context, projectID, queueID string, task *models.Task) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE queues
		SET tasks = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'id' = $3 THEN $4::jsonb ELSE elem END
				ORDER BY ord), '[]'::jsonb)
			FROM jsonb_array_elements(queues.tasks) WITH ORDINALITY AS t(elem, ord)
		),
		last_task_at = now(),
		updated_at = now()
		WHERE project_id = $1 AND queue_id = $2
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(queues.tasks) AS t(elem)
			WHERE elem->>'id' = $3
		  )
	`, projectID, queueID, task.ID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AppendToTask atomically appends one entry to the task's messages or
// logs array and stamps the server-modification watermark. Concurrent
// appends both land; this is what keeps server-side history safe between
// producer resubmissions.
func (r *QueueRepo) AppendToTask(ctx context.Context, projectID, queueID, taskID, field string, entry any, now time.Time) (*models.Task, error) {
	if field != "messages" && field != "logs" {
		return nil, fmt.Errorf("append to unsupported field %q", field)
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", field, err)
	}
	patch, err := json.Marshal(map[string]any{
		"updated_at":         now,
		"server_modified_at": now,
	})
	if err != nil {
		return nil, err
	}

	// field is from the fixed whitelist above, never caller input.
	stmt := fmt.Sprintf(`
		UPDATE queues
		SET tasks = (
			SELECT COALESCE(jsonb_agg(
				CASE WHEN elem->>'id' = $3
					THEN jsonb_set(elem || $4::jsonb, '{%[1]s}',
						COALESCE(elem->'%[1]s', '[]'::jsonb) || $5::jsonb)
					ELSE elem
				END ORDER BY ord), '[]'::jsonb)
			FROM jsonb_array_elements(queues.tasks) WITH ORDINALITY AS t(elem, ord)
		),
		last_task_at = now(),
		updated_at = now()
		WHERE project_id = $1 AND queue_id = $2
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(queues.tasks) AS t(elem)
			WHERE elem->>'id' = $3
		  )
		RETURNING (
			SELECT elem FROM jsonb_array_elements(tasks) AS t(elem) WHERE elem->>'id' = $3
		)
	`, field)

	var updated []byte
	err = r.pool.QueryRow(ctx, stmt, projectID, queueID, taskID, patch, doc).Scan(&updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var task models.Task
	if err := json.Unmarshal(updated, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}

// RemoveTask pulls the task out of the embedded array (move/delete).
func (r *QueueRepo) RemoveTask(ctx context.Context, projectID, queueID, taskID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queues
		SET tasks = (
			SELECT COALESCE(jsonb_agg(elem ORDER BY ord), '[]'::jsonb)
			FROM jsonb_array_elements(queues.tasks) WITH ORDINALITY AS t(elem, ord)
			WHERE elem->>'id' <> $3
		),
		updated_at = now()
		WHERE project_id = $1 AND queue_id = $2
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(queues.tasks) AS t(elem)
			WHERE elem->>'id' = $3
		  )
	`, projectID, queueID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// InsertTask appends a task to the queue's array, creating the queue if
// necessary. Returns models.ErrDuplicate when the queue already holds a
// task with the same id.
func (r *QueueRepo) InsertTask(ctx context.Context, projectID, queueID string, task *models.Task) error {
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO queues (project_id, queue_id, name, tasks)
		VALUES ($1, $2, $2, jsonb_build_array($3::jsonb))
		ON CONFLICT (project_id, queue_id) DO UPDATE
		SET tasks = queues.tasks || $3::jsonb,
		    last_task_at = now(),
		    updated_at = now()
		WHERE NOT EXISTS (
			SELECT 1 FROM jsonb_array_elements(queues.tasks) AS t(elem)
			WHERE elem->>'id' = $4
		)
	`, projectID, queueID, doc, task.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrDuplicate
	}
	return nil
}
