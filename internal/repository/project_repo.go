package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpulse/backend/internal/models"
)

type ProjectRepo struct {
	pool *pgxpool.Pool
}

func NewProjectRepo(pool *pgxpool.Pool) *ProjectRepo {
	return &ProjectRepo{pool: pool}
}

const projectColumns = `project_id, name, client_username, client_hostname, client_path, last_task_at, created_at, updated_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ProjectID, &p.Name, &p.ClientInfo.Username, &p.ClientInfo.Hostname,
		&p.ClientInfo.Path, &p.LastTaskAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Upsert creates the project if absent, otherwise updates its name. When
// clientInfo is non-nil every sub-field is overwritten, missing ones
// included; a nil clientInfo leaves the stored values untouched.
func (r *ProjectRepo) Upsert(ctx context.Context, projectID, name string, clientInfo *models.ClientInfo) (*models.Project, error) {
	var row pgx.Row
	if clientInfo != nil {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO projects (project_id, name, client_username, client_hostname, client_path)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (project_id) DO UPDATE
			SET name = EXCLUDED.name,
			    client_username = EXCLUDED.client_username,
			    client_hostname = EXCLUDED.client_hostname,
			    client_path = EXCLUDED.client_path,
			    updated_at = now()
			RETURNING `+projectColumns,
			projectID, name, clientInfo.Username, clientInfo.Hostname, clientInfo.Path)
	} else {
		row = r.pool.QueryRow(ctx, `
			INSERT INTO projects (project_id, name)
			VALUES ($1, $2)
			ON CONFLICT (project_id) DO UPDATE
			SET name = EXCLUDED.name, updated_at = now()
			RETURNING `+projectColumns,
			projectID, name)
	}
	return scanProject(row)
}

func (r *ProjectRepo) GetByID(ctx context.Context, projectID string) (*models.Project, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE project_id = $1`, projectID)
	return scanProject(row)
}

// TouchLastTask bumps the project's rolling task watermark.
func (r *ProjectRepo) TouchLastTask(ctx context.Context, projectID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET last_task_at = $2, updated_at = now() WHERE project_id = $1
	`, projectID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *ProjectRepo) List(ctx context.Context) ([]*models.Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects ORDER BY last_task_at DESC NULLS LAST
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
