package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl is idempotent and applied on every startup, alongside River's own
// migrations.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS projects (
		project_id      text PRIMARY KEY,
		name            text NOT NULL,
		client_username text NOT NULL DEFAULT '',
		client_hostname text NOT NULL DEFAULT '',
		client_path     text NOT NULL DEFAULT '',
		last_task_at    timestamptz,
		created_at      timestamptz NOT NULL DEFAULT now(),
		updated_at      timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS queues (
		project_id   text NOT NULL,
		queue_id     text NOT NULL,
		name         text NOT NULL,
		meta         jsonb,
		tasks        jsonb NOT NULL DEFAULT '[]',
		last_task_at timestamptz NOT NULL DEFAULT now(),
		created_at   timestamptz NOT NULL DEFAULT now(),
		updated_at   timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, queue_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		project_id         text NOT NULL,
		id                 text NOT NULL,
		name               text NOT NULL,
		prompt             text NOT NULL DEFAULT '',
		spec_file          jsonb NOT NULL DEFAULT '[]',
		status             text NOT NULL,
		report             text NOT NULL DEFAULT '',
		tags               jsonb NOT NULL DEFAULT '[]',
		source             text NOT NULL,
		priority_label     text NOT NULL DEFAULT '',
		priority_num       int NOT NULL DEFAULT 0,
		pulled_at          timestamptz,
		pulled_by          text NOT NULL DEFAULT '',
		expires_at         timestamptz,
		deleted_at         timestamptz,
		pull_history       jsonb NOT NULL DEFAULT '[]',
		messages           jsonb NOT NULL DEFAULT '[]',
		logs               jsonb NOT NULL DEFAULT '[]',
		created_at         timestamptz NOT NULL DEFAULT now(),
		updated_at         timestamptz NOT NULL DEFAULT now(),
		server_modified_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (project_id, id)
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_pull_idx
		ON tasks (project_id, created_at)
		WHERE pulled_at IS NULL AND deleted_at IS NULL AND source = 'server'`,
	`CREATE TABLE IF NOT EXISTS daily_stats (
		date       text NOT NULL,
		scope      text NOT NULL,
		data       jsonb NOT NULL,
		updated_at timestamptz NOT NULL DEFAULT now(),
		PRIMARY KEY (date, scope)
	)`,
	`CREATE TABLE IF NOT EXISTS execution_log (
		id              uuid PRIMARY KEY,
		date            text NOT NULL,
		hour            int NOT NULL,
		project_id      text NOT NULL,
		queue_id        text NOT NULL DEFAULT '',
		task_id         text NOT NULL,
		result          text NOT NULL,
		error_type      text NOT NULL DEFAULT '',
		error_message   text NOT NULL DEFAULT '',
		duration_ms     bigint,
		client_hostname text NOT NULL DEFAULT '',
		api_key_name    text NOT NULL DEFAULT '',
		created_at      timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS execution_log_project_idx
		ON execution_log (project_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id         uuid PRIMARY KEY,
		name       text NOT NULL,
		key_hash   text NOT NULL UNIQUE,
		key_prefix text NOT NULL,
		project_id text NOT NULL DEFAULT '',
		is_active  boolean NOT NULL DEFAULT TRUE,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates the application tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
