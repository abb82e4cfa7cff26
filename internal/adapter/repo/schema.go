package repo

import (
	"context"

	"vidgen/internal/infra"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		prompt TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		params_json JSONB NOT NULL DEFAULT '{}',
		result_json JSONB,
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL DEFAULT 3,
		task_handle TEXT NOT NULL DEFAULT '',
		used_provider TEXT NOT NULL DEFAULT '',
		used_model TEXT NOT NULL DEFAULT '',
		generation_time_ms BIGINT NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		progress INT NOT NULL DEFAULT 0,
		status_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_user_status ON jobs (user_id, status)`,
	`CREATE TABLE IF NOT EXISTS provider_health (
		provider TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'unknown',
		last_checked TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_error TEXT NOT NULL DEFAULT '',
		consecutive_failures INT NOT NULL DEFAULT 0,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		cost_per_request_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		metadata_json JSONB
	)`,
}

// EnsureSchema creates the tables this service needs if they do not exist.
// Both binaries call it on startup, so either can bootstrap an empty
// database.
func EnsureSchema(ctx context.Context, db infra.SQLExecutor) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
