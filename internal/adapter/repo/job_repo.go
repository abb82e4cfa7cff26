package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	query := `
INSERT INTO jobs (id, user_id, prompt, status, params_json, max_retries, task_handle)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err = r.db.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Prompt,
		job.Status,
		params,
		job.MaxRetries,
		job.TaskHandle,
	)
	return err
}

// UpdateStatus applies a last-writer-wins update over the mutated field set.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, upd domain.JobUpdate) error {
	query := `
UPDATE jobs
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message),
    result_json = COALESCE($4, result_json),
    used_provider = COALESCE($5, used_provider),
    used_model = COALESCE($6, used_model),
    generation_time_ms = COALESCE($7, generation_time_ms),
    task_handle = COALESCE($8, task_handle),
    retry_count = COALESCE($9, retry_count),
    progress = COALESCE($10, progress),
    status_message = COALESCE($11, status_message),
    started_at = COALESCE($12, started_at),
    completed_at = COALESCE($13, completed_at)
WHERE id = $1;
`
	_, err := r.db.Exec(ctx, query,
		jobID,
		upd.Status,
		upd.ErrorMessage,
		nullableBytes(upd.ResultJSON),
		upd.UsedProvider,
		upd.UsedModel,
		upd.GenerationTimeMS,
		upd.TaskHandle,
		upd.RetryCount,
		upd.Progress,
		upd.StatusMessage,
		upd.StartedAt,
		upd.CompletedAt,
	)
	return err
}

const jobColumns = `id, user_id, prompt, status, params_json, result_json, retry_count, max_retries,
       task_handle, used_provider, used_model, generation_time_ms, error_message,
       progress, status_message, created_at, started_at, completed_at, updated_at`

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE id = $1;
`
	row := r.db.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// CountActiveByOwner counts the owner's queued and processing jobs. Used for
// the best-effort per-user cap.
func (r *JobRepositoryPG) CountActiveByOwner(ctx context.Context, userID string) (int, error) {
	query := `
SELECT COUNT(*)
FROM jobs
WHERE user_id = $1 AND status IN ('queued', 'processing');
`
	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job        domain.Job
		paramsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.Status,
		&paramsJSON,
		&job.ResultJSON,
		&job.RetryCount,
		&job.MaxRetries,
		&job.TaskHandle,
		&job.UsedProvider,
		&job.UsedModel,
		&job.GenerationTimeMS,
		&job.ErrorMessage,
		&job.Progress,
		&job.StatusMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Params); err != nil {
			return nil, fmt.Errorf("decode params: %w", err)
		}
	}
	return &job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
