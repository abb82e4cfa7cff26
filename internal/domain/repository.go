package domain

import (
	"context"
	"time"
)

// JobUpdate is the optional field set applied by UpdateStatus. Nil fields are
// left untouched; updates are last-writer-wins on the mutated set.
type JobUpdate struct {
	Status           JobStatus
	ErrorMessage     *string
	ResultJSON       []byte
	UsedProvider     *string
	UsedModel        *string
	GenerationTimeMS *int64
	TaskHandle       *string
	RetryCount       *int
	Progress         *int
	StatusMessage    *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// JobRepository is the relational store boundary for jobs.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, upd JobUpdate) error
	ListByOwner(ctx context.Context, userID string, limit int) ([]Job, error)
	CountActiveByOwner(ctx context.Context, userID string) (int, error)
}

// ProviderHealthRepository persists per-provider health records.
type ProviderHealthRepository interface {
	Get(ctx context.Context, provider string) (*ProviderHealth, error)
	List(ctx context.Context) ([]ProviderHealth, error)
	Upsert(ctx context.Context, health *ProviderHealth) error
}
