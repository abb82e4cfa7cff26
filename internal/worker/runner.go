package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/pipeline"
)

// unhealthyThreshold is the consecutive-failure count at which a provider is
// downgraded from degraded to unhealthy.
const unhealthyThreshold = 3

// PipelineRunner is the slice of the pipeline the runner needs.
type PipelineRunner interface {
	Run(ctx context.Context, job *domain.Job) (*pipeline.Output, error)
}

// RetryScheduler re-delivers a task after a delay. Implemented by the queue.
type RetryScheduler interface {
	EnqueueIn(ctx context.Context, delay time.Duration, jobID string, attempt int, handle string) error
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Jobs        domain.JobRepository
	Health      domain.ProviderHealthRepository
	Pipeline    PipelineRunner
	Retries     RetryScheduler
	Logger      infra.Logger
	MaxAttempts int
	RetryBase   time.Duration
	TimeLimit   time.Duration
}

// Runner drives a single dequeued task through the job state machine:
// queued -> processing -> {completed | failed | cancelled}. It owns every
// automatic sub-transition inside one processing attempt; the API layer owns
// cancel and user-initiated retry.
type Runner struct {
	jobs        domain.JobRepository
	health      domain.ProviderHealthRepository
	pipeline    PipelineRunner
	retries     RetryScheduler
	logger      infra.Logger
	maxAttempts int
	retryBase   time.Duration
	timeLimit   time.Duration
	now         func() time.Time
}

// NewRunner builds a Runner, applying defaults for unset knobs.
func NewRunner(opts RunnerOptions) *Runner {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = time.Minute
	}
	timeLimit := opts.TimeLimit
	if timeLimit <= 0 {
		timeLimit = 10 * time.Minute
	}
	return &Runner{
		jobs:        opts.Jobs,
		health:      opts.Health,
		pipeline:    opts.Pipeline,
		retries:     opts.Retries,
		logger:      opts.Logger,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		timeLimit:   timeLimit,
		now:         time.Now,
	}
}

// RetryDelay returns the backoff before re-delivering attempt n: base * 2^n.
func (r *Runner) RetryDelay(attempt int) time.Duration {
	return r.retryBase * time.Duration(1<<attempt)
}

// Execute processes one delivery. A nil return means the delivery is done
// (including the scheduled-retry case, which hands the job to a future
// delivery); errors are logged by the caller and never re-queued blindly.
func (r *Runner) Execute(ctx context.Context, jobID string, attempt int, handle string) error {
	logger := r.logger.With().Str("job_id", jobID).Int("attempt", attempt).Logger()

	job, err := r.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A lost or garbage-collected job is an ops error, not a
			// transient fault. Never retried.
			logger.Error().Msg("worker: job not found, dropping task")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}

	// Idempotent short-circuit for re-delivered terminal jobs. This closes
	// the race where cancellation lands after enqueue but before dequeue.
	if job.Status.Terminal() {
		logger.Info().Str("status", string(job.Status)).Msg("worker: job already terminal, skipping")
		return nil
	}

	now := r.now().UTC()
	progress := 5
	statusMsg := "Starting"
	if err := r.jobs.UpdateStatus(ctx, jobID, domain.JobUpdate{
		Status:        domain.JobStatusProcessing,
		StartedAt:     &now,
		Progress:      &progress,
		StatusMessage: &statusMsg,
	}); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeLimit)
	defer cancel()

	out, err := r.pipeline.Run(tctx, job)
	if err != nil {
		return r.handleFailure(ctx, tctx, logger, job, attempt, handle, err)
	}

	done := r.now().UTC()
	completedProgress := 100
	completedMsg := "Completed"
	if err := r.jobs.UpdateStatus(ctx, jobID, domain.JobUpdate{
		Status:           domain.JobStatusCompleted,
		ResultJSON:       out.ResultJSON,
		UsedProvider:     &out.UsedProvider,
		UsedModel:        &out.UsedModel,
		GenerationTimeMS: &out.GenerationTimeMS,
		CompletedAt:      &done,
		Progress:         &completedProgress,
		StatusMessage:    &completedMsg,
	}); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	r.recordOutcome(ctx, out.UsedProvider, true, out.GenerationTimeMS, "")
	logger.Info().
		Str("provider", out.UsedProvider).
		Int64("generation_time_ms", out.GenerationTimeMS).
		Msg("worker: job completed")
	return nil
}

func (r *Runner) handleFailure(ctx, tctx context.Context, logger infra.Logger, job *domain.Job, attempt int, handle string, cause error) error {
	provider := ""
	var perr *pipeline.ProviderError
	if errors.As(cause, &perr) {
		provider = perr.Provider
	}

	timedOut := errors.Is(tctx.Err(), context.DeadlineExceeded) || errors.Is(cause, domain.ErrTimeLimitExceeded)
	if timedOut {
		logger.Error().Err(cause).Msg("worker: task time limit exceeded")
		r.failJob(ctx, job.ID, "task time limit exceeded")
		r.recordOutcome(ctx, provider, false, 0, "task time limit exceeded")
		return nil
	}

	// attempt counts automatic retries so far: the initial delivery is 0,
	// and the job fails on the (maxAttempts+1)-th consecutive failure.
	if attempt < r.maxAttempts {
		delay := r.RetryDelay(attempt)
		logger.Warn().Err(cause).Dur("delay", delay).Msg("worker: scheduling retry")
		if err := r.retries.EnqueueIn(ctx, delay, job.ID, attempt+1, handle); err != nil {
			// Re-delivery could not be scheduled; fail now rather than
			// stranding the job in processing forever.
			logger.Error().Err(err).Msg("worker: schedule retry failed")
			r.failJob(ctx, job.ID, cause.Error())
			r.recordOutcome(ctx, provider, false, 0, cause.Error())
		}
		// Intermediate attempts stay off the job record until the final
		// outcome.
		return nil
	}

	logger.Error().Err(cause).Msg("worker: retries exhausted, failing job")
	r.failJob(ctx, job.ID, cause.Error())
	r.recordOutcome(ctx, provider, false, 0, cause.Error())
	return nil
}

func (r *Runner) failJob(ctx context.Context, jobID, message string) {
	now := r.now().UTC()
	progress := 100
	statusMsg := "Failed"
	if err := r.jobs.UpdateStatus(ctx, jobID, domain.JobUpdate{
		Status:        domain.JobStatusFailed,
		ErrorMessage:  &message,
		CompletedAt:   &now,
		Progress:      &progress,
		StatusMessage: &statusMsg,
	}); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("worker: mark failed errored")
	}
}

// recordOutcome feeds a post-execution result into the provider's health
// record: success resets the consecutive-failure counter, failure increments
// it and downgrades the status once the counter crosses the threshold.
func (r *Runner) recordOutcome(ctx context.Context, provider string, success bool, responseMS int64, errMsg string) {
	if provider == "" {
		return
	}

	health, err := r.health.Get(ctx, provider)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn().Err(err).Str("provider", provider).Msg("worker: load provider health failed")
		return
	}
	if health == nil {
		health = &domain.ProviderHealth{Provider: provider, Status: domain.ProviderUnknown}
	}

	health.LastChecked = r.now().UTC()
	if success {
		health.Status = domain.ProviderHealthy
		health.ConsecutiveFailures = 0
		health.LastError = ""
		if responseMS > 0 {
			health.ResponseTimeMS = responseMS
		}
	} else {
		health.ConsecutiveFailures++
		health.LastError = errMsg
		if health.ConsecutiveFailures >= unhealthyThreshold {
			health.Status = domain.ProviderUnhealthy
		} else {
			health.Status = domain.ProviderDegraded
		}
	}

	if err := r.health.Upsert(ctx, health); err != nil {
		r.logger.Warn().Err(err).Str("provider", provider).Msg("worker: upsert provider health failed")
	}
}
