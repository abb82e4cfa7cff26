package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"vidgen/internal/infra"
	"vidgen/internal/queue"
	"vidgen/internal/storage"
)

// PoolOptions configures a worker pool.
type PoolOptions struct {
	Queue         *queue.Queue
	Runner        *Runner
	Logger        infra.Logger
	Workers       int
	Sweeper       storage.Sweeper
	Retention     time.Duration
	SweepInterval time.Duration
	// ReclaimAfter is how long a delivery may sit unacknowledged in the
	// processing list before it is handed to another worker. Must exceed the
	// task time limit or a slow task runs twice concurrently.
	ReclaimAfter time.Duration
}

// Pool runs N workers against the task queue. Each worker pulls one delivery
// at a time and acknowledges it only after the runner returns, so a crash
// mid-execution re-delivers the task.
type Pool struct {
	queue         *queue.Queue
	runner        *Runner
	logger        infra.Logger
	workers       int
	sweeper       storage.Sweeper
	retention     time.Duration
	sweepInterval time.Duration
	reclaimAfter  time.Duration
}

// NewPool builds a Pool.
func NewPool(opts PoolOptions) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	sweepInterval := opts.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	reclaimAfter := opts.ReclaimAfter
	if reclaimAfter <= 0 {
		reclaimAfter = 15 * time.Minute
	}
	return &Pool{
		queue:         opts.Queue,
		runner:        opts.Runner,
		logger:        opts.Logger,
		workers:       workers,
		sweeper:       opts.Sweeper,
		retention:     opts.Retention,
		sweepInterval: sweepInterval,
		reclaimAfter:  reclaimAfter,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight tasks.
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.queue.MoverLoop(ctx, time.Second)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.queue.ReclaimLoop(ctx, 30*time.Second, p.reclaimAfter)
	}()

	if p.sweeper != nil && p.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.sweepLoop(ctx)
		}()
	}

	p.logger.Info().Int("workers", p.workers).Msg("worker: pool started")
	<-ctx.Done()
	wg.Wait()
	p.logger.Info().Msg("worker: pool stopped")
	return ctx.Err()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	logger := p.logger.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrNoDelivery) || ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("worker: dequeue failed")
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			continue
		}

		if err := p.runner.Execute(ctx, d.JobID, d.Attempt, d.Handle); err != nil {
			logger.Error().Err(err).Str("job_id", d.JobID).Msg("worker: task execution errored")
		}

		// Late ack: only now is the delivery considered consumed.
		if err := p.queue.Ack(ctx, d); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Str("job_id", d.JobID).Msg("worker: ack failed")
		}
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.retention)
			deleted, err := p.sweeper.SweepExpired(ctx, cutoff)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("worker: expired video sweep failed")
				continue
			}
			if deleted > 0 {
				p.logger.Info().Int("deleted", deleted).Msg("worker: swept expired videos")
			}
		}
	}
}
