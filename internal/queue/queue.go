package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vidgen/internal/infra"
)

// ErrNoDelivery is returned by Dequeue when no task arrived within the poll
// window.
var ErrNoDelivery = errors.New("queue: no delivery available")

const dequeueTimeout = 30 * time.Second

// Delivery is the JSON envelope carried on the queue. Attempt counts the
// automatic re-deliveries of a single user-visible execution; it is distinct
// from the job's own retry counter.
type Delivery struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt"`
	Handle  string `json:"handle"`

	raw string
}

// Raw returns the exact payload as it sits on the queue. The worker needs it
// to acknowledge the delivery after the handler returns.
func (d *Delivery) Raw() string { return d.raw }

// Queue is a durable at-least-once task queue on Redis lists. Dequeue moves a
// payload atomically from the pending list to a processing list; Ack removes
// it from processing only after the handler returns, so a worker crash
// mid-execution causes re-delivery. Delayed deliveries wait in a sorted set
// until a mover loop promotes them.
type Queue struct {
	client *redis.Client
	logger infra.Logger

	pendingKey    string
	processingKey string
	delayedKey    string
	claimsKey     string
}

// New builds a queue using the given key prefix, e.g. "vidgen:videojobs".
func New(client *redis.Client, logger infra.Logger, prefix string) *Queue {
	if prefix == "" {
		prefix = "vidgen:videojobs"
	}
	return &Queue{
		client:        client,
		logger:        logger,
		pendingKey:    prefix + ":pending",
		processingKey: prefix + ":processing",
		delayedKey:    prefix + ":delayed",
		claimsKey:     prefix + ":claims",
	}
}

// Enqueue publishes a first delivery for the job and returns the queue-side
// task handle stored on the job record.
func (q *Queue) Enqueue(ctx context.Context, jobID string) (string, error) {
	d := Delivery{JobID: jobID, Attempt: 0, Handle: uuid.NewString()}
	payload, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("queue: encode delivery: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey, payload).Err(); err != nil {
		return "", fmt.Errorf("queue: enqueue: %w", err)
	}
	return d.Handle, nil
}

// EnqueueIn schedules a re-delivery of the job after delay, carrying the next
// attempt number. The original task handle is preserved so the job record
// keeps pointing at the same logical task.
func (q *Queue) EnqueueIn(ctx context.Context, delay time.Duration, jobID string, attempt int, handle string) error {
	d := Delivery{JobID: jobID, Attempt: attempt, Handle: handle}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("queue: encode delivery: %w", err)
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: due, Member: payload}).Err(); err != nil {
		return fmt.Errorf("queue: schedule delivery: %w", err)
	}
	return nil
}

// Dequeue blocks up to the poll window for the next delivery, moving it to
// the processing list. Malformed payloads are dropped and reported as
// ErrNoDelivery.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	raw, err := q.client.BRPopLPush(ctx, q.pendingKey, q.processingKey, dequeueTimeout).Result()
	if err == redis.Nil {
		return nil, ErrNoDelivery
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}
	// The claim records when this delivery entered processing; the reclaim
	// loop re-queues claims that outlive their worker.
	q.client.ZAdd(ctx, q.claimsKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: raw})

	d, err := decodeDelivery(raw)
	if err != nil {
		q.logger.Error().Err(err).Msg("queue: dropping malformed delivery")
		q.client.LRem(ctx, q.processingKey, 1, raw)
		q.client.ZRem(ctx, q.claimsKey, raw)
		return nil, ErrNoDelivery
	}
	return d, nil
}

// Ack removes a delivery from the processing list. Call only after the
// handler returned; this is what makes delivery at-least-once.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	q.client.ZRem(ctx, q.claimsKey, d.raw)
	return nil
}

// Revoke best-effort removes queued deliveries for a job that has not started
// yet. Deliveries already picked up by a worker are left to the cancellation
// short-circuit in the task runner.
func (q *Queue) Revoke(ctx context.Context, jobID string) error {
	if err := q.removeMatching(ctx, jobID); err != nil {
		q.logger.Warn().Err(err).Str("job_id", jobID).Msg("queue: revoke failed")
		return err
	}
	return nil
}

func (q *Queue) removeMatching(ctx context.Context, jobID string) error {
	pending, err := q.client.LRange(ctx, q.pendingKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("queue: list pending: %w", err)
	}
	for _, raw := range pending {
		if d, err := decodeDelivery(raw); err == nil && d.JobID == jobID {
			q.client.LRem(ctx, q.pendingKey, 1, raw)
		}
	}

	delayed, err := q.client.ZRange(ctx, q.delayedKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("queue: list delayed: %w", err)
	}
	for _, raw := range delayed {
		if d, err := decodeDelivery(raw); err == nil && d.JobID == jobID {
			q.client.ZRem(ctx, q.delayedKey, raw)
		}
	}
	return nil
}

// Depth reports pending plus delayed deliveries.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	pending, err := q.client.LLen(ctx, q.pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return pending + delayed, nil
}

// MoverLoop promotes due delayed deliveries onto the pending list until the
// context is cancelled. Run it once per worker process; promotion is
// idempotent enough for a small pool because ZRem reports whether this
// process won the removal.
func (q *Queue) MoverLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.Warn().Err(err).Msg("queue: promote due deliveries failed")
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey, raw).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another process promoted it first
		}
		if err := q.client.LPush(ctx, q.pendingKey, raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// ReclaimLoop re-queues deliveries whose worker died between dequeue and ack.
// A delivery sitting in the processing list longer than olderThan is pushed
// back onto pending for another worker; the terminal-state short-circuit in
// the task runner makes the duplicate execution harmless.
func (q *Queue) ReclaimLoop(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.reclaimStale(ctx, olderThan); err != nil && ctx.Err() == nil {
				q.logger.Warn().Err(err).Msg("queue: reclaim stale deliveries failed")
			}
		}
	}
}

func (q *Queue) reclaimStale(ctx context.Context, olderThan time.Duration) error {
	cutoff := strconv.FormatInt(time.Now().Add(-olderThan).UnixMilli(), 10)
	stale, err := q.client.ZRangeByScore(ctx, q.claimsKey, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return err
	}
	for _, raw := range stale {
		removed, err := q.client.ZRem(ctx, q.claimsKey, raw).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // acked or reclaimed by another process first
		}
		count, err := q.client.LRem(ctx, q.processingKey, 1, raw).Result()
		if err != nil {
			return err
		}
		if count == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.pendingKey, raw).Err(); err != nil {
			return err
		}
		q.logger.Warn().Str("payload", raw).Msg("queue: reclaimed stale delivery")
	}
	return nil
}

func decodeDelivery(raw string) (*Delivery, error) {
	var d Delivery
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("queue: decode delivery: %w", err)
	}
	if d.JobID == "" {
		return nil, errors.New("queue: delivery missing job id")
	}
	d.raw = raw
	return &d, nil
}
