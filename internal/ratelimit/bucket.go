package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-key token bucket. It is advisory: state is process-local
// and intentionally approximate under multi-process deployment. Consumption
// never blocks; callers decide the rejection policy.
type Limiter struct {
	capacity float64
	rate     float64 // tokens per second
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLimiter creates a limiter where every key gets a bucket of the given
// capacity refilled at rate tokens per second.
func NewLimiter(capacity int, ratePerSecond float64) *Limiter {
	return &Limiter{
		capacity: float64(capacity),
		rate:     ratePerSecond,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

// NewPerMinuteLimiter is a convenience constructor for "N requests per
// minute" buckets: capacity N, refill N/60 per second.
func NewPerMinuteLimiter(perMinute int) *Limiter {
	return NewLimiter(perMinute, float64(perMinute)/60.0)
}

// TryConsume attempts to take cost tokens from the key's bucket. The bucket
// is lazily refilled from elapsed wall-clock time. It returns false without
// mutating the balance when fewer than cost tokens are available.
func (l *Limiter) TryConsume(key string, cost float64) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastRefill = now
	}

	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}
