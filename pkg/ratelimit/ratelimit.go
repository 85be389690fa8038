// Package ratelimit implements the per-connector token bucket. A bucket holds
// Requests tokens refilled continuously over Window. Acquisition queues the
// caller until a token is available, with a bounded queue and a bounded wait:
// exceeding either surfaces a rate-limit error, which the retry classifier
// treats as terminal by default so a saturated bucket never feeds a retry
// storm.
//
// The exact queue policy of upstream rate limiters varies between networks
// and is rarely documented; the bounded-queue bounded-wait behavior here is a
// deliberate, documented choice rather than an imitation of any of them.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodewarden/nodewarden/pkg/errors"
)

// DefaultMaxQueue caps how many callers may queue for tokens at once.
const DefaultMaxQueue = 64

// Info is the externally visible state of a bucket, derived from its
// internal counters on request; it is never persisted.
type Info struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Limit     int       `json:"limit"`
}

// Stats carries bucket counters for observability.
type Stats struct {
	Allowed  int64   `json:"allowed"`
	Rejected int64   `json:"rejected"`
	Waiting  int32   `json:"waiting"`
	Tokens   float64 `json:"tokens"`
}

// Bucket is a concurrency-safe token bucket.
type Bucket struct {
	requests float64
	window   time.Duration
	maxWait  time.Duration
	maxQueue int32

	mu       sync.Mutex
	tokens   float64
	lastTime time.Time

	waiting  int32
	allowed  int64
	rejected int64

	// now is swappable for tests
	now func() time.Time
}

// Config sizes a Bucket.
type Config struct {
	// Requests tokens refill every Window
	Requests int
	Window   time.Duration
	// MaxWait bounds queueing time (0 = one Window)
	MaxWait time.Duration
	// MaxQueue bounds concurrently queued callers (0 = DefaultMaxQueue)
	MaxQueue int
}

// NewBucket creates a full bucket.
func NewBucket(cfg Config) *Bucket {
	if cfg.Requests <= 0 {
		cfg.Requests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = cfg.Window
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}

	b := &Bucket{
		requests: float64(cfg.Requests),
		window:   cfg.Window,
		maxWait:  cfg.MaxWait,
		maxQueue: int32(cfg.MaxQueue),
		tokens:   float64(cfg.Requests),
		now:      time.Now,
	}
	b.lastTime = b.now()
	return b
}

// rate returns tokens per second.
func (b *Bucket) rate() float64 {
	return b.requests / b.window.Seconds()
}

// refill adds tokens for elapsed time. Caller holds b.mu.
func (b *Bucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastTime).Seconds()

	b.tokens += elapsed * b.rate()
	if b.tokens > b.requests {
		b.tokens = b.requests
	}
	b.lastTime = now
}

// tryTake consumes a token if one is immediately available.
func (b *Bucket) tryTake() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()
	if b.tokens >= 1.0 {
		b.tokens--
		atomic.AddInt64(&b.allowed, 1)
		return true
	}
	return false
}

// Allow consumes a token if one is immediately available.
func (b *Bucket) Allow() bool {
	if b.tryTake() {
		return true
	}
	atomic.AddInt64(&b.rejected, 1)
	return false
}

// Acquire blocks until a token is available, the configured max wait elapses,
// the queue overflows, or the context is cancelled. Failures surface as
// non-retryable rate-limit errors; callers wanting to retry them must opt in
// explicitly.
func (b *Bucket) Acquire(ctx context.Context) error {
	// Only callers that actually have to wait occupy queue slots, so the
	// bound never rejects when tokens cover every concurrent caller.
	if b.tryTake() {
		return nil
	}

	if waiting := atomic.AddInt32(&b.waiting, 1); waiting > b.maxQueue {
		atomic.AddInt32(&b.waiting, -1)
		atomic.AddInt64(&b.rejected, 1)
		return errors.New(errors.ErrorTypeRateLimit, "rate limiter queue full").
			WithDetail("max_queue", b.maxQueue)
	}
	defer atomic.AddInt32(&b.waiting, -1)

	deadline := time.NewTimer(b.maxWait)
	defer deadline.Stop()

	for {
		b.mu.Lock()
		b.refill()

		if b.tokens >= 1.0 {
			b.tokens--
			atomic.AddInt64(&b.allowed, 1)
			b.mu.Unlock()
			return nil
		}

		deficit := 1.0 - b.tokens
		wait := time.Duration(deficit / b.rate() * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			// Loop and contend for the refilled token
		case <-deadline.C:
			timer.Stop()
			atomic.AddInt64(&b.rejected, 1)
			return errors.New(errors.ErrorTypeRateLimit, "rate limit wait exceeded").
				WithDetail("max_wait", b.maxWait.String())
		case <-ctx.Done():
			timer.Stop()
			atomic.AddInt64(&b.rejected, 1)
			return errors.Wrap(ctx.Err(), errors.ErrorTypeRateLimit, "rate limit wait cancelled")
		}
	}
}

// Info derives the externally visible limiter state.
func (b *Bucket) Info() Info {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	remaining := int(b.tokens)
	resetAt := b.lastTime
	if deficit := b.requests - b.tokens; deficit > 0 {
		resetAt = resetAt.Add(time.Duration(deficit / b.rate() * float64(time.Second)))
	}

	return Info{
		Remaining: remaining,
		ResetAt:   resetAt,
		Limit:     int(b.requests),
	}
}

// Stats returns bucket counters.
func (b *Bucket) Stats() Stats {
	b.mu.Lock()
	tokens := b.tokens
	b.mu.Unlock()

	return Stats{
		Allowed:  atomic.LoadInt64(&b.allowed),
		Rejected: atomic.LoadInt64(&b.rejected),
		Waiting:  atomic.LoadInt32(&b.waiting),
		Tokens:   tokens,
	}
}
