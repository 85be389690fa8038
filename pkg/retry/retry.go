// Package retry wraps arbitrary operations with classified retry and
// exponential backoff. The default classifier retries timeouts,
// connection-class failures, and upstream 5xx responses; everything else is
// terminal on the first attempt.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/nodewarden/nodewarden/pkg/errors"
)

// Policy defines retry behavior. Retries is the number of additional attempts
// after the first failure, so a policy with Retries=3 calls the wrapped
// function at most 4 times.
type Policy struct {
	Retries         int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// ShouldRetry classifies errors; nil means DefaultShouldRetry
	ShouldRetry func(error) bool

	// OnRetry is invoked before each backoff sleep, if set
	OnRetry func(attempt int, err error, delay time.Duration)
}

// NewPolicy creates a retry policy with exponential backoff and jitter.
func NewPolicy(retries int, initialDelay time.Duration) *Policy {
	return &Policy{
		Retries:         retries,
		InitialDelay:    initialDelay,
		MaxDelay:        30 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.5,
	}
}

// NoRetry returns a policy that never retries.
func NoRetry() *Policy {
	return &Policy{Retries: 0}
}

// Execute runs fn under the policy. It stops immediately when the classifier
// rejects an error, and otherwise retries with exponential backoff until the
// attempts are exhausted or the context is cancelled.
func (p *Policy) Execute(ctx context.Context, fn func() error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var lastErr error

	for attempt := 0; attempt <= p.Retries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt == p.Retries {
			break
		}

		delay := p.delay(attempt + 1)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "retry cancelled")
		case <-timer.C:
		}
	}

	return errors.Wrap(lastErr, errors.ErrorTypeAPI, "all retry attempts exhausted").
		WithDetail("attempts", p.Retries+1).
		AsFatal()
}

// ExecuteWithCondition runs fn under the policy with a one-off classifier
// instead of the policy's own.
func (p *Policy) ExecuteWithCondition(ctx context.Context, fn func() error, shouldRetry func(error) bool) error {
	override := p.Clone()
	override.ShouldRetry = shouldRetry
	return override.Execute(ctx, fn)
}

// delay calculates the backoff for the nth retry (1-based):
// min(MaxDelay, InitialDelay * Multiplier^(n-1)), jittered by
// ±RandomizeFactor.
func (p *Policy) delay(n int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n-1))

	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}

	if p.RandomizeFactor > 0 {
		delta := delay * p.RandomizeFactor
		delay = delay - delta + rand.Float64()*2*delta
	}

	return time.Duration(delay)
}

// Delay exposes the computed backoff for a retry, for tests and previews.
func (p *Policy) Delay(n int) time.Duration {
	return p.delay(n)
}

// Clone returns a copy of the policy.
func (p *Policy) Clone() *Policy {
	clone := *p
	return &clone
}

// DefaultShouldRetry is the standard failure classifier. It honors an
// explicit retryable flag first, then retries connection-reset /
// host-not-found / timeout classes (including upstream 5xx, which
// errors.FromHTTPStatus marks retryable). Everything else is terminal.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if e, ok := errors.As(err); ok {
		if e.Retryable != nil {
			return *e.Retryable
		}
		switch e.Type {
		case errors.ErrorTypeTimeout, errors.ErrorTypeConnection:
			return true
		case errors.ErrorTypeRateLimit:
			// Never retried by default, to avoid retry storms on a shared bucket
			return false
		default:
			return false
		}
	}

	// Unstructured errors from net/http and friends
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"no such host",
		"broken pipe",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"service unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
