// Package clients provides the HTTP plumbing for live network APIs: a
// pooled JSON client and a circuit breaker guarding the live tier.
package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nodewarden/nodewarden/pkg/logger"
)

// CircuitState is the breaker's position.
type CircuitState int32

const (
	// StateClosed passes all requests through.
	StateClosed CircuitState = iota
	// StateOpen rejects everything until the cool-down elapses.
	StateOpen
	// StateHalfOpen admits a handful of probe requests.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive
	// failures. Zero means 5.
	FailureThreshold int
	// SuccessThreshold closes a half-open circuit after this many
	// consecutive probe successes. Zero means 2.
	SuccessThreshold int
	// CoolDown is how long an open circuit rejects before probing. Zero
	// means 30s.
	CoolDown time.Duration
	// HalfOpenProbes caps concurrent requests admitted while half-open.
	// Zero means 3.
	HalfOpenProbes int
}

// Breaker is a circuit breaker for one network's live API. It also tracks a
// failure rate over a one-minute sliding window: a mostly-failing minute
// opens the circuit even without a consecutive-failure streak.
type Breaker struct {
	cfg BreakerConfig
	log *zap.Logger

	mu            sync.Mutex
	state         CircuitState
	failures      int
	successes     int
	probes        int
	openedAt      time.Time
	window        *failureWindow
	lastStateMove time.Time

	now func() time.Time
}

// NewBreaker builds a breaker in the closed state, labeled for logging.
func NewBreaker(network string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}

	b := &Breaker{
		cfg:   cfg,
		state: StateClosed,
		log: logger.Get().With(
			zap.String("component", "circuit_breaker"),
			zap.String("network", network),
		),
		now: time.Now,
	}
	b.window = newFailureWindow(10*time.Second, time.Minute, b.clock)
	return b
}

func (b *Breaker) clock() time.Time { return b.now() }

// Allow reports whether a request may proceed right now. An open circuit
// flips to half-open once the cool-down has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
			b.toHalfOpen()
			return b.admitProbe()
		}
		return false
	case StateHalfOpen:
		return b.admitProbe()
	default:
		return false
	}
}

// RecordSuccess feeds a successful call back into the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window.record(true)

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.toClosed()
		}
	}
}

// RecordFailure feeds a failed call back into the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window.record(false)

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold || b.window.failureRate() > 0.5 {
			b.toOpen()
		}
	case StateHalfOpen:
		// A failed probe reopens immediately.
		b.toOpen()
	}
}

// State returns the breaker's current position.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.CoolDown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) admitProbe() bool {
	if b.probes >= b.cfg.HalfOpenProbes {
		return false
	}
	b.probes++
	return true
}

func (b *Breaker) toOpen() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.lastStateMove = b.openedAt
	b.successes = 0
	b.probes = 0
	b.log.Warn("circuit opened",
		zap.Int("consecutive_failures", b.failures),
		zap.Duration("cool_down", b.cfg.CoolDown))
}

func (b *Breaker) toHalfOpen() {
	b.state = StateHalfOpen
	b.lastStateMove = b.now()
	b.failures = 0
	b.successes = 0
	b.probes = 0
	b.log.Info("circuit half-open, probing")
}

func (b *Breaker) toClosed() {
	b.state = StateClosed
	b.lastStateMove = b.now()
	b.failures = 0
	b.probes = 0
	b.log.Info("circuit closed")
}

// failureWindow tracks request outcomes in fixed-size time buckets so the
// failure rate covers only the recent past.
type failureWindow struct {
	total      []int64
	failed     []int64
	bucketSize time.Duration
	current    int
	lastRoll   time.Time
	now        func() time.Time
}

func newFailureWindow(bucketSize, span time.Duration, now func() time.Time) *failureWindow {
	n := int(span / bucketSize)
	if n < 1 {
		n = 1
	}
	return &failureWindow{
		total:      make([]int64, n),
		failed:     make([]int64, n),
		bucketSize: bucketSize,
		lastRoll:   now(),
		now:        now,
	}
}

// record is called with the breaker's lock held.
func (w *failureWindow) record(success bool) {
	w.roll()
	w.total[w.current]++
	if !success {
		w.failed[w.current]++
	}
}

func (w *failureWindow) roll() {
	elapsed := w.now().Sub(w.lastRoll)
	if elapsed < w.bucketSize {
		return
	}
	advance := int(elapsed / w.bucketSize)
	if advance > len(w.total) {
		advance = len(w.total)
	}
	for i := 0; i < advance; i++ {
		w.current = (w.current + 1) % len(w.total)
		w.total[w.current] = 0
		w.failed[w.current] = 0
	}
	w.lastRoll = w.now()
}

func (w *failureWindow) failureRate() float64 {
	w.roll()
	var total, failed int64
	for i := range w.total {
		total += w.total[i]
		failed += w.failed[i]
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
