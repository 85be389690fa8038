// Package base carries the machinery shared by every network adapter: the
// lifecycle state machine, the per-connector cache, rate limiter, retry
// policy, metrics, and the tiered fallback pipeline that keeps data calls
// total when a network misbehaves.
package base

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nodewarden/nodewarden/pkg/cache"
	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/logger"
	"github.com/nodewarden/nodewarden/pkg/metrics"
	"github.com/nodewarden/nodewarden/pkg/ratelimit"
	"github.com/nodewarden/nodewarden/pkg/retry"
	"github.com/nodewarden/nodewarden/pkg/scrape"
)

// errorHistory is how many recent failures Health reports.
const errorHistory = 5

// initProbeTimeout bounds the credential probe during Initialize so a dead
// API cannot stall startup.
const initProbeTimeout = 10 * time.Second

// Connector is the embedded foundation of every network adapter. Adapters
// supply the tier functions; Connector supplies everything around them.
type Connector struct {
	network string
	cfg     *config.ConnectorConfig

	store   *cache.Store
	bucket  *ratelimit.Bucket
	policy  *retry.Policy
	collect *metrics.Collector
	log     *zap.Logger

	state atomic.Int32

	mu         sync.Mutex
	scraper    *scrape.Scraper
	lastProv   core.Provenance
	lastCheck  time.Time
	lastErrors []string
	credential *core.CredentialReport

	disposeOnce sync.Once
	disposeErr  error
}

// New builds the shared foundation for one network adapter. The connector
// owns its cache store and closes it on Dispose.
func New(network string, cfg *config.ConnectorConfig) *Connector {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}

	policy := &retry.Policy{
		Retries:         cfg.Retry.Attempts,
		InitialDelay:    cfg.Retry.Delay,
		MaxDelay:        cfg.Retry.MaxDelay,
		Multiplier:      cfg.Retry.Multiplier,
		RandomizeFactor: 0.5,
	}

	c := &Connector{
		network: network,
		cfg:     cfg,
		bucket: ratelimit.NewBucket(ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			MaxWait:  cfg.RateLimit.MaxWait,
		}),
		policy:  policy,
		collect: metrics.NewCollector(network),
		log:     logger.Get().With(zap.String("network", network)),
	}
	if cfg.Cache.Enabled {
		c.store = cache.NewStore(cache.StoreConfig{DefaultTTL: cfg.Cache.TTL})
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.collect.RecordRetry()
		c.log.Debug("retrying live call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
	return c
}

// Network returns the adapter's network name.
func (c *Connector) Network() string { return c.network }

// Config returns the connector's configuration.
func (c *Connector) Config() *config.ConnectorConfig { return c.cfg }

// Logger returns the network-scoped logger.
func (c *Connector) Logger() *zap.Logger { return c.log }

// Metrics returns the connector's metrics collector.
func (c *Connector) Metrics() *metrics.Collector { return c.collect }

// RateLimitInfo reports the limiter's current window.
func (c *Connector) RateLimitInfo() ratelimit.Info { return c.bucket.Info() }

// SetScraper hands the connector a dashboard scraper to use as the middle
// fallback tier. The connector takes ownership and closes it on Dispose.
func (c *Connector) SetScraper(s *scrape.Scraper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scraper = s
}

// Scraper returns the attached scraper, nil when scraping is not configured.
func (c *Connector) Scraper() *scrape.Scraper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scraper
}

// State returns the lifecycle state.
func (c *Connector) State() core.State { return core.State(c.state.Load()) }

// IsReady reports whether Initialize has completed and Dispose has not run.
func (c *Connector) IsReady() bool { return c.State() == core.StateReady }

// Initialize moves the connector to Ready. The probe, when given, checks
// credentials against the live API; its outcome is recorded for Health but
// never blocks readiness. Initialize fails only when called out of order.
func (c *Connector) Initialize(ctx context.Context, probe func(ctx context.Context) (*core.CredentialReport, error)) error {
	if !c.state.CompareAndSwap(int32(core.StateUninitialized), int32(core.StateInitializing)) {
		return errors.Newf(errors.ErrorTypeInternal,
			"cannot initialize connector in state %s", c.State())
	}

	if probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, initProbeTimeout)
		report, err := probe(probeCtx)
		cancel()

		c.mu.Lock()
		switch {
		case err != nil:
			c.recordErrorLocked(err)
			c.credential = &core.CredentialReport{
				Valid:     false,
				CheckedAt: time.Now(),
				Message:   err.Error(),
			}
			c.log.Warn("credential probe failed, continuing on fallback tiers",
				zap.Error(err))
		default:
			c.credential = report
		}
		c.mu.Unlock()
	}

	c.state.Store(int32(core.StateReady))
	c.log.Info("connector ready",
		zap.Bool("credentials", c.cfg.HasCredentials()),
		zap.Bool("cache", c.cfg.Cache.Enabled),
		zap.Bool("scraper", c.cfg.Scraper.Enabled))
	return nil
}

// Dispose releases the cache store and any browser session. Idempotent;
// subsequent data calls fail.
func (c *Connector) Dispose(ctx context.Context) error {
	c.disposeOnce.Do(func() {
		c.state.Store(int32(core.StateDisposed))

		c.mu.Lock()
		scraper := c.scraper
		c.scraper = nil
		c.mu.Unlock()

		if scraper != nil {
			if err := scraper.Close(ctx); err != nil {
				c.disposeErr = errors.Wrap(err, errors.ErrorTypeScraper, "closing browser session")
			}
		}
		if c.store != nil {
			c.store.Close()
		}
		c.log.Info("connector disposed")
	})
	return c.disposeErr
}

// CredentialReport returns the most recent probe outcome, nil before any
// probe has run.
func (c *Connector) CredentialReport() *core.CredentialReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

// SetCredentialReport records a probe outcome, used when adapters validate
// on demand.
func (c *Connector) SetCredentialReport(r *core.CredentialReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = r
}

// Health reports lifecycle state, recent failures, and the provenance of the
// most recent successful fetch. A connector serving simulated data is
// degraded, not broken.
func (c *Connector) Health(_ context.Context) (*core.HealthReport, error) {
	state := c.State()

	c.mu.Lock()
	defer c.mu.Unlock()

	status := "healthy"
	switch {
	case state == core.StateDisposed:
		status = "disposed"
	case state != core.StateReady:
		status = "initializing"
	case c.lastProv == core.ProvenanceSimulated:
		status = "degraded"
	case c.lastProv == core.ProvenanceScraped:
		status = "degraded"
	}

	errs := make([]string, len(c.lastErrors))
	copy(errs, c.lastErrors)

	return &core.HealthReport{
		Status:         status,
		LastCheck:      c.lastCheck,
		Errors:         errs,
		LastProvenance: c.lastProv,
	}, nil
}

// noteResult records a fetch outcome for Health.
func (c *Connector) noteResult(prov core.Provenance, errs []error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastProv = prov
	c.lastCheck = time.Now()
	for _, err := range errs {
		c.recordErrorLocked(err)
	}
}

func (c *Connector) recordErrorLocked(err error) {
	if err == nil {
		return
	}
	c.lastErrors = append(c.lastErrors, err.Error())
	if len(c.lastErrors) > errorHistory {
		c.lastErrors = c.lastErrors[len(c.lastErrors)-errorHistory:]
	}
}

// guard rejects data calls outside the Ready state.
func (c *Connector) guard() error {
	switch c.State() {
	case core.StateReady:
		return nil
	case core.StateDisposed:
		return errors.New(errors.ErrorTypeInternal, "connector is disposed")
	default:
		return errors.New(errors.ErrorTypeInternal, "connector is not initialized")
	}
}
