package base

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/errors"
)

// Tiers supplies the fallback chain for one read operation. Live and Scrape
// are optional; Simulate is required and must not fail, it is the floor the
// chain always lands on.
type Tiers[T any] struct {
	Live     func(ctx context.Context) (T, error)
	Scrape   func(ctx context.Context) (T, error)
	Simulate func() T
}

// resolved is what actually sits in the cache: the value plus where it came
// from, so a cache hit reports the original tier's provenance.
type resolved[T any] struct {
	value T
	prov  core.Provenance
}

// Resolve runs one read through the full protocol: cache, rate limiter, live
// API under retry, scraper, simulator, then write-through. Concurrent calls
// for the same key share a single fetch. The returned provenance tells the
// caller which tier produced the value.
func Resolve[T any](ctx context.Context, c *Connector, method string, params interface{}, tiers Tiers[T]) (T, core.Provenance, error) {
	var zero T

	if err := c.guard(); err != nil {
		return zero, "", err
	}

	start := time.Now()

	fetch := func(ctx context.Context) (interface{}, error) {
		r := runTiers(ctx, c, method, tiers)
		return r, nil
	}

	var r resolved[T]
	fromCache := false
	if c.store != nil {
		got, hit, err := c.store.GetOrSet(ctx, c.network, method, params, c.cfg.Cache.TTL, fetch)
		if err != nil {
			// Fetch never errors; this is the context dying mid-flight.
			return zero, "", err
		}
		r = got.(resolved[T])
		fromCache = hit
	} else {
		got, _ := fetch(ctx)
		r = got.(resolved[T])
	}

	if fromCache {
		c.collect.RecordCacheHit()
	} else {
		c.collect.RecordCacheMiss()
		c.noteResult(r.prov, nil)
	}
	c.collect.RecordFetch(method, string(r.prov), time.Since(start))

	return r.value, r.prov, nil
}

// runTiers walks live, scrape, simulate in order and always comes back with
// a value.
func runTiers[T any](ctx context.Context, c *Connector, method string, tiers Tiers[T]) resolved[T] {
	var tierErrs []error

	// The limiter protects the network, so a rejected acquisition skips the
	// live and scrape tiers rather than failing the call.
	networkAllowed := true
	if err := c.bucket.Acquire(ctx); err != nil {
		networkAllowed = false
		c.collect.RecordRateLimited()
		tierErrs = append(tierErrs, err)
		c.log.Warn("rate limit reached, serving simulated data",
			zap.String("method", method))
	}

	if networkAllowed && tiers.Live != nil {
		var value T
		err := c.policy.Execute(ctx, func() error {
			v, lerr := tiers.Live(ctx)
			if lerr == nil {
				value = v
			}
			return lerr
		})
		if err == nil {
			return resolved[T]{value: value, prov: core.ProvenanceLive}
		}
		tierErrs = append(tierErrs, err)
		c.collect.RecordFetchError(method)
		c.log.Warn("live tier failed, falling back",
			zap.String("method", method),
			zap.Error(err))
	}

	if networkAllowed && tiers.Scrape != nil && c.Scraper() != nil {
		value, err := tiers.Scrape(ctx)
		if err == nil {
			return resolved[T]{value: value, prov: core.ProvenanceScraped}
		}
		tierErrs = append(tierErrs, err)
		class := "fatal"
		if errors.IsRetryable(err) {
			class = "retryable"
		}
		c.collect.RecordScrapeFailure(class)
		c.log.Warn("scrape tier failed, falling back",
			zap.String("method", method),
			zap.Error(err))
	}

	c.noteResult(core.ProvenanceSimulated, tierErrs)
	return resolved[T]{value: tiers.Simulate(), prov: core.ProvenanceSimulated}
}

// Mutate runs a write operation: rate limited and retried, never cached,
// never simulated. Mutations have no fallback tier, a write that cannot
// reach the network is an error.
func Mutate[T any](ctx context.Context, c *Connector, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := c.guard(); err != nil {
		return zero, err
	}

	if err := c.bucket.Acquire(ctx); err != nil {
		c.collect.RecordRateLimited()
		return zero, err
	}

	start := time.Now()
	var value T
	err := c.policy.Execute(ctx, func() error {
		v, ferr := fn(ctx)
		if ferr == nil {
			value = v
		}
		return ferr
	})
	if err != nil {
		c.collect.RecordFetchError(method)
		c.noteResult(c.lastProvenance(), []error{err})
		return zero, err
	}

	c.collect.RecordFetch(method, string(core.ProvenanceLive), time.Since(start))
	c.noteResult(core.ProvenanceLive, nil)
	return value, nil
}

func (c *Connector) lastProvenance() core.Provenance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastProv
}

// InvalidateMethod drops cached values for one method after a successful
// mutation so the next read reflects it.
func (c *Connector) InvalidateMethod(method string, params interface{}) {
	if c.store == nil {
		return
	}
	c.store.Delete(c.network, method, params)
}

// InvalidateAll drops every cached value this connector has written.
func (c *Connector) InvalidateAll() {
	if c.store == nil {
		return
	}
	c.store.ClearConnector(c.network)
}
