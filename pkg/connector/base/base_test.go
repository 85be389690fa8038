package base

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/scrape"
)

func testConfig() *config.ConnectorConfig {
	cfg := config.NewConnectorConfig()
	cfg.Retry.Attempts = 1
	cfg.Retry.Delay = time.Millisecond
	cfg.RateLimit.Requests = 1000
	cfg.RateLimit.Window = time.Second
	cfg.Cache.TTL = time.Minute
	return cfg
}

func readyConnector(t *testing.T, cfg *config.ConnectorConfig) *Connector {
	t.Helper()
	c := New("testnet", cfg)
	require.NoError(t, c.Initialize(context.Background(), nil))
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })
	return c
}

// nullBrowser satisfies scrape.Browser for tests that only need a non-nil
// scraper attached.
type nullBrowser struct{}

func (nullBrowser) Navigate(context.Context, string) error     { return nil }
func (nullBrowser) Fill(context.Context, string, string) error { return nil }
func (nullBrowser) Click(context.Context, string) error        { return nil }
func (nullBrowser) Text(context.Context, string) (string, error) {
	return "", fmt.Errorf("no such element")
}
func (nullBrowser) Close(context.Context) error { return nil }

func attachScraper(c *Connector) {
	c.SetScraper(scrape.NewScraper(nullBrowser{}, scrape.Config{
		Username:         "u",
		Password:         "p",
		ActionsPerSecond: 10000,
	}))
}

func TestResolve_LiveWins(t *testing.T) {
	c := readyConnector(t, testConfig())

	v, prov, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Live:     func(context.Context) (string, error) { return "live", nil },
		Scrape:   func(context.Context) (string, error) { return "scraped", nil },
		Simulate: func() string { return "simulated" },
	})
	require.NoError(t, err)
	assert.Equal(t, "live", v)
	assert.Equal(t, core.ProvenanceLive, prov)
}

func TestResolve_FallsToScrape(t *testing.T) {
	c := readyConnector(t, testConfig())
	attachScraper(c)

	liveCalls := 0
	v, prov, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Live: func(context.Context) (string, error) {
			liveCalls++
			return "", errors.New(errors.ErrorTypeConnection, "api down").AsRetryable()
		},
		Scrape:   func(context.Context) (string, error) { return "scraped", nil },
		Simulate: func() string { return "simulated" },
	})
	require.NoError(t, err)
	assert.Equal(t, "scraped", v)
	assert.Equal(t, core.ProvenanceScraped, prov)
	assert.Equal(t, 2, liveCalls, "retryable live failure gets one retry")
}

func TestResolve_FallsToSimulatorAndNeverFails(t *testing.T) {
	c := readyConnector(t, testConfig())
	attachScraper(c)

	v, prov, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Live: func(context.Context) (string, error) {
			return "", errors.New(errors.ErrorTypeAPI, "boom").AsFatal()
		},
		Scrape: func(context.Context) (string, error) {
			return "", errors.New(errors.ErrorTypeScraper, "layout changed").AsFatal()
		},
		Simulate: func() string { return "simulated" },
	})
	require.NoError(t, err)
	assert.Equal(t, "simulated", v)
	assert.Equal(t, core.ProvenanceSimulated, prov)
}

func TestResolve_FatalLiveErrorSkipsRetry(t *testing.T) {
	c := readyConnector(t, testConfig())

	liveCalls := 0
	_, prov, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Live: func(context.Context) (string, error) {
			liveCalls++
			return "", errors.New(errors.ErrorTypeAuthentication, "bad key")
		},
		Simulate: func() string { return "simulated" },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, liveCalls)
	assert.Equal(t, core.ProvenanceSimulated, prov)
}

func TestResolve_ScrapeTierSkippedWithoutScraper(t *testing.T) {
	c := readyConnector(t, testConfig())

	scrapeCalls := 0
	_, prov, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Live: func(context.Context) (string, error) {
			return "", errors.New(errors.ErrorTypeAPI, "down").AsFatal()
		},
		Scrape: func(context.Context) (string, error) {
			scrapeCalls++
			return "scraped", nil
		},
		Simulate: func() string { return "simulated" },
	})
	require.NoError(t, err)
	assert.Zero(t, scrapeCalls)
	assert.Equal(t, core.ProvenanceSimulated, prov)
}

func TestResolve_CacheWriteThrough(t *testing.T) {
	c := readyConnector(t, testConfig())

	liveCalls := 0
	tiers := Tiers[string]{
		Live: func(context.Context) (string, error) {
			liveCalls++
			return "live", nil
		},
		Simulate: func() string { return "simulated" },
	}

	_, prov, err := Resolve(context.Background(), c, "status", "n1", tiers)
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceLive, prov)

	// Second call hits the cache, keeps the original provenance.
	v, prov, err := Resolve(context.Background(), c, "status", "n1", tiers)
	require.NoError(t, err)
	assert.Equal(t, "live", v)
	assert.Equal(t, core.ProvenanceLive, prov)
	assert.Equal(t, 1, liveCalls)

	// Distinct params fetch separately.
	_, _, err = Resolve(context.Background(), c, "status", "n2", tiers)
	require.NoError(t, err)
	assert.Equal(t, 2, liveCalls)
}

func TestResolve_CacheDisabledFetchesEveryTime(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false
	c := readyConnector(t, cfg)

	liveCalls := 0
	tiers := Tiers[string]{
		Live: func(context.Context) (string, error) {
			liveCalls++
			return "live", nil
		},
		Simulate: func() string { return "simulated" },
	}
	for i := 0; i < 3; i++ {
		_, _, err := Resolve(context.Background(), c, "status", "n1", tiers)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, liveCalls)
}

func TestResolve_RateLimitedServesSimulated(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Requests = 1
	cfg.RateLimit.Window = time.Hour
	cfg.RateLimit.MaxWait = time.Millisecond
	cfg.Cache.Enabled = false
	c := readyConnector(t, cfg)

	tiers := Tiers[string]{
		Live:     func(context.Context) (string, error) { return "live", nil },
		Simulate: func() string { return "simulated" },
	}

	_, prov, err := Resolve(context.Background(), c, "status", "n1", tiers)
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceLive, prov)

	// Token exhausted: chain skips the network tiers.
	_, prov, err = Resolve(context.Background(), c, "status", "n1", tiers)
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceSimulated, prov)
}

func TestResolve_RejectedBeforeInitialize(t *testing.T) {
	c := New("testnet", testConfig())

	_, _, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Simulate: func() string { return "simulated" },
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
}

func TestResolve_RejectedAfterDispose(t *testing.T) {
	c := readyConnector(t, testConfig())
	require.NoError(t, c.Dispose(context.Background()))

	_, _, err := Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Simulate: func() string { return "simulated" },
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disposed")
}

func TestMutate_NoFallback(t *testing.T) {
	c := readyConnector(t, testConfig())

	_, err := Mutate(context.Background(), c, "apply_pricing", func(context.Context) (*core.PricingResult, error) {
		return nil, errors.New(errors.ErrorTypeAPI, "write rejected").AsFatal()
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
}

func TestMutate_Succeeds(t *testing.T) {
	c := readyConnector(t, testConfig())

	res, err := Mutate(context.Background(), c, "apply_pricing", func(context.Context) (*core.PricingResult, error) {
		return &core.PricingResult{Applied: true, Price: 1.5}, nil
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 1.5, res.Price)
}

func TestInitialize_ProbeFailureStillReady(t *testing.T) {
	c := New("testnet", testConfig())
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })

	err := c.Initialize(context.Background(), func(context.Context) (*core.CredentialReport, error) {
		return nil, errors.New(errors.ErrorTypeAuthentication, "invalid key")
	})
	require.NoError(t, err)
	assert.True(t, c.IsReady())

	report := c.CredentialReport()
	require.NotNil(t, report)
	assert.False(t, report.Valid)
}

func TestInitialize_Twice(t *testing.T) {
	c := readyConnector(t, testConfig())
	err := c.Initialize(context.Background(), nil)
	require.Error(t, err)
}

func TestDispose_Idempotent(t *testing.T) {
	c := New("testnet", testConfig())
	require.NoError(t, c.Initialize(context.Background(), nil))

	require.NoError(t, c.Dispose(context.Background()))
	require.NoError(t, c.Dispose(context.Background()))
	assert.Equal(t, core.StateDisposed, c.State())
}

func TestHealth_DegradedOnSimulatedData(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = false
	c := readyConnector(t, cfg)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)

	_, _, err = Resolve(context.Background(), c, "status", "n1", Tiers[string]{
		Live: func(context.Context) (string, error) {
			return "", errors.New(errors.ErrorTypeAPI, "down").AsFatal()
		},
		Simulate: func() string { return "simulated" },
	})
	require.NoError(t, err)

	h, err = c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, core.ProvenanceSimulated, h.LastProvenance)
	assert.NotEmpty(t, h.Errors)
}
