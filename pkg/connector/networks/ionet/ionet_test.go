package ionet

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/scrape"
)

func fastConfig(baseURL string) *config.ConnectorConfig {
	cfg := config.NewConnectorConfig()
	cfg.BaseURL = baseURL
	cfg.Retry.Attempts = 0
	cfg.Retry.Delay = time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

// deadServerURL returns a URL nothing listens on.
func deadServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func newReady(t *testing.T, cfg *config.ConnectorConfig) *Connector {
	t.Helper()
	conn, err := New(cfg)
	require.NoError(t, err)
	c := conn.(*Connector)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })
	return c
}

func TestFreshConnectorWithoutCredentials_SuggestPricing(t *testing.T) {
	cfg := fastConfig(deadServerURL(t))
	c := newReady(t, cfg)

	s, err := c.SuggestPricing(context.Background(), "dev-42", 0.75)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.SuggestedPrice, 0.0)
	assert.NotEmpty(t, s.Reasoning)
	assert.Contains(t, s.Reasoning, "75%")
	assert.Equal(t, core.ProvenanceSimulated, s.Provenance)
	assert.Equal(t, "dev-42", s.NodeID)
}

func TestSuggestPricing_InvalidTarget(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	for _, target := range []float64{0, -0.5, 1.5} {
		_, err := c.SuggestPricing(context.Background(), "dev-42", target)
		require.Error(t, err, "target %v", target)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	}
}

func TestGetNodeStatus_Live(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/devices/dev-1", r.URL.Path)
		fmt.Fprint(w, `{
			"device_id": "dev-1",
			"status": "up",
			"uptime_seconds": 7200,
			"last_seen": "2026-03-01T12:00:00Z",
			"cpu_pct": 42.5,
			"memory_pct": 61.0,
			"network_score": 98.0,
			"location": "us-east",
			"brand": "NVIDIA",
			"hardware_name": "RTX 4090"
		}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	st, err := c.GetNodeStatus(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceLive, st.Provenance)
	assert.Equal(t, core.NodeOnline, st.Status)
	assert.Equal(t, int64(7200), st.UptimeSeconds)
	assert.Equal(t, 42.5, st.Health.CPU)
	assert.Equal(t, "RTX 4090", st.Specs["hardware"])
}

func TestGetNodeStatus_FallsToSimulatedWhenAPIDead(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	st, err := c.GetNodeStatus(context.Background(), "dev-9")
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceSimulated, st.Provenance)
	assert.Equal(t, "dev-9", st.ID)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
}

// dashBrowser serves canned selector text, standing in for the dashboard.
type dashBrowser struct {
	texts map[string]string
}

func (d *dashBrowser) Navigate(context.Context, string) error     { return nil }
func (d *dashBrowser) Fill(context.Context, string, string) error { return nil }
func (d *dashBrowser) Click(context.Context, string) error        { return nil }
func (d *dashBrowser) Close(context.Context) error                { return nil }
func (d *dashBrowser) Text(_ context.Context, selector string) (string, error) {
	if v, ok := d.texts[selector]; ok {
		return v, nil
	}
	return "", fmt.Errorf("no such element")
}

func TestGetNodeStatus_FallsToScraper(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))
	c.SetScraper(scrape.NewScraper(&dashBrowser{texts: map[string]string{
		"[data-testid=worker-status]": "up",
		"[data-testid=worker-uptime]": "48",
		"[data-testid=worker-cpu]":    "55%",
		"[data-testid=worker-memory]": "70%",
		"[data-testid=worker-disk]":   "30%",
	}}, scrape.Config{
		Login: scrape.LoginForm{
			URL:            "https://dash.local/login",
			UserSelector:   "#u",
			PassSelector:   "#p",
			SubmitSelector: "#go",
		},
		Username:         "op",
		Password:         "pw",
		ActionsPerSecond: 10000,
	}))

	st, err := c.GetNodeStatus(context.Background(), "dev-7")
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceScraped, st.Provenance)
	assert.Equal(t, core.NodeOnline, st.Status)
	assert.Equal(t, int64(48*3600), st.UptimeSeconds)
	assert.Equal(t, 55.0, st.Health.CPU)
}

func TestListAndIDs_Live(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/devices", r.URL.Path)
		fmt.Fprint(w, `{"devices": [
			{"device_id": "dev-1", "status": "up"},
			{"device_id": "dev-2", "status": "paused"},
			{"device_id": "dev-3", "status": "failed"}
		]}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	statuses, err := c.ListNodeStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, core.NodeOnline, statuses[0].Status)
	assert.Equal(t, core.NodeMaintenance, statuses[1].Status)
	assert.Equal(t, core.NodeError, statuses[2].Status)

	ids, err := c.GetNodeIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1", "dev-2", "dev-3"}, ids)
}

func TestGetEarnings_LiveTotalsFromBreakdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Total disagrees with the parts on purpose.
		fmt.Fprint(w, `{
			"total_usd": 99.0,
			"compute_usd": 10.0,
			"bandwidth_usd": 2.5,
			"rewards_usd": 1.5,
			"transactions": [
				{"tx_id": "t1", "timestamp": "2026-02-28T10:00:00Z", "amount_usd": 14.0, "kind": "payout"}
			]
		}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	period := core.PeriodEnding(core.PeriodDaily, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	e, err := c.GetEarnings(context.Background(), period, "")
	require.NoError(t, err)
	assert.Equal(t, 14.0, e.Total)
	assert.True(t, e.Consistent())
	assert.Equal(t, core.ProvenanceLive, e.Provenance)
	require.Len(t, e.Transactions, 1)
	assert.Equal(t, "t1", e.Transactions[0].ID)
	assert.InDelta(t, 14.0*30, e.ProjectedMonthly, 0.01)
}

func TestGetEarnings_SimulatedIsConsistent(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	period := core.PeriodEnding(core.PeriodWeekly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	e, err := c.GetEarnings(context.Background(), period, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceSimulated, e.Provenance)
	assert.True(t, e.Consistent())
}

func TestGetMetrics_Live(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/devices/dev-1/metrics", r.URL.Path)
		fmt.Fprint(w, `{
			"device_id": "dev-1",
			"jobs_completed": 90,
			"jobs_failed": 10,
			"hourly_usd": 1.5,
			"score": 88.0
		}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	m, err := c.GetMetrics(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 90.0, m.Performance.SuccessRatePct)
	assert.Equal(t, 1.5*24, m.Earnings.Daily)
	assert.Equal(t, 88.0, m.Reputation)
	assert.Equal(t, core.ProvenanceLive, m.Provenance)
}

func TestApplyPricing_DryRunNeverTouchesNetwork(t *testing.T) {
	posts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts++
		}
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	res, err := c.ApplyPricing(context.Background(), "dev-1", 1.25, true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.Message)
	assert.Zero(t, posts)
}

func TestApplyPricing_NegativePriceRejected(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	_, err := c.ApplyPricing(context.Background(), "dev-1", -0.01, true)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestApplyPricing_LiveWrite(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gotPath = r.URL.Path
			fmt.Fprint(w, `{}`)
		}
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	res, err := c.ApplyPricing(context.Background(), "dev-1", 1.25, false)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, res.DryRun)
	assert.Equal(t, 1.25, res.Price)
	assert.Equal(t, "/v2/devices/dev-1/pricing", gotPath)
}

func TestApplyPricing_LiveWriteFailureIsError(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	_, err := c.ApplyPricing(context.Background(), "dev-1", 1.25, false)
	require.Error(t, err, "writes must not fall back to simulation")
}

func TestValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer good-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"account_id": "acct-1", "scopes": ["read", "pricing"]}`)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.APIKey = "good-key"
	c := newReady(t, cfg)

	report, err := c.ValidateCredentials(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, []string{"read", "pricing"}, report.Permissions)
}

func TestValidateCredentials_NoKey(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	report, err := c.ValidateCredentials(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Message, "no API key")
}

func TestCachedStatusKeepsProvenance(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, `{"device_id": "dev-1", "status": "up"}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	for i := 0; i < 3; i++ {
		st, err := c.GetNodeStatus(context.Background(), "dev-1")
		require.NoError(t, err)
		assert.Equal(t, core.ProvenanceLive, st.Provenance)
	}
	assert.Equal(t, 1, hits)
}
