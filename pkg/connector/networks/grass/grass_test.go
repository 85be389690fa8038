package grass

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
)

func fastConfig(baseURL string) *config.ConnectorConfig {
	cfg := config.NewConnectorConfig()
	cfg.BaseURL = baseURL
	cfg.Retry.Attempts = 0
	cfg.Retry.Delay = time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
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

func TestGetNodeStatus_Live(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"device_id": "grass-1",
			"connected": true,
			"ip_score": 92.0,
			"uptime_sec": 86400,
			"country": "DE",
			"bandwidth_mbps": 45.0
		}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	st, err := c.GetNodeStatus(context.Background(), "grass-1")
	require.NoError(t, err)
	assert.Equal(t, core.NodeOnline, st.Status)
	assert.Equal(t, 92.0, st.Health.Network)
	assert.Equal(t, "DE", st.Location)
}

func TestGetEarnings_Live(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bandwidth_usd": 12.5, "referral_usd": 1.5}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	period := core.PeriodEnding(core.PeriodWeekly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	e, err := c.GetEarnings(context.Background(), period, "")
	require.NoError(t, err)
	assert.Equal(t, 14.0, e.Total)
	assert.True(t, e.Consistent())
}

func TestApplyPricing_NoWriteAPI(t *testing.T) {
	c := newReady(t, fastConfig("http://unused.invalid"))

	res, err := c.ApplyPricing(context.Background(), "grass-1", 0.5, false)
	require.NoError(t, err, "a missing write API is an outcome, not an error")
	assert.False(t, res.Applied)
	assert.Contains(t, res.Message, "network-wide")

	// Dry run still reports success.
	res, err = c.ApplyPricing(context.Background(), "grass-1", 0.5, true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.DryRun)
}

func TestSuggestPricing_ExplainsNetworkRate(t *testing.T) {
	c := newReady(t, fastConfig("http://unused.invalid"))

	s, err := c.SuggestPricing(context.Background(), "grass-1", 0.8)
	require.NoError(t, err)
	assert.Contains(t, s.Reasoning, "network-wide")
	assert.Contains(t, s.Reasoning, "80%")
}

func TestGetMetrics_AlwaysSimulated(t *testing.T) {
	c := newReady(t, fastConfig("http://unused.invalid"))

	m, err := c.GetMetrics(context.Background(), "grass-1")
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceSimulated, m.Provenance)
	assert.NotEmpty(t, m.Series)
}
