package ownai

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

func newReady(t *testing.T, baseURL string) *Connector {
	t.Helper()
	cfg := config.NewConnectorConfig()
	cfg.BaseURL = baseURL
	cfg.Retry.Attempts = 0
	cfg.Timeout = 2 * time.Second
	conn, err := New(cfg)
	require.NoError(t, err)
	c := conn.(*Connector)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })
	return c
}

func TestGetMetrics_Live(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/hosts/host-1/metrics", r.URL.Path)
		fmt.Fprint(w, `{
			"requests_served": 950,
			"requests_failed": 50,
			"avg_latency_ms": 120.0,
			"gpu_load": 75.0,
			"hourly_usd": 0.9
		}`)
	}))
	defer srv.Close()

	m, err := newReady(t, srv.URL).GetMetrics(context.Background(), "host-1")
	require.NoError(t, err)
	assert.Equal(t, 95.0, m.Performance.SuccessRatePct)
	assert.Equal(t, 0.12, m.Performance.AvgDurationSec)
	assert.Equal(t, 0.9*24, m.Earnings.Daily)
	assert.Equal(t, core.ProvenanceLive, m.Provenance)
}

func TestGetNodeStatus_PhaseMapping(t *testing.T) {
	phases := map[string]core.NodeState{
		"serving":  core.NodeOnline,
		"warm":     core.NodeOnline,
		"updating": core.NodeMaintenance,
		"crashed":  core.NodeError,
		"cold":     core.NodeOffline,
	}
	for phase, want := range phases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"host_id": "host-1", "phase": "`+phase+`"}`)
		}))
		st, err := newReady(t, srv.URL).GetNodeStatus(context.Background(), "host-1")
		require.NoError(t, err, phase)
		assert.Equal(t, want, st.Status, phase)
		srv.Close()
	}
}

func TestApplyPricing_MarketplaceMessage(t *testing.T) {
	c := newReady(t, "http://unused.invalid")

	res, err := c.ApplyPricing(context.Background(), "host-1", 0.8, false)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Contains(t, res.Message, "marketplace")

	res, err = c.ApplyPricing(context.Background(), "host-1", 0.8, true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.DryRun)
}
