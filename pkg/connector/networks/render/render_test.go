package render

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

func TestGetNodeStatus_LiveStateMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/nodes/rndr-1", r.URL.Path)
		fmt.Fprint(w, `{
			"node_id": "rndr-1",
			"state": "rendering",
			"render_score": 91.5,
			"uptime_sec": 3600,
			"gpu_load": 88.0,
			"region": "eu-west",
			"gpu_model": "RTX 3090"
		}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	st, err := c.GetNodeStatus(context.Background(), "rndr-1")
	require.NoError(t, err)
	assert.Equal(t, core.NodeOnline, st.Status)
	assert.Equal(t, core.ProvenanceLive, st.Provenance)
	assert.Equal(t, "RTX 3090", st.Specs["gpu"])
}

func TestGetNodeIDs_SharesListFetch(t *testing.T) {
	listHits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listHits++
		fmt.Fprint(w, `{"nodes": [{"node_id": "rndr-1", "state": "idle"}, {"node_id": "rndr-2", "state": "error"}]}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	ids, err := c.GetNodeIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"rndr-1", "rndr-2"}, ids)

	// IDs ride the cached statuses fetch.
	_, err = c.ListNodeStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, listHits)
}

func TestGetEarnings_FallsToSimulated(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	period := core.PeriodEnding(core.PeriodMonthly, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	e, err := c.GetEarnings(context.Background(), period, "")
	require.NoError(t, err)
	assert.Equal(t, core.ProvenanceSimulated, e.Provenance)
	assert.True(t, e.Consistent())
}

func TestApplyPricing_LiveWrite(t *testing.T) {
	var posted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posted = r.URL.Path
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := newReady(t, fastConfig(srv.URL))

	res, err := c.ApplyPricing(context.Background(), "rndr-1", 2.0, false)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "/v1/nodes/rndr-1/pricing", posted)

	// Dry run never posts.
	posted = ""
	res, err = c.ApplyPricing(context.Background(), "rndr-1", 2.0, true)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.DryRun)
	assert.Empty(t, posted)
}

func TestSuggestPricing_SimulatedMentionsTarget(t *testing.T) {
	c := newReady(t, fastConfig(deadServerURL(t)))

	s, err := c.SuggestPricing(context.Background(), "rndr-1", 0.6)
	require.NoError(t, err)
	assert.Contains(t, s.Reasoning, "60%")
	assert.GreaterOrEqual(t, s.SuggestedPrice, 0.0)
}
