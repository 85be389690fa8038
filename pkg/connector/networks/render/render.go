// Package render adapts the Render Network GPU marketplace: a keyed REST
// API with a pricing write endpoint, no dashboard scraper.
package render

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nodewarden/nodewarden/pkg/clients"
	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/base"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/connector/registry"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/simulate"
)

const (
	networkName    = "render"
	defaultBaseURL = "https://api.rendernetwork.com"
)

func init() {
	registry.Register(networkName, registry.Descriptor{New: New})
}

// Connector adapts Render's node operator API.
type Connector struct {
	*base.Connector
	api *clients.APIClient
}

// New builds an uninitialized Render connector.
func New(cfg *config.ConnectorConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	b := base.New(networkName, cfg)
	return &Connector{
		Connector: b,
		api: clients.NewAPIClient(networkName, clients.APIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Timeout:     cfg.Timeout,
			EnableHTTP2: true,
			Breaker:     clients.NewBreaker(networkName, clients.BreakerConfig{}),
		}),
	}, nil
}

// Initialize probes the API key when one is configured.
func (c *Connector) Initialize(ctx context.Context) error {
	var probe func(ctx context.Context) (*core.CredentialReport, error)
	if c.Config().HasCredentials() {
		probe = c.probeCredentials
	}
	return c.Connector.Initialize(ctx, probe)
}

func seed(parts ...string) string {
	s := networkName
	for _, p := range parts {
		s += ":" + p
	}
	return s
}

type renderNode struct {
	NodeID     string  `json:"node_id"`
	State      string  `json:"state"`
	Score      float64 `json:"render_score"`
	UptimeSec  int64   `json:"uptime_sec"`
	LastActive string  `json:"last_active"`
	GPULoad    float64 `json:"gpu_load"`
	VRAMLoad   float64 `json:"vram_load"`
	Region     string  `json:"region"`
	GPUModel   string  `json:"gpu_model"`
}

func (n renderNode) toStatus() *core.NodeStatus {
	lastSeen, _ := time.Parse(time.RFC3339, n.LastActive)
	state := core.NodeOffline
	switch n.State {
	case "active", "rendering":
		state = core.NodeOnline
	case "idle":
		state = core.NodeOnline
	case "suspended":
		state = core.NodeMaintenance
	case "error":
		state = core.NodeError
	}
	return &core.NodeStatus{
		ID:            n.NodeID,
		Status:        state,
		UptimeSeconds: n.UptimeSec,
		LastSeen:      lastSeen,
		Health: core.HealthSnapshot{
			CPU:    n.GPULoad,
			Memory: n.VRAMLoad,
		},
		Location:   n.Region,
		Specs:      map[string]string{"gpu": n.GPUModel},
		Provenance: core.ProvenanceLive,
	}
}

// GetNodeStatus returns one render node's status.
func (c *Connector) GetNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	st, _, err := base.Resolve(ctx, c.Connector, "node_status", nodeID, base.Tiers[*core.NodeStatus]{
		Live: func(ctx context.Context) (*core.NodeStatus, error) {
			var n renderNode
			if err := c.api.GetJSON(ctx, "/v1/nodes/"+url.PathEscape(nodeID), nil, &n); err != nil {
				return nil, err
			}
			return n.toStatus(), nil
		},
		Simulate: func() *core.NodeStatus {
			st := simulate.DeviceStatus(seed(nodeID), time.Now())
			st.ID = nodeID
			return st
		},
	})
	return st, err
}

// ListNodeStatuses returns every node on the operator account.
func (c *Connector) ListNodeStatuses(ctx context.Context) ([]*core.NodeStatus, error) {
	list, _, err := base.Resolve(ctx, c.Connector, "node_statuses", nil, base.Tiers[[]*core.NodeStatus]{
		Live: func(ctx context.Context) ([]*core.NodeStatus, error) {
			var res struct {
				Nodes []renderNode `json:"nodes"`
			}
			if err := c.api.GetJSON(ctx, "/v1/nodes", nil, &res); err != nil {
				return nil, err
			}
			out := make([]*core.NodeStatus, 0, len(res.Nodes))
			for _, n := range res.Nodes {
				out = append(out, n.toStatus())
			}
			return out, nil
		},
		Simulate: func() []*core.NodeStatus {
			ids := simulate.NodeIDs(c.Config().Fingerprint(networkName))
			now := time.Now()
			out := make([]*core.NodeStatus, 0, len(ids))
			for _, id := range ids {
				st := simulate.DeviceStatus(seed(id), now)
				st.ID = id
				out = append(out, st)
			}
			return out
		},
	})
	return list, err
}

// GetNodeIDs returns every node ID on the operator account.
func (c *Connector) GetNodeIDs(ctx context.Context) ([]string, error) {
	statuses, err := c.ListNodeStatuses(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(statuses))
	for _, st := range statuses {
		ids = append(ids, st.ID)
	}
	return ids, nil
}

// GetEarnings returns RNDR earnings converted to USD for the period.
func (c *Connector) GetEarnings(ctx context.Context, period core.Period, nodeID string) (*core.Earnings, error) {
	params := map[string]interface{}{
		"start": period.Start.Unix(),
		"end":   period.End.Unix(),
		"node":  nodeID,
	}
	e, _, err := base.Resolve(ctx, c.Connector, "earnings", params, base.Tiers[*core.Earnings]{
		Live: func(ctx context.Context) (*core.Earnings, error) {
			q := url.Values{}
			q.Set("from", fmt.Sprintf("%d", period.Start.Unix()))
			q.Set("to", fmt.Sprintf("%d", period.End.Unix()))
			if nodeID != "" {
				q.Set("node_id", nodeID)
			}
			var res struct {
				RenderUSD float64 `json:"render_usd"`
				BonusUSD  float64 `json:"bonus_usd"`
				Jobs      []struct {
					JobID       string  `json:"job_id"`
					CompletedAt string  `json:"completed_at"`
					PayoutUSD   float64 `json:"payout_usd"`
				} `json:"jobs"`
			}
			if err := c.api.GetJSON(ctx, "/v1/earnings", q, &res); err != nil {
				return nil, err
			}

			e := &core.Earnings{
				Period:   period,
				Currency: "USD",
				Breakdown: core.Breakdown{
					Compute: res.RenderUSD,
					Rewards: res.BonusUSD,
				},
				Provenance: core.ProvenanceLive,
			}
			e.Total = e.Breakdown.Sum()
			for _, j := range res.Jobs {
				ts, _ := time.Parse(time.RFC3339, j.CompletedAt)
				e.Transactions = append(e.Transactions, core.Transaction{
					ID:        j.JobID,
					Timestamp: ts,
					Amount:    j.PayoutUSD,
					Kind:      "render_job",
				})
			}
			if days := period.End.Sub(period.Start).Hours() / 24; days > 0 {
				e.ProjectedMonthly = e.Total / days * 30
				e.ProjectedYearly = e.Total / days * 365
			}
			return e, nil
		},
		Simulate: func() *core.Earnings {
			return simulate.Earnings(seed("earnings", nodeID), period)
		},
	})
	return e, err
}

// GetMetrics returns render performance metrics for one node.
func (c *Connector) GetMetrics(ctx context.Context, nodeID string) (*core.NodeMetrics, error) {
	m, _, err := base.Resolve(ctx, c.Connector, "metrics", nodeID, base.Tiers[*core.NodeMetrics]{
		Live: func(ctx context.Context) (*core.NodeMetrics, error) {
			var res struct {
				FramesDone   int     `json:"frames_completed"`
				FramesFailed int     `json:"frames_failed"`
				ActiveJobs   int     `json:"active_jobs"`
				AvgFrameSec  float64 `json:"avg_frame_sec"`
				GPULoad      float64 `json:"gpu_load"`
				Score        float64 `json:"render_score"`
				HourlyUSD    float64 `json:"hourly_usd"`
			}
			if err := c.api.GetJSON(ctx, "/v1/nodes/"+url.PathEscape(nodeID)+"/metrics", nil, &res); err != nil {
				return nil, err
			}
			total := res.FramesDone + res.FramesFailed
			rate := 100.0
			if total > 0 {
				rate = float64(res.FramesDone) / float64(total) * 100
			}
			return &core.NodeMetrics{
				NodeID: nodeID,
				Performance: core.PerformanceMetrics{
					TasksCompleted: res.FramesDone,
					TasksActive:    res.ActiveJobs,
					TasksFailed:    res.FramesFailed,
					AvgDurationSec: res.AvgFrameSec,
					SuccessRatePct: rate,
				},
				Utilization: core.ResourceUtilization{GPU: res.GPULoad},
				Earnings: core.EarningsRate{
					Hourly:  res.HourlyUSD,
					Daily:   res.HourlyUSD * 24,
					Weekly:  res.HourlyUSD * 24 * 7,
					Monthly: res.HourlyUSD * 24 * 30,
				},
				Reputation: res.Score,
				Provenance: core.ProvenanceLive,
			}, nil
		},
		Simulate: func() *core.NodeMetrics {
			m := simulate.Metrics(seed(nodeID), time.Now().Add(-24*time.Hour), time.Now())
			m.NodeID = nodeID
			return m
		},
	})
	return m, err
}

// SuggestPricing recommends an hourly GPU rate targeting the utilization.
func (c *Connector) SuggestPricing(ctx context.Context, nodeID string, targetUtilization float64) (*core.PricingSuggestion, error) {
	if targetUtilization <= 0 || targetUtilization > 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"target utilization must be in (0,1], got %v", targetUtilization)
	}

	params := map[string]interface{}{"node": nodeID, "target": targetUtilization}
	s, _, err := base.Resolve(ctx, c.Connector, "suggest_pricing", params, base.Tiers[*core.PricingSuggestion]{
		Live: func(ctx context.Context) (*core.PricingSuggestion, error) {
			var res struct {
				TierUSD   float64 `json:"tier_hourly_usd"`
				Occupancy float64 `json:"occupancy"`
			}
			if err := c.api.GetJSON(ctx, "/v1/nodes/"+url.PathEscape(nodeID)+"/pricing", nil, &res); err != nil {
				return nil, err
			}
			gap := targetUtilization - res.Occupancy
			suggested := res.TierUSD * (1 - gap*0.5)
			if suggested < 0 {
				suggested = 0
			}
			return &core.PricingSuggestion{
				NodeID:         nodeID,
				CurrentPrice:   res.TierUSD,
				SuggestedPrice: suggested,
				Currency:       "USD",
				Reasoning: fmt.Sprintf(
					"occupancy %.0f%% against a %.0f%% target on the current tier rate",
					res.Occupancy*100, targetUtilization*100),
				Provenance: core.ProvenanceLive,
			}, nil
		},
		Simulate: func() *core.PricingSuggestion {
			s := simulate.PricingSuggestion(seed(nodeID), 0.8, targetUtilization)
			s.NodeID = nodeID
			return s
		},
	})
	return s, err
}

// ApplyPricing moves the node to the closest pricing tier. dryRun validates
// without sending anything.
func (c *Connector) ApplyPricing(ctx context.Context, nodeID string, price float64, dryRun bool) (*core.PricingResult, error) {
	if price < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "price must be non-negative, got %v", price)
	}
	if dryRun {
		return &core.PricingResult{
			Applied: true,
			DryRun:  true,
			Price:   price,
			Message: fmt.Sprintf("dry run: tier change to $%.4f/h for %s validated, nothing sent", price, nodeID),
		}, nil
	}

	res, err := base.Mutate(ctx, c.Connector, "apply_pricing", func(ctx context.Context) (*core.PricingResult, error) {
		body := map[string]interface{}{"hourly_usd": price}
		if err := c.api.PostJSON(ctx, "/v1/nodes/"+url.PathEscape(nodeID)+"/pricing", body, nil); err != nil {
			return nil, err
		}
		return &core.PricingResult{
			Applied: true,
			Price:   price,
			Message: fmt.Sprintf("node %s moved to the $%.4f/h tier", nodeID, price),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	c.InvalidateAll()
	return res, nil
}

// ValidateCredentials checks the API key against the operator endpoint.
func (c *Connector) ValidateCredentials(ctx context.Context) (*core.CredentialReport, error) {
	report, err := c.probeCredentials(ctx)
	if err != nil {
		report = &core.CredentialReport{
			Valid:     false,
			CheckedAt: time.Now(),
			Message:   err.Error(),
		}
	}
	c.SetCredentialReport(report)
	return report, nil
}

func (c *Connector) probeCredentials(ctx context.Context) (*core.CredentialReport, error) {
	if !c.Config().HasCredentials() {
		return &core.CredentialReport{
			Valid:       false,
			CheckedAt:   time.Now(),
			Message:     "no API key configured",
			Limitations: []string{"live tier disabled"},
		}, nil
	}
	var res struct {
		OperatorID string `json:"operator_id"`
	}
	if err := c.api.GetJSON(ctx, "/v1/operator", nil, &res); err != nil {
		return nil, err
	}
	return &core.CredentialReport{Valid: true, CheckedAt: time.Now()}, nil
}
