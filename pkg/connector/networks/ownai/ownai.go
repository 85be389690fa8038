// Package ownai adapts the OwnAI inference network: a keyed API for host
// state, job metrics, and earnings, no scraper, no pricing writes.
package ownai

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
	networkName    = "ownai"
	defaultBaseURL = "https://api.ownai.network"
)

func init() {
	registry.Register(networkName, registry.Descriptor{New: New})
}

type Connector struct {
	*base.Connector
	api *clients.APIClient
}

func New(cfg *config.ConnectorConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Connector{
		Connector: base.New(networkName, cfg),
		api: clients.NewAPIClient(networkName, clients.APIConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Breaker: clients.NewBreaker(networkName, clients.BreakerConfig{}),
		}),
	}, nil
}

func (c *Connector) Initialize(ctx context.Context) error {
	var probe func(ctx context.Context) (*core.CredentialReport, error)
	if c.Config().HasCredentials() {
		probe = c.checkKey
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

type aiHost struct {
	HostID    string  `json:"host_id"`
	Phase     string  `json:"phase"`
	UptimeSec int64   `json:"uptime_sec"`
	LastBeat  string  `json:"last_heartbeat"`
	GPULoad   float64 `json:"gpu_load"`
	VRAMLoad  float64 `json:"vram_load"`
	Model     string  `json:"served_model"`
}

func (h aiHost) toStatus() *core.NodeStatus {
	lastSeen, _ := time.Parse(time.RFC3339, h.LastBeat)
	state := core.NodeOffline
	switch h.Phase {
	case "serving", "warm":
		state = core.NodeOnline
	case "updating":
		state = core.NodeMaintenance
	case "crashed":
		state = core.NodeError
	}
	return &core.NodeStatus{
		ID:            h.HostID,
		Status:        state,
		UptimeSeconds: h.UptimeSec,
		LastSeen:      lastSeen,
		Health: core.HealthSnapshot{
			CPU:    h.GPULoad,
			Memory: h.VRAMLoad,
		},
		Specs:      map[string]string{"served_model": h.Model},
		Provenance: core.ProvenanceLive,
	}
}

func (c *Connector) GetNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	st, _, err := base.Resolve(ctx, c.Connector, "node_status", nodeID, base.Tiers[*core.NodeStatus]{
		Live: func(ctx context.Context) (*core.NodeStatus, error) {
			var h aiHost
			if err := c.api.GetJSON(ctx, "/v1/hosts/"+url.PathEscape(nodeID), nil, &h); err != nil {
				return nil, err
			}
			return h.toStatus(), nil
		},
		Simulate: func() *core.NodeStatus {
			st := simulate.DeviceStatus(seed(nodeID), time.Now())
			st.ID = nodeID
			return st
		},
	})
	return st, err
}

func (c *Connector) ListNodeStatuses(ctx context.Context) ([]*core.NodeStatus, error) {
	list, _, err := base.Resolve(ctx, c.Connector, "node_statuses", nil, base.Tiers[[]*core.NodeStatus]{
		Live: func(ctx context.Context) ([]*core.NodeStatus, error) {
			var res struct {
				Hosts []aiHost `json:"hosts"`
			}
			if err := c.api.GetJSON(ctx, "/v1/hosts", nil, &res); err != nil {
				return nil, err
			}
			out := make([]*core.NodeStatus, 0, len(res.Hosts))
			for _, h := range res.Hosts {
				out = append(out, h.toStatus())
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
				q.Set("host_id", nodeID)
			}
			var res struct {
				InferenceUSD float64 `json:"inference_usd"`
				BonusUSD     float64 `json:"bonus_usd"`
			}
			if err := c.api.GetJSON(ctx, "/v1/earnings", q, &res); err != nil {
				return nil, err
			}
			e := &core.Earnings{
				Period:   period,
				Currency: "USD",
				Breakdown: core.Breakdown{
					Compute: res.InferenceUSD,
					Rewards: res.BonusUSD,
				},
				Provenance: core.ProvenanceLive,
			}
			e.Total = e.Breakdown.Sum()
			return e, nil
		},
		Simulate: func() *core.Earnings {
			return simulate.Earnings(seed("earnings", nodeID), period)
		},
	})
	return e, err
}

func (c *Connector) GetMetrics(ctx context.Context, nodeID string) (*core.NodeMetrics, error) {
	m, _, err := base.Resolve(ctx, c.Connector, "metrics", nodeID, base.Tiers[*core.NodeMetrics]{
		Live: func(ctx context.Context) (*core.NodeMetrics, error) {
			var res struct {
				Requests  int     `json:"requests_served"`
				Failed    int     `json:"requests_failed"`
				AvgMs     float64 `json:"avg_latency_ms"`
				GPULoad   float64 `json:"gpu_load"`
				HourlyUSD float64 `json:"hourly_usd"`
			}
			if err := c.api.GetJSON(ctx, "/v1/hosts/"+url.PathEscape(nodeID)+"/metrics", nil, &res); err != nil {
				return nil, err
			}
			total := res.Requests + res.Failed
			rate := 100.0
			if total > 0 {
				rate = float64(res.Requests) / float64(total) * 100
			}
			return &core.NodeMetrics{
				NodeID: nodeID,
				Performance: core.PerformanceMetrics{
					TasksCompleted: res.Requests,
					TasksFailed:    res.Failed,
					AvgDurationSec: res.AvgMs / 1000,
					SuccessRatePct: rate,
				},
				Utilization: core.ResourceUtilization{GPU: res.GPULoad},
				Earnings: core.EarningsRate{
					Hourly:  res.HourlyUSD,
					Daily:   res.HourlyUSD * 24,
					Weekly:  res.HourlyUSD * 24 * 7,
					Monthly: res.HourlyUSD * 24 * 30,
				},
				Network:    core.NetworkHealth{LatencyMs: res.AvgMs},
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

func (c *Connector) SuggestPricing(ctx context.Context, nodeID string, targetUtilization float64) (*core.PricingSuggestion, error) {
	if targetUtilization <= 0 || targetUtilization > 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"target utilization must be in (0,1], got %v", targetUtilization)
	}
	s, _, err := base.Resolve(ctx, c.Connector, "suggest_pricing",
		map[string]interface{}{"node": nodeID, "target": targetUtilization},
		base.Tiers[*core.PricingSuggestion]{
			Simulate: func() *core.PricingSuggestion {
				s := simulate.PricingSuggestion(seed(nodeID), 0.4, targetUtilization)
				s.NodeID = nodeID
				return s
			},
		})
	return s, err
}

func (c *Connector) ApplyPricing(ctx context.Context, nodeID string, price float64, dryRun bool) (*core.PricingResult, error) {
	if price < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "price must be non-negative, got %v", price)
	}
	if dryRun {
		return &core.PricingResult{
			Applied: true,
			DryRun:  true,
			Price:   price,
			Message: "dry run: OwnAI has no pricing write API, a real apply would report the same",
		}, nil
	}
	return &core.PricingResult{
		Applied: false,
		Price:   price,
		Message: "OwnAI inference pricing is marketplace-driven; set asks in the OwnAI console",
	}, nil
}

func (c *Connector) ValidateCredentials(ctx context.Context) (*core.CredentialReport, error) {
	report, err := c.checkKey(ctx)
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

func (c *Connector) checkKey(ctx context.Context) (*core.CredentialReport, error) {
	if !c.Config().HasCredentials() {
		return &core.CredentialReport{
			Valid:     false,
			CheckedAt: time.Now(),
			Message:   "no API key configured",
		}, nil
	}
	if err := c.api.GetJSON(ctx, "/v1/account", nil, nil); err != nil {
		return nil, err
	}
	return &core.CredentialReport{Valid: true, CheckedAt: time.Now()}, nil
}
