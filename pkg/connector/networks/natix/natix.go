// Package natix adapts the Natix drive-to-earn camera network: a small keyed
// API for device state and rewards, no scraper, no pricing writes.
package natix

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
	networkName    = "natix"
	defaultBaseURL = "https://api.natix.network"
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

type natixCamera struct {
	CameraID   string `json:"camera_id"`
	Online     bool   `json:"online"`
	LastUpload string `json:"last_upload"`
	UptimeSec  int64  `json:"uptime_sec"`
	City       string `json:"city"`
}

func (n natixCamera) toStatus() *core.NodeStatus {
	lastSeen, _ := time.Parse(time.RFC3339, n.LastUpload)
	state := core.NodeOffline
	if n.Online {
		state = core.NodeOnline
	}
	return &core.NodeStatus{
		ID:            n.CameraID,
		Status:        state,
		UptimeSeconds: n.UptimeSec,
		LastSeen:      lastSeen,
		Location:      n.City,
		Provenance:    core.ProvenanceLive,
	}
}

func (c *Connector) GetNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	st, _, err := base.Resolve(ctx, c.Connector, "node_status", nodeID, base.Tiers[*core.NodeStatus]{
		Live: func(ctx context.Context) (*core.NodeStatus, error) {
			var n natixCamera
			if err := c.api.GetJSON(ctx, "/v1/cameras/"+url.PathEscape(nodeID), nil, &n); err != nil {
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

func (c *Connector) ListNodeStatuses(ctx context.Context) ([]*core.NodeStatus, error) {
	list, _, err := base.Resolve(ctx, c.Connector, "node_statuses", nil, base.Tiers[[]*core.NodeStatus]{
		Live: func(ctx context.Context) ([]*core.NodeStatus, error) {
			var res struct {
				Cameras []natixCamera `json:"cameras"`
			}
			if err := c.api.GetJSON(ctx, "/v1/cameras", nil, &res); err != nil {
				return nil, err
			}
			out := make([]*core.NodeStatus, 0, len(res.Cameras))
			for _, n := range res.Cameras {
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
				q.Set("camera_id", nodeID)
			}
			var res struct {
				RewardsUSD float64 `json:"rewards_usd"`
			}
			if err := c.api.GetJSON(ctx, "/v1/rewards", q, &res); err != nil {
				return nil, err
			}
			e := &core.Earnings{
				Period:     period,
				Currency:   "USD",
				Breakdown:  core.Breakdown{Rewards: res.RewardsUSD},
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
				s := simulate.PricingSuggestion(seed(nodeID), 0, targetUtilization)
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
			Message: "dry run: Natix has no pricing write API, a real apply would report the same",
		}, nil
	}
	return &core.PricingResult{
		Applied: false,
		Price:   price,
		Message: "Natix reward rates are set by the network; camera pricing cannot be applied",
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
