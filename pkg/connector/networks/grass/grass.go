// Package grass adapts the Grass bandwidth-sharing network. Rates are set
// network-wide, so pricing is read-only here: suggestions explain the
// situation and ApplyPricing directs the operator to the network itself.
package grass

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
	networkName    = "grass"
	defaultBaseURL = "https://api.getgrass.io"
)

func init() {
	registry.Register(networkName, registry.Descriptor{New: New})
}

// Connector adapts Grass's node API.
type Connector struct {
	*base.Connector
	api *clients.APIClient
}

// New builds an uninitialized Grass connector.
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

// Initialize probes the API key when one is configured.
func (c *Connector) Initialize(ctx context.Context) error {
	var probe func(ctx context.Context) (*core.CredentialReport, error)
	if c.Config().HasCredentials() {
		probe = func(ctx context.Context) (*core.CredentialReport, error) {
			return c.checkKey(ctx)
		}
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

type grassNode struct {
	DeviceID  string  `json:"device_id"`
	Connected bool    `json:"connected"`
	IPScore   float64 `json:"ip_score"`
	UptimeSec int64   `json:"uptime_sec"`
	LastPing  string  `json:"last_ping"`
	Country   string  `json:"country"`
	Mbps      float64 `json:"bandwidth_mbps"`
}

func (n grassNode) toStatus() *core.NodeStatus {
	lastSeen, _ := time.Parse(time.RFC3339, n.LastPing)
	state := core.NodeOffline
	if n.Connected {
		state = core.NodeOnline
	}
	return &core.NodeStatus{
		ID:            n.DeviceID,
		Status:        state,
		UptimeSeconds: n.UptimeSec,
		LastSeen:      lastSeen,
		Health: core.HealthSnapshot{
			Network: n.IPScore,
		},
		Location:   n.Country,
		Provenance: core.ProvenanceLive,
	}
}

// GetNodeStatus returns one device's connection state.
func (c *Connector) GetNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	st, _, err := base.Resolve(ctx, c.Connector, "node_status", nodeID, base.Tiers[*core.NodeStatus]{
		Live: func(ctx context.Context) (*core.NodeStatus, error) {
			var n grassNode
			if err := c.api.GetJSON(ctx, "/api/devices/"+url.PathEscape(nodeID), nil, &n); err != nil {
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

// ListNodeStatuses returns every device on the account.
func (c *Connector) ListNodeStatuses(ctx context.Context) ([]*core.NodeStatus, error) {
	list, _, err := base.Resolve(ctx, c.Connector, "node_statuses", nil, base.Tiers[[]*core.NodeStatus]{
		Live: func(ctx context.Context) ([]*core.NodeStatus, error) {
			var res struct {
				Devices []grassNode `json:"devices"`
			}
			if err := c.api.GetJSON(ctx, "/api/devices", nil, &res); err != nil {
				return nil, err
			}
			out := make([]*core.NodeStatus, 0, len(res.Devices))
			for _, n := range res.Devices {
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

// GetNodeIDs returns every device ID on the account.
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

// GetEarnings returns points-based earnings converted to USD estimates.
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
				q.Set("device_id", nodeID)
			}
			var res struct {
				BandwidthUSD float64 `json:"bandwidth_usd"`
				ReferralUSD  float64 `json:"referral_usd"`
			}
			if err := c.api.GetJSON(ctx, "/api/earnings", q, &res); err != nil {
				return nil, err
			}
			e := &core.Earnings{
				Period:   period,
				Currency: "USD",
				Breakdown: core.Breakdown{
					Bandwidth: res.BandwidthUSD,
					Rewards:   res.ReferralUSD,
				},
				Provenance: core.ProvenanceLive,
			}
			e.Total = e.Breakdown.Sum()
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

// GetMetrics synthesizes device metrics; Grass exposes no per-device metrics
// endpoint, so this rides the status data plus the simulator's series.
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

// SuggestPricing explains that Grass rates are network-wide.
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
				s.Reasoning = fmt.Sprintf(
					"Grass pays a network-wide bandwidth rate; the %.0f%% utilization target cannot be priced per device. %s",
					targetUtilization*100, s.Reasoning)
				return s
			},
		})
	return s, err
}

// ApplyPricing always reports that rates are not operator-settable, except
// in dry-run mode which validates and succeeds.
func (c *Connector) ApplyPricing(ctx context.Context, nodeID string, price float64, dryRun bool) (*core.PricingResult, error) {
	if price < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "price must be non-negative, got %v", price)
	}
	if dryRun {
		return &core.PricingResult{
			Applied: true,
			DryRun:  true,
			Price:   price,
			Message: "dry run: Grass has no pricing write API, a real apply would report the same",
		}, nil
	}
	return &core.PricingResult{
		Applied: false,
		Price:   price,
		Message: "Grass sets bandwidth rates network-wide; per-device pricing cannot be applied",
	}, nil
}

// ValidateCredentials checks the API key against the account endpoint.
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
			Valid:       false,
			CheckedAt:   time.Now(),
			Message:     "no API key configured",
			Limitations: []string{"live tier disabled"},
		}, nil
	}
	if err := c.api.GetJSON(ctx, "/api/account", nil, nil); err != nil {
		return nil, err
	}
	return &core.CredentialReport{
		Valid:       true,
		CheckedAt:   time.Now(),
		Limitations: []string{"pricing is read-only on this network"},
	}, nil
}
