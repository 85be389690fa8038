// Package ionet is the IoNet adapter and the reference for how a network
// with all three tiers looks: a keyed REST API, a dashboard scraper, and the
// simulator floor, plus a pricing write API.
package ionet

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nodewarden/nodewarden/pkg/clients"
	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/base"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/scrape"
	"github.com/nodewarden/nodewarden/pkg/simulate"
)

const (
	networkName    = "ionet"
	defaultBaseURL = "https://api.io.net"
	dashboardURL   = "https://cloud.io.net"
)

// Connector adapts IoNet's worker API to the uniform capability interface.
type Connector struct {
	*base.Connector
	api *clients.APIClient

	// newBrowser is swappable so tests avoid launching Chrome.
	newBrowser func() (scrape.Browser, error)
}

// New builds an uninitialized IoNet connector.
func New(cfg *config.ConnectorConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	b := base.New(networkName, cfg)
	c := &Connector{
		Connector: b,
		api: clients.NewAPIClient(networkName, clients.APIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Timeout:     cfg.Timeout,
			EnableHTTP2: true,
			Breaker:     clients.NewBreaker(networkName, clients.BreakerConfig{}),
		}),
	}
	c.newBrowser = func() (scrape.Browser, error) {
		return scrape.NewChromeBrowser(scrape.ChromeOptions{
			Headless:      cfg.Scraper.Headless,
			ActionTimeout: cfg.Scraper.Timeout,
		})
	}
	return c, nil
}

// Initialize attaches the scraper tier when dashboard credentials are
// configured and probes the API key. Neither failing blocks readiness.
func (c *Connector) Initialize(ctx context.Context) error {
	cfg := c.Config()
	if cfg.Scraper.Enabled && cfg.Scraper.Username != "" {
		browser, err := c.newBrowser()
		if err != nil {
			c.Logger().Warn("headless browser unavailable, scraper tier disabled")
		} else {
			c.SetScraper(scrape.NewScraper(browser, scrape.Config{
				Login: scrape.LoginForm{
					URL:            dashboardURL + "/login",
					UserSelector:   "input[name=email]",
					PassSelector:   "input[name=password]",
					SubmitSelector: "button[type=submit]",
					ReadySelector:  "[data-testid=worker-summary]",
				},
				Username: cfg.Scraper.Username,
				Password: cfg.Scraper.Password,
			}))
		}
	}

	var probe func(ctx context.Context) (*core.CredentialReport, error)
	if cfg.HasCredentials() {
		probe = c.probeCredentials
	}
	return c.Connector.Initialize(ctx, probe)
}

// seed namespaces simulator output so two networks never synthesize
// identical data for the same node ID.
func seed(parts ...string) string {
	s := networkName
	for _, p := range parts {
		s += ":" + p
	}
	return s
}

func (c *Connector) accountSeed() string {
	return c.Config().Fingerprint(networkName)
}

// Wire types for the worker API.

type ioDevice struct {
	DeviceID      string  `json:"device_id"`
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	LastSeen      string  `json:"last_seen"`
	CPUPct        float64 `json:"cpu_pct"`
	MemoryPct     float64 `json:"memory_pct"`
	StoragePct    float64 `json:"storage_pct"`
	NetworkScore  float64 `json:"network_score"`
	Location      string  `json:"location"`
	Brand         string  `json:"brand"`
	HardwareName  string  `json:"hardware_name"`
}

type ioDeviceList struct {
	Devices []ioDevice `json:"devices"`
}

type ioEarnings struct {
	TotalUSD     float64 `json:"total_usd"`
	ComputeUSD   float64 `json:"compute_usd"`
	BandwidthUSD float64 `json:"bandwidth_usd"`
	RewardsUSD   float64 `json:"rewards_usd"`
	Transactions []struct {
		TxID      string  `json:"tx_id"`
		Timestamp string  `json:"timestamp"`
		AmountUSD float64 `json:"amount_usd"`
		Kind      string  `json:"kind"`
	} `json:"transactions"`
}

type ioMetrics struct {
	DeviceID       string  `json:"device_id"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsActive     int     `json:"jobs_active"`
	JobsFailed     int     `json:"jobs_failed"`
	AvgJobSec      float64 `json:"avg_job_seconds"`
	CPUPct         float64 `json:"cpu_pct"`
	MemoryPct      float64 `json:"memory_pct"`
	GPUPct         float64 `json:"gpu_pct"`
	LatencyMs      float64 `json:"latency_ms"`
	ThroughputMbps float64 `json:"throughput_mbps"`
	UptimePct      float64 `json:"uptime_pct"`
	HourlyUSD      float64 `json:"hourly_usd"`
	Score          float64 `json:"score"`
}

type ioPricing struct {
	DeviceID   string  `json:"device_id"`
	HourlyUSD  float64 `json:"hourly_usd"`
	MarketUSD  float64 `json:"market_hourly_usd"`
	Occupancy  float64 `json:"occupancy"`
	Negotiable bool    `json:"negotiable"`
}

func mapDeviceState(s string) core.NodeState {
	switch s {
	case "up", "running", "online":
		return core.NodeOnline
	case "paused", "maintenance":
		return core.NodeMaintenance
	case "failed", "blocked":
		return core.NodeError
	default:
		return core.NodeOffline
	}
}

func (d ioDevice) toStatus() *core.NodeStatus {
	lastSeen, _ := time.Parse(time.RFC3339, d.LastSeen)
	return &core.NodeStatus{
		ID:            d.DeviceID,
		Status:        mapDeviceState(d.Status),
		UptimeSeconds: d.UptimeSeconds,
		LastSeen:      lastSeen,
		Health: core.HealthSnapshot{
			CPU:     d.CPUPct,
			Memory:  d.MemoryPct,
			Storage: d.StoragePct,
			Network: d.NetworkScore,
		},
		Location: d.Location,
		Specs: map[string]string{
			"brand":    d.Brand,
			"hardware": d.HardwareName,
		},
		Provenance: core.ProvenanceLive,
	}
}

// GetNodeStatus returns one worker's status.
func (c *Connector) GetNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	st, _, err := base.Resolve(ctx, c.Connector, "node_status", nodeID, base.Tiers[*core.NodeStatus]{
		Live: func(ctx context.Context) (*core.NodeStatus, error) {
			var d ioDevice
			if err := c.api.GetJSON(ctx, "/v2/devices/"+url.PathEscape(nodeID), nil, &d); err != nil {
				return nil, err
			}
			return d.toStatus(), nil
		},
		Scrape: func(ctx context.Context) (*core.NodeStatus, error) {
			return c.scrapeNodeStatus(ctx, nodeID)
		},
		Simulate: func() *core.NodeStatus {
			st := simulate.DeviceStatus(seed(nodeID), time.Now())
			st.ID = nodeID
			return st
		},
	})
	return st, err
}

// ListNodeStatuses returns every worker on the account.
func (c *Connector) ListNodeStatuses(ctx context.Context) ([]*core.NodeStatus, error) {
	list, _, err := base.Resolve(ctx, c.Connector, "node_statuses", nil, base.Tiers[[]*core.NodeStatus]{
		Live: func(ctx context.Context) ([]*core.NodeStatus, error) {
			var dl ioDeviceList
			if err := c.api.GetJSON(ctx, "/v2/devices", nil, &dl); err != nil {
				return nil, err
			}
			out := make([]*core.NodeStatus, 0, len(dl.Devices))
			for _, d := range dl.Devices {
				out = append(out, d.toStatus())
			}
			return out, nil
		},
		Simulate: func() []*core.NodeStatus {
			ids := simulate.NodeIDs(c.accountSeed())
			out := make([]*core.NodeStatus, 0, len(ids))
			now := time.Now()
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

// GetNodeIDs returns the IDs of every worker on the account.
func (c *Connector) GetNodeIDs(ctx context.Context) ([]string, error) {
	ids, _, err := base.Resolve(ctx, c.Connector, "node_ids", nil, base.Tiers[[]string]{
		Live: func(ctx context.Context) ([]string, error) {
			var dl ioDeviceList
			if err := c.api.GetJSON(ctx, "/v2/devices", nil, &dl); err != nil {
				return nil, err
			}
			out := make([]string, 0, len(dl.Devices))
			for _, d := range dl.Devices {
				out = append(out, d.DeviceID)
			}
			return out, nil
		},
		Simulate: func() []string {
			return simulate.NodeIDs(c.accountSeed())
		},
	})
	return ids, err
}

// GetEarnings returns earnings for the period, account-wide when nodeID is
// empty.
func (c *Connector) GetEarnings(ctx context.Context, period core.Period, nodeID string) (*core.Earnings, error) {
	params := map[string]interface{}{
		"start": period.Start.Unix(),
		"end":   period.End.Unix(),
		"node":  nodeID,
	}
	e, _, err := base.Resolve(ctx, c.Connector, "earnings", params, base.Tiers[*core.Earnings]{
		Live: func(ctx context.Context) (*core.Earnings, error) {
			return c.fetchEarnings(ctx, period, nodeID)
		},
		Scrape: func(ctx context.Context) (*core.Earnings, error) {
			return c.scrapeEarnings(ctx, period)
		},
		Simulate: func() *core.Earnings {
			return simulate.Earnings(seed("earnings", nodeID), period)
		},
	})
	return e, err
}

func (c *Connector) fetchEarnings(ctx context.Context, period core.Period, nodeID string) (*core.Earnings, error) {
	q := url.Values{}
	q.Set("start", fmt.Sprintf("%d", period.Start.Unix()))
	q.Set("end", fmt.Sprintf("%d", period.End.Unix()))
	if nodeID != "" {
		q.Set("device_id", nodeID)
	}

	var ie ioEarnings
	if err := c.api.GetJSON(ctx, "/v2/earnings", q, &ie); err != nil {
		return nil, err
	}

	e := &core.Earnings{
		Period:   period,
		Currency: "USD",
		Breakdown: core.Breakdown{
			Compute:   ie.ComputeUSD,
			Bandwidth: ie.BandwidthUSD,
			Rewards:   ie.RewardsUSD,
		},
		Provenance: core.ProvenanceLive,
	}
	// The breakdown is authoritative when the API disagrees with itself.
	e.Total = e.Breakdown.Sum()

	for _, tx := range ie.Transactions {
		ts, _ := time.Parse(time.RFC3339, tx.Timestamp)
		e.Transactions = append(e.Transactions, core.Transaction{
			ID:        tx.TxID,
			Timestamp: ts,
			Amount:    tx.AmountUSD,
			Kind:      tx.Kind,
		})
	}

	days := period.End.Sub(period.Start).Hours() / 24
	if days > 0 {
		e.ProjectedMonthly = e.Total / days * 30
		e.ProjectedYearly = e.Total / days * 365
	}
	return e, nil
}

// GetMetrics returns performance metrics for one worker.
func (c *Connector) GetMetrics(ctx context.Context, nodeID string) (*core.NodeMetrics, error) {
	m, _, err := base.Resolve(ctx, c.Connector, "metrics", nodeID, base.Tiers[*core.NodeMetrics]{
		Live: func(ctx context.Context) (*core.NodeMetrics, error) {
			var im ioMetrics
			if err := c.api.GetJSON(ctx, "/v2/devices/"+url.PathEscape(nodeID)+"/metrics", nil, &im); err != nil {
				return nil, err
			}
			total := im.JobsCompleted + im.JobsFailed
			successRate := 100.0
			if total > 0 {
				successRate = float64(im.JobsCompleted) / float64(total) * 100
			}
			return &core.NodeMetrics{
				NodeID: nodeID,
				Performance: core.PerformanceMetrics{
					TasksCompleted: im.JobsCompleted,
					TasksActive:    im.JobsActive,
					TasksFailed:    im.JobsFailed,
					AvgDurationSec: im.AvgJobSec,
					SuccessRatePct: successRate,
				},
				Utilization: core.ResourceUtilization{
					CPU:    im.CPUPct,
					Memory: im.MemoryPct,
					GPU:    im.GPUPct,
				},
				Earnings: core.EarningsRate{
					Hourly:  im.HourlyUSD,
					Daily:   im.HourlyUSD * 24,
					Weekly:  im.HourlyUSD * 24 * 7,
					Monthly: im.HourlyUSD * 24 * 30,
				},
				Network: core.NetworkHealth{
					LatencyMs:      im.LatencyMs,
					ThroughputMbps: im.ThroughputMbps,
					UptimePct:      im.UptimePct,
				},
				Reputation: im.Score,
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

// SuggestPricing recommends an hourly price for the worker.
func (c *Connector) SuggestPricing(ctx context.Context, nodeID string, targetUtilization float64) (*core.PricingSuggestion, error) {
	if targetUtilization <= 0 || targetUtilization > 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"target utilization must be in (0,1], got %v", targetUtilization)
	}

	params := map[string]interface{}{"node": nodeID, "target": targetUtilization}
	s, _, err := base.Resolve(ctx, c.Connector, "suggest_pricing", params, base.Tiers[*core.PricingSuggestion]{
		Live: func(ctx context.Context) (*core.PricingSuggestion, error) {
			var p ioPricing
			if err := c.api.GetJSON(ctx, "/v2/devices/"+url.PathEscape(nodeID)+"/pricing", nil, &p); err != nil {
				return nil, err
			}
			return suggestFromPricing(nodeID, p, targetUtilization), nil
		},
		Simulate: func() *core.PricingSuggestion {
			s := simulate.PricingSuggestion(seed(nodeID), 0.5, targetUtilization)
			s.NodeID = nodeID
			return s
		},
	})
	return s, err
}

func suggestFromPricing(nodeID string, p ioPricing, target float64) *core.PricingSuggestion {
	gap := target - p.Occupancy
	suggested := p.HourlyUSD * (1 - gap*0.5)
	if p.MarketUSD > 0 && suggested > p.MarketUSD*1.5 {
		suggested = p.MarketUSD * 1.5
	}
	if suggested < 0 {
		suggested = 0
	}

	targetPct := target * 100
	var reasoning string
	switch {
	case gap > 0.05:
		reasoning = fmt.Sprintf(
			"occupancy %.0f%% is below the %.0f%% target; pricing under the market rate of $%.2f/h should fill capacity",
			p.Occupancy*100, targetPct, p.MarketUSD)
	case gap < -0.05:
		reasoning = fmt.Sprintf(
			"occupancy %.0f%% exceeds the %.0f%% target; the market supports a higher rate",
			p.Occupancy*100, targetPct)
	default:
		reasoning = fmt.Sprintf(
			"occupancy %.0f%% tracks the %.0f%% target; holding near the current rate",
			p.Occupancy*100, targetPct)
	}

	return &core.PricingSuggestion{
		NodeID:         nodeID,
		CurrentPrice:   p.HourlyUSD,
		SuggestedPrice: suggested,
		Currency:       "USD",
		Reasoning:      reasoning,
		EstimatedImpact: core.PricingImpact{
			UtilizationChangePct: gap * 100 * 0.6,
			RevenueChangePct:     -gap * 30,
		},
		Provenance: core.ProvenanceLive,
	}
}

// ApplyPricing sets the worker's hourly price. dryRun validates without
// sending anything and reports success.
func (c *Connector) ApplyPricing(ctx context.Context, nodeID string, price float64, dryRun bool) (*core.PricingResult, error) {
	if price < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "price must be non-negative, got %v", price)
	}

	if dryRun {
		return &core.PricingResult{
			Applied: true,
			DryRun:  true,
			Price:   price,
			Message: fmt.Sprintf("dry run: $%.4f/h for %s validated, nothing sent", price, nodeID),
		}, nil
	}

	res, err := base.Mutate(ctx, c.Connector, "apply_pricing", func(ctx context.Context) (*core.PricingResult, error) {
		body := map[string]interface{}{"hourly_usd": price}
		if err := c.api.PostJSON(ctx, "/v2/devices/"+url.PathEscape(nodeID)+"/pricing", body, nil); err != nil {
			return nil, err
		}
		return &core.PricingResult{
			Applied: true,
			Price:   price,
			Message: fmt.Sprintf("hourly price for %s set to $%.4f", nodeID, price),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	// The cached suggestion and status are stale once the price changes.
	c.InvalidateAll()
	return res, nil
}

// ValidateCredentials checks the API key against the account endpoint.
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

	var acct struct {
		AccountID string   `json:"account_id"`
		Scopes    []string `json:"scopes"`
	}
	if err := c.api.GetJSON(ctx, "/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &core.CredentialReport{
		Valid:       true,
		CheckedAt:   time.Now(),
		Permissions: acct.Scopes,
	}, nil
}

// Dashboard selectors for the scraper tier.
var (
	workerSelectors = map[string]string{
		"status":  "[data-testid=worker-status]",
		"uptime":  "[data-testid=worker-uptime]",
		"cpu":     "[data-testid=worker-cpu]",
		"memory":  "[data-testid=worker-memory]",
		"storage": "[data-testid=worker-disk]",
	}
	earningsSelectors = map[string]string{
		"total":   "[data-testid=earnings-total]",
		"compute": "[data-testid=earnings-compute]",
		"rewards": "[data-testid=earnings-rewards]",
	}
)

func (c *Connector) scrapeNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	s := c.Scraper()
	if err := s.Login(ctx); err != nil {
		return nil, err
	}

	fields, err := s.Extract(ctx, dashboardURL+"/workers/"+url.PathEscape(nodeID), workerSelectors)
	if err != nil {
		return nil, err
	}

	uptime, _ := scrape.ParseNumber(fields["uptime"])
	cpu, _ := scrape.ParseNumber(fields["cpu"])
	mem, _ := scrape.ParseNumber(fields["memory"])
	disk, _ := scrape.ParseNumber(fields["storage"])

	return &core.NodeStatus{
		ID:            nodeID,
		Status:        mapDeviceState(fields["status"]),
		UptimeSeconds: int64(uptime * 3600),
		LastSeen:      time.Now(),
		Health: core.HealthSnapshot{
			CPU:     cpu,
			Memory:  mem,
			Storage: disk,
		},
		Provenance: core.ProvenanceScraped,
	}, nil
}

func (c *Connector) scrapeEarnings(ctx context.Context, period core.Period) (*core.Earnings, error) {
	s := c.Scraper()
	if err := s.Login(ctx); err != nil {
		return nil, err
	}

	fields, err := s.Extract(ctx, dashboardURL+"/earnings", earningsSelectors)
	if err != nil {
		return nil, err
	}

	compute, err := scrape.ParseNumber(fields["compute"])
	if err != nil {
		return nil, err
	}
	rewards, _ := scrape.ParseNumber(fields["rewards"])

	e := &core.Earnings{
		Period:   period,
		Currency: "USD",
		Breakdown: core.Breakdown{
			Compute: compute,
			Rewards: rewards,
		},
		Provenance: core.ProvenanceScraped,
	}
	e.Total = e.Breakdown.Sum()
	return e, nil
}
