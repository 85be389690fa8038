// Package nosana adapts the Nosana compute grid. Nosana exposes no public
// operator API, so the dashboard scraper is the primary tier and the
// simulator backs it. Pricing follows on-chain staking and cannot be written
// from here.
package nosana

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/base"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/connector/registry"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/scrape"
	"github.com/nodewarden/nodewarden/pkg/simulate"
)

const (
	networkName  = "nosana"
	dashboardURL = "https://dashboard.nosana.com"
)

func init() {
	registry.Register(networkName, registry.Descriptor{
		New:              New,
		SupportsScraping: true,
	})
}

var (
	hostSelectors = map[string]string{
		"status": ".host-status",
		"uptime": ".host-uptime-hours",
		"gpu":    ".host-gpu-load",
	}
	earningsSelectors = map[string]string{
		"jobs_nos":    ".earnings-jobs-usd",
		"staking_nos": ".earnings-staking-usd",
	}
)

// Connector adapts Nosana's host dashboard.
type Connector struct {
	*base.Connector

	// newBrowser is swappable so tests avoid launching Chrome.
	newBrowser func() (scrape.Browser, error)
}

// New builds an uninitialized Nosana connector.
func New(cfg *config.ConnectorConfig) (core.Connector, error) {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	c := &Connector{Connector: base.New(networkName, cfg)}
	c.newBrowser = func() (scrape.Browser, error) {
		return scrape.NewChromeBrowser(scrape.ChromeOptions{
			Headless:      cfg.Scraper.Headless,
			ActionTimeout: cfg.Scraper.Timeout,
		})
	}
	return c, nil
}

// Initialize attaches the dashboard scraper when credentials exist. There is
// no API key to probe.
func (c *Connector) Initialize(ctx context.Context) error {
	cfg := c.Config()
	if cfg.Scraper.Enabled && cfg.Scraper.Username != "" {
		browser, err := c.newBrowser()
		if err != nil {
			c.Logger().Warn("headless browser unavailable, running on simulated data only")
		} else {
			c.SetScraper(scrape.NewScraper(browser, scrape.Config{
				Login: scrape.LoginForm{
					URL:            dashboardURL + "/login",
					UserSelector:   "input[name=email]",
					PassSelector:   "input[name=password]",
					SubmitSelector: "button[type=submit]",
					ReadySelector:  ".host-list",
				},
				Username: cfg.Scraper.Username,
				Password: cfg.Scraper.Password,
			}))
		}
	}
	return c.Connector.Initialize(ctx, nil)
}

func seed(parts ...string) string {
	s := networkName
	for _, p := range parts {
		s += ":" + p
	}
	return s
}

func (c *Connector) scrapeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	s := c.Scraper()
	if err := s.Login(ctx); err != nil {
		return nil, err
	}
	fields, err := s.Extract(ctx, dashboardURL+"/hosts/"+url.PathEscape(nodeID), hostSelectors)
	if err != nil {
		return nil, err
	}

	state := core.NodeOffline
	switch fields["status"] {
	case "RUNNING", "QUEUED":
		state = core.NodeOnline
	case "PAUSED":
		state = core.NodeMaintenance
	}

	uptimeHours, _ := scrape.ParseNumber(fields["uptime"])
	gpu, _ := scrape.ParseNumber(fields["gpu"])

	return &core.NodeStatus{
		ID:            nodeID,
		Status:        state,
		UptimeSeconds: int64(uptimeHours * 3600),
		LastSeen:      time.Now(),
		Health:        core.HealthSnapshot{CPU: gpu},
		Provenance:    core.ProvenanceScraped,
	}, nil
}

// GetNodeStatus scrapes one host's status off the dashboard.
func (c *Connector) GetNodeStatus(ctx context.Context, nodeID string) (*core.NodeStatus, error) {
	st, _, err := base.Resolve(ctx, c.Connector, "node_status", nodeID, base.Tiers[*core.NodeStatus]{
		Scrape: func(ctx context.Context) (*core.NodeStatus, error) {
			return c.scrapeStatus(ctx, nodeID)
		},
		Simulate: func() *core.NodeStatus {
			st := simulate.DeviceStatus(seed(nodeID), time.Now())
			st.ID = nodeID
			return st
		},
	})
	return st, err
}

// ListNodeStatuses synthesizes the host list; per-host pages are scraped
// individually through GetNodeStatus.
func (c *Connector) ListNodeStatuses(ctx context.Context) ([]*core.NodeStatus, error) {
	ids, err := c.GetNodeIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*core.NodeStatus, 0, len(ids))
	for _, id := range ids {
		st, err := c.GetNodeStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// GetNodeIDs returns the account's host IDs.
func (c *Connector) GetNodeIDs(ctx context.Context) ([]string, error) {
	ids, _, err := base.Resolve(ctx, c.Connector, "node_ids", nil, base.Tiers[[]string]{
		Scrape: func(ctx context.Context) ([]string, error) {
			s := c.Scraper()
			if err := s.Login(ctx); err != nil {
				return nil, err
			}
			fields, err := s.Extract(ctx, dashboardURL+"/hosts", map[string]string{
				"hosts": ".host-address-list",
			})
			if err != nil {
				return nil, err
			}
			return splitHostList(fields["hosts"]), nil
		},
		Simulate: func() []string {
			return simulate.NodeIDs(c.Config().Fingerprint(networkName))
		},
	})
	return ids, err
}

// GetEarnings scrapes NOS earnings off the dashboard.
func (c *Connector) GetEarnings(ctx context.Context, period core.Period, nodeID string) (*core.Earnings, error) {
	params := map[string]interface{}{
		"start": period.Start.Unix(),
		"end":   period.End.Unix(),
		"node":  nodeID,
	}
	e, _, err := base.Resolve(ctx, c.Connector, "earnings", params, base.Tiers[*core.Earnings]{
		Scrape: func(ctx context.Context) (*core.Earnings, error) {
			s := c.Scraper()
			if err := s.Login(ctx); err != nil {
				return nil, err
			}
			fields, err := s.Extract(ctx, dashboardURL+"/earnings", earningsSelectors)
			if err != nil {
				return nil, err
			}
			jobs, err := scrape.ParseNumber(fields["jobs_nos"])
			if err != nil {
				return nil, err
			}
			staking, _ := scrape.ParseNumber(fields["staking_nos"])

			e := &core.Earnings{
				Period:   period,
				Currency: "USD",
				Breakdown: core.Breakdown{
					Compute: jobs,
					Staking: staking,
				},
				Provenance: core.ProvenanceScraped,
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

// GetMetrics synthesizes host metrics; the dashboard exposes no per-host
// history to scrape.
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

// SuggestPricing synthesizes a suggestion; Nosana job pricing follows the
// host's stake tier.
func (c *Connector) SuggestPricing(ctx context.Context, nodeID string, targetUtilization float64) (*core.PricingSuggestion, error) {
	if targetUtilization <= 0 || targetUtilization > 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"target utilization must be in (0,1], got %v", targetUtilization)
	}
	s, _, err := base.Resolve(ctx, c.Connector, "suggest_pricing",
		map[string]interface{}{"node": nodeID, "target": targetUtilization},
		base.Tiers[*core.PricingSuggestion]{
			Simulate: func() *core.PricingSuggestion {
				s := simulate.PricingSuggestion(seed(nodeID), 0.3, targetUtilization)
				s.NodeID = nodeID
				return s
			},
		})
	return s, err
}

// ApplyPricing reports that pricing follows staking, except in dry-run mode.
func (c *Connector) ApplyPricing(ctx context.Context, nodeID string, price float64, dryRun bool) (*core.PricingResult, error) {
	if price < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "price must be non-negative, got %v", price)
	}
	if dryRun {
		return &core.PricingResult{
			Applied: true,
			DryRun:  true,
			Price:   price,
			Message: "dry run: Nosana has no pricing write API, a real apply would report the same",
		}, nil
	}
	return &core.PricingResult{
		Applied: false,
		Price:   price,
		Message: "Nosana job pricing follows the host's NOS stake; adjust the stake on dashboard.nosana.com",
	}, nil
}

// ValidateCredentials reports on the dashboard credential, the only one this
// network takes.
func (c *Connector) ValidateCredentials(_ context.Context) (*core.CredentialReport, error) {
	cfg := c.Config()
	report := &core.CredentialReport{CheckedAt: time.Now()}
	if cfg.Scraper.Username == "" || cfg.Scraper.Password == "" {
		report.Message = "no dashboard credentials configured"
		report.Limitations = []string{"scraper tier disabled, data will be simulated"}
	} else {
		report.Valid = true
		report.Limitations = []string{"dashboard scraping only, no API access"}
	}
	c.SetCredentialReport(report)
	return report, nil
}

// splitHostList parses the newline-separated host list the dashboard renders.
func splitHostList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if id := strings.TrimSpace(line); id != "" {
			out = append(out, id)
		}
	}
	return out
}
