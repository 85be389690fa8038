package core

import (
	"math"
	"time"
)

// Provenance records which fallback tier served a result. Dashboards render
// all three identically; the tier is exposed as metadata so operators and
// tests can tell live data from degraded data.
type Provenance string

const (
	ProvenanceLive      Provenance = "live"
	ProvenanceScraped   Provenance = "scraped"
	ProvenanceSimulated Provenance = "simulated"
)

// NodeState is the operational state of a node.
type NodeState string

const (
	NodeOnline      NodeState = "online"
	NodeOffline     NodeState = "offline"
	NodeMaintenance NodeState = "maintenance"
	NodeError       NodeState = "error"
)

// HealthSnapshot carries point-in-time resource health percentages.
type HealthSnapshot struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Storage float64 `json:"storage"`
	Network float64 `json:"network"`
}

// NodeStatus is one poll of a node's state. No history is kept here; callers
// snapshot what they need.
type NodeStatus struct {
	ID            string            `json:"id"`
	Status        NodeState         `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	LastSeen      time.Time         `json:"last_seen"`
	Health        HealthSnapshot    `json:"health"`
	Location      string            `json:"location,omitempty"`
	Specs         map[string]string `json:"specs,omitempty"`
	Provenance    Provenance        `json:"provenance"`
}

// PeriodKind labels an earnings window.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
	PeriodCustom  PeriodKind = "custom"
)

// Period is an earnings window.
type Period struct {
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Kind  PeriodKind `json:"kind"`
}

// PeriodEnding builds a period of the given kind ending at end.
func PeriodEnding(kind PeriodKind, end time.Time) Period {
	var span time.Duration
	switch kind {
	case PeriodDaily:
		span = 24 * time.Hour
	case PeriodWeekly:
		span = 7 * 24 * time.Hour
	case PeriodMonthly:
		span = 30 * 24 * time.Hour
	default:
		span = 24 * time.Hour
	}
	return Period{Start: end.Add(-span), End: end, Kind: kind}
}

// Breakdown splits earnings by source.
type Breakdown struct {
	Compute   float64 `json:"compute,omitempty"`
	Storage   float64 `json:"storage,omitempty"`
	Bandwidth float64 `json:"bandwidth,omitempty"`
	Staking   float64 `json:"staking,omitempty"`
	Rewards   float64 `json:"rewards,omitempty"`
}

// Sum returns the total across all breakdown sources.
func (b Breakdown) Sum() float64 {
	return b.Compute + b.Storage + b.Bandwidth + b.Staking + b.Rewards
}

// Transaction is a single reward payout.
type Transaction struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`
	Kind      string    `json:"kind"`
}

// Earnings reports rewards over a period. Total must equal the breakdown sum.
type Earnings struct {
	Period           Period        `json:"period"`
	Total            float64       `json:"total"`
	Currency         string        `json:"currency"`
	Breakdown        Breakdown     `json:"breakdown"`
	Transactions     []Transaction `json:"transactions,omitempty"`
	ProjectedMonthly float64       `json:"projected_monthly,omitempty"`
	ProjectedYearly  float64       `json:"projected_yearly,omitempty"`
	Provenance       Provenance    `json:"provenance"`
}

// Consistent reports whether Total matches the breakdown sum within a small
// floating-point tolerance.
func (e *Earnings) Consistent() bool {
	return math.Abs(e.Total-e.Breakdown.Sum()) < 1e-6
}

// PerformanceMetrics summarizes task execution.
type PerformanceMetrics struct {
	TasksCompleted int     `json:"tasks_completed"`
	TasksActive    int     `json:"tasks_active"`
	TasksFailed    int     `json:"tasks_failed"`
	AvgDurationSec float64 `json:"avg_duration_sec"`
	SuccessRatePct float64 `json:"success_rate_pct"`
}

// ResourceUtilization carries utilization percentages per resource.
type ResourceUtilization struct {
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	Storage   float64 `json:"storage"`
	Bandwidth float64 `json:"bandwidth"`
	GPU       float64 `json:"gpu,omitempty"`
}

// EarningsRate projects earnings per unit time.
type EarningsRate struct {
	Hourly  float64 `json:"hourly"`
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
}

// NetworkHealth carries link quality numbers.
type NetworkHealth struct {
	LatencyMs      float64 `json:"latency_ms"`
	ThroughputMbps float64 `json:"throughput_mbps"`
	UptimePct      float64 `json:"uptime_pct"`
}

// MetricPoint is one sample in a utilization time series.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// NodeMetrics is one poll of a node's performance counters.
type NodeMetrics struct {
	NodeID      string              `json:"node_id"`
	Performance PerformanceMetrics  `json:"performance"`
	Utilization ResourceUtilization `json:"resource_utilization"`
	Earnings    EarningsRate        `json:"earnings"`
	Network     NetworkHealth       `json:"network"`
	Reputation  float64             `json:"reputation,omitempty"`
	Series      []MetricPoint       `json:"series,omitempty"`
	Provenance  Provenance          `json:"provenance"`
}

// PricingImpact estimates the effect of a suggested price change.
type PricingImpact struct {
	UtilizationChangePct float64 `json:"utilization_change_pct"`
	RevenueChangePct     float64 `json:"revenue_change_pct"`
}

// PricingSuggestion recommends a price for a node. SuggestedPrice is never
// negative and Reasoning always explains the target utilization.
type PricingSuggestion struct {
	NodeID          string        `json:"node_id"`
	CurrentPrice    float64       `json:"current_price"`
	SuggestedPrice  float64       `json:"suggested_price"`
	Currency        string        `json:"currency"`
	Reasoning       string        `json:"reasoning"`
	EstimatedImpact PricingImpact `json:"estimated_impact"`
	Provenance      Provenance    `json:"provenance"`
}

// PricingResult reports the outcome of ApplyPricing. Applied=false with a
// Message is a terminal, non-error outcome for networks without a write API.
type PricingResult struct {
	Applied bool    `json:"applied"`
	DryRun  bool    `json:"dry_run"`
	Price   float64 `json:"price,omitempty"`
	Message string  `json:"message,omitempty"`
}

// HealthReport is the connector's own health, including the tier that served
// the most recent data fetch.
type HealthReport struct {
	Status         string     `json:"status"` // "healthy", "degraded", "initializing", "disposed"
	LastCheck      time.Time  `json:"last_check"`
	LatencyMs      float64    `json:"latency_ms"`
	Errors         []string   `json:"errors,omitempty"`
	LastProvenance Provenance `json:"last_provenance,omitempty"`
}

// CredentialReport is the result of a live credential check.
type CredentialReport struct {
	Valid       bool      `json:"valid"`
	CheckedAt   time.Time `json:"checked_at"`
	Message     string    `json:"message,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Limitations []string  `json:"limitations,omitempty"`
}
