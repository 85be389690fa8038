// Package simulate synthesizes node status, metrics, earnings, and pricing
// data when no live backend is reachable. Every function here is pure: the
// same seed and index produce bit-identical output in any process on any day,
// so fixtures in tests and repeated dashboard polls agree without any stored
// state.
//
// Values are derived by hashing seed+index into a 32-bit integer and mapping
// it through a bounded trigonometric transform. Unrelated fields read from
// the same seed use distinct index offsets so they never collide.
package simulate

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/nodewarden/nodewarden/pkg/connector/core"
)

// Per-field index offsets. Consumers deriving extra fields from a seed should
// pick offsets away from these.
const (
	idxStatus      = 0
	idxLastSeen    = 1
	idxUptime      = 2
	idxCPU         = 3
	idxMemory      = 4
	idxStorage     = 5
	idxNetwork     = 6
	idxLocation    = 7
	idxTasksDone   = 10
	idxTasksActive = 11
	idxTasksFailed = 12
	idxAvgDuration = 13
	idxLatency     = 14
	idxThroughput  = 15
	idxReputation  = 16
	idxGPU         = 17
	idxCompute     = 20
	idxStorageEarn = 21
	idxBandwidth   = 22
	idxStaking     = 23
	idxRewards     = 24
	idxTxCount     = 25
	idxTxAmount    = 30 // + transaction ordinal
	idxHourlyRate  = 60
	idxImpact      = 70
	idxVersion     = 100 // hardware/software version fields
	idxSeries      = 200 // + sample ordinal
)

// maxSeriesPoints caps generated time series.
const maxSeriesPoints = 20

// maxSeriesInterval is the widest spacing between series samples.
const maxSeriesInterval = 5 * time.Minute

// Float returns a deterministic pseudo-random value in [0,1) for the given
// seed and index.
func Float(seed string, index int) float64 {
	h := hash32(seed + ":" + strconv.Itoa(index))
	x := math.Sin(float64(h)) * 10000
	return x - math.Floor(x)
}

// InRange maps the deterministic value into [min,max).
func InRange(seed string, min, max float64, index int) float64 {
	return min + Float(seed, index)*(max-min)
}

// Bool returns true with the given probability, deterministically.
func Bool(seed string, probability float64, index int) bool {
	return Float(seed, index) < probability
}

// hash32 folds a string into a 32-bit integer (FNV-1a).
func hash32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

var locations = []string{
	"us-east", "us-west", "eu-central", "eu-west",
	"ap-southeast", "ap-northeast", "sa-east", "af-south",
}

// DeviceStatus synthesizes a node status. Pure given (externalID, now).
func DeviceStatus(externalID string, now time.Time) *core.NodeStatus {
	state := core.NodeOnline
	switch {
	case Bool(externalID, 0.05, idxStatus):
		state = core.NodeOffline
	case Bool(externalID, 0.08, idxStatus+1000):
		state = core.NodeMaintenance
	}

	lastSeenOffset := time.Duration(InRange(externalID, 0, 300, idxLastSeen)) * time.Second
	if state == core.NodeOffline {
		lastSeenOffset = time.Duration(InRange(externalID, 3600, 86400, idxLastSeen)) * time.Second
	}

	return &core.NodeStatus{
		ID:            externalID,
		Status:        state,
		UptimeSeconds: int64(InRange(externalID, 3600, 30*86400, idxUptime)),
		LastSeen:      now.Add(-lastSeenOffset),
		Health: core.HealthSnapshot{
			CPU:     round1(InRange(externalID, 10, 95, idxCPU)),
			Memory:  round1(InRange(externalID, 20, 90, idxMemory)),
			Storage: round1(InRange(externalID, 15, 85, idxStorage)),
			Network: round1(InRange(externalID, 50, 100, idxNetwork)),
		},
		Location: locations[int(Float(externalID, idxLocation)*float64(len(locations)))],
		Specs: map[string]string{
			"version": fmt.Sprintf("v%d.%d.%d",
				1+int(Float(externalID, idxVersion)*3),
				int(Float(externalID, idxVersion+1)*10),
				int(Float(externalID, idxVersion+2)*20)),
		},
		Provenance: core.ProvenanceSimulated,
	}
}

// Metrics synthesizes node metrics with a utilization time series from since
// to now. Pure given (externalID, since, now). Samples are spaced
// min(5m, span/20), at most 20 of them, and never land at or after now.
func Metrics(externalID string, since, now time.Time) *core.NodeMetrics {
	completed := int(InRange(externalID, 50, 5000, idxTasksDone))
	failed := int(InRange(externalID, 0, 50, idxTasksFailed))
	total := completed + failed
	successRate := 100.0
	if total > 0 {
		successRate = float64(completed) / float64(total) * 100
	}

	hourly := InRange(externalID, 0.05, 2.5, idxHourlyRate)

	return &core.NodeMetrics{
		NodeID: externalID,
		Performance: core.PerformanceMetrics{
			TasksCompleted: completed,
			TasksActive:    int(InRange(externalID, 0, 8, idxTasksActive)),
			TasksFailed:    failed,
			AvgDurationSec: round1(InRange(externalID, 5, 600, idxAvgDuration)),
			SuccessRatePct: round1(successRate),
		},
		Utilization: core.ResourceUtilization{
			CPU:       round1(InRange(externalID, 10, 95, idxCPU)),
			Memory:    round1(InRange(externalID, 20, 90, idxMemory)),
			Storage:   round1(InRange(externalID, 15, 85, idxStorage)),
			Bandwidth: round1(InRange(externalID, 5, 80, idxNetwork)),
			GPU:       round1(InRange(externalID, 0, 100, idxGPU)),
		},
		Earnings: core.EarningsRate{
			Hourly:  round4(hourly),
			Daily:   round4(hourly * 24),
			Weekly:  round4(hourly * 24 * 7),
			Monthly: round4(hourly * 24 * 30),
		},
		Network: core.NetworkHealth{
			LatencyMs:      round1(InRange(externalID, 5, 250, idxLatency)),
			ThroughputMbps: round1(InRange(externalID, 50, 1000, idxThroughput)),
			UptimePct:      round1(InRange(externalID, 95, 100, idxUptime)),
		},
		Reputation: round1(InRange(externalID, 60, 100, idxReputation)),
		Series:     series(externalID, since, now),
		Provenance: core.ProvenanceSimulated,
	}
}

// series generates utilization samples at fixed intervals in [since, now).
func series(externalID string, since, now time.Time) []core.MetricPoint {
	span := now.Sub(since)
	if span <= 0 {
		return nil
	}

	interval := span / maxSeriesPoints
	if interval > maxSeriesInterval {
		interval = maxSeriesInterval
	}
	if interval <= 0 {
		return nil
	}

	points := make([]core.MetricPoint, 0, maxSeriesPoints)
	for i := 0; i < maxSeriesPoints; i++ {
		ts := since.Add(time.Duration(i) * interval)
		if !ts.Before(now) {
			break
		}
		points = append(points, core.MetricPoint{
			Timestamp: ts,
			Value:     round1(InRange(externalID, 10, 95, idxSeries+i)),
		})
	}
	return points
}

// Earnings synthesizes an earnings report for the period. Pure given
// (externalID, period). Total always equals the breakdown sum.
func Earnings(externalID string, period core.Period) *core.Earnings {
	days := period.End.Sub(period.Start).Hours() / 24
	if days <= 0 {
		days = 1
	}

	breakdown := core.Breakdown{
		Compute:   round4(InRange(externalID, 0.5, 20, idxCompute) * days),
		Storage:   round4(InRange(externalID, 0, 5, idxStorageEarn) * days),
		Bandwidth: round4(InRange(externalID, 0, 3, idxBandwidth) * days),
		Staking:   round4(InRange(externalID, 0, 2, idxStaking) * days),
		Rewards:   round4(InRange(externalID, 0, 1.5, idxRewards) * days),
	}
	total := breakdown.Sum()

	txCount := 1 + int(Float(externalID, idxTxCount)*4)
	txs := make([]core.Transaction, 0, txCount)
	step := period.End.Sub(period.Start) / time.Duration(txCount+1)
	for i := 0; i < txCount; i++ {
		txs = append(txs, core.Transaction{
			ID:        fmt.Sprintf("tx-%08x", hash32(externalID+":tx:"+strconv.Itoa(i))),
			Timestamp: period.Start.Add(time.Duration(i+1) * step),
			Amount:    round4(total / float64(txCount)),
			Kind:      "reward",
		})
	}

	perDay := total / days

	return &core.Earnings{
		Period:           period,
		Total:            round4(total),
		Currency:         "USD",
		Breakdown:        breakdown,
		Transactions:     txs,
		ProjectedMonthly: round4(perDay * 30),
		ProjectedYearly:  round4(perDay * 365),
		Provenance:       core.ProvenanceSimulated,
	}
}

// PricingSuggestion synthesizes a pricing recommendation targeting the given
// utilization fraction. Pure given (externalID, currentPrice,
// targetUtilization). The suggested price is never negative and the reasoning
// always names the target utilization percentage.
func PricingSuggestion(externalID string, currentPrice, targetUtilization float64) *core.PricingSuggestion {
	if targetUtilization <= 0 || targetUtilization > 1 {
		targetUtilization = 0.8
	}
	if currentPrice < 0 {
		currentPrice = 0
	}

	observed := InRange(externalID, 0.2, 0.95, idxCPU)

	// Under-utilized nodes get cheaper, saturated nodes get pricier, scaled
	// by how far observed utilization sits from the target.
	gap := targetUtilization - observed
	suggested := currentPrice * (1 - gap*0.5)
	if suggested < 0 {
		suggested = 0
	}

	targetPct := targetUtilization * 100
	var reasoning string
	if gap > 0.05 {
		reasoning = fmt.Sprintf(
			"observed utilization %.0f%% is below the %.0f%% target; lowering the price should attract workloads",
			observed*100, targetPct)
	} else if gap < -0.05 {
		reasoning = fmt.Sprintf(
			"observed utilization %.0f%% exceeds the %.0f%% target; raising the price captures excess demand",
			observed*100, targetPct)
	} else {
		reasoning = fmt.Sprintf(
			"observed utilization %.0f%% already tracks the %.0f%% target; holding the price near current",
			observed*100, targetPct)
	}

	return &core.PricingSuggestion{
		NodeID:         externalID,
		CurrentPrice:   round4(currentPrice),
		SuggestedPrice: round4(suggested),
		Currency:       "USD",
		Reasoning:      reasoning,
		EstimatedImpact: core.PricingImpact{
			UtilizationChangePct: round1(gap * 100 * InRange(externalID, 0.4, 0.9, idxImpact)),
			RevenueChangePct:     round1(-gap * 50 * InRange(externalID, 0.3, 0.8, idxImpact+1)),
		},
		Provenance: core.ProvenanceSimulated,
	}
}

// NodeIDs synthesizes a stable set of node IDs for an account seed.
func NodeIDs(accountSeed string) []string {
	count := 2 + int(Float(accountSeed, idxTxCount)*4)
	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, fmt.Sprintf("%s-node-%04x", accountSeed, hash32(accountSeed+":node:"+strconv.Itoa(i))&0xffff))
	}
	return ids
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
