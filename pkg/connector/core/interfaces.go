package core

import (
	"context"
)

// State tracks the connector lifecycle:
// Uninitialized → Initializing → Ready → Disposed.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Connector is the uniform capability interface every network adapter
// implements. Once Initialize has completed, the data methods are effectively
// total: a connector that cannot reach its live API degrades through the
// scraper to deterministic simulation rather than failing, and only Dispose
// makes them error.
type Connector interface {
	// Network returns the network name ("ionet", "render", ...)
	Network() string

	// Initialize transitions the connector to Ready. The live credential
	// probe is best-effort: a failed probe still yields Ready, it just means
	// data calls will lean on the fallback tiers.
	Initialize(ctx context.Context) error

	// GetNodeStatus returns the current status of one node.
	GetNodeStatus(ctx context.Context, nodeID string) (*NodeStatus, error)

	// ListNodeStatuses returns the status of every known node.
	ListNodeStatuses(ctx context.Context) ([]*NodeStatus, error)

	// GetNodeIDs returns the IDs of every known node.
	GetNodeIDs(ctx context.Context) ([]string, error)

	// GetEarnings returns earnings for the period; nodeID narrows to one
	// node, empty means account-wide.
	GetEarnings(ctx context.Context, period Period, nodeID string) (*Earnings, error)

	// GetMetrics returns performance metrics for one node.
	GetMetrics(ctx context.Context, nodeID string) (*NodeMetrics, error)

	// SuggestPricing recommends a price targeting the given utilization
	// fraction (0,1].
	SuggestPricing(ctx context.Context, nodeID string, targetUtilization float64) (*PricingSuggestion, error)

	// ApplyPricing sets a node's price. dryRun never performs a mutating
	// call and always reports success. Networks without a write API return
	// Applied=false with an operator message; that is an outcome, not an
	// error.
	ApplyPricing(ctx context.Context, nodeID string, price float64, dryRun bool) (*PricingResult, error)

	// ValidateCredentials checks the configured credential against the live
	// API.
	ValidateCredentials(ctx context.Context) (*CredentialReport, error)

	// Health reports the connector's own condition and the provenance of
	// its most recent data.
	Health(ctx context.Context) (*HealthReport, error)

	// IsReady reports whether the connector is in the Ready state.
	IsReady() bool

	// Dispose releases browser sessions and other held resources. It is
	// idempotent.
	Dispose(ctx context.Context) error
}
