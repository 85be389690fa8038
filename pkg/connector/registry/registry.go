// Package registry wires network names to connector constructors. Network
// packages self-register at import time; the application builds an explicit
// Registry, creates connectors through it, and shuts it down when done.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/logger"
)

// Factory builds an uninitialized connector from a validated config.
type Factory func(cfg *config.ConnectorConfig) (core.Connector, error)

// Descriptor is what a network package registers about itself.
type Descriptor struct {
	New Factory
	// RequiresAPIKey marks networks whose live tier is unusable without a
	// credential. Validation fails hard when the key is missing.
	RequiresAPIKey bool
	// SupportsScraping marks networks with a dashboard scraper tier.
	SupportsScraping bool
}

var (
	tableMu sync.RWMutex
	table   = map[string]Descriptor{}
)

// Register adds a network to the construction table. Network packages call
// this from init; registering the same name twice panics because it means
// two packages claim one network.
func Register(network string, d Descriptor) {
	tableMu.Lock()
	defer tableMu.Unlock()
	if _, dup := table[network]; dup {
		panic(fmt.Sprintf("connector registry: duplicate registration for %q", network))
	}
	if d.New == nil {
		panic(fmt.Sprintf("connector registry: nil factory for %q", network))
	}
	table[network] = d
}

// Networks returns every registered network name, sorted.
func Networks() []string {
	tableMu.RLock()
	defer tableMu.RUnlock()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(network string) (Descriptor, bool) {
	tableMu.RLock()
	defer tableMu.RUnlock()
	d, ok := table[network]
	return d, ok
}

// Registry owns live connector instances, one per configuration
// fingerprint. It is safe for concurrent use.
type Registry struct {
	log *zap.Logger

	mu        sync.Mutex
	instances map[string]core.Connector
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		log:       logger.Get().With(zap.String("component", "registry")),
		instances: make(map[string]core.Connector),
	}
}

// Create returns a Ready connector for the network, building and
// initializing one on first use. Configs with the same fingerprint share an
// instance.
func (r *Registry) Create(ctx context.Context, network string, cfg *config.ConnectorConfig) (core.Connector, error) {
	d, ok := lookup(network)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound,
			"unknown network %q, registered: %v", network, Networks())
	}
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}

	if res := r.validate(network, d, cfg); !res.Valid {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"invalid config for %s: %v", network, res.Errors)
	}

	fp := cfg.Fingerprint(network)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.instances[fp]; ok && existing.IsReady() {
		return existing, nil
	}

	conn, err := d.New(cfg.Clone())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "constructing connector").
			WithDetail("network", network)
	}
	if err := conn.Initialize(ctx); err != nil {
		return nil, err
	}

	r.instances[fp] = conn
	r.log.Info("connector created",
		zap.String("network", network),
		zap.String("fingerprint", fp))
	return conn, nil
}

// CreateWithAutoConfig builds the config from environment defaults, merges
// explicit overrides on top, and creates the connector.
func (r *Registry) CreateWithAutoConfig(ctx context.Context, network string, overrides *config.Overrides) (core.Connector, error) {
	return r.Create(ctx, network, config.FromEnv(network, overrides))
}

// ValidateConfig checks a config for a network without building anything.
// Errors block creation; warnings only advise.
func (r *Registry) ValidateConfig(network string, cfg *config.ConnectorConfig) config.ValidationResult {
	d, ok := lookup(network)
	if !ok {
		return config.ValidationResult{
			Errors: []string{fmt.Sprintf("unknown network %q", network)},
		}
	}
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	return r.validate(network, d, cfg)
}

func (r *Registry) validate(network string, d Descriptor, cfg *config.ConnectorConfig) config.ValidationResult {
	res := cfg.Validate()
	if d.RequiresAPIKey && cfg.APIKey == "" {
		res.Valid = false
		res.Errors = append(res.Errors,
			fmt.Sprintf("%s requires an API key for its live tier", network))
	}
	if cfg.Scraper.Enabled && !d.SupportsScraping {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%s has no dashboard scraper, the scraper config is ignored", network))
	}
	return res
}

// Get returns the live instance for the exact network and config, if one
// exists.
func (r *Registry) Get(network string, cfg *config.ConnectorConfig) (core.Connector, bool) {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.instances[cfg.Fingerprint(network)]
	return conn, ok
}

// List returns the fingerprints of every live instance, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	fps := make([]string, 0, len(r.instances))
	for fp := range r.instances {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}

// Remove disposes and drops the instance for the network and config. It is a
// no-op when no such instance exists.
func (r *Registry) Remove(ctx context.Context, network string, cfg *config.ConnectorConfig) error {
	if cfg == nil {
		cfg = config.NewConnectorConfig()
	}
	fp := cfg.Fingerprint(network)

	r.mu.Lock()
	conn, ok := r.instances[fp]
	delete(r.instances, fp)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return conn.Dispose(ctx)
}

// Shutdown disposes every instance. A failing Dispose does not stop the
// sweep; the failures come back combined.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	instances := r.instances
	r.instances = make(map[string]core.Connector)
	r.mu.Unlock()

	var errs error
	for fp, conn := range instances {
		if err := conn.Dispose(ctx); err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, errors.ErrorTypeInternal,
				"disposing connector").WithDetail("fingerprint", fp))
		}
	}
	r.log.Info("registry shut down", zap.Int("disposed", len(instances)))
	return errs
}
