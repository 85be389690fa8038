// Package nodewarden provides resilient node management across DePIN
// (decentralized physical infrastructure) networks through a uniform
// capability-connector framework.
//
// Every supported network is wrapped in a connector exposing the same
// operations: node status, earnings, performance metrics, pricing
// suggestions, and pricing changes. Once a connector is initialized its
// read operations are effectively total: a connector that cannot reach its
// live API degrades through a dashboard scraper to a deterministic
// simulator instead of failing, and every result reports which tier
// produced it.
//
// # Architecture
//
// Reads resolve through a fixed chain:
//
//  1. TTL cache: fresh results are served without touching the network.
//  2. Rate limiter: a rejected acquisition skips the network tiers entirely.
//  3. Live API: retried with exponential backoff behind a circuit breaker.
//  4. Scraper: a headless browser reads the network's web dashboard.
//  5. Simulator: deterministic, seed-derived data as the floor.
//
// Whatever tier wins is written through to the cache together with its
// provenance ("live", "scraped", or "simulated"), so a cache hit reports
// the provenance of the data it holds. Writes take none of these detours:
// a pricing change either reaches the live API or fails.
//
// # Quick Start
//
// Create a connector and read node status:
//
//	import (
//	    "context"
//	    "github.com/nodewarden/nodewarden/pkg/config"
//	    "github.com/nodewarden/nodewarden/pkg/connector/registry"
//	    _ "github.com/nodewarden/nodewarden/pkg/connector/networks/ionet"
//	)
//
//	cfg := config.NewConnectorConfig()
//	cfg.APIKey = os.Getenv("IONET_API_KEY")
//
//	r := registry.New()
//	defer r.Shutdown(context.Background())
//
//	conn, err := r.Create(context.Background(), "ionet", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	status, err := conn.GetNodeStatus(ctx, "dev-42")
//	fmt.Println(status.Status, status.Provenance)
//
// # Key Packages
//
//	pkg/connector/core      - Capability interface and shared data model
//	pkg/connector/base      - Embeddable base connector and fallback pipeline
//	pkg/connector/registry  - Network registration and instance lifecycle
//	pkg/connector/networks  - Per-network adapters (ionet, render, grass, ...)
//	pkg/clients             - HTTP API client and circuit breaker
//	pkg/scrape              - Headless-browser dashboard scraper
//	pkg/simulate            - Deterministic data simulator
//	pkg/config              - Unified connector configuration
//	pkg/errors              - Structured error handling
//	pkg/logger              - Structured logging
//	pkg/metrics             - Prometheus metrics collection
//
// # Networks
//
// Supported networks and their tiers:
//   - io.net    - live API, dashboard scraper, pricing writes
//   - Render    - live API, pricing writes
//   - Grass     - live API; bandwidth rates are network-wide (no writes)
//   - Nosana    - dashboard scraper; pricing follows NOS stake (no writes)
//   - Natix     - live API; reward rates are network-set (no writes)
//   - Huddle01  - live API; relay rewards are protocol-defined (no writes)
//   - OwnAI     - live API; pricing is marketplace-driven (no writes)
//
// Pricing changes support a dry-run mode that validates the request and
// reports the would-be outcome without ever issuing a mutating call.
//
// # Configuration
//
// All connectors share one configuration structure:
//
//	type ConnectorConfig struct {
//	    APIKey    string          // live API credential
//	    BaseURL   string          // endpoint override
//	    Timeout   time.Duration   // per-request bound
//	    Retry     RetryConfig     // attempts, backoff shaping
//	    RateLimit RateLimitConfig // token bucket sizing
//	    Cache     CacheConfig     // TTL caching
//	    Scraper   ScraperConfig   // dashboard fallback
//	}
//
// Environment variables of the form ${NETWORK}_API_KEY, ${NETWORK}_BASE_URL,
// ${NETWORK}_DASHBOARD_USER, and ${NETWORK}_DASHBOARD_PASS feed
// config.FromEnv, which the CLI uses for every network it targets.
package nodewarden
