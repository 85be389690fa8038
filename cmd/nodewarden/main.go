package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nodewarden/nodewarden/pkg/config"
	"github.com/nodewarden/nodewarden/pkg/connector/core"
	"github.com/nodewarden/nodewarden/pkg/connector/registry"
	"github.com/nodewarden/nodewarden/pkg/logger"

	// Import all network adapters to register them
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/grass"
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/huddle01"
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/ionet"
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/natix"
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/nosana"
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/ownai"
	_ "github.com/nodewarden/nodewarden/pkg/connector/networks/render"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()
	defer func() { _ = logger.Sync() }()

	var networks []string
	var timeout time.Duration
	var configFile string

	root := &cobra.Command{
		Use:   "nodewarden",
		Short: "Nodewarden - DePIN node management across capability connectors",
		Long: `Nodewarden monitors and manages operator nodes across DePIN networks through
a uniform connector interface. Every command degrades gracefully: when a live
API is unreachable the connectors fall back to dashboard scraping and finally
to deterministic simulation, and every result carries its provenance.`,
	}
	root.PersistentFlags().StringSliceVarP(&networks, "networks", "n", nil,
		"Networks to target (default: all registered)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Command timeout")
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to a YAML config file with per-network settings")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Nodewarden v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered networks",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Registered networks:")
			for _, name := range registry.Networks() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	statusCmd := &cobra.Command{
		Use:   "status [node-id]",
		Short: "Show node statuses across networks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID := ""
			if len(args) == 1 {
				nodeID = args[0]
			}
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					if nodeID != "" {
						return conn.GetNodeStatus(ctx, nodeID)
					}
					return conn.ListNodeStatuses(ctx)
				})
			})
		},
	}
	root.AddCommand(statusCmd)

	var period string
	var earningsNode string
	earningsCmd := &cobra.Command{
		Use:   "earnings",
		Short: "Show earnings across networks",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parsePeriod(period)
			if err != nil {
				return err
			}
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				p := core.PeriodEnding(kind, time.Now())
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					return conn.GetEarnings(ctx, p, earningsNode)
				})
			})
		},
	}
	earningsCmd.Flags().StringVarP(&period, "period", "p", "daily", "Earnings period (daily, weekly, monthly)")
	earningsCmd.Flags().StringVar(&earningsNode, "node", "", "Restrict to one node ID (default: account-wide)")
	root.AddCommand(earningsCmd)

	metricsCmd := &cobra.Command{
		Use:   "metrics <node-id>",
		Short: "Show performance metrics for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					return conn.GetMetrics(ctx, args[0])
				})
			})
		},
	}
	root.AddCommand(metricsCmd)

	priceCmd := &cobra.Command{
		Use:   "price",
		Short: "Suggest or apply node pricing",
	}
	root.AddCommand(priceCmd)

	var target float64
	suggestCmd := &cobra.Command{
		Use:   "suggest <node-id>",
		Short: "Suggest a price targeting a utilization level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					return conn.SuggestPricing(ctx, args[0], target)
				})
			})
		},
	}
	suggestCmd.Flags().Float64VarP(&target, "target", "t", 0.8, "Target utilization fraction in (0,1]")
	priceCmd.AddCommand(suggestCmd)

	var dryRun bool
	applyCmd := &cobra.Command{
		Use:   "apply <node-id> <price>",
		Short: "Apply a price to a node",
		Long: `Apply a price to a node. With --dry-run the connector validates the request
and reports what would happen without touching the network. Networks without a
pricing write API report applied=false with instructions for the operator.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var price float64
			if _, err := fmt.Sscanf(args[1], "%f", &price); err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					return conn.ApplyPricing(ctx, args[0], price, dryRun)
				})
			})
		},
	}
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without mutating the network")
	priceCmd.AddCommand(applyCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Show connector health and data provenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					return conn.Health(ctx)
				})
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "credentials",
		Short: "Validate configured credentials against the live APIs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(timeout, func(ctx context.Context, r *registry.Registry) error {
				return fanOut(ctx, r, networks, netConfigs(configFile), func(ctx context.Context, conn core.Connector) (interface{}, error) {
					return conn.ValidateCredentials(ctx)
				})
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withRegistry runs fn with a fresh registry and guarantees connector and
// browser cleanup afterwards.
func withRegistry(timeout time.Duration, fn func(ctx context.Context, r *registry.Registry) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	r := registry.New()
	defer func() {
		if err := r.Shutdown(context.Background()); err != nil {
			logger.Get().Warn("registry shutdown", zap.Error(err))
		}
	}()

	return fn(ctx, r)
}

// networkResult is one network's slice of a fan-out command.
type networkResult struct {
	Network string      `json:"network"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// netConfigs loads per-network overrides from a YAML config file. Without a
// file every network is configured from the environment alone.
func netConfigs(path string) map[string]*config.Overrides {
	if path == "" {
		return nil
	}
	f, err := config.LoadFile(path)
	if err != nil {
		logger.Get().Warn("config file ignored", zap.String("path", path), zap.Error(err))
		return nil
	}
	return f.Networks
}

// fanOut creates a connector per target network, runs op against each
// concurrently, and prints the combined results as JSON. One network failing
// does not hide the others; per-network errors land in the output instead of
// aborting the command.
func fanOut(ctx context.Context, r *registry.Registry, networks []string, cfgs map[string]*config.Overrides, op func(ctx context.Context, conn core.Connector) (interface{}, error)) error {
	if len(networks) == 0 {
		networks = registry.Networks()
	}

	log := logger.Get().With(zap.String("component", "nodewarden-cli"))

	var mu sync.Mutex
	results := make([]networkResult, 0, len(networks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, network := range networks {
		network := network
		g.Go(func() error {
			res := networkResult{Network: network}
			conn, err := r.CreateWithAutoConfig(ctx, network, cfgs[network])
			if err != nil {
				log.Warn("connector unavailable", zap.String("network", network), zap.Error(err))
				res.Error = err.Error()
			} else if out, err := op(ctx, conn); err != nil {
				res.Error = err.Error()
			} else {
				res.Result = out
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Network < results[j].Network })

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func parsePeriod(s string) (core.PeriodKind, error) {
	switch s {
	case "daily":
		return core.PeriodDaily, nil
	case "weekly":
		return core.PeriodWeekly, nil
	case "monthly":
		return core.PeriodMonthly, nil
	default:
		return "", fmt.Errorf("invalid period %q (expected daily, weekly, or monthly)", s)
	}
}
