// Package config provides the unified configuration system for nodewarden
// connectors. It defines a single ConnectorConfig structure that every
// connector uses, ensuring consistent configuration across all networks.
//
// The configuration is organized into logical sections:
//   - Timeouts: Request timeouts for live calls
//   - Retry: Attempts, delays, and backoff shaping
//   - RateLimit: Token bucket sizing per connector instance
//   - Cache: TTL caching of capability results
//   - Scraper: Headless-browser fallback settings
//
// A config is immutable once a connector has been created from it; together
// with the network name its fingerprint identifies instance uniqueness.
//
// Example usage:
//
//	cfg := config.NewConnectorConfig()
//	cfg.APIKey = os.Getenv("IONET_API_KEY")
//	cfg.Cache.TTL = 2 * time.Minute
//
//	result := cfg.Validate()
//	if !result.Valid {
//	    log.Fatal(result.Errors)
//	}
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConnectorConfig is the single configuration structure all connectors use.
type ConnectorConfig struct {
	// APIKey authenticates live API calls; empty means no live credential
	APIKey string `yaml:"api_key" json:"api_key"`
	// BaseURL overrides the network's default API endpoint
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timeout bounds each individual live request
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Retry controls the backoff applied to live calls
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// RateLimit sizes the connector's token bucket
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Cache controls TTL caching of capability results
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Scraper controls the headless-browser fallback
	Scraper ScraperConfig `yaml:"scraper" json:"scraper"`
}

// RetryConfig contains retry and backoff settings for live calls.
type RetryConfig struct {
	// Attempts is the number of retries after the first failure
	Attempts int `yaml:"attempts" json:"attempts"`
	// Delay is the initial backoff delay
	Delay time.Duration `yaml:"delay" json:"delay"`
	// Multiplier grows the delay exponentially
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// MaxDelay caps the backoff delay
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
}

// RateLimitConfig sizes the per-instance token bucket.
type RateLimitConfig struct {
	// Requests tokens refill every Window
	Requests int `yaml:"requests" json:"requests"`
	// Window is the refill interval
	Window time.Duration `yaml:"window" json:"window"`
	// MaxWait bounds how long an acquisition may queue (0 = one window)
	MaxWait time.Duration `yaml:"max_wait" json:"max_wait"`
}

// CacheConfig controls write-through TTL caching.
type CacheConfig struct {
	// Enabled toggles caching for the connector
	Enabled bool `yaml:"enabled" json:"enabled"`
	// TTL is the entry lifetime
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// ScraperConfig controls the headless-browser fallback tier.
type ScraperConfig struct {
	// Enabled toggles the scraper fallback
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Headless runs the browser without a display
	Headless bool `yaml:"headless" json:"headless"`
	// Timeout bounds each page operation
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Username and Password log into the network's web dashboard
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ValidationResult reports the outcome of config validation. Errors block
// connector creation; warnings are advisory only.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// NewConnectorConfig creates a ConnectorConfig with production defaults.
func NewConnectorConfig() *ConnectorConfig {
	return &ConnectorConfig{
		Timeout: 30 * time.Second,
		Retry: RetryConfig{
			Attempts:   3,
			Delay:      time.Second,
			Multiplier: 2.0,
			MaxDelay:   30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Requests: 10,
			Window:   time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Minute,
		},
		Scraper: ScraperConfig{
			Enabled:  false,
			Headless: true,
			Timeout:  45 * time.Second,
		},
	}
}

// Validate checks the configuration for correctness. Structural problems are
// errors; values outside the recommended envelope are warnings.
func (c *ConnectorConfig) Validate() ValidationResult {
	result := ValidationResult{Valid: true}

	fail := func(format string, args ...interface{}) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...interface{}) {
		result.Warnings = append(result.Warnings, fmt.Sprintf(format, args...))
	}

	if c.Timeout <= 0 {
		fail("timeout must be positive, got %s", c.Timeout)
	}
	if c.Retry.Attempts < 0 {
		fail("retry attempts cannot be negative")
	}
	if c.Retry.Delay < 0 {
		fail("retry delay cannot be negative")
	}
	if c.RateLimit.Requests <= 0 {
		fail("rate limit requests must be positive")
	}
	if c.RateLimit.Window <= 0 {
		fail("rate limit window must be positive")
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		fail("cache ttl must be positive when caching is enabled")
	}
	if c.Scraper.Enabled && c.Scraper.Timeout <= 0 {
		fail("scraper timeout must be positive when scraping is enabled")
	}

	if c.BaseURL == "" {
		warn("no base URL configured, the network default will be used")
	}
	if c.RateLimit.Requests > 100 {
		warn("rate limit of %d req/%s is above the recommended range", c.RateLimit.Requests, c.RateLimit.Window)
	}
	if c.Retry.Attempts > 10 {
		warn("retry attempts of %d is above the recommended range", c.Retry.Attempts)
	}
	if c.Scraper.Enabled && c.Scraper.Username == "" {
		warn("scraper enabled without dashboard credentials, login-gated pages will fail")
	}

	return result
}

// HasCredentials reports whether a live API credential is configured.
func (c *ConnectorConfig) HasCredentials() bool {
	return c.APIKey != ""
}

// Fingerprint derives the instance identity key for the factory: the network
// name, whether a credential is present, and the base URL. Two configs with
// the same fingerprint share one connector instance.
func (c *ConnectorConfig) Fingerprint(network string) string {
	cred := "anon"
	if c.HasCredentials() {
		cred = "keyed"
	}
	return network + "|" + cred + "|" + c.BaseURL
}

// Clone returns a deep copy of the config. The factory clones configs at
// creation time so later caller mutations cannot leak into a live connector.
func (c *ConnectorConfig) Clone() *ConnectorConfig {
	clone := *c
	return &clone
}

// Overrides carries explicit settings layered over environment defaults in
// FromEnv. Boolean fields are pointers so an explicit false is
// distinguishable from an unset field; an explicit value always wins,
// including false.
type Overrides struct {
	APIKey  string        `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL string        `yaml:"base_url" json:"base_url,omitempty"`
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`

	Retry     RetryConfig     `yaml:"retry" json:"retry,omitempty"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit,omitempty"`

	Cache   CacheOverrides   `yaml:"cache" json:"cache,omitempty"`
	Scraper ScraperOverrides `yaml:"scraper" json:"scraper,omitempty"`
}

// CacheOverrides mirrors CacheConfig with a tri-state Enabled.
type CacheOverrides struct {
	Enabled *bool         `yaml:"enabled" json:"enabled,omitempty"`
	TTL     time.Duration `yaml:"ttl" json:"ttl,omitempty"`
}

// ScraperOverrides mirrors ScraperConfig with tri-state booleans.
type ScraperOverrides struct {
	Enabled  *bool         `yaml:"enabled" json:"enabled,omitempty"`
	Headless *bool         `yaml:"headless" json:"headless,omitempty"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	Username string        `yaml:"username" json:"username,omitempty"`
	Password string        `yaml:"password" json:"password,omitempty"`
}

// FromEnv builds a ConnectorConfig for a network from environment variables,
// merged under the given overrides (explicit values always win). Recognized
// variables, with NETWORK upper-cased:
//
//	${NETWORK}_API_KEY
//	${NETWORK}_BASE_URL
//	${NETWORK}_DASHBOARD_USER
//	${NETWORK}_DASHBOARD_PASS
func FromEnv(network string, overrides *Overrides) *ConnectorConfig {
	v := viper.New()
	v.SetEnvPrefix(strings.ToUpper(network))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := NewConnectorConfig()
	cfg.APIKey = v.GetString("api_key")
	cfg.BaseURL = v.GetString("base_url")
	cfg.Scraper.Username = v.GetString("dashboard_user")
	cfg.Scraper.Password = v.GetString("dashboard_pass")
	if cfg.Scraper.Username != "" {
		cfg.Scraper.Enabled = true
	}

	if overrides == nil {
		return cfg
	}

	if overrides.APIKey != "" {
		cfg.APIKey = overrides.APIKey
	}
	if overrides.BaseURL != "" {
		cfg.BaseURL = overrides.BaseURL
	}
	if overrides.Timeout > 0 {
		cfg.Timeout = overrides.Timeout
	}
	if overrides.Retry.Attempts > 0 {
		cfg.Retry.Attempts = overrides.Retry.Attempts
	}
	if overrides.Retry.Delay > 0 {
		cfg.Retry.Delay = overrides.Retry.Delay
	}
	if overrides.Retry.Multiplier > 0 {
		cfg.Retry.Multiplier = overrides.Retry.Multiplier
	}
	if overrides.Retry.MaxDelay > 0 {
		cfg.Retry.MaxDelay = overrides.Retry.MaxDelay
	}
	if overrides.RateLimit.Requests > 0 {
		cfg.RateLimit.Requests = overrides.RateLimit.Requests
	}
	if overrides.RateLimit.Window > 0 {
		cfg.RateLimit.Window = overrides.RateLimit.Window
	}
	if overrides.RateLimit.MaxWait > 0 {
		cfg.RateLimit.MaxWait = overrides.RateLimit.MaxWait
	}
	if overrides.Cache.TTL > 0 {
		cfg.Cache.TTL = overrides.Cache.TTL
	}
	if overrides.Cache.Enabled != nil {
		cfg.Cache.Enabled = *overrides.Cache.Enabled
	}
	if overrides.Scraper.Timeout > 0 {
		cfg.Scraper.Timeout = overrides.Scraper.Timeout
	}
	if overrides.Scraper.Username != "" {
		cfg.Scraper.Username = overrides.Scraper.Username
		cfg.Scraper.Password = overrides.Scraper.Password
		cfg.Scraper.Enabled = true
	}
	// Explicit toggles land last so they win over credential-implied enabling
	if overrides.Scraper.Enabled != nil {
		cfg.Scraper.Enabled = *overrides.Scraper.Enabled
	}
	if overrides.Scraper.Headless != nil {
		cfg.Scraper.Headless = *overrides.Scraper.Headless
	}

	return cfg
}
