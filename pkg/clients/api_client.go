package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/logger"
)

// maxResponseBytes bounds how much of a response body is read into memory.
const maxResponseBytes = 8 << 20

// APIConfig configures an APIClient.
type APIConfig struct {
	BaseURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey string
	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration
	// Headers are added to every request.
	Headers map[string]string

	MaxIdleConns    int
	IdleConnTimeout time.Duration
	EnableHTTP2     bool

	// Breaker guards the client when set. A nil breaker disables circuit
	// breaking.
	Breaker *Breaker
}

// APIClient is a JSON-over-HTTP client for one network's API, with pooled
// connections and optional circuit breaking.
type APIClient struct {
	cfg     APIConfig
	client  *http.Client
	breaker *Breaker
	log     *zap.Logger
}

// NewAPIClient builds a client for the network's base URL.
func NewAPIClient(network string, cfg APIConfig) *APIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 20
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	log := logger.Get().With(
		zap.String("component", "api_client"),
		zap.String("network", network),
	)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			log.Warn("http/2 unavailable, staying on http/1.1", zap.Error(err))
		}
	}

	return &APIClient{
		cfg:     cfg,
		breaker: cfg.Breaker,
		log:     log,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
	}
}

// GetJSON issues a GET and decodes the JSON response into out. A nil out
// discards the body.
func (c *APIClient) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON encodes body as JSON, issues a POST, and decodes the response
// into out. A nil out discards the response body.
func (c *APIClient) PostJSON(ctx context.Context, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "encoding request body")
		}
		buf = bytes.NewReader(encoded)
	}
	return c.doJSON(ctx, http.MethodPost, path, nil, buf, out)
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, query url.Values, body io.Reader, out interface{}) error {
	if c.breaker != nil && !c.breaker.Allow() {
		// Fatal so the caller's retry loop gives up immediately and the
		// fallback chain moves to the next tier.
		return errors.New(errors.ErrorTypeAPI, "live API circuit is open").AsFatal()
	}

	data, err := c.do(ctx, method, path, query, body)
	if c.breaker != nil {
		if err != nil && !errors.IsType(err, errors.ErrorTypeNotFound) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeAPI, "decoding response body").
			WithDetail("path", path)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader) ([]byte, error) {
	u, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "building request URL").
			WithDetail("base_url", c.cfg.BaseURL).
			WithDetail("path", path)
	}
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled or timed out").
				WithDetail("url", u)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("url", u)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "reading response body").
			WithDetail("url", u)
	}

	c.log.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 400 {
		return nil, errors.FromHTTPStatus(resp.StatusCode, string(truncate(data, 256))).
			WithDetail("url", u).
			WithDetail("method", method)
	}
	return data, nil
}

// Breaker exposes the client's circuit breaker, nil when disabled.
func (c *APIClient) Breaker() *Breaker { return c.breaker }

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
