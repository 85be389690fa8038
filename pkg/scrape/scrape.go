// Package scrape extracts node data from network dashboards when no public
// API exists or the API tier is down. A Scraper drives a Browser through a
// credentialed login and pulls values out of the rendered page by CSS
// selector.
package scrape

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/logger"
	"github.com/nodewarden/nodewarden/pkg/retry"
)

// Browser is the minimal page-driving surface the scraper needs. The
// production implementation runs headless Chrome via chromedp; tests swap in
// a scripted fake.
type Browser interface {
	// Navigate loads the URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Fill clears the matched input and types the value into it.
	Fill(ctx context.Context, selector, value string) error
	// Click clicks the first element matching the selector.
	Click(ctx context.Context, selector string) error
	// Text returns the visible text of the first element matching the
	// selector.
	Text(ctx context.Context, selector string) (string, error)
	// Close tears the browser down. Safe to call more than once.
	Close(ctx context.Context) error
}

// LoginForm describes a dashboard's login page.
type LoginForm struct {
	URL            string
	UserSelector   string
	PassSelector   string
	SubmitSelector string
	// ReadySelector, when set, must appear after submit before the session
	// is considered authenticated.
	ReadySelector string
}

// Config tunes a Scraper.
type Config struct {
	Login    LoginForm
	Username string
	Password string

	// ActionsPerSecond throttles page interactions. Zero means 2/s.
	ActionsPerSecond float64

	// Retry overrides the navigation retry policy.
	Retry *retry.Policy
}

// Scraper owns one Browser for its lifetime and serializes all page work
// through it.
type Scraper struct {
	browser Browser
	cfg     Config
	limiter *rate.Limiter
	policy  *retry.Policy
	log     *zap.Logger

	mu       sync.Mutex
	loggedIn bool
	closed   bool
}

// NewScraper wraps the browser. The scraper takes ownership: Close shuts the
// browser down.
func NewScraper(browser Browser, cfg Config) *Scraper {
	aps := cfg.ActionsPerSecond
	if aps <= 0 {
		aps = 2
	}

	policy := cfg.Retry
	if policy == nil {
		policy = retry.NewPolicy(2, 500*time.Millisecond)
		policy.ShouldRetry = errors.IsRetryable
	}

	return &Scraper{
		browser: browser,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(aps), 1),
		policy:  policy,
		log: logger.Get().With(
			zap.String("component", "scraper"),
			zap.String("session_id", uuid.NewString()),
		),
	}
}

// Login authenticates against the dashboard. Navigation and submit failures
// are retryable; a missing login form on a loaded page is not, the layout
// has changed and retrying the same selectors cannot help.
func (s *Scraper) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New(errors.ErrorTypeScraper, "scraper is closed").AsFatal()
	}
	if s.loggedIn {
		return nil
	}
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return errors.New(errors.ErrorTypeAuthentication,
			"dashboard credentials not configured").AsFatal()
	}

	err := s.policy.Execute(ctx, func() error {
		return s.attemptLogin(ctx)
	})
	if err != nil {
		return err
	}

	s.loggedIn = true
	s.log.Info("dashboard login succeeded", zap.String("url", s.cfg.Login.URL))
	return nil
}

func (s *Scraper) attemptLogin(ctx context.Context) error {
	if err := s.throttled(ctx, func() error {
		return s.browser.Navigate(ctx, s.cfg.Login.URL)
	}); err != nil {
		return navigationError(err, s.cfg.Login.URL)
	}

	form := s.cfg.Login
	if err := s.throttled(ctx, func() error {
		return s.browser.Fill(ctx, form.UserSelector, s.cfg.Username)
	}); err != nil {
		return selectorError(err, form.UserSelector)
	}
	if err := s.throttled(ctx, func() error {
		return s.browser.Fill(ctx, form.PassSelector, s.cfg.Password)
	}); err != nil {
		return selectorError(err, form.PassSelector)
	}
	if err := s.throttled(ctx, func() error {
		return s.browser.Click(ctx, form.SubmitSelector)
	}); err != nil {
		return selectorError(err, form.SubmitSelector)
	}

	if form.ReadySelector != "" {
		if _, err := s.browser.Text(ctx, form.ReadySelector); err != nil {
			return errors.Wrap(err, errors.ErrorTypeAuthentication,
				"dashboard rejected credentials").
				WithDetail("selector", form.ReadySelector).AsFatal()
		}
	}
	return nil
}

// Extract navigates to the page and pulls the text of each named selector.
// The page load gets the retry policy; once the page is up, a selector that
// matches nothing fails fatally.
func (s *Scraper) Extract(ctx context.Context, pageURL string, selectors map[string]string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New(errors.ErrorTypeScraper, "scraper is closed").AsFatal()
	}

	err := s.policy.Execute(ctx, func() error {
		if err := s.throttled(ctx, func() error {
			return s.browser.Navigate(ctx, pageURL)
		}); err != nil {
			return navigationError(err, pageURL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(selectors))
	for name, sel := range selectors {
		var text string
		err := s.throttled(ctx, func() error {
			var terr error
			text, terr = s.browser.Text(ctx, sel)
			return terr
		})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeScraper,
				"selector matched nothing, page layout may have changed").
				WithDetail("field", name).
				WithDetail("selector", sel).
				WithDetail("url", pageURL).
				AsFatal()
		}
		out[name] = strings.TrimSpace(text)
	}

	s.log.Debug("extracted page fields",
		zap.String("url", pageURL),
		zap.Int("fields", len(out)))
	return out, nil
}

// Close shuts the browser down. Idempotent.
func (s *Scraper) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.loggedIn = false
	return s.browser.Close(ctx)
}

// LoggedIn reports whether a login has completed on this session.
func (s *Scraper) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *Scraper) throttled(ctx context.Context, action func() error) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "page action throttle interrupted")
	}
	return action()
}

func navigationError(err error, url string) error {
	return errors.Wrap(err, errors.ErrorTypeScraper, "page navigation failed").
		WithDetail("url", url).
		AsRetryable()
}

func selectorError(err error, selector string) error {
	return errors.Wrap(err, errors.ErrorTypeScraper, "login form element not found").
		WithDetail("selector", selector).
		AsFatal()
}

// ParseNumber reads a float out of scraped display text, tolerating currency
// symbols, thousands separators, percent signs, and unit suffixes such as
// "1.2k".
func ParseNumber(text string) (float64, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimLeft(cleaned, "$€£")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimRight(cleaned, "% ")

	multiplier := 1.0
	switch {
	case strings.HasSuffix(cleaned, "k"), strings.HasSuffix(cleaned, "K"):
		multiplier = 1e3
		cleaned = cleaned[:len(cleaned)-1]
	case strings.HasSuffix(cleaned, "M"):
		multiplier = 1e6
		cleaned = cleaned[:len(cleaned)-1]
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(cleaned), 64)
	if err != nil {
		return 0, errors.Newf(errors.ErrorTypeScraper,
			"cannot parse %q as a number", text).AsFatal()
	}
	return v * multiplier, nil
}
