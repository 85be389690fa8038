package scrape

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodewarden/nodewarden/pkg/errors"
	"github.com/nodewarden/nodewarden/pkg/retry"
)

// fakeBrowser scripts browser behavior and records the call sequence.
type fakeBrowser struct {
	mu    sync.Mutex
	calls []string

	navFailures int // navigations to fail before succeeding
	textErr     error
	texts       map[string]string
	closed      int
}

func (f *fakeBrowser) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBrowser) Navigate(_ context.Context, url string) error {
	f.record("navigate:" + url)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navFailures > 0 {
		f.navFailures--
		return fmt.Errorf("net::ERR_CONNECTION_RESET")
	}
	return nil
}

func (f *fakeBrowser) Fill(_ context.Context, selector, _ string) error {
	f.record("fill:" + selector)
	return nil
}

func (f *fakeBrowser) Click(_ context.Context, selector string) error {
	f.record("click:" + selector)
	return nil
}

func (f *fakeBrowser) Text(_ context.Context, selector string) (string, error) {
	f.record("text:" + selector)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return "", f.textErr
	}
	if v, ok := f.texts[selector]; ok {
		return v, nil
	}
	return "", fmt.Errorf("no such element")
}

func (f *fakeBrowser) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func fastPolicy() *retry.Policy {
	p := retry.NewPolicy(2, time.Millisecond)
	p.ShouldRetry = errors.IsRetryable
	return p
}

func testConfig() Config {
	return Config{
		Login: LoginForm{
			URL:            "https://dash.example.com/login",
			UserSelector:   "#email",
			PassSelector:   "#password",
			SubmitSelector: "button[type=submit]",
		},
		Username:         "op@example.com",
		Password:         "hunter2",
		ActionsPerSecond: 10000,
		Retry:            fastPolicy(),
	}
}

func TestLogin_FillsFormInOrder(t *testing.T) {
	fb := &fakeBrowser{}
	s := NewScraper(fb, testConfig())

	require.NoError(t, s.Login(context.Background()))
	assert.True(t, s.LoggedIn())
	assert.Equal(t, []string{
		"navigate:https://dash.example.com/login",
		"fill:#email",
		"fill:#password",
		"click:button[type=submit]",
	}, fb.calls)

	// Second login is a no-op.
	require.NoError(t, s.Login(context.Background()))
	assert.Len(t, fb.calls, 4)
}

func TestLogin_MissingCredentialsIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Password = ""
	s := NewScraper(&fakeBrowser{}, cfg)

	err := s.Login(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.False(t, errors.IsRetryable(err))
}

func TestLogin_RetriesNavigationFailures(t *testing.T) {
	fb := &fakeBrowser{navFailures: 2}
	s := NewScraper(fb, testConfig())

	require.NoError(t, s.Login(context.Background()))

	navs := 0
	for _, c := range fb.calls {
		if c == "navigate:https://dash.example.com/login" {
			navs++
		}
	}
	assert.Equal(t, 3, navs)
}

func TestLogin_ReadySelectorRejection(t *testing.T) {
	fb := &fakeBrowser{textErr: fmt.Errorf("no such element")}
	cfg := testConfig()
	cfg.Login.ReadySelector = ".account-menu"
	s := NewScraper(fb, cfg)

	err := s.Login(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.False(t, s.LoggedIn())
}

func TestExtract_ReturnsTrimmedFields(t *testing.T) {
	fb := &fakeBrowser{texts: map[string]string{
		".earnings-total": "  $1,234.56 ",
		".node-count":     "12",
	}}
	s := NewScraper(fb, testConfig())

	got, err := s.Extract(context.Background(), "https://dash.example.com/nodes", map[string]string{
		"earnings": ".earnings-total",
		"nodes":    ".node-count",
	})
	require.NoError(t, err)
	assert.Equal(t, "$1,234.56", got["earnings"])
	assert.Equal(t, "12", got["nodes"])
}

func TestExtract_SelectorNotFoundIsFatal(t *testing.T) {
	fb := &fakeBrowser{texts: map[string]string{}}
	s := NewScraper(fb, testConfig())

	_, err := s.Extract(context.Background(), "https://dash.example.com/nodes", map[string]string{
		"earnings": ".gone",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeScraper))
	assert.False(t, errors.IsRetryable(err))

	// Exactly one extraction attempt: retrying a changed layout cannot help.
	texts := 0
	for _, c := range fb.calls {
		if c == "text:.gone" {
			texts++
		}
	}
	assert.Equal(t, 1, texts)
}

func TestExtract_NavigationRetried(t *testing.T) {
	fb := &fakeBrowser{navFailures: 1, texts: map[string]string{".v": "7"}}
	s := NewScraper(fb, testConfig())

	got, err := s.Extract(context.Background(), "https://dash.example.com/nodes", map[string]string{
		"v": ".v",
	})
	require.NoError(t, err)
	assert.Equal(t, "7", got["v"])
}

func TestClose_Idempotent(t *testing.T) {
	fb := &fakeBrowser{}
	s := NewScraper(fb, testConfig())

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, fb.closed)

	err := s.Login(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeScraper))
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"42", 42, false},
		{" $1,234.56 ", 1234.56, false},
		{"87.5%", 87.5, false},
		{"1.2k", 1200, false},
		{"3M", 3e6, false},
		{"€9.99", 9.99, false},
		{"n/a", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeScraper))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
