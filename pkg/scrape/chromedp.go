package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/nodewarden/nodewarden/pkg/errors"
)

// defaultActionTimeout bounds individual page operations so a hung element
// wait cannot stall the whole fallback chain.
const defaultActionTimeout = 15 * time.Second

// ChromeBrowser drives a headless Chrome instance through chromedp. One
// instance holds one browser process for its lifetime.
type ChromeBrowser struct {
	ctx           context.Context
	cancelCtx     context.CancelFunc
	cancelAlloc   context.CancelFunc
	actionTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// ChromeOptions configures browser startup.
type ChromeOptions struct {
	Headless bool
	// ActionTimeout bounds each page operation. Zero means 15s.
	ActionTimeout time.Duration
	// UserAgent overrides the browser's user agent when set.
	UserAgent string
}

// NewChromeBrowser launches Chrome and verifies it responds. The caller must
// Close the returned browser.
func NewChromeBrowser(opts ChromeOptions) (*ChromeBrowser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{},
		chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.NoSandbox,
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	timeout := opts.ActionTimeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}

	// Start the browser process up front so launch failures surface here
	// rather than on the first navigation.
	startCtx, cancel := context.WithTimeout(browserCtx, timeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancelCtx()
		cancelAlloc()
		return nil, errors.Wrap(err, errors.ErrorTypeScraper, "headless browser failed to start")
	}

	return &ChromeBrowser{
		ctx:           browserCtx,
		cancelCtx:     cancelCtx,
		cancelAlloc:   cancelAlloc,
		actionTimeout: timeout,
	}, nil
}

func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(b.ctx, b.actionTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

// Navigate loads the URL and waits for the body to be ready.
func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Fill clears the input and types the value.
func (b *ChromeBrowser) Fill(ctx context.Context, selector, value string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Click clicks the first matching element.
func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

// Text returns the visible text of the first matching element.
func (b *ChromeBrowser) Text(ctx context.Context, selector string) (string, error) {
	var out string
	err := b.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Text(selector, &out, chromedp.ByQuery),
	)
	return out, err
}

// Close shuts the browser process down. Idempotent.
func (b *ChromeBrowser) Close(_ context.Context) error {
	b.closeOnce.Do(func() {
		b.closeErr = chromedp.Cancel(b.ctx)
		b.cancelCtx()
		b.cancelAlloc()
	})
	return b.closeErr
}
