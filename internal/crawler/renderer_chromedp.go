package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/urlutil"
)

// ErrRendererDisabled indicates JavaScript rendering has been disabled via
// configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// RenderConfig configures a PageRenderer.
type RenderConfig struct {
	UserAgent        string
	RequestTimeout   time.Duration
	RenderTimeout    time.Duration
	FetchConcurrency int
	JSEnabled        bool
	RenderWorkers    int
}

// PageRenderer is the default Renderer. It always fetches the raw HTML
// over plain HTTP; when JavaScript rendering is enabled it additionally
// executes the page in headless Chrome and returns the DOM snapshot as the
// primary HTML, falling back to the raw body if Chrome fails.
type PageRenderer struct {
	fetcher *CollyFetcher
	logger  *zap.Logger

	jsEnabled       bool
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	renderTimeout   time.Duration
	userAgent       string
}

// NewPageRenderer builds the renderer. Headless Chrome starts only when
// cfg.JSEnabled is set.
func NewPageRenderer(cfg RenderConfig, logger *zap.Logger) (*PageRenderer, error) {
	fetcher, err := NewCollyFetcher(cfg.UserAgent, cfg.RequestTimeout, cfg.FetchConcurrency, logger)
	if err != nil {
		return nil, err
	}

	r := &PageRenderer{
		fetcher:       fetcher,
		logger:        logger,
		jsEnabled:     cfg.JSEnabled,
		renderTimeout: cfg.RenderTimeout,
		userAgent:     cfg.UserAgent,
	}
	if !cfg.JSEnabled {
		return r, nil
	}
	if cfg.RenderWorkers <= 0 {
		return nil, ErrRendererDisabled
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	r.allocatorCancel = allocatorCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	r.sem = make(chan struct{}, cfg.RenderWorkers)
	return r, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *PageRenderer) Close(ctx context.Context) error {
	if r == nil || !r.jsEnabled {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// Render fetches a URL. The raw HTML is always retrieved; a rendered DOM
// snapshot replaces it when JavaScript rendering succeeds.
func (r *PageRenderer) Render(ctx context.Context, rawURL string) (RenderResult, error) {
	if _, err := urlutil.Parse(rawURL); err != nil {
		return RenderResult{}, &RenderFailure{Kind: KindInvalidURL, Message: err.Error()}
	}

	raw, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return RenderResult{}, err
	}
	result := RenderResult{HTML: string(raw), RawHTML: string(raw)}

	if !r.jsEnabled {
		return result, nil
	}

	rendered, err := r.renderJS(ctx, rawURL)
	if err != nil {
		// Raw HTML is still usable; degrade rather than fail the page.
		r.logger.Warn("js render failed, using raw html", zap.String("url", rawURL), zap.Error(err))
		return result, nil
	}
	result.HTML = rendered
	return result, nil
}

func (r *PageRenderer) renderJS(ctx context.Context, rawURL string) (string, error) {
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.renderTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(r.userAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *PageRenderer) acquireSlot(ctx context.Context) (func(), error) {
	if r.sem == nil {
		return func() {}, nil
	}
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
