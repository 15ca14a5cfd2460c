package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// RenderedAdapter drives headless Chrome for pages that only materialize
// their listings after JavaScript runs. Each fetch opens a fresh tab in a
// shared browser, scrolls to trigger lazy loading, and hands the settled
// DOM to the same selector extraction the static adapter uses.
type RenderedAdapter struct {
	name            ticket.Source
	url             string
	base            *url.URL
	selectors       config.SelectorConfig
	userAgent       string
	scrollPasses    int
	navTimeout      time.Duration
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
}

// NewRendered starts the shared browser and returns the adapter. Callers
// must Close it to tear the browser down.
func NewRendered(cfg config.SourceConfig, opts Options) (*RenderedAdapter, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	chromeOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(userAgentOrDefault(cfg)),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), chromeOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	scrollPasses := cfg.Render.ScrollPasses
	if scrollPasses < 0 {
		scrollPasses = 0
	}
	navTimeout := time.Duration(cfg.Render.NavTimeoutSeconds) * time.Second
	if navTimeout <= 0 {
		navTimeout = opts.Timeout
	}

	return &RenderedAdapter{
		name:            ticket.Source(cfg.Name),
		url:             cfg.URL,
		base:            base,
		selectors:       cfg.Selectors,
		userAgent:       userAgentOrDefault(cfg),
		scrollPasses:    scrollPasses,
		navTimeout:      navTimeout,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          opts.Logger.With(zap.String("source", cfg.Name)),
	}, nil
}

// Name returns the configured source name.
func (a *RenderedAdapter) Name() ticket.Source {
	return a.name
}

// Close tears down the browser and allocator contexts.
func (a *RenderedAdapter) Close() error {
	a.browserCancel()
	a.allocatorCancel()
	return nil
}

// Fetch renders the page in a new tab and extracts listings from the
// settled DOM.
func (a *RenderedAdapter) Fetch(ctx context.Context) ([]ticket.RawListing, error) {
	tabCtx, cancelTab := chromedp.NewContext(a.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, a.navTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	html, err := a.render(taskCtx)
	if err != nil {
		cause := classify(0, err)
		if ctx.Err() != nil || taskCtx.Err() != nil {
			cause = ticket.FetchTimeout
		}
		return nil, ticket.NewFetchError(a.name, cause, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, ticket.NewFetchError(a.name, ticket.FetchMalformed, err)
	}

	listings := extractListings(doc, a.base, a.selectors)
	a.logger.Debug("rendered page fetched", zap.Int("listings", len(listings)))
	return listings, nil
}

func (a *RenderedAdapter) render(ctx context.Context) (string, error) {
	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(a.userAgent),
		chromedp.Navigate(a.url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	for i := 0; i < a.scrollPasses; i++ {
		tasks = append(tasks,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(500*time.Millisecond),
		)
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
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
