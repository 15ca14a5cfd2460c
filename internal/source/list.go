package source

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// ListAdapter scrapes a server-rendered listing page with colly.
type ListAdapter struct {
	name      ticket.Source
	url       string
	base      *url.URL
	selectors config.SelectorConfig
	collector *colly.Collector
	logger    *zap.Logger
}

// NewList constructs a colly-backed adapter for one listing page.
func NewList(cfg config.SourceConfig, opts Options) (*ListAdapter, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(userAgentOrDefault(cfg)),
	)
	collector.AllowURLRevisit = true
	collector.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
		ForceAttemptHTTP2:     true,
	})
	collector.SetRequestTimeout(opts.Timeout)

	return &ListAdapter{
		name:      ticket.Source(cfg.Name),
		url:       cfg.URL,
		base:      base,
		selectors: cfg.Selectors,
		collector: collector,
		logger:    opts.Logger.With(zap.String("source", cfg.Name)),
	}, nil
}

// Name returns the configured source name.
func (a *ListAdapter) Name() ticket.Source {
	return a.name
}

// Fetch visits the listing page and extracts one raw listing per item match.
// An empty result with a 200 response is not an error; sources go quiet
// between announcement waves.
func (a *ListAdapter) Fetch(ctx context.Context) ([]ticket.RawListing, error) {
	collector := a.collector.Clone()

	var (
		mu       sync.Mutex
		listings []ticket.RawListing
		status   int
		fetchErr error
	)

	collector.OnHTML(a.selectors.Item, func(e *colly.HTMLElement) {
		listing := listingFromSelection(e.DOM, a.base, a.selectors)
		mu.Lock()
		listings = append(listings, listing)
		mu.Unlock()
	})
	collector.OnResponse(func(r *colly.Response) {
		mu.Lock()
		status = r.StatusCode
		mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		mu.Lock()
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(a.url); err != nil {
			mu.Lock()
			if fetchErr == nil {
				fetchErr = err
			}
			mu.Unlock()
		}
		collector.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ticket.NewFetchError(a.name, ticket.FetchTimeout, ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	if fetchErr != nil {
		return nil, ticket.NewFetchError(a.name, classify(status, fetchErr), fetchErr)
	}
	a.logger.Debug("listing page fetched",
		zap.Int("status", status),
		zap.Int("listings", len(listings)))
	return listings, nil
}
