package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// APIAdapter pulls ticket-open notices from a JSON endpoint. Both a bare
// array and an envelope with an "items" field are accepted.
type APIAdapter struct {
	name      ticket.Source
	url       string
	userAgent string
	client    *http.Client
	logger    *zap.Logger
}

type apiListing struct {
	Title           string `json:"title"`
	Genre           string `json:"genre"`
	Place           string `json:"place"`
	OpenDate        string `json:"open_date"`
	PerformanceDate string `json:"performance_date"`
	URL             string `json:"url"`
	ImageURL        string `json:"image_url"`
}

// NewAPI constructs an adapter for a JSON notice endpoint.
func NewAPI(cfg config.SourceConfig, opts Options) (*APIAdapter, error) {
	return &APIAdapter{
		name:      ticket.Source(cfg.Name),
		url:       cfg.URL,
		userAgent: userAgentOrDefault(cfg),
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: opts.Logger.With(zap.String("source", cfg.Name)),
	}, nil
}

// Name returns the configured source name.
func (a *APIAdapter) Name() ticket.Source {
	return a.name
}

// Fetch requests the endpoint and decodes its notice payload.
func (a *APIAdapter) Fetch(ctx context.Context) ([]ticket.RawListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return nil, ticket.NewFetchError(a.name, ticket.FetchUnknown, err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ticket.NewFetchError(a.name, classify(0, err), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		return nil, ticket.NewFetchError(a.name, classify(resp.StatusCode, err), err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ticket.NewFetchError(a.name, classify(0, err), err)
	}

	items, err := decodeNotices(body)
	if err != nil {
		return nil, ticket.NewFetchError(a.name, ticket.FetchMalformed, err)
	}

	listings := make([]ticket.RawListing, 0, len(items))
	for _, item := range items {
		listings = append(listings, ticket.RawListing{
			Title:              item.Title,
			Genre:              item.Genre,
			Place:              item.Place,
			OpenDateRaw:        item.OpenDate,
			PerformanceDateRaw: item.PerformanceDate,
			URL:                item.URL,
			ImageURL:           item.ImageURL,
		})
	}
	a.logger.Debug("notice endpoint fetched", zap.Int("listings", len(listings)))
	return listings, nil
}

func decodeNotices(body []byte) ([]apiListing, error) {
	var items []apiListing
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var envelope struct {
		Items []apiListing `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode notices: %w", err)
	}
	return envelope.Items, nil
}
