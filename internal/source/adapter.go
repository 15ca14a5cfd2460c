// Package source implements the site adapters that collect raw ticket-open
// listings. Three shapes are supported: static listing pages scraped with
// colly, JSON notice APIs, and JavaScript-rendered pages driven through
// headless Chrome.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Options carries the shared adapter settings resolved from configuration.
type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// New builds the adapter for one configured source.
func New(cfg config.SourceConfig, opts Options) (ticket.Adapter, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch cfg.Type {
	case "list":
		return NewList(cfg, opts)
	case "api":
		return NewAPI(cfg, opts)
	case "rendered":
		return NewRendered(cfg, opts)
	default:
		return nil, fmt.Errorf("source %q: unknown type %q", cfg.Name, cfg.Type)
	}
}

// classify maps a transport failure to the fetch error taxonomy. Status is
// zero when no response was received.
func classify(status int, err error) ticket.FetchCause {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ticket.FetchTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ticket.FetchTimeout
	}
	switch status {
	case 0:
	case http.StatusForbidden, http.StatusTooManyRequests:
		return ticket.FetchBlocked
	default:
		if status >= 400 {
			return ticket.FetchMalformed
		}
	}
	return ticket.FetchUnknown
}

func userAgentOrDefault(cfg config.SourceConfig) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}
	return defaultUserAgent
}
