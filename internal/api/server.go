// Package api exposes the HTTP interface for the watcher service: health
// probes, Prometheus metrics, catalog reads for the dashboard, and a
// manual crawl trigger.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/metrics"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// CycleRunner is the scheduler surface the API needs: trigger a cycle and
// read the latest summary.
type CycleRunner interface {
	TriggerNow(ctx context.Context) (ticket.CycleResult, error)
	LastResult() (ticket.CycleResult, bool)
}

// Server wires HTTP handlers to the catalog and scheduler.
type Server struct {
	router  chi.Router
	catalog ticket.Catalog
	dedup   ticket.DedupStore
	runner  CycleRunner
	clock   ticket.Clock
	cfg     config.APIConfig
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	catalog ticket.Catalog,
	dedup ticket.DedupStore,
	runner CycleRunner,
	clock ticket.Clock,
	cfg config.APIConfig,
	logger *zap.Logger,
) *Server {
	s := &Server{
		catalog: catalog,
		dedup:   dedup,
		runner:  runner,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/tickets", s.listTickets)
		r.Get("/stats", s.stats)
		r.Get("/cycles/latest", s.latestCycle)
		r.Post("/crawl", s.triggerCrawl)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.catalog.Count(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tickets, err := s.catalog.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog query failed")
		return
	}
	if tickets == nil {
		tickets = []ticket.Ticket{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	total, err := s.catalog.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog count failed")
		return
	}
	tickets, err := s.catalog.Query(r.Context(), ticket.Query{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "catalog query failed")
		return
	}
	bySource := make(map[string]int)
	for _, t := range tickets {
		bySource[string(t.Source)]++
	}
	payload := map[string]any{
		"catalog_tickets": total,
		"by_source":       bySource,
		"dedup_records":   s.dedup.Len(),
	}
	if last, ok := s.runner.LastResult(); ok {
		payload["last_cycle"] = map[string]any{
			"id":         last.ID,
			"started_at": last.StartedAt,
			"duration":   last.Duration.String(),
			"new":        len(last.NewTickets),
			"notified":   last.Notified,
			"deferred":   last.Deferred,
			"failed":     last.Failed,
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) latestCycle(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.runner.LastResult()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	result, err := s.runner.TriggerNow(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryFromRequest maps dashboard query parameters onto a catalog query.
// Unknown sort values and unparseable dates are client errors.
func queryFromRequest(r *http.Request) (ticket.Query, error) {
	params := r.URL.Query()
	q := ticket.Query{
		Source:  ticket.Source(params.Get("source")),
		Genre:   params.Get("genre"),
		Keyword: params.Get("q"),
		Sort:    ticket.SortOpenDateAsc,
	}

	if raw := params.Get("sort"); raw != "" {
		sort := ticket.SortOrder(raw)
		switch sort {
		case ticket.SortOpenDateAsc, ticket.SortOpenDateDesc, ticket.SortPerformance,
			ticket.SortTitle, ticket.SortRecency, ticket.SortRecencyAlias:
			q.Sort = sort
		default:
			return ticket.Query{}, errors.New("unknown sort order " + strconv.Quote(raw))
		}
	}

	if raw := params.Get("from"); raw != "" {
		from, err := parseDateParam(raw)
		if err != nil {
			return ticket.Query{}, errors.New("invalid from date")
		}
		q.From = from
	}
	if raw := params.Get("to"); raw != "" {
		to, err := parseDateParam(raw)
		if err != nil {
			return ticket.Query{}, errors.New("invalid to date")
		}
		q.To = to
	}
	if raw := params.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return ticket.Query{}, errors.New("invalid limit")
		}
		q.Limit = limit
	}
	return q, nil
}

func parseDateParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
