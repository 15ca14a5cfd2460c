// Package orchestrator runs one full crawl cycle: fan out to the source
// adapters, normalize their output, archive and catalog everything, then
// deliver the deduplicated new tickets and commit each one only after its
// delivery is confirmed.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/archive"
	"github.com/ticketwatch/ticketwatch/internal/metrics"
	"github.com/ticketwatch/ticketwatch/internal/normalize"
	"github.com/ticketwatch/ticketwatch/internal/store/catalog"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// Entry pairs an adapter with its resolved per-source limits.
type Entry struct {
	Adapter ticket.Adapter
	Timeout time.Duration
	Retries int
}

// Config carries the cycle-level settings.
type Config struct {
	MaxParallel         int
	RetryBackoff        time.Duration
	PerCycleCap         int
	EscalationThreshold int
	ArchivePrefix       string
}

// Orchestrator coordinates a cycle across sources. Cycles never overlap;
// RunCycle serializes callers itself.
type Orchestrator struct {
	entries    []Entry
	normalizer *normalize.Normalizer
	dedup      ticket.DedupStore
	catalog    ticket.Catalog
	notifier   ticket.Notifier
	archiver   ticket.Archive
	clock      ticket.Clock
	cfg        Config
	logger     *zap.Logger

	runMu   sync.Mutex
	streaks map[ticket.Source]int
}

// New builds an orchestrator over the given collaborators.
func New(
	entries []Entry,
	normalizer *normalize.Normalizer,
	dedup ticket.DedupStore,
	cat ticket.Catalog,
	notifier ticket.Notifier,
	archiver ticket.Archive,
	clock ticket.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = len(entries)
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = 3
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "tickets"
	}
	return &Orchestrator{
		entries:    entries,
		normalizer: normalizer,
		dedup:      dedup,
		catalog:    cat,
		notifier:   notifier,
		archiver:   archiver,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		streaks:    make(map[ticket.Source]int),
	}
}

type sourceResult struct {
	source  ticket.Source
	tickets []ticket.Ticket
	outcome ticket.SourceOutcome
}

// RunCycle executes one crawl cycle and returns its summary. A failing
// source never fails the cycle; its outcome records the cause and the
// remaining sources proceed.
func (o *Orchestrator) RunCycle(ctx context.Context) ticket.CycleResult {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	start := o.clock.Now()
	result := ticket.CycleResult{
		ID:        uuid.NewString(),
		StartedAt: start,
		Outcomes:  make(map[ticket.Source]ticket.SourceOutcome, len(o.entries)),
	}
	o.logger.Info("cycle started",
		zap.String("cycle_id", result.ID),
		zap.Int("sources", len(o.entries)))

	results := o.collect(ctx)

	var all []ticket.Ticket
	for _, res := range results {
		result.Outcomes[res.source] = res.outcome
		all = append(all, res.tickets...)
		o.trackStreak(res.source, res.outcome)
	}

	o.archiveSnapshot(ctx, result.ID, start, all)

	if len(all) > 0 {
		if err := o.catalog.Upsert(ctx, all); err != nil {
			o.logger.Error("catalog upsert failed", zap.String("cycle_id", result.ID), zap.Error(err))
		}
	}

	fresh := o.dedup.FilterNew(all)
	catalog.SortByOpenDate(fresh)
	result.NewTickets = fresh

	result.Notified, result.Deferred, result.Failed = o.deliver(ctx, result.ID, fresh)

	result.Duration = o.clock.Now().Sub(start)
	metrics.ObserveCycle(cycleStatus(result), result.Duration)
	metrics.SetDedupRecords(o.dedup.Len())
	o.logger.Info("cycle finished",
		zap.String("cycle_id", result.ID),
		zap.Duration("duration", result.Duration),
		zap.Int("new", len(fresh)),
		zap.Int("notified", result.Notified),
		zap.Int("deferred", result.Deferred),
		zap.Int("failed", result.Failed))
	return result
}

// collect fans out to all sources, bounded by MaxParallel, and blocks
// until every source has reported.
func (o *Orchestrator) collect(ctx context.Context) []sourceResult {
	results := make([]sourceResult, len(o.entries))
	sem := make(chan struct{}, o.cfg.MaxParallel)
	var wg sync.WaitGroup
	for i, entry := range o.entries {
		wg.Add(1)
		go func(i int, entry Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.runSource(ctx, entry)
		}(i, entry)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) runSource(ctx context.Context, entry Entry) sourceResult {
	name := entry.Adapter.Name()
	logger := o.logger.With(zap.String("source", string(name)))

	listings, err := o.fetchWithRetry(ctx, entry)
	if err != nil {
		cause := ticket.FetchUnknown
		var fetchErr *ticket.FetchError
		if errors.As(err, &fetchErr) {
			cause = fetchErr.Cause
		}
		metrics.ObserveSourceFetch(string(name), string(cause), 0)
		logger.Warn("source fetch failed", zap.String("cause", string(cause)), zap.Error(err))
		return sourceResult{
			source:  name,
			outcome: ticket.SourceOutcome{Error: err.Error(), Cause: cause},
		}
	}

	now := o.clock.Now()
	tickets := make([]ticket.Ticket, 0, len(listings))
	dropped := 0
	for _, raw := range listings {
		t, err := o.normalizer.Normalize(name, raw, now)
		if err != nil {
			dropped++
			reason := "invalid"
			var invalid *ticket.ValidationError
			if errors.As(err, &invalid) {
				reason = invalid.Reason
			}
			metrics.ObserveValidationDrop(string(name), reason)
			logger.Debug("listing dropped", zap.String("reason", reason), zap.String("title", raw.Title))
			continue
		}
		tickets = append(tickets, t)
	}

	metrics.ObserveSourceFetch(string(name), "ok", len(listings))
	logger.Info("source fetched",
		zap.Int("listings", len(listings)),
		zap.Int("dropped", dropped))
	return sourceResult{
		source:  name,
		tickets: tickets,
		outcome: ticket.SourceOutcome{OK: true, TicketCount: len(tickets), Dropped: dropped},
	}
}

// fetchWithRetry runs one fetch attempt per try under the per-source
// timeout, backing off between tries. The parent context aborts retries.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, entry Entry) ([]ticket.RawListing, error) {
	backoff := o.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= entry.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ticket.NewFetchError(entry.Adapter.Name(), ticket.FetchTimeout, ctx.Err())
			}
			backoff *= 2
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if entry.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, entry.Timeout)
		}
		listings, err := entry.Adapter.Fetch(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return listings, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// deliver sends fresh tickets in order and commits each one only after
// the notifier confirms delivery. The per-cycle cap defers the tail to
// the next cycle; delivery failures leave tickets uncommitted so they
// surface again.
func (o *Orchestrator) deliver(ctx context.Context, cycleID string, fresh []ticket.Ticket) (notified, deferred, failed int) {
	for i, t := range fresh {
		if o.cfg.PerCycleCap > 0 && notified >= o.cfg.PerCycleCap {
			deferred = len(fresh) - i
			o.logger.Info("notification cap reached, deferring remainder",
				zap.String("cycle_id", cycleID),
				zap.Int("deferred", deferred))
			break
		}
		if ctx.Err() != nil {
			deferred += len(fresh) - i
			break
		}

		if err := o.notifier.Send(ctx, t); err != nil {
			failed++
			metrics.ObserveNotification("failed")
			o.logger.Warn("notification failed, ticket stays uncommitted",
				zap.String("cycle_id", cycleID),
				zap.String("source", string(t.Source)),
				zap.String("title", t.Title),
				zap.Error(err))
			continue
		}

		if err := o.dedup.Commit(t); err != nil {
			// Delivered but not recorded. The next cycle may notify again;
			// that beats silently losing the record.
			o.logger.Error("dedup commit failed after delivery",
				zap.String("cycle_id", cycleID),
				zap.String("key", t.Key()),
				zap.Error(err))
		}
		notified++
		metrics.ObserveNotification("delivered")
	}
	return notified, deferred, failed
}

func (o *Orchestrator) archiveSnapshot(ctx context.Context, cycleID string, start time.Time, all []ticket.Ticket) {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		o.logger.Error("encode snapshot failed", zap.String("cycle_id", cycleID), zap.Error(err))
		return
	}
	name := archive.ObjectName(o.cfg.ArchivePrefix, start)
	if err := o.archiver.Save(ctx, name, data); err != nil {
		o.logger.Warn("archive save failed",
			zap.String("cycle_id", cycleID),
			zap.String("object", name),
			zap.Error(err))
	}
}

func (o *Orchestrator) trackStreak(source ticket.Source, outcome ticket.SourceOutcome) {
	if outcome.OK {
		o.streaks[source] = 0
		metrics.SetFailureStreak(string(source), 0)
		return
	}
	o.streaks[source]++
	streak := o.streaks[source]
	metrics.SetFailureStreak(string(source), streak)
	if streak >= o.cfg.EscalationThreshold {
		o.logger.Error("source failing repeatedly",
			zap.String("source", string(source)),
			zap.Int("consecutive_failures", streak))
	}
}

func cycleStatus(result ticket.CycleResult) string {
	failedSources := 0
	for _, outcome := range result.Outcomes {
		if !outcome.OK {
			failedSources++
		}
	}
	switch {
	case failedSources == 0:
		return "ok"
	case failedSources == len(result.Outcomes):
		return "failed"
	default:
		return "partial"
	}
}
