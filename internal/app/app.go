// Package app initializes and holds the long-lived service components:
// stores, adapters, notifier, orchestrator, scheduler and the HTTP API.
// It is the one place backends are selected from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ticketwatch/ticketwatch/internal/api"
	"github.com/ticketwatch/ticketwatch/internal/archive"
	"github.com/ticketwatch/ticketwatch/internal/clock/system"
	"github.com/ticketwatch/ticketwatch/internal/config"
	"github.com/ticketwatch/ticketwatch/internal/metrics"
	"github.com/ticketwatch/ticketwatch/internal/normalize"
	"github.com/ticketwatch/ticketwatch/internal/notify"
	"github.com/ticketwatch/ticketwatch/internal/orchestrator"
	"github.com/ticketwatch/ticketwatch/internal/scheduler"
	"github.com/ticketwatch/ticketwatch/internal/source"
	"github.com/ticketwatch/ticketwatch/internal/store/catalog"
	"github.com/ticketwatch/ticketwatch/internal/store/dedup"
	"github.com/ticketwatch/ticketwatch/internal/ticket"
)

// App holds all shared, long-lived services. It is initialized once at
// startup and fails fast when any critical service cannot be built.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	dedup     *dedup.Store
	catalog   ticket.Catalog
	orch      *orchestrator.Orchestrator
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	closers   []func() error
}

// New wires all services from configuration.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()
	clk := system.Clock{}

	a := &App{cfg: cfg, logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.Dedup.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create dedup dir: %w", err)
	}
	dedupStore, err := dedup.Open(cfg.Dedup.Path, clk)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}
	a.dedup = dedupStore
	a.closers = append(a.closers, dedupStore.Close)

	cat, err := a.buildCatalog(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.catalog = cat
	a.closers = append(a.closers, cat.Close)

	archiver, err := a.buildArchive(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var notifier ticket.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.NewDiscord(notify.Config{
			WebhookURL: cfg.Notify.WebhookURL,
			MinDelay:   cfg.NotifyMinDelay(),
			Retries:    cfg.Notify.Retries,
			Backoff:    cfg.NotifyBackoff(),
		}, clk, logger)
	} else {
		logger.Info("notifications disabled, logging instead")
		notifier = notify.NewNoOp(logger)
	}

	entries, err := a.buildSources()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orch = orchestrator.New(
		entries,
		normalize.New(cfg.Keywords),
		dedupStore,
		cat,
		notifier,
		archiver,
		clk,
		orchestrator.Config{
			MaxParallel:         cfg.Crawl.MaxParallel,
			RetryBackoff:        cfg.RetryBackoff(),
			PerCycleCap:         cfg.Notify.PerCycleCap,
			EscalationThreshold: cfg.Crawl.FailureEscalation,
			ArchivePrefix:       cfg.Archive.Prefix,
		},
		logger,
	)
	a.scheduler = scheduler.New(a.orch, cfg.Interval(), clk, logger)

	if cfg.API.Enabled {
		a.apiServer = api.NewServer(cat, dedupStore, a.scheduler, clk, cfg.API, logger)
	}

	return a, nil
}

func (a *App) buildCatalog(ctx context.Context) (ticket.Catalog, error) {
	switch a.cfg.Catalog.Backend {
	case "file":
		if err := os.MkdirAll(filepath.Dir(a.cfg.Catalog.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		a.logger.Info("using file catalog", zap.String("path", a.cfg.Catalog.Path))
		return catalog.OpenFile(a.cfg.Catalog.Path)
	case "postgres":
		a.logger.Info("using postgres catalog", zap.String("table", a.cfg.Catalog.Table))
		return catalog.NewPostgres(ctx, catalog.PostgresConfig{
			DSN:   a.cfg.Catalog.DSN,
			Table: a.cfg.Catalog.Table,
		})
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s", a.cfg.Catalog.Backend)
	}
}

func (a *App) buildArchive(ctx context.Context) (ticket.Archive, error) {
	switch a.cfg.Archive.Backend {
	case "local":
		a.logger.Info("using local archive", zap.String("dir", a.cfg.Archive.Dir))
		return archive.NewLocal(a.cfg.Archive.Dir)
	case "gcs":
		a.logger.Info("using GCS archive", zap.String("bucket", a.cfg.Archive.Bucket))
		gcs, err := archive.NewGCS(ctx, a.cfg.Archive.Bucket)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		return gcs, nil
	case "noop":
		a.logger.Info("archive disabled, snapshots will be discarded")
		return archive.NoOp{}, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", a.cfg.Archive.Backend)
	}
}

func (a *App) buildSources() ([]orchestrator.Entry, error) {
	var entries []orchestrator.Entry
	for _, sc := range a.cfg.Sources {
		if !sc.Enabled {
			a.logger.Info("source disabled", zap.String("source", sc.Name))
			continue
		}
		adapter, err := source.New(sc, source.Options{
			Timeout: a.cfg.SourceTimeout(sc),
			Logger:  a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build source %q: %w", sc.Name, err)
		}
		if rendered, ok := adapter.(*source.RenderedAdapter); ok {
			a.closers = append(a.closers, rendered.Close)
		}
		entries = append(entries, orchestrator.Entry{
			Adapter: adapter,
			Timeout: a.cfg.SourceTimeout(sc),
			Retries: a.cfg.SourceRetries(sc),
		})
		a.logger.Info("source registered",
			zap.String("source", sc.Name),
			zap.String("type", sc.Type))
	}
	return entries, nil
}

// Run starts the scheduler and HTTP server and blocks until the context
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		a.logger.Info("scheduler started", zap.Duration("interval", a.cfg.Interval()))
		a.scheduler.Run(ctx)
	}()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.API.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.API.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	<-schedulerDone
	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// RunOnce executes a single crawl cycle and returns its summary.
func (a *App) RunOnce(ctx context.Context) ticket.CycleResult {
	return a.orch.RunCycle(ctx)
}

// Close releases every service in reverse initialization order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
