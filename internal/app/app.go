// Package app wires the service components together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sahil00000001/PremiumBulkMail/internal/api"
	"github.com/sahil00000001/PremiumBulkMail/internal/config"
	"github.com/sahil00000001/PremiumBulkMail/internal/dispatch"
	"github.com/sahil00000001/PremiumBulkMail/internal/mailer"
	"github.com/sahil00000001/PremiumBulkMail/internal/metrics"
	"github.com/sahil00000001/PremiumBulkMail/internal/refresh"
	"github.com/sahil00000001/PremiumBulkMail/internal/store"
	"github.com/sahil00000001/PremiumBulkMail/internal/tracking"
)

// App is the main application
type App struct {
	config     *config.Config
	store      store.Store
	registry   *dispatch.Registry
	dispatcher *dispatch.Orchestrator
	refresher  *refresh.Job
	apiServer  *api.Server
	metrics    *metrics.Metrics
	logger     *slog.Logger
	startTime  time.Time
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	st, err := openStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	m := metrics.New()
	metrics.SetGlobal(m)

	tracker := tracking.NewGateway(cfg.Tracking.BaseURL, cfg.Tracking.Timeout, logger)
	factory := mailer.NewFactory(cfg.SMTP, logger)

	registry := dispatch.NewRegistry(cfg.Dispatch.SessionRetention, logger)
	dispatcher := dispatch.NewOrchestrator(st, registry, tracker, factory, dispatch.Config{
		SendDelay:        cfg.Dispatch.SendDelay,
		ProgressInterval: cfg.Dispatch.ProgressInterval,
	}, logger)

	refresher := refresh.NewJob(st, tracker, cfg.Tracking.RefreshInterval, logger)

	apiServer := api.NewServer(cfg, st, dispatcher, refresher, tracker, factory, m, logger)

	return &App{
		config:     cfg,
		store:      st,
		registry:   registry,
		dispatcher: dispatcher,
		refresher:  refresher,
		apiServer:  apiServer,
		metrics:    m,
		logger:     logger,
		startTime:  time.Now(),
	}, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewBoltStore(cfg.Path)
	}
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting bulkmail",
		"api_addr", a.config.Server.ListenAddr,
		"storage", a.config.Storage.Driver,
		"tracker", a.config.Tracking.BaseURL)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.registry.Start(ctx)
	a.refresher.Start(ctx)
	go a.collectSystemMetrics(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests first so no new runs start.
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	a.dispatcher.Stop()
	a.refresher.Stop()
	a.registry.Stop()

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) collectSystemMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.UptimeSeconds.Set(time.Since(a.startTime).Seconds())
			a.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
