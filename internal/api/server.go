// Package api is the HTTP surface of the dispatcher.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sahil00000001/PremiumBulkMail/internal/config"
	"github.com/sahil00000001/PremiumBulkMail/internal/dispatch"
	"github.com/sahil00000001/PremiumBulkMail/internal/mailer"
	"github.com/sahil00000001/PremiumBulkMail/internal/metrics"
	"github.com/sahil00000001/PremiumBulkMail/internal/refresh"
	"github.com/sahil00000001/PremiumBulkMail/internal/store"
	"github.com/sahil00000001/PremiumBulkMail/internal/tracking"
)

// Server is the HTTP API server.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      store.Store
	dispatcher *dispatch.Orchestrator
	refresher  *refresh.Job
	tracker    *tracking.Gateway
	factory    mailer.Factory
	metrics    *metrics.Metrics
	cfg        *config.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates the API server and wires its routes.
func NewServer(cfg *config.Config, st store.Store, dispatcher *dispatch.Orchestrator, refresher *refresh.Job, tracker *tracking.Gateway, factory mailer.Factory, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		store:      st,
		dispatcher: dispatcher,
		refresher:  refresher,
		tracker:    tracker,
		factory:    factory,
		metrics:    m,
		cfg:        cfg,
		logger:     logger.With("component", "api"),
		startTime:  time.Now(),
	}

	s.setupRoutes()
	return s
}

// Router returns the configured handler, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/excel/sample", s.handleSampleDownload)
		r.Post("/excel/upload", s.handleUpload)
		r.Get("/recipients/{batchID}", s.handleRecipients)

		r.Post("/email/test", s.handleTestCredentials)
		r.Post("/send", s.handleSend)
		r.Get("/send/status", s.handleSendStatus)
		r.Get("/summary/{batchID}", s.handleSummary)

		r.Get("/template/{batchID}", s.handleGetTemplate)
		r.Post("/template/{batchID}", s.handleSaveTemplate)

		r.Get("/pixel/analytics/{pixelID}", s.handlePixelAnalytics)
		r.Get("/batch/tracking/{batchID}", s.handleBatchTracking)
		r.Get("/dashboard/global", s.handleGlobalDashboard)

		r.Post("/tracking/update/{trackingID}", s.handleRefreshRecipient)
		r.Post("/tracking/batch/{batchID}", s.handleRefreshBatch)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	// No WriteTimeout: the progress stream stays open for the whole run.
	s.httpServer = &http.Server{
		Addr:        s.cfg.Server.ListenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.cfg.Server.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
