// Package api provides the HTTP server of SalesPipe.
//
// It receives the Evolution API webhook, answers health probes and exposes
// Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/flow"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server timeouts.
const (
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	// MaxWebhookBody caps the accepted webhook payload.
	MaxWebhookBody = 10 << 20
)

// EventHandler processes one decoded webhook event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *models.WebhookEvent) flow.Result
}

// Compile-time check that SalesFlow implements EventHandler.
var _ EventHandler = (*flow.SalesFlow)(nil)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Gatherer prometheus.Gatherer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address. It defaults to API_ADDR, then :8080.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithGatherer sets the registry served on /metrics. It defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	handler EventHandler
	addr    string
	router  chi.Router
}

// NewServer creates a Server for handler.
func NewServer(handler EventHandler, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("API_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{handler: handler, addr: cfg.Addr}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverer)
	r.Post("/webhook", s.webhookHandler)
	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	s.router = r
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
