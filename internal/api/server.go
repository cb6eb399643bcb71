// Package api provides the HTTP API of the screen results service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labscreen/screenresults/internal/api/middleware"
	"github.com/labscreen/screenresults/internal/schema"
	"github.com/labscreen/screenresults/internal/screenresult"
	"github.com/labscreen/screenresults/internal/storage"
)

type (
	// ScreenResults is the service behind the screen result endpoints.
	ScreenResults interface {
		Rows(ctx context.Context, req screenresult.Request) (*screenresult.Page, error)
		Schema(ctx context.Context, datasetID int64, withMutualPositives bool) (*schema.Schema, error)
		MutualPositives(ctx context.Context, datasetID int64) ([]schema.FieldSpec, error)
		ClearDataset(ctx context.Context, datasetID int64) (storage.EvictionResult, error)
		ClearCache(ctx context.Context) (storage.EvictionResult, error)
		Stats(ctx context.Context) (storage.CacheStats, error)
	}

	// HealthChecker reports whether the store is reachable.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer  *http.Server
		handler     http.Handler
		logger      *slog.Logger
		config      *ServerConfig
		startTime   time.Time
		service     ScreenResults
		health      HealthChecker
		rateLimiter middleware.RateLimiter
	}
)

// NewServer creates the server and its middleware stack.
//
// Parameters:
//   - cfg: server configuration (address, timeouts, CORS)
//   - service: screen result service
//   - health: readiness check of the store (nil reports always ready)
//   - rateLimiter: rate limiter (nil disables rate limiting)
//   - logger: base logger
func NewServer(
	cfg *ServerConfig,
	service ScreenResults,
	health HealthChecker,
	rateLimiter middleware.RateLimiter,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		logger:      logger.With(slog.String("component", "api")),
		config:      cfg,
		service:     service,
		health:      health,
		rateLimiter: rateLimiter,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	if rateLimiter == nil {
		server.logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Outermost first: correlation id, recovery, rate limit, request log, CORS.
	server.handler = middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(server.logger),
		middleware.WithRateLimit(rateLimiter, server.logger, middleware.TrustForwardedFor(cfg.TrustForwardedFor)),
		middleware.WithRequestLogger(server.logger),
		middleware.WithCORS(cfg.CORS()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      server.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler returns the HTTP handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server failed to listen: %w", err)
	}

	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.startTime = time.Now()

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting screen results API server",
			slog.String("address", listener.Addr().String()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
		)

		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}

		close(serverErrors)
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed", slog.Any("error", err))

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
