package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labscreen/screenresults/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	expectedURLParts       = 2
	contentTypeProblemJSON = "application/problem+json"
	serviceName            = "screenresults"
)

// Version is reported by /health and the X-Screenresults-Version header. Set at build time
// with -ldflags "-X github.com/labscreen/screenresults/internal/api.Version=...".
var Version = "dev" //nolint: gochecknoglobals

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route pairs a mux pattern with its handler.
	Route struct {
		Path    string
		Handler http.HandlerFunc
	}
)

func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},
		Route{"GET /ready", s.handleReady},
		Route{"GET /health", s.handleHealth},
		Route{"/", s.handleNotFound},
	)

	mux.HandleFunc("GET /api/v1/screenresults/{id}", s.handleRows)
	mux.HandleFunc("GET /api/v1/screenresults/{id}/schema", s.handleSchema)
	mux.HandleFunc("GET /api/v1/screenresults/{id}/mutualpositives", s.handleMutualPositives)
	mux.HandleFunc("POST /api/v1/screenresults/{id}/clear_cache", s.handleClearDatasetCache)
	mux.HandleFunc("GET /api/v1/cache", s.handleCacheStats)
	mux.HandleFunc("POST /api/v1/cache/clear", s.handleClearCache)
}

// registerPublicRoutes registers routes that bypass rate limiting. Only health endpoints
// belong here.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// "GET /ping" is matched against r.URL.Path "/ping".
		path := route.Path
		if parts := strings.Fields(path); len(parts) == expectedURLParts {
			path = parts[1]
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Screenresults-Version", Version)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.Any("error", err),
		)
	}
}

// handleReady answers readiness probes: 200 when the store is reachable, 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, "ready"

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Error("Storage health check failed",
				slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
				slog.Any("error", err),
			)

			status, body = http.StatusServiceUnavailable, "storage unavailable"
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write ready response", slog.Any("error", err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	w.Header().Set("X-Screenresults-Version", Version)
	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     Version,
		Uptime:      uptime,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals before writing headers so an encoding failure can still become a 500.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.Any("error", err),
		)
	}
}
