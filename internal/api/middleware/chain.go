// Package middleware provides HTTP middleware components for the screen results API.
package middleware

import (
	"log/slog"
	"net/http"
)

type (
	// Option is a function that applies middleware to a handler.
	Option func(http.Handler) http.Handler
)

// Apply applies a chain of middleware options to a base handler.
// The first option becomes the outermost middleware.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithCorrelationID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}

	return handler
}

// WithCorrelationID returns an option that adds correlation ID middleware.
func WithCorrelationID() Option {
	return CorrelationID()
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithRateLimit returns an option that adds rate limiting middleware.
// A nil limiter disables rate limiting.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger, opts ...RateLimitOption) Option {
	if limiter == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return RateLimit(limiter, logger, opts...)
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}

// WithCORS returns an option that adds CORS middleware.
func WithCORS(config *CORSConfig) Option {
	return CORS(config)
}
