package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/labscreen/screenresults/internal/api/middleware"
	"github.com/labscreen/screenresults/internal/config"
)

const (
	defaultPort       int    = 8080
	maxPort           int    = 65535
	defaultHost       string = "0.0.0.0"
	defaultCORSMaxAge int    = 86400
	defaultTimeout           = 30 * time.Second
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server configuration. Runtime dependencies are passed to
// NewServer separately.
type ServerConfig struct {
	Port               int
	Host               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int
	RateLimitEnabled   bool
	TrustForwardedFor  bool
}

// LoadServerConfig reads server.* and cors.* settings.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetInt("server.port", defaultPort),
		Host:            config.GetString("server.host", defaultHost),
		ReadTimeout:     config.GetDuration("server.read_timeout", defaultTimeout),
		WriteTimeout:    config.GetDuration("server.write_timeout", defaultTimeout),
		ShutdownTimeout: config.GetDuration("server.shutdown_timeout", defaultTimeout),
		// "*" is the development default and should be restricted in production.
		CORSAllowedOrigins: config.GetStringList("cors.allowed_origins", []string{"*"}),
		CORSAllowedMethods: config.GetStringList("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders: config.GetStringList("cors.allowed_headers",
			[]string{"Content-Type", middleware.CorrelationHeader}),
		CORSMaxAge:        config.GetInt("cors.max_age", defaultCORSMaxAge),
		RateLimitEnabled:  config.GetBool("rate_limit.enabled", true),
		TrustForwardedFor: config.GetBool("rate_limit.trust_forwarded_for", false),
	}
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CORS returns the CORS middleware settings.
func (c *ServerConfig) CORS() *middleware.CORSConfig {
	return &middleware.CORSConfig{
		AllowedOrigins: c.CORSAllowedOrigins,
		AllowedMethods: c.CORSAllowedMethods,
		AllowedHeaders: c.CORSAllowedHeaders,
		ExposedHeaders: []string{middleware.CorrelationHeader},
		MaxAge:         c.CORSMaxAge,
	}
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > maxPort {
		return fmt.Errorf("%w: %d, must be between 1 and %d", ErrInvalidPort, c.Port, maxPort)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}

	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidShutdownTimeout, c.ShutdownTimeout)
	}

	return nil
}
