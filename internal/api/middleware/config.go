package middleware

import (
	"time"

	"github.com/labscreen/screenresults/internal/config"
)

// Config holds rate limiter configuration.
//
// Limits are requests per second. Every request counts against the global limit and
// against the limit of its client, identified by address. A burst of 0 is computed as
// 2 × rate.
type Config struct {
	GlobalRPS int
	ClientRPS int

	GlobalBurst int
	ClientBurst int

	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	MaxClients      int
}

// LoadConfig reads rate_limit.* settings.
func LoadConfig() *Config {
	return &Config{
		GlobalRPS:       config.GetInt("rate_limit.global_rps", defaultGlobalRPS),
		ClientRPS:       config.GetInt("rate_limit.client_rps", defaultClientRPS),
		GlobalBurst:     config.GetInt("rate_limit.global_burst", 0),
		ClientBurst:     config.GetInt("rate_limit.client_burst", 0),
		CleanupInterval: config.GetDuration("rate_limit.cleanup_interval", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetDuration("rate_limit.idle_timeout", rateLimiterIdleTimeout),
		MaxClients:      config.GetInt("rate_limit.max_clients", defaultMaxClients),
	}
}
