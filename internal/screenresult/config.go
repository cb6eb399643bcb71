package screenresult

import (
	"errors"
	"fmt"
	"time"

	"github.com/labscreen/screenresults/internal/config"
)

const (
	defaultPageSize        = 25
	defaultMaxPageSize     = 1000
	defaultPopulateRetries = 3
	defaultRetryBackoff    = 50 * time.Millisecond
	defaultCacheMaxRows    = 5_000_000
	defaultCacheMaxAge     = 24 * time.Hour
)

var (
	// ErrInvalidPageSize is returned when page size limits are inconsistent.
	ErrInvalidPageSize = errors.New("invalid page size configuration")

	// ErrInvalidCacheBudget is returned for a negative cache budget or age.
	ErrInvalidCacheBudget = errors.New("invalid cache budget")
)

// Config tunes request handling and cache maintenance.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int // 0 disables the cap
	PopulateRetries int
	RetryBackoff    time.Duration
	CacheMaxRows    int64         // 0 disables budget eviction
	CacheMaxAge     time.Duration // 0 disables age eviction
}

// LoadConfig reads the service configuration.
func LoadConfig() *Config {
	return &Config{
		DefaultPageSize: config.GetInt("default_page_size", defaultPageSize),
		MaxPageSize:     config.GetInt("max_page_size", defaultMaxPageSize),
		PopulateRetries: config.GetInt("populate_retries", defaultPopulateRetries),
		RetryBackoff:    config.GetDuration("populate_retry_backoff", defaultRetryBackoff),
		CacheMaxRows:    config.GetInt64("cache.max_rows", defaultCacheMaxRows),
		CacheMaxAge:     config.GetDuration("cache.max_age", defaultCacheMaxAge),
	}
}

// DefaultConfig returns the defaults LoadConfig falls back to.
func DefaultConfig() *Config {
	return &Config{
		DefaultPageSize: defaultPageSize,
		MaxPageSize:     defaultMaxPageSize,
		PopulateRetries: defaultPopulateRetries,
		RetryBackoff:    defaultRetryBackoff,
		CacheMaxRows:    defaultCacheMaxRows,
		CacheMaxAge:     defaultCacheMaxAge,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultPageSize < 0 || c.MaxPageSize < 0 {
		return fmt.Errorf("%w: page sizes must not be negative", ErrInvalidPageSize)
	}

	if c.MaxPageSize > 0 && c.DefaultPageSize > c.MaxPageSize {
		return fmt.Errorf("%w: default page size %d exceeds max %d", ErrInvalidPageSize, c.DefaultPageSize, c.MaxPageSize)
	}

	if c.CacheMaxRows < 0 || c.CacheMaxAge < 0 {
		return ErrInvalidCacheBudget
	}

	return nil
}
