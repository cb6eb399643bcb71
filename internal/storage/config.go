package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/labscreen/screenresults/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")
)

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
}

// LoadConfig loads PostgreSQL configuration from the config file and environment with fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetString("database.url", ""), // DatabaseURL is private for obvious reasons.
		MaxOpenConns:    config.GetInt("database.max_open_conns", defaultMaxOpenConns),
		MaxIdleConns:    config.GetInt("database.max_idle_conns", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetDuration("database.conn_max_lifetime", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetDuration("database.conn_max_idle_time", defaultConnMaxIdleTime),
	}
}

// NewConfig creates a Config for databaseURL with default pool settings.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// DatabaseURL returns the unmasked connection string.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// Validate checks if the PostgreSQL configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	// The last @ separates userinfo from host; passwords may contain @.
	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	username, password, found := strings.Cut(userInfo, ":")
	if !found || password == "" {
		return c.databaseURL
	}

	return c.databaseURL[:schemeEnd] + "://" + username + ":***" + afterScheme[lastAtIndex:]
}
