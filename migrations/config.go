package migrations

import (
	"errors"
	"fmt"
	"net/url"
)

// DefaultMigrationTable tracks applied migrations unless configured otherwise.
const DefaultMigrationTable = "schema_migrations"

var (
	// ErrDatabaseURLEmpty indicates no database URL was configured.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrMigrationTableEmpty indicates no migration tracking table was configured.
	ErrMigrationTableEmpty = errors.New("migration table cannot be empty")
)

// Config holds all configuration for the migration runner.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// MigrationTable is the name of the table to track migrations
	MigrationTable string
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return ErrMigrationTableEmpty
	}

	return nil
}

// String returns a string representation of the configuration (safe for logging).
func (c *Config) String() string {
	return fmt.Sprintf("Config{DatabaseURL: %s, MigrationTable: %s}",
		maskDatabaseURL(c.DatabaseURL), c.MigrationTable)
}

// maskDatabaseURL hides the password of a URL-form connection string.
// Key/value DSNs are returned unchanged.
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}

	if _, hasPassword := u.User.Password(); !hasPassword {
		return raw
	}

	u.User = url.UserPassword(u.User.Username(), "***")

	return u.String()
}
