// Package storage is the PostgreSQL store behind screen result queries: the materialized
// query index, the positive overlap index and the data column catalog.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

const healthCheckTimeout = 5 * time.Second

// ErrNoDatabaseConnection is returned when a store is created without a connection.
var ErrNoDatabaseConnection = errors.New("no database connection")

// Connection is a pooled PostgreSQL connection.
type Connection struct {
	*sql.DB
}

// NewConnection opens a pool for cfg and verifies it with a ping.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	conn := &Connection{DB: db}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := conn.HealthCheck(ctx); err != nil {
		_ = db.Close()

		return nil, err
	}

	return conn, nil
}

// HealthCheck pings the database.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return ErrNoDatabaseConnection
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
