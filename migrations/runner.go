// Package migrations holds the embedded database schema and the runner that applies it.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// Status describes the schema version of a database.
	Status struct {
		Version    uint
		Dirty      bool
		Applied    bool // false when no migration was ever applied
		MaxVersion uint
	}

	// Runner applies the embedded migrations using golang-migrate.
	Runner struct {
		migrate  *migrate.Migrate
		ownsDB   bool
		source   *Source
		logger   *slog.Logger
	}

	// migrateLogger forwards golang-migrate output to slog.
	migrateLogger struct {
		logger *slog.Logger
	}
)

var _ migrate.Logger = (*migrateLogger)(nil)

// NewRunner opens a connection from cfg and prepares a runner. Close releases it.
func NewRunner(ctx context.Context, cfg *Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration configuration: %w", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r, err := newRunner(db, cfg.MigrationTable)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	r.ownsDB = true
	r.logger.Info("Migration runner initialized", slog.String("config", cfg.String()))

	return r, nil
}

// NewRunnerWithDB prepares a runner over an existing connection. Close does not close db.
func NewRunnerWithDB(db *sql.DB, migrationTable string) (*Runner, error) {
	return newRunner(db, migrationTable)
}

func newRunner(db *sql.DB, migrationTable string) (*Runner, error) {
	logger := slog.Default().With(slog.String("component", "migrations"))
	embedded := Embedded()

	if err := embedded.Verify(); err != nil {
		return nil, fmt.Errorf("embedded migration validation failed: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationTable})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(embedded.FS(), ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance with embedded migrations: %w", err)
	}

	m.Log = &migrateLogger{logger: logger}

	return &Runner{
		migrate:  m,
		source:   embedded,
		logger:   logger,
	}, nil
}

// ApplyAll applies every pending migration on db.
func ApplyAll(db *sql.DB, migrationTable string) error {
	r, err := NewRunnerWithDB(db, migrationTable)
	if err != nil {
		return err
	}

	return r.Up()
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.source.Verify(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No new migrations to apply")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	r.logger.Info("All migrations applied successfully")

	return nil
}

// Down rolls back the last migration.
func (r *Runner) Down() error {
	if err := r.source.Verify(); err != nil {
		return fmt.Errorf("pre-operation validation failed: %w", err)
	}

	err := r.migrate.Steps(-1)
	if errors.Is(err, migrate.ErrNoChange) {
		r.logger.Info("No migrations to rollback")

		return nil
	}

	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	r.logger.Info("Last migration rolled back successfully")

	return nil
}

// Status reports the applied version against the embedded maximum.
func (r *Runner) Status() (Status, error) {
	status := Status{MaxVersion: uint(r.source.Latest())} // #nosec G115 - sequence numbers are small

	ver, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return status, nil
	}

	if err != nil {
		return status, fmt.Errorf("failed to get migration version: %w", err)
	}

	status.Version = ver
	status.Dirty = dirty
	status.Applied = true

	return status, nil
}

// Drop drops every table in the database.
func (r *Runner) Drop() error {
	r.logger.Warn("Dropping all tables")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop operation failed: %w", err)
	}

	return nil
}

// Close releases the migrate instance. A runner built over a caller's connection leaves it
// open: golang-migrate closes the underlying *sql.DB along with its driver.
func (r *Runner) Close() error {
	if !r.ownsDB {
		return nil
	}

	sourceErr, dbErr := r.migrate.Close()

	return errors.Join(sourceErr, dbErr)
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
