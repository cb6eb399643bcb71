package main

import (
	"fmt"
	"log/slog"

	"github.com/labscreen/screenresults/internal/schema"
	"github.com/labscreen/screenresults/internal/screenresult"
	"github.com/labscreen/screenresults/internal/storage"
)

// stores is the wired storage layer and the service built on it.
type stores struct {
	conn    *storage.Connection
	cache   *storage.CacheStore
	schemas *storage.SchemaStore
	overlap *storage.OverlapIndex
	service *screenresult.Service
}

func openStores(logger *slog.Logger) (*stores, error) {
	storageCfg := storage.LoadConfig()

	conn, err := storage.NewConnection(storageCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s, err := newStores(conn, logger)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	logger.Info("Storage initialized",
		slog.String("database_url", storageCfg.MaskDatabaseURL()),
		slog.Int("max_open_conns", storageCfg.MaxOpenConns),
		slog.Int("max_idle_conns", storageCfg.MaxIdleConns),
	)

	return s, nil
}

func newStores(conn *storage.Connection, logger *slog.Logger) (*stores, error) {
	cache, err := storage.NewCacheStore(conn, storage.WithCacheLogger(logger))
	if err != nil {
		return nil, err
	}

	schemas, err := storage.NewSchemaStore(conn, logger)
	if err != nil {
		return nil, err
	}

	overlap, err := storage.NewOverlapIndex(conn, logger)
	if err != nil {
		return nil, err
	}

	base, err := schema.LoadBaseFields(schema.LoadLoaderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load base fields: %w", err)
	}

	cfg := screenresult.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service configuration: %w", err)
	}

	service := screenresult.NewService(schema.NewRegistry(base, schemas), cache, overlap, schemas, cfg, logger)

	return &stores{
		conn:    conn,
		cache:   cache,
		schemas: schemas,
		overlap: overlap,
		service: service,
	}, nil
}

func (s *stores) Close() error {
	return s.conn.Close()
}
