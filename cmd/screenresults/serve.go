package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/labscreen/screenresults/internal/api"
	"github.com/labscreen/screenresults/internal/api/middleware"
	"github.com/labscreen/screenresults/internal/config"
	"github.com/labscreen/screenresults/internal/invalidation"
	"github.com/labscreen/screenresults/internal/storage"
	"github.com/labscreen/screenresults/internal/sweeper"
	"github.com/labscreen/screenresults/migrations"
)

func (c *cli) serveCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the invalidation consumer and the cache sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")

	return cmd
}

func (c *cli) serve(ctx context.Context, migrate bool) error {
	logger := c.logger

	logger.Info("Starting screen results service", slog.String("version", api.Version))

	st, err := openStores(logger)
	if err != nil {
		return err
	}

	defer func() {
		_ = st.Close()
	}()

	if migrate {
		table := config.GetString("database.migration_table", migrations.DefaultMigrationTable)
		if err := migrations.ApplyAll(st.conn.DB, table); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	serverCfg := api.LoadServerConfig()

	var limiter middleware.RateLimiter

	if serverCfg.RateLimitEnabled {
		rlCfg := middleware.LoadConfig()
		inMemory := middleware.NewInMemoryRateLimiter(rlCfg)

		defer func() {
			_ = inMemory.Close()
		}()

		limiter = inMemory

		logger.Info("Rate limiter initialized",
			slog.Int("global_rps", rlCfg.GlobalRPS),
			slog.Int("client_rps", rlCfg.ClientRPS),
		)
	}

	server := api.NewServer(serverCfg, st.service, st.conn, limiter, logger)

	// Background jobs must be built before the first goroutine starts.
	jobs, err := c.backgroundJobs(st, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	for _, run := range jobs {
		g.Go(func() error {
			return run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("Screen results service stopped")

	return nil
}

// backgroundJobs builds the enabled invalidation consumer and cache sweeper.
func (c *cli) backgroundJobs(st *stores, logger *slog.Logger) ([]func(context.Context) error, error) {
	var (
		jobs     []func(context.Context) error
		consumer *invalidation.Consumer
	)

	if cfg := invalidation.LoadConfig(); cfg.Enabled {
		var err error

		consumer, err = invalidation.NewConsumer(cfg, st.service, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create invalidation consumer: %w", err)
		}

		jobs = append(jobs, consumer.Run)
	} else {
		logger.Info("Invalidation consumer disabled")
	}

	cfg := sweeper.LoadConfig()
	if !cfg.Enabled {
		logger.Info("Cache sweeper disabled")

		return jobs, nil
	}

	sw, err := sweeper.New(cfg, st.service, logger)
	if err != nil {
		if consumer != nil {
			_ = consumer.Close()
		}

		return nil, fmt.Errorf("failed to create cache sweeper: %w", err)
	}

	return append(jobs, sw.Run), nil
}

var _ api.HealthChecker = (*storage.Connection)(nil)
