// Command screenresults serves screen result rows over HTTP and maintains the query cache.
//
// Logging:
//   - The base JSON logger is created in the root command's PersistentPreRunE
//   - It is passed to every component; components scope it with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/labscreen/screenresults/internal/api"
	"github.com/labscreen/screenresults/internal/config"
)

const (
	name          = "screenresults"
	configEnvVar  = "SCREENRESULTS_CONFIG"
	defaultLogKey = "log.level"
)

// cli carries state shared between subcommands.
type cli struct {
	configPath string
	logger     *slog.Logger
}

func main() {
	c := &cli{}

	root := &cobra.Command{
		Use:           name,
		Short:         "Screen result query service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv(configEnvVar),
		"path to a YAML config file (env "+configEnvVar+")")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", name, api.Version)
		},
	}

	root.AddCommand(
		c.serveCommand(),
		c.migrateCommand(),
		c.cacheCommand(),
		c.publishCommand(),
		versionCmd,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel runs above
	}
}

func (c *cli) init() error {
	if err := config.Load(c.configPath); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	c.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetLogLevel(defaultLogKey, slog.LevelInfo),
	}))

	return nil
}
