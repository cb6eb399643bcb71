package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/labscreen/screenresults/internal/config"
	"github.com/labscreen/screenresults/internal/storage"
	"github.com/labscreen/screenresults/migrations"
)

func (c *cli) migrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	run := func(op func(cmd *cobra.Command, r *migrations.Runner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			r, err := c.openRunner(cmd)
			if err != nil {
				return err
			}

			defer func() {
				_ = r.Close()
			}()

			return op(cmd, r)
		}
	}

	var force bool

	drop := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table (destructive)",
		RunE: run(func(cmd *cobra.Command, r *migrations.Runner) error {
			if !force && !confirm(cmd, "WARNING: This will drop all tables. Are you sure? (y/N): ") {
				fmt.Fprintln(cmd.OutOrStdout(), "Operation cancelled.")

				return nil
			}

			return r.Drop()
		}),
	}
	drop.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(_ *cobra.Command, r *migrations.Runner) error {
				return r.Up()
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: run(func(_ *cobra.Command, r *migrations.Runner) error {
				return r.Down()
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			RunE: run(func(cmd *cobra.Command, r *migrations.Runner) error {
				st, err := r.Status()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()

				switch {
				case !st.Applied:
					fmt.Fprintf(out, "No migrations applied (latest available: %d)\n", st.MaxVersion)
				case st.Dirty:
					fmt.Fprintf(out, "Version %d is DIRTY: fix the schema and force a version\n", st.Version)
				case st.Version < st.MaxVersion:
					fmt.Fprintf(out, "Version %d, %d pending\n", st.Version, st.MaxVersion-st.Version)
				default:
					fmt.Fprintf(out, "Version %d, up to date\n", st.Version)
				}

				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: run(func(cmd *cobra.Command, r *migrations.Runner) error {
				st, err := r.Status()
				if err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), st.Version)

				return nil
			}),
		},
		drop,
	)

	return cmd
}

func (c *cli) openRunner(cmd *cobra.Command) (*migrations.Runner, error) {
	return migrations.NewRunner(cmd.Context(), &migrations.Config{
		DatabaseURL:    storage.LoadConfig().DatabaseURL(),
		MigrationTable: config.GetString("database.migration_table", migrations.DefaultMigrationTable),
	})
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprint(cmd.OutOrStdout(), prompt)

	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')

	return strings.EqualFold(strings.TrimSpace(answer), "y")
}
