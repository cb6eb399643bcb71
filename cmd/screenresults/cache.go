package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/labscreen/screenresults/internal/storage"
)

var errNoEvictionMode = errors.New("exactly one of --all, --uri, --older-than or --max-rows is required")

type evictFlags struct {
	all       bool
	uri       string
	olderThan time.Duration
	maxRows   int64
}

func (c *cli) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and evict cached queries",
	}

	var flags evictFlags

	evict := &cobra.Command{
		Use:   "evict",
		Short: "Evict cached queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := flags.validate(); err != nil {
				return err
			}

			st, err := openStores(c.logger)
			if err != nil {
				return err
			}

			defer func() {
				_ = st.Close()
			}()

			res, err := flags.run(cmd, st.cache)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d queries (%d rows)\n", res.Queries, res.Rows)

			return nil
		},
	}

	evict.Flags().BoolVar(&flags.all, "all", false, "evict every cached query")
	evict.Flags().StringVar(&flags.uri, "uri", "", "evict queries over a resource, e.g. /screenresult/7")
	evict.Flags().DurationVar(&flags.olderThan, "older-than", 0, "evict queries created before now minus this age")
	evict.Flags().Int64Var(&flags.maxRows, "max-rows", 0, "evict oldest queries until at most this many rows remain")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show cache size",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStores(c.logger)
			if err != nil {
				return err
			}

			defer func() {
				_ = st.Close()
			}()

			s, err := st.cache.Stats(cmd.Context())
			if err != nil {
				return err
			}

			printStats(cmd.OutOrStdout(), s)

			return nil
		},
	}

	cmd.AddCommand(evict, stats)

	return cmd
}

func (f evictFlags) validate() error {
	modes := 0

	for _, set := range []bool{f.all, f.uri != "", f.olderThan > 0, f.maxRows > 0} {
		if set {
			modes++
		}
	}

	if modes != 1 {
		return errNoEvictionMode
	}

	return nil
}

func (f evictFlags) run(cmd *cobra.Command, cache *storage.CacheStore) (storage.EvictionResult, error) {
	ctx := cmd.Context()

	switch {
	case f.all:
		return cache.EvictAll(ctx)
	case f.uri != "":
		return cache.EvictByURI(ctx, f.uri)
	case f.olderThan > 0:
		return cache.EvictByAge(ctx, time.Now().Add(-f.olderThan))
	default:
		return cache.EvictByBudget(ctx, f.maxRows)
	}
}

func printStats(w io.Writer, s storage.CacheStats) {
	fmt.Fprintf(w, "Queries: %d\nRows:    %d\n", s.Queries, s.Rows)

	if s.Oldest != nil {
		fmt.Fprintf(w, "Oldest:  %s\n", s.Oldest.Format(time.RFC3339))
	}
}
