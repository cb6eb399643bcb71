package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/labscreen/screenresults/internal/invalidation"
)

var errNoDataset = errors.New("--dataset must be a positive id")

func (c *cli) publishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish invalidation events",
	}

	var (
		datasetID int64
		source    string
	)

	changed := &cobra.Command{
		Use:   "dataset-changed",
		Short: "Announce that a dataset's results changed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if datasetID <= 0 {
				return errNoDataset
			}

			pub, err := invalidation.NewPublisher(invalidation.LoadConfig(), source, c.logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := pub.Close(); err != nil {
					c.logger.Warn("Failed to close publisher", slog.Any("error", err))
				}
			}()

			ev, err := pub.DatasetChanged(cmd.Context(), datasetID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Published %s for dataset %d (%s)\n", ev.Type, ev.DatasetID, ev.ID)

			return nil
		},
	}

	changed.Flags().Int64Var(&datasetID, "dataset", 0, "dataset id")
	changed.Flags().StringVar(&source, "source", name+"-cli", "event source recorded in the message")

	cmd.AddCommand(changed)

	return cmd
}
