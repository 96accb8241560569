package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/sim-control/simbridge/internal/telemetry"
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <recording>",
		Short: "Print a flight recording as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topics, _ := cmd.Flags().GetStringSlice("topic")
			limit, _ := cmd.Flags().GetInt("limit")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open recording: %w", err)
			}
			defer f.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			errLimit := errors.New("limit reached")
			err = telemetry.ReadRecords(f, func(rec telemetry.Record) error {
				if len(topics) > 0 && !slices.Contains(topics, rec.Topic) {
					return nil
				}
				if limit > 0 && n >= limit {
					return errLimit
				}
				n++
				return enc.Encode(rec)
			})
			if err != nil && !errors.Is(err, errLimit) {
				return fmt.Errorf("failed to read recording: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("topic", nil, "Only print these topics")
	cmd.Flags().Int("limit", 0, "Stop after this many records (0 = all)")
	return cmd
}
