package main

import (
	"fmt"

	"github.com/couchcryptid/river-level-sync/internal/pipeline"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "sync <waterlevels|stations|cameras|cleanup>",
		Short:     "Run one sync cycle and print its result",
		Long:      "Run one sync cycle and print its result as JSON. Exits non-zero only when the whole cycle fails; per-district and per-station errors are listed in the result.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"waterlevels", "stations", "cameras", "cleanup"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := pipeline.ParseKind(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger, c.newMetrics())
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.orchestrator.Run(cmd.Context(), kind)
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return runErr
		},
	}
}
