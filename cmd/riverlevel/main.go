// Command riverlevel mirrors upstream river-level telemetry into a local store.
//
// Usage:
//
//	riverlevel serve                 # scheduler + ops HTTP server
//	riverlevel sync waterlevels      # one cycle, for an external cron
//	riverlevel migrate               # apply the Postgres schema
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/river-level-sync/internal/config"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// cli carries state loaded once by the root command for every subcommand.
type cli struct {
	cfg        *config.Config
	logger     *slog.Logger
	newMetrics func() *observability.Metrics
}

func newRootCmd() *cobra.Command {
	return (&cli{newMetrics: observability.NewMetrics}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "riverlevel",
		Short:         "River-level telemetry sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = observability.NewLogger(cfg)
			return nil
		},
	}
	root.AddCommand(newServeCmd(c), newSyncCmd(c), newMigrateCmd(c))
	return root
}
