package main

import (
	"context"
	"errors"

	"github.com/couchcryptid/river-level-sync/internal/adapter/httpadapter"
	"github.com/couchcryptid/river-level-sync/internal/pipeline"
	"github.com/couchcryptid/river-level-sync/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), c)
		},
	}
}

func runServe(ctx context.Context, c *cli) error {
	cfg, logger := c.cfg, c.logger
	metrics := c.newMetrics()

	a, err := newApp(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer a.Close()

	sup := scheduler.NewSupervisor("riverlevel", cfg.ShutdownTimeout, logger)
	sup.Add(httpadapter.NewServer(cfg.HTTPAddr, a.readiness, a.orchestrator, a.repo, cfg.ShutdownTimeout, logger))

	clock := clockwork.NewRealClock()
	for _, kind := range pipeline.Kinds {
		if !a.orchestrator.Enabled(kind) {
			continue
		}
		svc, err := scheduler.NewService(scheduler.SyncJob(a.orchestrator, kind, intervalFor(cfg, kind), cfg.SyncOnStart), clock, logger)
		if err != nil {
			return err
		}
		sup.Add(svc)
	}

	logger.Info("service starting", "http_addr", cfg.HTTPAddr, "sync_on_start", cfg.SyncOnStart)
	err = sup.Serve(ctx)
	logger.Info("shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
