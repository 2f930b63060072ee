package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/river-level-sync/internal/adapter/kafka"
	"github.com/couchcryptid/river-level-sync/internal/adapter/memory"
	"github.com/couchcryptid/river-level-sync/internal/adapter/postgres"
	"github.com/couchcryptid/river-level-sync/internal/adapter/upstream"
	"github.com/couchcryptid/river-level-sync/internal/config"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	"github.com/couchcryptid/river-level-sync/internal/pipeline"
)

// repository is a pipeline.Repository that can also serve the latest snapshot.
type repository interface {
	pipeline.Repository
	httpadapter.SnapshotReader
}

// app holds the wired service graph shared by serve and sync.
type app struct {
	orchestrator *pipeline.Orchestrator
	repo         repository
	readiness    httpadapter.Readiness
	closers      []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	a := &app{}

	if cfg.DatabaseURL != "" {
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		a.repo = store
		a.readiness = append(a.readiness, store)
		a.closers = append(a.closers, store.Close)
		logger.Info("postgres repository enabled")
	} else {
		a.repo = memory.New()
		logger.Warn("DATABASE_URL not set, using in-memory repository")
	}

	var up pipeline.Upstream = upstream.NewClient(cfg, logger, metrics)
	if cfg.BreakerEnabled {
		up = upstream.NewBreakerClient(up, cfg.BreakerFailures, cfg.BreakerTimeout, logger, metrics)
		logger.Info("upstream circuit breaker enabled", "failures", cfg.BreakerFailures, "timeout", cfg.BreakerTimeout)
	}

	var pub pipeline.Publisher
	if cfg.KafkaEnabled {
		p := kafkaadapter.NewPublisher(cfg, logger)
		pub = p
		a.closers = append(a.closers, func() {
			if err := p.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		})
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	if !cfg.CamerasEnabled() {
		logger.Info("camera sync disabled, UPSTREAM_CAMERA_URL not set")
	}

	a.orchestrator = pipeline.New(up, a.repo, pub, logger, metrics, pipeline.Options{
		DistrictConcurrency: cfg.DistrictConcurrency,
		StationConcurrency:  cfg.StationConcurrency,
		Retention:           cfg.HistoryRetention,
		CleanupBatchSize:    cfg.CleanupBatchSize,
		CamerasEnabled:      cfg.CamerasEnabled(),
	})
	a.readiness = append(httpadapter.Readiness{a.orchestrator}, a.readiness...)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func intervalFor(cfg *config.Config, kind pipeline.Kind) time.Duration {
	switch kind {
	case pipeline.KindStations:
		return cfg.StationSyncInterval
	case pipeline.KindCameras:
		return cfg.CameraSyncInterval
	case pipeline.KindCleanup:
		return cfg.HistoryCleanupInterval
	default:
		return cfg.WaterLevelInterval
	}
}
