package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/couchcryptid/river-level-sync/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Level(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})
	ctx := context.Background()
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.Same(t, logger, slog.Default())
}

func TestNewLogger_TextDebug(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := NewLogger(&config.Config{LogLevel: "DEBUG", LogFormat: "text"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	_, isText := logger.Handler().(*slog.TextHandler)
	assert.True(t, isText)
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()
	for _, c := range m.collectors() {
		require.NoError(t, reg.Register(c))
	}

	m.SyncCycles.WithLabelValues("waterlevels", "success").Inc()
	m.HistoryAppended.Add(3)
	assert.InDelta(t, 1, testutil.ToFloat64(m.SyncCycles.WithLabelValues("waterlevels", "success")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.HistoryAppended), 1e-9)
}
