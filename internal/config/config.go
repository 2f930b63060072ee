package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	UpstreamBaseURL   string
	UpstreamCameraURL string
	UpstreamTimeout   time.Duration
	UpstreamRateLimit float64

	BreakerEnabled  bool
	BreakerFailures int
	BreakerTimeout  time.Duration

	DatabaseURL string

	DistrictConcurrency int
	StationConcurrency  int
	HistoryRetention    time.Duration
	CleanupBatchSize    int

	WaterLevelInterval     time.Duration
	StationSyncInterval    time.Duration
	CameraSyncInterval     time.Duration
	HistoryCleanupInterval time.Duration
	SyncOnStart            bool

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// CamerasEnabled reports whether a camera endpoint is configured.
func (c *Config) CamerasEnabled() bool {
	return c.UpstreamCameraURL != ""
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		UpstreamBaseURL:   strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL")), "/"),
		UpstreamCameraURL: strings.TrimRight(strings.TrimSpace(os.Getenv("UPSTREAM_CAMERA_URL")), "/"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		KafkaTopic:        sharedcfg.EnvOrDefault("KAFKA_TOPIC", "river-level-events"),
		HTTPAddr:          sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:          sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:         sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:   shutdownTimeout,
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"UPSTREAM_TIMEOUT", "15s", &cfg.UpstreamTimeout},
		{"UPSTREAM_BREAKER_TIMEOUT", "60s", &cfg.BreakerTimeout},
		{"HISTORY_RETENTION", "3h", &cfg.HistoryRetention},
		{"WATERLEVEL_SYNC_INTERVAL", "15m", &cfg.WaterLevelInterval},
		{"STATION_SYNC_INTERVAL", "168h", &cfg.StationSyncInterval},
		{"CAMERA_SYNC_INTERVAL", "168h", &cfg.CameraSyncInterval},
		{"HISTORY_CLEANUP_INTERVAL", "24h", &cfg.HistoryCleanupInterval},
	}
	for _, d := range durations {
		if *d.dst, err = parsePositiveDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key      string
		def      int
		min, max int
		dst      *int
	}{
		{"UPSTREAM_BREAKER_FAILURES", 5, 1, 1000, &cfg.BreakerFailures},
		{"DISTRICT_CONCURRENCY", 4, 1, 64, &cfg.DistrictConcurrency},
		{"STATION_CONCURRENCY", 8, 1, 256, &cfg.StationConcurrency},
		{"CLEANUP_BATCH_SIZE", 1000, 1, 10000, &cfg.CleanupBatchSize},
	}
	for _, n := range ints {
		if *n.dst, err = parseIntInRange(n.key, n.def, n.min, n.max); err != nil {
			return nil, err
		}
	}

	rateLimit := sharedcfg.EnvOrDefault("UPSTREAM_RATE_LIMIT", "5")
	cfg.UpstreamRateLimit, err = strconv.ParseFloat(rateLimit, 64)
	if err != nil || cfg.UpstreamRateLimit < 0 {
		return nil, errors.New("invalid UPSTREAM_RATE_LIMIT")
	}

	cfg.BreakerEnabled = parseBool("UPSTREAM_BREAKER_ENABLED", true)
	cfg.SyncOnStart = parseBool("SYNC_ON_START", true)

	// Kafka publishing is opt-in: setting brokers enables it unless KAFKA_ENABLED overrides.
	brokers := os.Getenv("KAFKA_BROKERS")
	cfg.KafkaBrokers = sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"))
	cfg.KafkaEnabled = parseBool("KAFKA_ENABLED", brokers != "")

	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when Kafka is enabled")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseIntInRange(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "":
		return def
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
