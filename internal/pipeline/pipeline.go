package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Upstream fetches raw payloads from the river-level API. Each call is a single
// attempt; retries are left to the next scheduled cycle.
type Upstream interface {
	FetchSummary(ctx context.Context) ([]domain.RawDistrictSummary, error)
	FetchDistrictDetail(ctx context.Context, districtID string) ([]domain.RawStation, error)
	FetchStationMetadata(ctx context.Context, districtID string) ([]domain.RawStation, error)
	FetchCameraMetadata(ctx context.Context, districtID string) ([]domain.RawCamera, error)
}

// DistrictStore looks up and lazily creates districts.
type DistrictStore interface {
	FindDistrictByName(ctx context.Context, name string) (domain.District, bool, error)
	// InsertDistrict returns the stored district, which is the existing row
	// when another writer created the same name first.
	InsertDistrict(ctx context.Context, d domain.District) (domain.District, error)
}

// StationStore persists stations keyed by external id.
type StationStore interface {
	// UpsertStationByExternalID overwrites all mutable fields of the station
	// with the same external id, or inserts it. The stored record is returned
	// with its persistent id.
	UpsertStationByExternalID(ctx context.Context, st domain.Station) (domain.Station, error)
	FindStationByExternalID(ctx context.Context, externalID string) (domain.Station, bool, error)
}

// LevelStore persists current levels and the history time series.
type LevelStore interface {
	UpsertCurrentLevelByStation(ctx context.Context, lvl domain.CurrentLevel) error
	// AppendHistoryPoint reports false when a point for the same station and
	// timestamp already exists.
	AppendHistoryPoint(ctx context.Context, p domain.HistoryPoint) (bool, error)
	// DeleteHistoryBatchOlderThan removes at most batchSize points with a
	// timestamp strictly before cutoff and returns how many were removed.
	DeleteHistoryBatchOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// CameraStore persists cameras keyed by external id.
type CameraStore interface {
	UpsertCameraByExternalID(ctx context.Context, c domain.Camera) (domain.Camera, error)
	// DeletePlaceholderCamera removes the placeholder with externalID and
	// reports whether one existed. Real cameras are never removed.
	DeletePlaceholderCamera(ctx context.Context, externalID string) (bool, error)
}

// SummaryStore appends district summary snapshots.
type SummaryStore interface {
	InsertDistrictSummarySnapshot(ctx context.Context, s domain.DistrictSummarySnapshot) error
}

// Repository is the full persistence surface used by the orchestrator.
type Repository interface {
	DistrictStore
	StationStore
	LevelStore
	CameraStore
	SummaryStore
}

// Publisher emits events derived from a completed water-level cycle.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap domain.DistrictSummarySnapshot) error
	PublishAlerts(ctx context.Context, events []domain.AlertEvent) error
}

var (
	// ErrSyncInProgress is returned when a cycle of the same kind is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSyncDisabled is returned for a kind that is not configured.
	ErrSyncDisabled = errors.New("sync kind disabled")
	// ErrUnknownKind is returned by ParseKind and Run for an unrecognised kind.
	ErrUnknownKind = errors.New("unknown sync kind")
)

// Options tunes the orchestrator. Zero values fall back to defaults.
type Options struct {
	DistrictConcurrency int
	StationConcurrency  int
	Retention           time.Duration
	CleanupBatchSize    int
	CamerasEnabled      bool
	Clock               clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.DistrictConcurrency <= 0 {
		o.DistrictConcurrency = 4
	}
	if o.StationConcurrency <= 0 {
		o.StationConcurrency = 8
	}
	if o.Retention <= 0 {
		o.Retention = 3 * time.Hour
	}
	if o.CleanupBatchSize <= 0 {
		o.CleanupBatchSize = 1000
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// kindRun tracks one sync kind: the overlap guard, current state, and last result.
type kindRun struct {
	running atomic.Bool
	state   atomic.Int32

	mu   sync.RWMutex
	last *CycleResult
}

// Orchestrator runs the water-level, station-metadata, camera-metadata, and
// history-cleanup cycles. Different kinds may run concurrently; a second
// cycle of the same kind is refused with ErrSyncInProgress.
type Orchestrator struct {
	upstream  Upstream
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	districts *districtResolver
	ready     atomic.Bool
	runs      map[Kind]*kindRun
}

// New creates an Orchestrator. A nil publisher disables event publishing.
func New(up Upstream, repo Repository, pub Publisher, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	o := &Orchestrator{
		upstream:  up,
		repo:      repo,
		publisher: pub,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
		districts: newDistrictResolver(repo, opts.Clock, metrics),
		runs:      make(map[Kind]*kindRun, len(Kinds)),
	}
	for _, k := range Kinds {
		o.runs[k] = &kindRun{}
	}
	return o
}

// CheckReadiness returns nil once a water-level cycle has completed successfully,
// or an error describing why the service is not yet ready.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("no successful water-level sync yet")
	}
	return nil
}

// Enabled reports whether the given kind can run with the current options.
func (o *Orchestrator) Enabled(kind Kind) bool {
	if kind == KindCameras {
		return o.opts.CamerasEnabled
	}
	_, ok := o.runs[kind]
	return ok
}

// RunWaterLevelSync fetches the summary and every district's readings, then
// upserts stations and current levels and appends history.
func (o *Orchestrator) RunWaterLevelSync(ctx context.Context) (CycleResult, error) {
	return o.Run(ctx, KindWaterLevels)
}

// RunStationMetadataSync upserts station attributes for every district.
func (o *Orchestrator) RunStationMetadataSync(ctx context.Context) (CycleResult, error) {
	return o.Run(ctx, KindStations)
}

// RunCameraMetadataSync upserts camera records for every district.
func (o *Orchestrator) RunCameraMetadataSync(ctx context.Context) (CycleResult, error) {
	return o.Run(ctx, KindCameras)
}

// RunHistoryCleanup purges history points older than the retention window.
func (o *Orchestrator) RunHistoryCleanup(ctx context.Context) (CycleResult, error) {
	return o.Run(ctx, KindCleanup)
}

// Run executes one cycle of the given kind. The returned error is non-nil only
// for whole-cycle failures; isolated failures are listed in the result.
func (o *Orchestrator) Run(ctx context.Context, kind Kind) (CycleResult, error) {
	kr, ok := o.runs[kind]
	if !ok {
		return CycleResult{Kind: kind}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !o.Enabled(kind) {
		return CycleResult{Kind: kind}, fmt.Errorf("%s: %w", kind, ErrSyncDisabled)
	}
	if !kr.running.CompareAndSwap(false, true) {
		o.metrics.SyncCycles.WithLabelValues(string(kind), "skipped").Inc()
		o.logger.Warn("sync skipped, previous cycle still running", "kind", kind)
		return CycleResult{Kind: kind}, ErrSyncInProgress
	}
	defer kr.running.Store(false)

	o.metrics.SyncRunning.WithLabelValues(string(kind)).Set(1)
	defer o.metrics.SyncRunning.WithLabelValues(string(kind)).Set(0)

	c := newCycle(kind, o.opts.Clock.Now(), kr)
	o.logger.Info("sync started", "kind", kind)

	var err error
	switch kind {
	case KindWaterLevels:
		err = o.waterLevels(ctx, c)
	case KindStations:
		err = o.stationMetadata(ctx, c)
	case KindCameras:
		err = o.cameraMetadata(ctx, c)
	case KindCleanup:
		err = o.historyCleanup(ctx, c)
	}
	c.setState(StateIdle)

	res := c.finish(o.opts.Clock.Now(), err == nil)
	o.record(kr, res, err)

	if err == nil && kind == KindWaterLevels {
		o.ready.Store(true)
	}
	return res, err
}

func (o *Orchestrator) record(kr *kindRun, res CycleResult, err error) {
	kind := string(res.Kind)
	o.metrics.SyncDuration.WithLabelValues(kind).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())

	switch {
	case err != nil:
		o.metrics.SyncCycles.WithLabelValues(kind, "failed").Inc()
		o.logger.Error("sync failed", "kind", kind, "error", err)
	case len(res.Errors) > 0:
		o.metrics.SyncCycles.WithLabelValues(kind, "partial").Inc()
		o.logger.Warn("sync completed with errors", res.logAttrs()...)
	default:
		o.metrics.SyncCycles.WithLabelValues(kind, "success").Inc()
		o.logger.Info("sync completed", res.logAttrs()...)
	}

	kr.mu.Lock()
	kr.last = &res
	kr.mu.Unlock()
}

// State returns the current state of the given kind.
func (o *Orchestrator) State(kind Kind) State {
	kr, ok := o.runs[kind]
	if !ok {
		return StateIdle
	}
	return State(kr.state.Load())
}

// LastResult returns the most recent completed cycle of the given kind.
func (o *Orchestrator) LastResult(kind Kind) (CycleResult, bool) {
	kr, ok := o.runs[kind]
	if !ok {
		return CycleResult{}, false
	}
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	if kr.last == nil {
		return CycleResult{}, false
	}
	return *kr.last, true
}

// KindStatus is a point-in-time view of one sync kind.
type KindStatus struct {
	Kind    Kind         `json:"kind"`
	Enabled bool         `json:"enabled"`
	Running bool         `json:"running"`
	State   State        `json:"state"`
	Last    *CycleResult `json:"last,omitempty"`
}

// Status reports every sync kind in a stable order.
func (o *Orchestrator) Status() []KindStatus {
	out := make([]KindStatus, 0, len(Kinds))
	for _, k := range Kinds {
		kr := o.runs[k]
		st := KindStatus{
			Kind:    k,
			Enabled: o.Enabled(k),
			Running: kr.running.Load(),
			State:   State(kr.state.Load()),
		}
		if last, ok := o.LastResult(k); ok {
			st.Last = &last
		}
		out = append(out, st)
	}
	return out
}
