package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Kind names a sync routine.
type Kind string

const (
	KindWaterLevels Kind = "waterlevels"
	KindStations    Kind = "stations"
	KindCameras     Kind = "cameras"
	KindCleanup     Kind = "cleanup"
)

// Kinds lists every sync kind in reporting order.
var Kinds = []Kind{KindWaterLevels, KindStations, KindCameras, KindCleanup}

// ParseKind resolves a sync kind name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State is the orchestrator's position within a cycle.
type State int32

const (
	StateIdle State = iota
	StateFetchingSummary
	StateFetchingDistricts
	StateNormalizing
	StatePersisting
	StateCleaningUp
)

var stateNames = [...]string{"Idle", "FetchingSummary", "FetchingDistricts", "Normalizing", "Persisting", "CleaningUp"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Error stages recorded in CycleError.Stage.
const (
	StageSummary         = "summary"
	StageDistrictFetch   = "district_fetch"
	StageDistrictResolve = "district_resolve"
	StageNormalize       = "normalize"
	StageStation         = "persist_station"
	StageCurrentLevel    = "persist_current_level"
	StageHistory         = "append_history"
	StageCamera          = "persist_camera"
	StageCameraLink      = "link_station"
	StageSnapshot        = "persist_snapshot"
	StageCleanup         = "cleanup"
	StagePublish         = "publish"
)

// CycleError is one isolated or fatal failure recorded during a cycle.
type CycleError struct {
	Stage    string `json:"stage"`
	District string `json:"district,omitempty"`
	Station  string `json:"station,omitempty"`
	Message  string `json:"message"`
}

// CycleResult summarizes one completed cycle. Success is false only when the
// cycle aborted as a whole; per-district and per-record failures are listed in
// Errors.
type CycleResult struct {
	Kind       Kind      `json:"kind"`
	Success    bool      `json:"success"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	DistrictsProcessed     int `json:"districts_processed"`
	DistrictsFailed        int `json:"districts_failed"`
	StationsUpserted       int `json:"stations_upserted"`
	StationsSkippedOffline int `json:"stations_skipped_offline"`
	HistoryAppended        int `json:"history_appended"`
	HistoryDuplicates      int `json:"history_duplicates"`
	CamerasUpserted        int `json:"cameras_upserted"`
	AlertsPublished        int `json:"alerts_published"`
	DeletedCount           int `json:"deleted_count"`
	Batches                int `json:"batches"`

	OverallStatus string       `json:"overall_status,omitempty"`
	Errors        []CycleError `json:"errors"`
}

func (r CycleResult) logAttrs() []any {
	attrs := []any{
		"kind", r.Kind,
		"duration", r.FinishedAt.Sub(r.StartedAt),
		"errors", len(r.Errors),
	}
	switch r.Kind {
	case KindWaterLevels:
		attrs = append(attrs,
			"districts_processed", r.DistrictsProcessed,
			"districts_failed", r.DistrictsFailed,
			"stations_upserted", r.StationsUpserted,
			"stations_skipped_offline", r.StationsSkippedOffline,
			"history_appended", r.HistoryAppended,
			"history_duplicates", r.HistoryDuplicates,
			"overall_status", r.OverallStatus,
		)
	case KindStations:
		attrs = append(attrs,
			"districts_processed", r.DistrictsProcessed,
			"districts_failed", r.DistrictsFailed,
			"stations_upserted", r.StationsUpserted,
		)
	case KindCameras:
		attrs = append(attrs,
			"districts_processed", r.DistrictsProcessed,
			"districts_failed", r.DistrictsFailed,
			"cameras_upserted", r.CamerasUpserted,
		)
	case KindCleanup:
		attrs = append(attrs, "deleted", r.DeletedCount, "batches", r.Batches)
	}
	return attrs
}

// cycle collects results from concurrent tasks.
type cycle struct {
	kind Kind
	run  *kindRun

	mu  sync.Mutex
	res CycleResult
}

func newCycle(kind Kind, startedAt time.Time, run *kindRun) *cycle {
	return &cycle{
		kind: kind,
		run:  run,
		res:  CycleResult{Kind: kind, StartedAt: startedAt, Errors: []CycleError{}},
	}
}

func (c *cycle) setState(s State) {
	c.run.state.Store(int32(s))
}

func (c *cycle) fail(e CycleError) {
	c.mu.Lock()
	c.res.Errors = append(c.res.Errors, e)
	c.mu.Unlock()
}

func (c *cycle) update(fn func(r *CycleResult)) {
	c.mu.Lock()
	fn(&c.res)
	c.mu.Unlock()
}

func (c *cycle) finish(at time.Time, success bool) CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.FinishedAt = at
	c.res.Success = success
	return c.res
}
