// Package memory is an in-process repository used for tests, dry runs, and
// deployments without a database. It mirrors the uniqueness rules of the
// Postgres schema.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/google/uuid"
)

// Store implements pipeline.Repository with mutex-guarded maps.
type Store struct {
	mu        sync.RWMutex
	districts []domain.District
	stations  map[string]domain.Station      // by external id
	levels    map[string]domain.CurrentLevel // by station id
	history   map[historyKey]domain.HistoryPoint
	cameras   map[string]domain.Camera // by external id
	snapshots []domain.DistrictSummarySnapshot
}

type historyKey struct {
	stationID string
	ts        int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		stations: make(map[string]domain.Station),
		levels:   make(map[string]domain.CurrentLevel),
		history:  make(map[historyKey]domain.HistoryPoint),
		cameras:  make(map[string]domain.Camera),
	}
}

func (s *Store) FindDistrictByName(ctx context.Context, name string) (domain.District, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.District{}, false, domain.NewPersistenceError("find district", name, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.findDistrictLocked(name)
	return d, ok, nil
}

func (s *Store) findDistrictLocked(name string) (domain.District, bool) {
	key := domain.NormalizeDistrictName(name)
	for _, d := range s.districts {
		if domain.NormalizeDistrictName(d.Name) == key {
			return d, true
		}
	}
	return domain.District{}, false
}

func (s *Store) InsertDistrict(ctx context.Context, d domain.District) (domain.District, error) {
	if err := ctx.Err(); err != nil {
		return domain.District{}, domain.NewPersistenceError("insert district", d.Name, err)
	}
	if domain.NormalizeDistrictName(d.Name) == "" {
		return domain.District{}, domain.NewPersistenceError("insert district", d.Name, errors.New("empty name"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.findDistrictLocked(d.Name); ok {
		return existing, nil
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	s.districts = append(s.districts, d)
	return d, nil
}

func (s *Store) UpsertStationByExternalID(ctx context.Context, st domain.Station) (domain.Station, error) {
	if err := ctx.Err(); err != nil {
		return domain.Station{}, domain.NewPersistenceError("upsert station", st.ExternalID, err)
	}
	if st.ExternalID == "" {
		return domain.Station{}, domain.NewPersistenceError("upsert station", "", errors.New("empty external id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.stations[st.ExternalID]; ok {
		st.ID = existing.ID
	} else if st.ID == "" {
		st.ID = uuid.NewString()
	}
	s.stations[st.ExternalID] = st
	return st, nil
}

func (s *Store) FindStationByExternalID(ctx context.Context, externalID string) (domain.Station, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Station{}, false, domain.NewPersistenceError("find station", externalID, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[externalID]
	return st, ok, nil
}

func (s *Store) UpsertCurrentLevelByStation(ctx context.Context, lvl domain.CurrentLevel) error {
	if err := ctx.Err(); err != nil {
		return domain.NewPersistenceError("upsert current level", lvl.StationID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[lvl.StationID] = lvl
	return nil
}

// AppendHistoryPoint ignores a second point for the same station and timestamp
// and reports whether p was stored.
func (s *Store) AppendHistoryPoint(ctx context.Context, p domain.HistoryPoint) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.NewPersistenceError("append history", p.StationID, err)
	}
	if p.ID == "" {
		p.ID = domain.HistoryPointID(p.StationID, p.Timestamp)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := historyKey{stationID: p.StationID, ts: p.Timestamp}
	if _, ok := s.history[k]; ok {
		return false, nil
	}
	s.history[k] = p
	return true, nil
}

// DeleteHistoryBatchOlderThan removes the oldest points first.
func (s *Store) DeleteHistoryBatchOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, domain.NewPersistenceError("delete history", cutoff.Format(time.RFC3339), err)
	}
	if batchSize <= 0 {
		return 0, domain.NewPersistenceError("delete history", cutoff.Format(time.RFC3339), errors.New("batch size must be positive"))
	}
	limit := cutoff.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []historyKey
	for k := range s.history {
		if k.ts < limit {
			stale = append(stale, k)
		}
	}
	slices.SortFunc(stale, func(a, b historyKey) int {
		if c := cmp.Compare(a.ts, b.ts); c != 0 {
			return c
		}
		return strings.Compare(a.stationID, b.stationID)
	})
	if len(stale) > batchSize {
		stale = stale[:batchSize]
	}
	for _, k := range stale {
		delete(s.history, k)
	}
	return len(stale), nil
}

func (s *Store) UpsertCameraByExternalID(ctx context.Context, c domain.Camera) (domain.Camera, error) {
	if err := ctx.Err(); err != nil {
		return domain.Camera{}, domain.NewPersistenceError("upsert camera", c.ExternalID, err)
	}
	if c.ExternalID == "" {
		return domain.Camera{}, domain.NewPersistenceError("upsert camera", "", errors.New("empty external id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cameras[c.ExternalID]; ok {
		c.ID = existing.ID
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.cameras[c.ExternalID] = c
	return c, nil
}

// DeletePlaceholderCamera removes externalID if it is a placeholder.
func (s *Store) DeletePlaceholderCamera(ctx context.Context, externalID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.NewPersistenceError("delete placeholder camera", externalID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cameras[externalID]
	if !ok || !c.Placeholder {
		return false, nil
	}
	delete(s.cameras, externalID)
	return true, nil
}

func (s *Store) InsertDistrictSummarySnapshot(ctx context.Context, snap domain.DistrictSummarySnapshot) error {
	if err := ctx.Err(); err != nil {
		return domain.NewPersistenceError("insert summary", snap.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

// Districts returns all districts in creation order.
func (s *Store) Districts() []domain.District {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.districts)
}

// Stations returns all stations sorted by external id.
func (s *Store) Stations() []domain.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Station, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b domain.Station) int { return strings.Compare(a.ExternalID, b.ExternalID) })
	return out
}

// CurrentLevels returns the current level of every station, keyed by station id.
func (s *Store) CurrentLevels() map[string]domain.CurrentLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.CurrentLevel, len(s.levels))
	for k, v := range s.levels {
		out[k] = v
	}
	return out
}

// History returns all history points ordered by timestamp.
func (s *Store) History() []domain.HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryPoint, 0, len(s.history))
	for _, p := range s.history {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b domain.HistoryPoint) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.StationID, b.StationID)
	})
	return out
}

// Cameras returns all cameras sorted by external id.
func (s *Store) Cameras() []domain.Camera {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Camera, 0, len(s.cameras))
	for _, c := range s.cameras {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.Camera) int { return strings.Compare(a.ExternalID, b.ExternalID) })
	return out
}

// Snapshots returns summary snapshots in insertion order.
func (s *Store) Snapshots() []domain.DistrictSummarySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snapshots)
}

// LatestSnapshot returns the most recently inserted summary snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (domain.DistrictSummarySnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.DistrictSummarySnapshot{}, false, domain.NewPersistenceError("latest snapshot", "", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.snapshots) == 0 {
		return domain.DistrictSummarySnapshot{}, false, nil
	}
	return s.snapshots[len(s.snapshots)-1], true, nil
}
