package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// districtRef identifies one district row of the summary.
type districtRef struct {
	UpstreamID string
	Name       string
}

func (d districtRef) label() string {
	if d.Name != "" {
		return d.Name
	}
	return d.UpstreamID
}

func districtRefs(summary []domain.RawDistrictSummary) []districtRef {
	refs := make([]districtRef, 0, len(summary))
	for _, row := range summary {
		refs = append(refs, districtRef{UpstreamID: row.DistrictID.String(), Name: row.District.String()})
	}
	return refs
}

// districtBatch is the payload fetched for one district.
type districtBatch[T any] struct {
	ref   districtRef
	items []T
}

// stationWork is a normalized station paired with the raw reading it came from.
type stationWork struct {
	raw     domain.RawStation
	station domain.Station
}

func (o *Orchestrator) fetchSummary(ctx context.Context, c *cycle) ([]domain.RawDistrictSummary, error) {
	c.setState(StateFetchingSummary)
	summary, err := o.upstream.FetchSummary(ctx)
	if err != nil {
		c.fail(CycleError{Stage: StageSummary, Message: err.Error()})
		return nil, fmt.Errorf("fetch summary: %w", err)
	}
	return summary, nil
}

// fetchDistricts fetches every district concurrently. A failed district is
// recorded and left out of the returned batches; it never aborts the cycle.
func fetchDistricts[T any](ctx context.Context, o *Orchestrator, c *cycle, refs []districtRef, fetch func(context.Context, string) ([]T, error)) []districtBatch[T] {
	c.setState(StateFetchingDistricts)

	results := make([]*districtBatch[T], len(refs))
	var g errgroup.Group
	g.SetLimit(o.opts.DistrictConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			if ref.UpstreamID == "" {
				o.districtFailed(c, StageDistrictFetch, ref, errors.New("summary row has no district id"))
				return nil
			}
			items, err := fetch(ctx, ref.UpstreamID)
			if err != nil {
				o.districtFailed(c, StageDistrictFetch, ref, err)
				return nil
			}
			results[i] = &districtBatch[T]{ref: ref, items: items}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]districtBatch[T], 0, len(refs))
	for _, b := range results {
		if b != nil {
			out = append(out, *b)
		}
	}
	return out
}

func (o *Orchestrator) districtFailed(c *cycle, stage string, ref districtRef, err error) {
	c.fail(CycleError{Stage: stage, District: ref.label(), Message: err.Error()})
	c.update(func(r *CycleResult) { r.DistrictsFailed++ })
	o.metrics.DistrictFailures.WithLabelValues(string(c.kind)).Inc()
	o.logger.Warn("district skipped",
		"kind", c.kind,
		"stage", stage,
		"district", ref.label(),
		"district_id", ref.UpstreamID,
		"error", err,
	)
}

// resolveDistrict maps a fetched district to its stored record. fallbackName
// is used when the summary row carried no name.
func (o *Orchestrator) resolveDistrict(ctx context.Context, c *cycle, ref districtRef, fallbackName string) (domain.District, bool) {
	name := ref.Name
	if name == "" {
		name = fallbackName
	}
	d, err := o.districts.Resolve(ctx, name, ref.UpstreamID)
	if err != nil {
		o.districtFailed(c, StageDistrictResolve, ref, err)
		return domain.District{}, false
	}
	c.update(func(r *CycleResult) { r.DistrictsProcessed++ })
	return d, true
}

// normalizeStation builds the station record for a district. A station
// without an external id cannot be upserted and is recorded as malformed.
func (o *Orchestrator) normalizeStation(c *cycle, d domain.District, raw domain.RawStation) (domain.Station, bool) {
	st := domain.ToStationRecord(raw)
	if st.ExternalID == "" {
		o.recordFailure(c, StageNormalize, d.Name, "", &domain.MalformedPayloadError{
			Endpoint: "district_detail",
			Err:      errors.New("station has neither stationId nor id"),
		})
		return domain.Station{}, false
	}
	st.ID = uuid.NewString()
	st.DistrictID = d.ID
	st.DistrictName = d.Name
	return st, true
}

func (o *Orchestrator) recordFailure(c *cycle, stage, district, station string, err error) {
	c.fail(CycleError{Stage: stage, District: district, Station: station, Message: err.Error()})
	if errors.Is(err, domain.ErrPersistence) {
		o.metrics.PersistenceErrors.WithLabelValues(stage).Inc()
	}
	o.logger.Warn("record skipped",
		"kind", c.kind,
		"stage", stage,
		"district", district,
		"station", station,
		"error", err,
	)
}

func firstStationDistrict(items []domain.RawStation) string {
	for _, raw := range items {
		if name := raw.DistrictName.String(); name != "" {
			return name
		}
	}
	return ""
}

func (o *Orchestrator) waterLevels(ctx context.Context, c *cycle) error {
	summary, err := o.fetchSummary(ctx, c)
	if err != nil {
		return err
	}
	snap := domain.BuildSummarySnapshot(summary, o.opts.Clock.Now())
	c.update(func(r *CycleResult) { r.OverallStatus = snap.OverallStatus })

	batches := fetchDistricts(ctx, o, c, districtRefs(summary), o.upstream.FetchDistrictDetail)

	c.setState(StateNormalizing)
	var work []stationWork
	skipped := 0
	for _, b := range batches {
		d, ok := o.resolveDistrict(ctx, c, b.ref, firstStationDistrict(b.items))
		if !ok {
			continue
		}
		for _, raw := range b.items {
			st, ok := o.normalizeStation(c, d, raw)
			if !ok {
				continue
			}
			// Offline stations are not written by this cycle; the station
			// metadata sync keeps their record and online flag current.
			if !st.Online {
				skipped++
				continue
			}
			work = append(work, stationWork{raw: raw, station: st})
		}
	}
	c.update(func(r *CycleResult) { r.StationsSkippedOffline = skipped })

	c.setState(StatePersisting)
	o.persistSnapshot(ctx, c, snap)
	alerts := o.persistReadings(ctx, c, work)
	o.publish(ctx, c, snap, alerts)
	return nil
}

func (o *Orchestrator) persistSnapshot(ctx context.Context, c *cycle, snap domain.DistrictSummarySnapshot) {
	if err := o.repo.InsertDistrictSummarySnapshot(ctx, snap); err != nil {
		o.recordFailure(c, StageSnapshot, "", "", err)
		return
	}
	o.metrics.RecordsUpserted.WithLabelValues("summary").Inc()
	o.metrics.OverallStatus.Set(float64(domain.OverallStatus(snap.Districts)))
}

// persistReadings upserts each station, its current level, and one history
// point with bounded concurrency. It returns an event for every station at an
// elevated alert level.
func (o *Orchestrator) persistReadings(ctx context.Context, c *cycle, work []stationWork) []domain.AlertEvent {
	var (
		mu     sync.Mutex
		alerts []domain.AlertEvent
		g      errgroup.Group
	)
	g.SetLimit(o.opts.StationConcurrency)
	for _, w := range work {
		g.Go(func() error {
			if ev, ok := o.persistReading(ctx, c, w); ok {
				mu.Lock()
				alerts = append(alerts, ev)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(alerts, func(a, b domain.AlertEvent) int {
		return strings.Compare(a.StationExternalID, b.StationExternalID)
	})
	return alerts
}

func (o *Orchestrator) persistReading(ctx context.Context, c *cycle, w stationWork) (domain.AlertEvent, bool) {
	district, ext := w.station.DistrictName, w.station.ExternalID

	stored, err := o.repo.UpsertStationByExternalID(ctx, w.station)
	if err != nil {
		o.recordFailure(c, StageStation, district, ext, err)
		return domain.AlertEvent{}, false
	}
	c.update(func(r *CycleResult) { r.StationsUpserted++ })
	o.metrics.RecordsUpserted.WithLabelValues("station").Inc()

	// w.station carries the reading instant parsed once during normalization.
	lvl := domain.ToCurrentLevel(stored.ID, w.raw, w.station)
	if err := o.repo.UpsertCurrentLevelByStation(ctx, lvl); err != nil {
		o.recordFailure(c, StageCurrentLevel, district, ext, err)
		return domain.AlertEvent{}, false
	}
	o.metrics.RecordsUpserted.WithLabelValues("current_level").Inc()

	pt := domain.ToHistoryPoint(stored.ID, w.raw, lvl.AlertLevel, lvl.UpdatedAt)
	// An unchanged upstream timestamp maps to a point already stored.
	switch appended, err := o.repo.AppendHistoryPoint(ctx, pt); {
	case err != nil:
		o.recordFailure(c, StageHistory, district, ext, err)
	case appended:
		c.update(func(r *CycleResult) { r.HistoryAppended++ })
		o.metrics.HistoryAppended.Inc()
	default:
		c.update(func(r *CycleResult) { r.HistoryDuplicates++ })
	}

	if lvl.AlertLevel < domain.AlertAlert {
		return domain.AlertEvent{}, false
	}
	return domain.AlertEvent{
		StationExternalID: ext,
		StationName:       stored.Name,
		DistrictName:      district,
		CurrentLevel:      lvl.CurrentLevel,
		AlertLevel:        lvl.AlertLevel,
		AlertStatus:       lvl.AlertLevel.String(),
		Thresholds:        stored.Thresholds,
		UpdatedAt:         lvl.UpdatedAt,
	}, true
}

func (o *Orchestrator) publish(ctx context.Context, c *cycle, snap domain.DistrictSummarySnapshot, alerts []domain.AlertEvent) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishSnapshot(ctx, snap); err != nil {
		o.recordFailure(c, StagePublish, "", "", fmt.Errorf("publish snapshot: %w", err))
	} else {
		o.metrics.EventsPublished.WithLabelValues("summary").Inc()
	}
	if len(alerts) == 0 {
		return
	}
	if err := o.publisher.PublishAlerts(ctx, alerts); err != nil {
		o.recordFailure(c, StagePublish, "", "", fmt.Errorf("publish %d alerts: %w", len(alerts), err))
		return
	}
	c.update(func(r *CycleResult) { r.AlertsPublished = len(alerts) })
	o.metrics.EventsPublished.WithLabelValues("alert").Add(float64(len(alerts)))
}
