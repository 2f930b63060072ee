package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// stationMetadata upserts every station's attributes, including offline ones.
// It never writes current levels or history.
func (o *Orchestrator) stationMetadata(ctx context.Context, c *cycle) error {
	summary, err := o.fetchSummary(ctx, c)
	if err != nil {
		return err
	}

	batches := fetchDistricts(ctx, o, c, districtRefs(summary), o.upstream.FetchStationMetadata)

	c.setState(StateNormalizing)
	var stations []domain.Station
	for _, b := range batches {
		d, ok := o.resolveDistrict(ctx, c, b.ref, firstStationDistrict(b.items))
		if !ok {
			continue
		}
		for _, raw := range b.items {
			if st, ok := o.normalizeStation(c, d, raw); ok {
				stations = append(stations, st)
			}
		}
	}

	c.setState(StatePersisting)
	var g errgroup.Group
	g.SetLimit(o.opts.StationConcurrency)
	for _, st := range stations {
		g.Go(func() error {
			if _, err := o.repo.UpsertStationByExternalID(ctx, st); err != nil {
				o.recordFailure(c, StageStation, st.DistrictName, st.ExternalID, err)
				return nil
			}
			c.update(func(r *CycleResult) { r.StationsUpserted++ })
			o.metrics.RecordsUpserted.WithLabelValues("station").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// cameraMetadata upserts every district's cameras. A district listing no
// cameras gets a disabled placeholder record, which is removed once the
// district lists a real camera.
func (o *Orchestrator) cameraMetadata(ctx context.Context, c *cycle) error {
	summary, err := o.fetchSummary(ctx, c)
	if err != nil {
		return err
	}

	batches := fetchDistricts(ctx, o, c, districtRefs(summary), o.upstream.FetchCameraMetadata)

	c.setState(StateNormalizing)
	var (
		cameras    []domain.Camera
		superseded []string
	)
	for _, b := range batches {
		d, ok := o.resolveDistrict(ctx, c, b.ref, "")
		if !ok {
			continue
		}
		if len(b.items) == 0 {
			cam := domain.PlaceholderCamera(b.ref.UpstreamID)
			cam.ID = uuid.NewString()
			cam.DistrictID = d.ID
			cameras = append(cameras, cam)
			continue
		}
		listed := 0
		for _, raw := range b.items {
			cam, ok := domain.ToCameraRecord(raw)
			if !ok {
				o.recordFailure(c, StageNormalize, d.Name, "", &domain.MalformedPayloadError{
					Endpoint: "camera_metadata",
					Err:      errors.New("camera has no id"),
				})
				continue
			}
			cam.ID = uuid.NewString()
			cam.DistrictID = d.ID
			cameras = append(cameras, cam)
			listed++
		}
		if listed > 0 {
			superseded = append(superseded, domain.PlaceholderCameraID(b.ref.UpstreamID))
		}
	}

	c.setState(StatePersisting)
	var g errgroup.Group
	g.SetLimit(o.opts.StationConcurrency)
	for _, cam := range cameras {
		g.Go(func() error {
			o.persistCamera(ctx, c, cam)
			return nil
		})
	}
	_ = g.Wait()

	for _, ext := range superseded {
		removed, err := o.repo.DeletePlaceholderCamera(ctx, ext)
		if err != nil {
			o.recordFailure(c, StageCamera, "", ext, err)
			continue
		}
		if removed {
			o.logger.Info("placeholder camera superseded", "camera", ext)
		}
	}
	return nil
}

func (o *Orchestrator) persistCamera(ctx context.Context, c *cycle, cam domain.Camera) {
	if cam.StationExternalID != "" {
		st, found, err := o.repo.FindStationByExternalID(ctx, cam.StationExternalID)
		switch {
		case err != nil:
			// Linkage is best-effort: record and store the camera unlinked.
			o.recordFailure(c, StageCameraLink, "", cam.StationExternalID, fmt.Errorf("camera %s: %w", cam.ExternalID, err))
		case found:
			cam.StationID = st.ID
		}
	}

	if _, err := o.repo.UpsertCameraByExternalID(ctx, cam); err != nil {
		o.recordFailure(c, StageCamera, "", cam.ExternalID, err)
		return
	}
	c.update(func(r *CycleResult) { r.CamerasUpserted++ })
	o.metrics.RecordsUpserted.WithLabelValues("camera").Inc()
}
