// Package postgres persists the river-level mirror in PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store implements pipeline.Repository on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CheckReadiness fails while the database is unreachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const districtColumns = `id::text, name, upstream_id, created_at`

func (s *Store) FindDistrictByName(ctx context.Context, name string) (domain.District, bool, error) {
	d, err := scanDistrict(s.pool.QueryRow(ctx, `
		SELECT `+districtColumns+`
		FROM districts
		WHERE name_key = $1
		ORDER BY created_at
		LIMIT 1`, domain.NormalizeDistrictName(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.District{}, false, nil
	}
	if err != nil {
		return domain.District{}, false, domain.NewPersistenceError("find district", name, err)
	}
	return d, true, nil
}

// InsertDistrict creates d unless a district with the same normalized name
// exists, in which case the existing row is returned.
func (s *Store) InsertDistrict(ctx context.Context, d domain.District) (domain.District, error) {
	key := domain.NormalizeDistrictName(d.Name)
	if key == "" {
		return domain.District{}, domain.NewPersistenceError("insert district", d.Name, errors.New("empty name"))
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	inserted, err := scanDistrict(s.pool.QueryRow(ctx, `
		INSERT INTO districts (id, name, name_key, upstream_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name_key) DO NOTHING
		RETURNING `+districtColumns,
		d.ID, d.Name, key, d.UpstreamID, d.CreatedAt))
	if err == nil {
		return inserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.District{}, domain.NewPersistenceError("insert district", d.Name, err)
	}

	existing, ok, err := s.FindDistrictByName(ctx, d.Name)
	if err != nil {
		return domain.District{}, err
	}
	if !ok {
		return domain.District{}, domain.NewPersistenceError("insert district", d.Name, errors.New("conflicting row vanished"))
	}
	return existing, nil
}

func scanDistrict(row pgx.Row) (domain.District, error) {
	var d domain.District
	if err := row.Scan(&d.ID, &d.Name, &d.UpstreamID, &d.CreatedAt); err != nil {
		return domain.District{}, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return d, nil
}

const upsertStationSQL = `
	INSERT INTO stations (
		id, external_id, district_id, district_name, name, code, reference_name,
		lat, lon, gsm_number,
		threshold_normal, threshold_alert, threshold_warning, threshold_danger,
		online, battery_level, mode, z1, z2, z3, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10,
		$11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21
	)
	ON CONFLICT (external_id) DO UPDATE SET
		district_id = EXCLUDED.district_id,
		district_name = EXCLUDED.district_name,
		name = EXCLUDED.name,
		code = EXCLUDED.code,
		reference_name = EXCLUDED.reference_name,
		lat = EXCLUDED.lat,
		lon = EXCLUDED.lon,
		gsm_number = EXCLUDED.gsm_number,
		threshold_normal = EXCLUDED.threshold_normal,
		threshold_alert = EXCLUDED.threshold_alert,
		threshold_warning = EXCLUDED.threshold_warning,
		threshold_danger = EXCLUDED.threshold_danger,
		online = EXCLUDED.online,
		battery_level = EXCLUDED.battery_level,
		mode = EXCLUDED.mode,
		z1 = EXCLUDED.z1,
		z2 = EXCLUDED.z2,
		z3 = EXCLUDED.z3,
		updated_at = EXCLUDED.updated_at
	RETURNING id::text`

// UpsertStationByExternalID inserts or updates st keyed on ExternalID. The
// returned station carries the stored id, which never changes after insert.
func (s *Store) UpsertStationByExternalID(ctx context.Context, st domain.Station) (domain.Station, error) {
	if st.ExternalID == "" {
		return domain.Station{}, domain.NewPersistenceError("upsert station", "", errors.New("missing external id"))
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	lat, lon := coordinateArgs(st.Coordinates)
	var id string
	err := s.pool.QueryRow(ctx, upsertStationSQL,
		st.ID, st.ExternalID, nullableUUID(st.DistrictID), st.DistrictName, st.Name, st.Code, st.ReferenceName,
		lat, lon, st.GSMNumber,
		st.Thresholds.Normal, st.Thresholds.Alert, st.Thresholds.Warning, st.Thresholds.Danger,
		st.Online, st.Telemetry.BatteryLevel, st.Telemetry.Mode, st.Telemetry.Z1, st.Telemetry.Z2, st.Telemetry.Z3,
		st.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return domain.Station{}, domain.NewPersistenceError("upsert station", st.ExternalID, err)
	}
	st.ID = id
	return st, nil
}

func (s *Store) FindStationByExternalID(ctx context.Context, externalID string) (domain.Station, bool, error) {
	var (
		st       domain.Station
		district *string
		lat, lon *float64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, external_id, district_id::text, district_name, name, code, reference_name,
			lat, lon, gsm_number,
			threshold_normal, threshold_alert, threshold_warning, threshold_danger,
			online, battery_level, mode, z1, z2, z3, updated_at
		FROM stations
		WHERE external_id = $1`, externalID,
	).Scan(
		&st.ID, &st.ExternalID, &district, &st.DistrictName, &st.Name, &st.Code, &st.ReferenceName,
		&lat, &lon, &st.GSMNumber,
		&st.Thresholds.Normal, &st.Thresholds.Alert, &st.Thresholds.Warning, &st.Thresholds.Danger,
		&st.Online, &st.Telemetry.BatteryLevel, &st.Telemetry.Mode, &st.Telemetry.Z1, &st.Telemetry.Z2, &st.Telemetry.Z3,
		&st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, false, nil
	}
	if err != nil {
		return domain.Station{}, false, domain.NewPersistenceError("find station", externalID, err)
	}
	if district != nil {
		st.DistrictID = *district
	}
	if lat != nil && lon != nil {
		st.Coordinates = &domain.Coordinates{Lat: *lat, Lon: *lon}
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, true, nil
}

func (s *Store) UpsertCurrentLevelByStation(ctx context.Context, lvl domain.CurrentLevel) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO current_levels (station_id, current_level, alert_level, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (station_id) DO UPDATE SET
			current_level = EXCLUDED.current_level,
			alert_level = EXCLUDED.alert_level,
			updated_at = EXCLUDED.updated_at`,
		lvl.StationID, lvl.CurrentLevel, int16(lvl.AlertLevel), lvl.UpdatedAt)
	return domain.NewPersistenceError("upsert current level", lvl.StationID, err)
}

// AppendHistoryPoint inserts p and reports whether a row was written. A point
// already recorded for the same station and timestamp is left untouched.
func (s *Store) AppendHistoryPoint(ctx context.Context, p domain.HistoryPoint) (bool, error) {
	if p.ID == "" {
		p.ID = domain.HistoryPointID(p.StationID, p.Timestamp)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO history_points (id, station_id, current_level, alert_level, timestamp_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (station_id, timestamp_ms) DO NOTHING`,
		p.ID, p.StationID, p.CurrentLevel, int16(p.AlertLevel), p.Timestamp, p.RecordedAt)
	if err != nil {
		return false, domain.NewPersistenceError("append history", p.StationID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteHistoryBatchOlderThan removes at most batchSize of the oldest points
// with a timestamp strictly before cutoff and returns how many were removed.
func (s *Store) DeleteHistoryBatchOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		return 0, domain.NewPersistenceError("delete history", "", fmt.Errorf("invalid batch size %d", batchSize))
	}
	tag, err := s.pool.Exec(ctx, `
		WITH doomed AS (
			SELECT id FROM history_points
			WHERE timestamp_ms < $1
			ORDER BY timestamp_ms
			LIMIT $2
		)
		DELETE FROM history_points h
		USING doomed
		WHERE h.id = doomed.id`,
		cutoff.UnixMilli(), batchSize)
	if err != nil {
		return 0, domain.NewPersistenceError("delete history", "", err)
	}
	return int(tag.RowsAffected()), nil
}

const upsertCameraSQL = `
	INSERT INTO cameras (
		id, external_id, district_id, station_id, station_external_id, name, image_url,
		enabled, online, lat, lon, basin, placeholder, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (external_id) DO UPDATE SET
		district_id = EXCLUDED.district_id,
		station_id = COALESCE(EXCLUDED.station_id, cameras.station_id),
		station_external_id = EXCLUDED.station_external_id,
		name = EXCLUDED.name,
		image_url = EXCLUDED.image_url,
		enabled = EXCLUDED.enabled,
		online = EXCLUDED.online,
		lat = EXCLUDED.lat,
		lon = EXCLUDED.lon,
		basin = EXCLUDED.basin,
		placeholder = EXCLUDED.placeholder,
		updated_at = EXCLUDED.updated_at
	RETURNING id::text`

func (s *Store) UpsertCameraByExternalID(ctx context.Context, c domain.Camera) (domain.Camera, error) {
	if c.ExternalID == "" {
		return domain.Camera{}, domain.NewPersistenceError("upsert camera", "", errors.New("missing external id"))
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	lat, lon := coordinateArgs(c.Coordinates)
	var id string
	err := s.pool.QueryRow(ctx, upsertCameraSQL,
		c.ID, c.ExternalID, nullableUUID(c.DistrictID), nullableUUID(c.StationID), c.StationExternalID, c.Name, c.ImageURL,
		c.Enabled, c.Online, lat, lon, c.Basin, c.Placeholder, c.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return domain.Camera{}, domain.NewPersistenceError("upsert camera", c.ExternalID, err)
	}
	c.ID = id
	return c, nil
}

// DeletePlaceholderCamera removes externalID when it is a placeholder row.
func (s *Store) DeletePlaceholderCamera(ctx context.Context, externalID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cameras WHERE external_id = $1 AND placeholder`, externalID)
	if err != nil {
		return false, domain.NewPersistenceError("delete placeholder camera", externalID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) InsertDistrictSummarySnapshot(ctx context.Context, snap domain.DistrictSummarySnapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	districts, err := json.Marshal(snap.Districts)
	if err != nil {
		return domain.NewPersistenceError("insert snapshot", snap.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO district_summaries (id, taken_at, total_stations, overall_status, districts)
		VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, snap.TakenAt, snap.TotalStations, snap.OverallStatus, districts)
	return domain.NewPersistenceError("insert snapshot", snap.ID, err)
}

// LatestSnapshot returns the most recent district summary snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (domain.DistrictSummarySnapshot, bool, error) {
	var (
		snap domain.DistrictSummarySnapshot
		raw  []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, taken_at, total_stations, overall_status, districts
		FROM district_summaries
		ORDER BY taken_at DESC
		LIMIT 1`,
	).Scan(&snap.ID, &snap.TakenAt, &snap.TotalStations, &snap.OverallStatus, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DistrictSummarySnapshot{}, false, nil
	}
	if err != nil {
		return domain.DistrictSummarySnapshot{}, false, domain.NewPersistenceError("latest snapshot", "", err)
	}
	if err := json.Unmarshal(raw, &snap.Districts); err != nil {
		return domain.DistrictSummarySnapshot{}, false, domain.NewPersistenceError("latest snapshot", snap.ID, err)
	}
	snap.TakenAt = snap.TakenAt.UTC()
	return snap, true, nil
}

func coordinateArgs(c *domain.Coordinates) (lat, lon *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Lat, &c.Lon
}

func nullableUUID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
