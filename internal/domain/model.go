package domain

import "time"

// District groups stations and cameras. Looked up by name during sync.
type District struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	UpstreamID string    `json:"upstream_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Coordinates is a WGS-84 latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Thresholds are the four station water levels (meters) that drive alert
// classification. Non-decreasing by convention; not enforced.
type Thresholds struct {
	Normal  float64 `json:"normal"`
	Alert   float64 `json:"alert"`
	Warning float64 `json:"warning"`
	Danger  float64 `json:"danger"`
}

// Telemetry holds optional station hardware readings.
type Telemetry struct {
	BatteryLevel *float64 `json:"battery_level,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Z1           string   `json:"z1,omitempty"`
	Z2           string   `json:"z2,omitempty"`
	Z3           string   `json:"z3,omitempty"`
}

// Station is the canonical river-level station record. ExternalID is the
// upstream station id and the only key used for upsert matching.
type Station struct {
	ID            string       `json:"id"`
	ExternalID    string       `json:"external_id"`
	DistrictID    string       `json:"district_id"`
	DistrictName  string       `json:"district_name,omitempty"`
	Name          string       `json:"name"`
	Code          string       `json:"code,omitempty"`
	ReferenceName string       `json:"reference_name,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	GSMNumber     string       `json:"gsm_number,omitempty"`
	Thresholds    Thresholds   `json:"thresholds"`
	Online        bool         `json:"online"`
	Telemetry     Telemetry    `json:"telemetry"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CurrentLevel is the single latest reading for a station.
type CurrentLevel struct {
	StationID    string     `json:"station_id"`
	CurrentLevel float64    `json:"current_level"`
	AlertLevel   AlertLevel `json:"alert_level"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HistoryPoint is one append-only trend sample. Timestamp is epoch millis.
type HistoryPoint struct {
	ID           string     `json:"id"`
	StationID    string     `json:"station_id"`
	CurrentLevel float64    `json:"current_level"`
	AlertLevel   AlertLevel `json:"alert_level"`
	Timestamp    int64      `json:"timestamp"`
	RecordedAt   string     `json:"recorded_at"`
}

// Time returns the point's timestamp as a UTC instant.
func (p HistoryPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

// Camera is a river camera record. StationID is best-effort and may be empty.
type Camera struct {
	ID                string       `json:"id"`
	ExternalID        string       `json:"external_id"`
	DistrictID        string       `json:"district_id"`
	StationID         string       `json:"station_id,omitempty"`
	StationExternalID string       `json:"station_external_id,omitempty"`
	Name              string       `json:"name"`
	ImageURL          string       `json:"image_url,omitempty"`
	Enabled           bool         `json:"enabled"`
	Online            bool         `json:"online"`
	Coordinates       *Coordinates `json:"coordinates,omitempty"`
	Basin             string       `json:"basin,omitempty"`
	Placeholder       bool         `json:"placeholder,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// DistrictCounts is the per-district slice of a summary snapshot.
type DistrictCounts struct {
	UpstreamID  string     `json:"upstream_id"`
	Name        string     `json:"name"`
	Total       int        `json:"total"`
	Normal      int        `json:"normal"`
	Alert       int        `json:"alert"`
	Warning     int        `json:"warning"`
	Danger      int        `json:"danger"`
	Online      int        `json:"online"`
	Offline     int        `json:"offline"`
	Status      AlertLevel `json:"status"`
	LastUpdated string     `json:"last_updated,omitempty"`
}

// DistrictSummarySnapshot is recomputed wholesale each water-level cycle and
// stored as a new row.
type DistrictSummarySnapshot struct {
	ID            string           `json:"id"`
	TakenAt       time.Time        `json:"taken_at"`
	Districts     []DistrictCounts `json:"districts"`
	TotalStations int              `json:"total_stations"`
	OverallStatus string           `json:"overall_status"`
}

// AlertEvent describes a station at an elevated alert level after a cycle.
type AlertEvent struct {
	StationExternalID string     `json:"station_external_id"`
	StationName       string     `json:"station_name"`
	DistrictName      string     `json:"district_name"`
	CurrentLevel      float64    `json:"current_level"`
	AlertLevel        AlertLevel `json:"alert_level"`
	AlertStatus       string     `json:"alert_status"`
	Thresholds        Thresholds `json:"thresholds"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
