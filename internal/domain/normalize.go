package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// missingLevelSentinel is the upstream marker for "no reading".
	missingLevelSentinel = -9999

	// upstreamTimeLayout is DD/MM/YYYY HH:mm:ss.
	upstreamTimeLayout = "02/01/2006 15:04:05"

	// civilOffset is the fixed offset of upstream wall-clock times.
	civilOffset = 8 * time.Hour

	// placeholderCameraPrefix prefixes the external id of tombstone cameras.
	placeholderCameraPrefix = "placeholder-"
)

var (
	civilZone = time.FixedZone("MYT", int(civilOffset/time.Second))

	// idNamespace scopes deterministic ids generated by this package.
	idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("river-level-sync"))
)

// ToStationRecord maps a raw upstream station to the canonical record.
// Internal and district ids are assigned later during persistence.
func ToStationRecord(raw RawStation) Station {
	st := Station{
		ExternalID:    StationExternalID(raw),
		DistrictName:  raw.DistrictName.String(),
		Name:          firstPresent(raw.StationName, raw.Name).String(),
		Code:          raw.StationCode.String(),
		ReferenceName: raw.ReferenceName.String(),
		Coordinates:   coordinates(raw.Latitude, raw.Longitude),
		GSMNumber:     raw.GSMNumber.String(),
		Thresholds:    StationThresholds(raw),
		Online:        IsOnline(raw.StationStatus),
		Telemetry: Telemetry{
			Mode: raw.Mode.String(),
			Z1:   raw.Z1.String(),
			Z2:   raw.Z2.String(),
			Z3:   raw.Z3.String(),
		},
		UpdatedAt: UpstreamTimeOrNow(raw.LastUpdate.String()),
	}
	if v, ok := raw.BatteryLevel.Float(); ok {
		st.Telemetry.BatteryLevel = &v
	}
	return st
}

// StationExternalID resolves the upstream natural key, preferring
// "stationId" over "id".
func StationExternalID(raw RawStation) string {
	return firstPresent(raw.StationID, raw.ID).String()
}

// StationThresholds resolves the four threshold aliases. Missing values are 0.
func StationThresholds(raw RawStation) Thresholds {
	return Thresholds{
		Normal:  floatOrZero(firstPresent(raw.WLThNormal, raw.NormalLevel)),
		Alert:   floatOrZero(firstPresent(raw.WLThAlert, raw.AlertLevel)),
		Warning: floatOrZero(firstPresent(raw.WLThWarning, raw.WarningLevel)),
		Danger:  floatOrZero(firstPresent(raw.WLThDanger, raw.DangerLevel)),
	}
}

// WaterLevel returns the reported level with the -9999/null sentinel mapped to 0.
func WaterLevel(raw RawStation) float64 {
	v, ok := raw.WaterLevel.Float()
	if !ok || v == missingLevelSentinel {
		return 0
	}
	return v
}

// IsOnline reports whether a stationStatus value is the online sentinel.
func IsOnline(status Flex) bool {
	return status.Truthy()
}

// ToCurrentLevel builds the singleton current-level row for a persisted station.
// The reading instant is st.UpdatedAt, resolved once by ToStationRecord.
func ToCurrentLevel(stationID string, raw RawStation, st Station) CurrentLevel {
	level := WaterLevel(raw)
	return CurrentLevel{
		StationID:    stationID,
		CurrentLevel: level,
		AlertLevel:   ResolveAlertLevel(raw.WaterLevelStatus, level, st.Thresholds),
		UpdatedAt:    st.UpdatedAt,
	}
}

// ToHistoryPoint builds the trend sample for one station reading taken at at.
// The id is derived from (station, timestamp) so replaying a payload does not
// duplicate.
func ToHistoryPoint(stationID string, raw RawStation, alert AlertLevel, at time.Time) HistoryPoint {
	ts := at.UnixMilli()
	return HistoryPoint{
		ID:           HistoryPointID(stationID, ts),
		StationID:    stationID,
		CurrentLevel: WaterLevel(raw),
		AlertLevel:   alert,
		Timestamp:    ts,
		RecordedAt:   FormatCivil(at),
	}
}

// HistoryPointID is the deterministic id of a (station, timestamp) sample.
func HistoryPointID(stationID string, timestampMillis int64) string {
	return uuid.NewSHA1(idNamespace, []byte(stationID+"|"+strconv.FormatInt(timestampMillis, 10))).String()
}

// ParseUpstreamTime converts "DD/MM/YYYY HH:mm:ss" civil time to a UTC instant
// by reading the wall clock as UTC and subtracting the fixed 8 hour offset.
func ParseUpstreamTime(s string) (time.Time, error) {
	wall, err := time.Parse(upstreamTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse upstream time %q: %w", s, err)
	}
	return wall.Add(-civilOffset), nil
}

// UpstreamTimeOrNow parses s, falling back to the current instant.
func UpstreamTimeOrNow(s string) time.Time {
	t, err := ParseUpstreamTime(s)
	if err != nil {
		return clock.Now().UTC()
	}
	return t
}

// FormatCivil renders an instant as upstream-style civil time.
func FormatCivil(t time.Time) string {
	return t.In(civilZone).Format(upstreamTimeLayout)
}

// ToCameraRecord maps a raw camera. It returns false when no id alias is
// present, since such a camera cannot be upserted idempotently.
func ToCameraRecord(raw RawCamera) (Camera, bool) {
	ext := firstPresent(raw.CameraID, raw.CameraIDSnake, raw.ID).String()
	if ext == "" {
		return Camera{}, false
	}

	enabled := true
	if f := firstPresent(raw.Enabled, raw.IsEnabled); f.Present() {
		enabled = f.Truthy()
	}

	cam := Camera{
		ExternalID:        ext,
		StationExternalID: firstPresent(raw.StationID, raw.StationIDSnake).String(),
		Name:              firstPresent(raw.CameraName, raw.Name).String(),
		ImageURL:          firstPresent(raw.ImageURL, raw.ImgURL, raw.StreamURL).String(),
		Enabled:           enabled,
		Online:            firstPresent(raw.Online, raw.IsOnline, raw.Status).Truthy(),
		Coordinates:       coordinates(firstPresent(raw.Latitude, raw.Lat), firstPresent(raw.Longitude, raw.Lng)),
		Basin:             firstPresent(raw.Basin, raw.RiverBasin).String(),
		UpdatedAt:         clock.Now().UTC(),
	}
	if cam.Name == "" {
		cam.Name = "Camera " + ext
	}
	return cam, true
}

// PlaceholderCamera is the disabled tombstone stored for a district whose
// camera listing came back empty, so consumers observe an explicit record.
func PlaceholderCamera(districtUpstreamID string) Camera {
	return Camera{
		ExternalID:  PlaceholderCameraID(districtUpstreamID),
		Name:        "No camera available",
		Enabled:     false,
		Online:      false,
		Placeholder: true,
		UpdatedAt:   clock.Now().UTC(),
	}
}

// PlaceholderCameraID is the external id of a district's placeholder camera.
func PlaceholderCameraID(districtUpstreamID string) string {
	return placeholderCameraPrefix + districtUpstreamID
}

// ToDistrictCounts maps one summary row, deriving the total and worst status.
func ToDistrictCounts(raw RawDistrictSummary) DistrictCounts {
	c := DistrictCounts{
		UpstreamID:  raw.DistrictID.String(),
		Name:        raw.District.String(),
		Normal:      intOrZero(raw.Normal),
		Alert:       intOrZero(raw.Alert),
		Warning:     intOrZero(raw.Warning),
		Danger:      intOrZero(raw.Danger),
		Online:      intOrZero(raw.Online),
		Offline:     intOrZero(raw.Offline),
		LastUpdated: firstPresent(raw.LastUpdated, raw.AllLastUpdated).String(),
	}
	c.Total = intOrZero(raw.TotalStation)
	if c.Total == 0 {
		c.Total = c.Normal + c.Alert + c.Warning + c.Danger
	}
	c.Status = WorstLevel(c)
	return c
}

// BuildSummarySnapshot recomputes the summary aggregate for one cycle.
func BuildSummarySnapshot(raws []RawDistrictSummary, takenAt time.Time) DistrictSummarySnapshot {
	snap := DistrictSummarySnapshot{
		ID:        uuid.NewSHA1(idNamespace, []byte("summary|"+strconv.FormatInt(takenAt.UnixMilli(), 10))).String(),
		TakenAt:   takenAt.UTC(),
		Districts: make([]DistrictCounts, 0, len(raws)),
	}
	for _, raw := range raws {
		c := ToDistrictCounts(raw)
		snap.TotalStations += c.Total
		snap.Districts = append(snap.Districts, c)
	}
	snap.OverallStatus = OverallStatus(snap.Districts).String()
	return snap
}

// NormalizeDistrictName is the comparison key for district name lookups.
func NormalizeDistrictName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func coordinates(lat, lon Flex) *Coordinates {
	la, okLat := lat.Float()
	lo, okLon := lon.Float()
	if !okLat || !okLon || (la == 0 && lo == 0) {
		return nil
	}
	return &Coordinates{Lat: la, Lon: lo}
}

func floatOrZero(f Flex) float64 {
	v, _ := f.Float()
	return v
}

func intOrZero(f Flex) int {
	v, _ := f.Int()
	return v
}
