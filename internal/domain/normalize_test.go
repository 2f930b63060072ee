package domain

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testStationJSON = `{
	"id": 17,
	"stationId": "3015",
	"stationName": "Sg. Sarawak at Kg. Git",
	"stationCode": "WL-KCH-07",
	"referenceName": "Kg. Git",
	"districtName": "Kuching",
	"waterLevel": "3.42",
	"wlth_normal": 1.5,
	"wlth_alert": "2.5",
	"wlth_warning": 3.0,
	"wlth_danger": 3.8,
	"waterlevelStatus": -1,
	"stationStatus": "ON",
	"lastUpdate": "21/08/2025 21:15:00",
	"latitude": "1.4203",
	"longitude": 110.2547,
	"batteryLevel": 12.7,
	"gsmNumber": "0198765432",
	"mode": 1,
	"z1": "A",
	"z2": null,
	"z3": ""
}`

func freezeClock(t *testing.T, at time.Time) clockwork.FakeClock {
	t.Helper()
	fc := clockwork.NewFakeClockAt(at)
	SetClock(fc)
	t.Cleanup(func() { SetClock(nil) })
	return fc
}

func decodeStation(t *testing.T, data string) RawStation {
	t.Helper()
	var raw RawStation
	require.NoError(t, json.Unmarshal([]byte(data), &raw))
	return raw
}

func TestToStationRecord(t *testing.T) {
	raw := decodeStation(t, testStationJSON)
	st := ToStationRecord(raw)

	assert.Equal(t, "3015", st.ExternalID)
	assert.Equal(t, "Kuching", st.DistrictName)
	assert.Equal(t, "Sg. Sarawak at Kg. Git", st.Name)
	assert.Equal(t, "WL-KCH-07", st.Code)
	assert.Equal(t, "Kg. Git", st.ReferenceName)
	assert.Equal(t, Thresholds{Normal: 1.5, Alert: 2.5, Warning: 3.0, Danger: 3.8}, st.Thresholds)
	assert.True(t, st.Online)
	require.NotNil(t, st.Coordinates)
	assert.InEpsilon(t, 1.4203, st.Coordinates.Lat, 1e-9)
	assert.InEpsilon(t, 110.2547, st.Coordinates.Lon, 1e-9)
	require.NotNil(t, st.Telemetry.BatteryLevel)
	assert.InEpsilon(t, 12.7, *st.Telemetry.BatteryLevel, 1e-9)
	assert.Equal(t, "0198765432", st.GSMNumber)
	assert.Equal(t, "1", st.Telemetry.Mode)
	assert.Equal(t, "A", st.Telemetry.Z1)
	assert.Empty(t, st.Telemetry.Z2)
	assert.Equal(t, time.Date(2025, 8, 21, 13, 15, 0, 0, time.UTC), st.UpdatedAt)
	assert.Empty(t, st.ID, "internal id is assigned by the store")
}

func TestToStationRecord_Aliases(t *testing.T) {
	raw := decodeStation(t, `{
		"id": 88,
		"name": "Btg. Rajang at Kapit",
		"normalLevel": "10",
		"alertLevel": "12",
		"warningLevel": "14",
		"dangerLevel": "16",
		"stationStatus": 0
	}`)
	st := ToStationRecord(raw)

	assert.Equal(t, "88", st.ExternalID, "falls back to id when stationId is absent")
	assert.Equal(t, "Btg. Rajang at Kapit", st.Name)
	assert.Equal(t, Thresholds{Normal: 10, Alert: 12, Warning: 14, Danger: 16}, st.Thresholds)
	assert.False(t, st.Online)
	assert.Nil(t, st.Coordinates)
	assert.Nil(t, st.Telemetry.BatteryLevel)
}

func TestWaterLevel_Sentinels(t *testing.T) {
	cases := map[string]string{
		"numeric sentinel": `{"waterLevel": -9999}`,
		"string sentinel":  `{"waterLevel": "-9999"}`,
		"float sentinel":   `{"waterLevel": -9999.0}`,
		"null":             `{"waterLevel": null}`,
		"missing":          `{}`,
		"garbage":          `{"waterLevel": "n/a"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Zero(t, WaterLevel(decodeStation(t, payload)))
		})
	}

	assert.InEpsilon(t, 2.75, WaterLevel(decodeStation(t, `{"waterLevel": 2.75}`)), 1e-9)
	assert.InEpsilon(t, -0.4, WaterLevel(decodeStation(t, `{"waterLevel": "-0.4"}`)), 1e-9)
}

func TestToCurrentLevel_SentinelNeverClassified(t *testing.T) {
	raw := decodeStation(t, `{"stationId":"1","waterLevel":-9999,"waterlevelStatus":-1,
		"wlth_alert":-10000,"wlth_warning":0,"wlth_danger":0,"lastUpdate":"21/08/2025 21:15:00"}`)
	st := ToStationRecord(raw)
	cl := ToCurrentLevel("station-1", raw, st)

	assert.Zero(t, cl.CurrentLevel)
	assert.Equal(t, AlertNormal, cl.AlertLevel)
	assert.Equal(t, "station-1", cl.StationID)
}

func TestToCurrentLevel_UsesUpstreamStatus(t *testing.T) {
	raw := decodeStation(t, testStationJSON)
	st := ToStationRecord(raw)

	cl := ToCurrentLevel("s-1", raw, st)
	assert.InEpsilon(t, 3.42, cl.CurrentLevel, 1e-9)
	assert.Equal(t, AlertWarning, cl.AlertLevel, "status -1 falls back to thresholds")

	raw.WaterLevelStatus = FlexOf("3")
	cl = ToCurrentLevel("s-1", raw, st)
	assert.Equal(t, AlertDanger, cl.AlertLevel)
}

func TestParseUpstreamTime(t *testing.T) {
	got, err := ParseUpstreamTime("21/08/2025 21:15:00")
	require.NoError(t, err)
	assert.Equal(t, "2025-08-21T13:15:00Z", got.Format(time.RFC3339))

	// Crosses midnight when converted.
	got, err = ParseUpstreamTime(" 01/01/2026 03:00:00 ")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-31T19:00:00Z", got.Format(time.RFC3339))

	_, err = ParseUpstreamTime("2025-08-21T21:15:00")
	require.Error(t, err)
}

func TestUpstreamTimeOrNow_FallsBackToClock(t *testing.T) {
	now := time.Date(2025, 9, 1, 4, 30, 0, 0, time.UTC)
	freezeClock(t, now)

	assert.Equal(t, now, UpstreamTimeOrNow("not a date"))
	assert.Equal(t, now, UpstreamTimeOrNow(""))
	assert.Equal(t, now, UpstreamTimeOrNow("31/02/2025 10:00:00"))
}

func TestToHistoryPoint(t *testing.T) {
	raw := decodeStation(t, testStationJSON)
	at := ToStationRecord(raw).UpdatedAt
	p := ToHistoryPoint("s-1", raw, AlertWarning, at)

	assert.Equal(t, "s-1", p.StationID)
	assert.InEpsilon(t, 3.42, p.CurrentLevel, 1e-9)
	assert.Equal(t, AlertWarning, p.AlertLevel)
	assert.Equal(t, time.Date(2025, 8, 21, 13, 15, 0, 0, time.UTC).UnixMilli(), p.Timestamp)
	assert.Equal(t, "21/08/2025 21:15:00", p.RecordedAt)
	assert.Equal(t, HistoryPointID("s-1", p.Timestamp), p.ID)

	again := ToHistoryPoint("s-1", raw, AlertWarning, at)
	assert.Equal(t, p.ID, again.ID, "same reading yields the same id")
	assert.NotEqual(t, p.ID, ToHistoryPoint("s-2", raw, AlertWarning, at).ID)
}

func TestToHistoryPoint_InvalidDateUsesNow(t *testing.T) {
	now := time.Date(2025, 9, 1, 4, 30, 0, 0, time.UTC)
	freezeClock(t, now)

	raw := decodeStation(t, `{"stationId":"9","waterLevel":null,"lastUpdate":"yesterday"}`)
	st := ToStationRecord(raw)
	p := ToHistoryPoint("s-9", raw, AlertNormal, st.UpdatedAt)

	assert.Equal(t, now.UnixMilli(), p.Timestamp)
	assert.Zero(t, p.CurrentLevel)
	assert.Equal(t, "01/09/2025 12:30:00", p.RecordedAt)
}

func TestInvalidDateSharesOneInstant(t *testing.T) {
	now := time.Date(2025, 9, 1, 4, 30, 0, 0, time.UTC)
	fc := freezeClock(t, now)

	raw := decodeStation(t, `{"stationId":"9","waterLevel":1.1,"lastUpdate":"not a date"}`)
	st := ToStationRecord(raw)
	fc.Advance(3 * time.Second)

	cl := ToCurrentLevel("s-9", raw, st)
	fc.Advance(3 * time.Second)
	p := ToHistoryPoint("s-9", raw, cl.AlertLevel, cl.UpdatedAt)

	assert.Equal(t, now, st.UpdatedAt)
	assert.Equal(t, st.UpdatedAt, cl.UpdatedAt)
	assert.Equal(t, st.UpdatedAt.UnixMilli(), p.Timestamp)
}

func TestToCameraRecord_Aliases(t *testing.T) {
	freezeClock(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC))

	cases := []struct {
		name    string
		payload string
		wantID  string
		wantURL string
	}{
		{"imageUrl", `{"id": 5, "name": "Bridge", "imageUrl": "https://cam/5.jpg"}`, "5", "https://cam/5.jpg"},
		{"imgUrl", `{"cameraId": "C-7", "imgUrl": "https://cam/7.jpg"}`, "C-7", "https://cam/7.jpg"},
		{"streamUrl", `{"camera_id": 8, "streamUrl": "rtsp://cam/8"}`, "8", "rtsp://cam/8"},
		{"precedence", `{"id": 9, "imageUrl": "a", "imgUrl": "b", "streamUrl": "c"}`, "9", "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var raw RawCamera
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &raw))
			cam, ok := ToCameraRecord(raw)
			require.True(t, ok)
			assert.Equal(t, tc.wantID, cam.ExternalID)
			assert.Equal(t, tc.wantURL, cam.ImageURL)
			assert.True(t, cam.Enabled, "enabled defaults to true")
		})
	}
}

func TestToCameraRecord_Flags(t *testing.T) {
	var raw RawCamera
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 3, "cameraName": "Kapit Jetty", "isEnabled": false, "status": "online",
		"lat": "2.01", "lng": "112.93", "riverBasin": "Rajang", "station_id": 3015
	}`), &raw))

	cam, ok := ToCameraRecord(raw)
	require.True(t, ok)
	assert.Equal(t, "Kapit Jetty", cam.Name)
	assert.False(t, cam.Enabled)
	assert.True(t, cam.Online)
	assert.Equal(t, "Rajang", cam.Basin)
	assert.Equal(t, "3015", cam.StationExternalID)
	require.NotNil(t, cam.Coordinates)
	assert.InEpsilon(t, 2.01, cam.Coordinates.Lat, 1e-9)
}

func TestToCameraRecord_MissingID(t *testing.T) {
	var raw RawCamera
	require.NoError(t, json.Unmarshal([]byte(`{"name": "orphan", "imageUrl": "x"}`), &raw))
	_, ok := ToCameraRecord(raw)
	assert.False(t, ok)
}

func TestPlaceholderCamera(t *testing.T) {
	cam := PlaceholderCamera("4")
	assert.Equal(t, "placeholder-4", cam.ExternalID)
	assert.False(t, cam.Enabled)
	assert.False(t, cam.Online)
	assert.True(t, cam.Placeholder)
}

func TestBuildSummarySnapshot(t *testing.T) {
	var raws []RawDistrictSummary
	require.NoError(t, json.Unmarshal([]byte(`[
		{"districtId": 1, "district": "Kuching", "total_station": 12, "normal": 9, "alert": 3, "warning": 0, "danger": 0, "online": 11, "offline": 1, "lastUpdated": "21/08/2025 21:15:00"},
		{"districtId": "2", "district": "Sibu", "normal": "4", "alert": 0, "warning": 0, "danger": 0, "online": 4, "offline": 0}
	]`), &raws))

	takenAt := time.Date(2025, 8, 21, 13, 20, 0, 0, time.UTC)
	snap := BuildSummarySnapshot(raws, takenAt)

	require.Len(t, snap.Districts, 2)
	assert.Equal(t, "ALERT", snap.OverallStatus)
	assert.Equal(t, 16, snap.TotalStations)
	assert.Equal(t, AlertAlert, snap.Districts[0].Status)
	assert.Equal(t, 4, snap.Districts[1].Total, "total derived from buckets when missing")
	assert.Equal(t, "2", snap.Districts[1].UpstreamID)
	assert.Equal(t, takenAt, snap.TakenAt)
	assert.Equal(t, snap.ID, BuildSummarySnapshot(raws, takenAt).ID)
}

func TestNormalizeDistrictName(t *testing.T) {
	assert.Equal(t, "kuching", NormalizeDistrictName("  Kuching "))
	assert.Equal(t, "kota samarahan", NormalizeDistrictName("Kota   SAMARAHAN"))
}
