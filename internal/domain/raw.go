package domain

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Flex is a loosely-typed upstream scalar. It accepts JSON strings, numbers,
// booleans and null, keeping the textual form. Objects and arrays decode as
// absent rather than failing the whole payload.
type Flex struct {
	raw   string
	valid bool
}

// FlexOf builds a present Flex from its textual form.
func FlexOf(s string) Flex {
	return Flex{raw: strings.TrimSpace(s), valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flex) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = Flex{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil //nolint:nilerr // degrade malformed strings to absent
		}
		*f = FlexOf(s)
	case 't', 'f':
		*f = FlexOf(string(b))
	case '{', '[':
		// Nested values are not scalars.
	default:
		*f = FlexOf(string(b))
	}
	return nil
}

// MarshalJSON renders the textual form, or null when absent.
func (f Flex) MarshalJSON() ([]byte, error) {
	if !f.valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.raw)
}

// Present reports whether the field carried a non-empty value.
func (f Flex) Present() bool {
	return f.valid && f.raw != ""
}

// String returns the trimmed textual form ("" when absent).
func (f Flex) String() string {
	return f.raw
}

// Float parses the value as a float64.
func (f Flex) Float() (float64, bool) {
	if !f.Present() {
		return 0, false
	}
	v, err := strconv.ParseFloat(f.raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Int parses the value as an integer; integral floats like "2.0" are accepted.
func (f Flex) Int() (int, bool) {
	v, ok := f.Float()
	if !ok || v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}

// Truthy interprets common upstream on/off encodings.
func (f Flex) Truthy() bool {
	switch strings.ToLower(f.raw) {
	case "1", "true", "on", "online", "active", "yes", "y":
		return true
	default:
		return false
	}
}

// firstPresent returns the first alias that carried a value.
func firstPresent(fs ...Flex) Flex {
	for _, f := range fs {
		if f.Present() {
			return f
		}
	}
	return Flex{}
}

// RawDistrictSummary is one row of GetWLStationSummary.
type RawDistrictSummary struct {
	DistrictID     Flex `json:"districtId"`
	District       Flex `json:"district"`
	TotalStation   Flex `json:"total_station"`
	Normal         Flex `json:"normal"`
	Alert          Flex `json:"alert"`
	Warning        Flex `json:"warning"`
	Danger         Flex `json:"danger"`
	Online         Flex `json:"online"`
	Offline        Flex `json:"offline"`
	LastUpdated    Flex `json:"lastUpdated"`
	AllLastUpdated Flex `json:"allLastUpdated"`
}

// RawStation is one station of GetWLAllStationData. Aliased attributes are
// kept as separate fields and resolved by ToStationRecord.
type RawStation struct {
	ID               Flex `json:"id"`
	StationID        Flex `json:"stationId"`
	StationName      Flex `json:"stationName"`
	Name             Flex `json:"name"`
	StationCode      Flex `json:"stationCode"`
	ReferenceName    Flex `json:"referenceName"`
	DistrictName     Flex `json:"districtName"`
	WaterLevel       Flex `json:"waterLevel"`
	WLThNormal       Flex `json:"wlth_normal"`
	NormalLevel      Flex `json:"normalLevel"`
	WLThAlert        Flex `json:"wlth_alert"`
	AlertLevel       Flex `json:"alertLevel"`
	WLThWarning      Flex `json:"wlth_warning"`
	WarningLevel     Flex `json:"warningLevel"`
	WLThDanger       Flex `json:"wlth_danger"`
	DangerLevel      Flex `json:"dangerLevel"`
	WaterLevelStatus Flex `json:"waterlevelStatus"`
	StationStatus    Flex `json:"stationStatus"`
	LastUpdate       Flex `json:"lastUpdate"`
	Latitude         Flex `json:"latitude"`
	Longitude        Flex `json:"longitude"`
	BatteryLevel     Flex `json:"batteryLevel"`
	GSMNumber        Flex `json:"gsmNumber"`
	Mode             Flex `json:"mode"`
	Z1               Flex `json:"z1"`
	Z2               Flex `json:"z2"`
	Z3               Flex `json:"z3"`
}

// RawCamera is one camera of the district camera endpoint.
type RawCamera struct {
	ID             Flex `json:"id"`
	CameraID       Flex `json:"cameraId"`
	CameraIDSnake  Flex `json:"camera_id"`
	Name           Flex `json:"name"`
	CameraName     Flex `json:"cameraName"`
	ImageURL       Flex `json:"imageUrl"`
	ImgURL         Flex `json:"imgUrl"`
	StreamURL      Flex `json:"streamUrl"`
	StationID      Flex `json:"stationId"`
	StationIDSnake Flex `json:"station_id"`
	Enabled        Flex `json:"enabled"`
	IsEnabled      Flex `json:"isEnabled"`
	Online         Flex `json:"online"`
	IsOnline       Flex `json:"isOnline"`
	Status         Flex `json:"status"`
	Latitude       Flex `json:"latitude"`
	Lat            Flex `json:"lat"`
	Longitude      Flex `json:"longitude"`
	Lng            Flex `json:"lng"`
	Basin          Flex `json:"basin"`
	RiverBasin     Flex `json:"riverBasin"`
}
