// Package mockupstream serves deterministic river-level payloads shaped like
// the real upstream API. It backs local runs and end-to-end tests.
package mockupstream

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/goccy/go-json"
)

// Path prefixes served by Handler. Point UPSTREAM_BASE_URL at BasePath and
// UPSTREAM_CAMERA_URL at CameraPath.
const (
	BasePath   = "/api"
	CameraPath = "/cameras"
)

// Station is one fixture station.
type Station struct {
	ID         string
	Name       string
	Level      float64
	Online     bool
	Thresholds domain.Thresholds
}

// Camera is one fixture camera.
type Camera struct {
	ID        string
	Name      string
	StationID string
}

// District is one fixture district.
type District struct {
	ID       int
	Name     string
	Stations []Station
	Cameras  []Camera
}

// Fixture is the full data set served by Handler.
type Fixture struct {
	Districts   []District
	LastUpdated string
}

var districtNames = []string{
	"Kuching", "Sri Aman", "Sibu", "Miri", "Limbang",
	"Sarikei", "Kapit", "Samarahan", "Bintulu",
}

// DefaultFixture returns nine districts with three stations each. Within each
// district the first station is normal, the second is at alert, and the third
// is offline. Every odd district has one camera linked to its first station;
// even districts list none.
func DefaultFixture() Fixture {
	f := Fixture{LastUpdated: "21/08/2025 21:15:00"}
	thresholds := domain.Thresholds{Normal: 1, Alert: 2, Warning: 3, Danger: 4}
	for i, name := range districtNames {
		id := i + 1
		d := District{ID: id, Name: name}
		for j, level := range []float64{0.5, 2.5, 0.8} {
			d.Stations = append(d.Stations, Station{
				ID:         strconv.Itoa(id*100 + j),
				Name:       fmt.Sprintf("%s Station %d", name, j+1),
				Level:      level,
				Online:     j != 2,
				Thresholds: thresholds,
			})
		}
		if id%2 == 1 {
			d.Cameras = []Camera{{
				ID:        fmt.Sprintf("cam-%d", id),
				Name:      name + " Bridge",
				StationID: d.Stations[0].ID,
			}}
		}
		f.Districts = append(f.Districts, d)
	}
	return f
}

// Handler serves a Fixture. Districts marked failing answer 503.
type Handler struct {
	mux     *http.ServeMux
	fixture Fixture

	mu      sync.RWMutex
	failing map[string]bool
}

// NewHandler serves f, failing the listed district ids.
func NewHandler(f Fixture, failDistricts ...int) *Handler {
	h := &Handler{mux: http.NewServeMux(), fixture: f, failing: map[string]bool{}}
	h.SetFailing(failDistricts...)
	h.mux.HandleFunc("GET "+BasePath+"/StationRiverLevels/GetWLStationSummary", h.handleSummary)
	h.mux.HandleFunc("GET "+BasePath+"/StationRiverLevels/GetWLAllStationData/{id}", h.handleDetail)
	h.mux.HandleFunc("GET "+CameraPath+"/{id}", h.handleCameras)
	return h
}

// SetFailing replaces the set of failing district ids.
func (h *Handler) SetFailing(ids ...int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = make(map[string]bool, len(ids))
	for _, id := range ids {
		h.failing[strconv.Itoa(id)] = true
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) isFailing(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.failing[id]
}

func (h *Handler) district(id string) (District, bool) {
	for _, d := range h.fixture.Districts {
		if strconv.Itoa(d.ID) == id {
			return d, true
		}
	}
	return District{}, false
}

type summaryRow struct {
	DistrictID   int    `json:"districtId"`
	District     string `json:"district"`
	TotalStation string `json:"total_station"`
	Normal       int    `json:"normal"`
	Alert        int    `json:"alert"`
	Warning      int    `json:"warning"`
	Danger       int    `json:"danger"`
	Online       int    `json:"online"`
	Offline      int    `json:"offline"`
	LastUpdated  string `json:"lastUpdated"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, _ *http.Request) {
	rows := make([]summaryRow, 0, len(h.fixture.Districts))
	for _, d := range h.fixture.Districts {
		row := summaryRow{
			DistrictID:   d.ID,
			District:     d.Name,
			TotalStation: strconv.Itoa(len(d.Stations)),
			LastUpdated:  h.fixture.LastUpdated,
		}
		for _, s := range d.Stations {
			if !s.Online {
				row.Offline++
				continue
			}
			row.Online++
			switch domain.Classify(s.Level, s.Thresholds) {
			case domain.AlertAlert:
				row.Alert++
			case domain.AlertWarning:
				row.Warning++
			case domain.AlertDanger:
				row.Danger++
			default:
				row.Normal++
			}
		}
		rows = append(rows, row)
	}
	writeJSON(w, rows)
}

type stationPayload struct {
	StationID        string  `json:"stationId"`
	StationName      string  `json:"stationName"`
	DistrictName     string  `json:"districtName"`
	WaterLevel       float64 `json:"waterLevel"`
	WLThNormal       float64 `json:"wlth_normal"`
	WLThAlert        float64 `json:"wlth_alert"`
	WLThWarning      float64 `json:"wlth_warning"`
	WLThDanger       float64 `json:"wlth_danger"`
	WaterLevelStatus int     `json:"waterlevelStatus"`
	StationStatus    int     `json:"stationStatus"`
	LastUpdate       string  `json:"lastUpdate"`
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.isFailing(id) {
		http.Error(w, "district temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	d, ok := h.district(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	stations := make([]stationPayload, 0, len(d.Stations))
	for _, s := range d.Stations {
		status := 0
		if s.Online {
			status = 1
		}
		stations = append(stations, stationPayload{
			StationID:        s.ID,
			StationName:      s.Name,
			DistrictName:     d.Name,
			WaterLevel:       s.Level,
			WLThNormal:       s.Thresholds.Normal,
			WLThAlert:        s.Thresholds.Alert,
			WLThWarning:      s.Thresholds.Warning,
			WLThDanger:       s.Thresholds.Danger,
			WaterLevelStatus: int(domain.Classify(s.Level, s.Thresholds)),
			StationStatus:    status,
			LastUpdate:       h.fixture.LastUpdated,
		})
	}
	writeJSON(w, map[string]any{"stations": stations})
}

type cameraPayload struct {
	CameraID  string `json:"cameraId"`
	Name      string `json:"cameraName"`
	ImgURL    string `json:"imgUrl"`
	StationID string `json:"stationId"`
	Enabled   bool   `json:"enabled"`
	Online    bool   `json:"online"`
}

func (h *Handler) handleCameras(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.isFailing(id) {
		http.Error(w, "district temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	d, ok := h.district(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	cams := make([]cameraPayload, 0, len(d.Cameras))
	for _, c := range d.Cameras {
		cams = append(cams, cameraPayload{
			CameraID:  c.ID,
			Name:      c.Name,
			ImgURL:    "https://cctv.example/" + c.ID + ".jpg",
			StationID: c.StationID,
			Enabled:   true,
			Online:    true,
		})
	}
	writeJSON(w, cams)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
