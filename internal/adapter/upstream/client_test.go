package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/config"
	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *observability.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	metrics := observability.NewMetricsForTesting()
	cfg := &config.Config{
		UpstreamBaseURL:   srv.URL + "/api",
		UpstreamCameraURL: srv.URL + "/cams",
		UpstreamTimeout:   2 * time.Second,
	}
	return NewClient(cfg, slog.Default(), metrics), metrics
}

func TestClient_FetchSummary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/StationRiverLevels/GetWLStationSummary", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"districtId":1,"district":"Kuching","total_station":"12","normal":10,"alert":2,"lastUpdated":"21/08/2025 21:15:00"}]`)
	})
	c, metrics := newTestClient(t, mux)

	rows, err := c.FetchSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0].DistrictID.String())
	assert.Equal(t, "Kuching", rows[0].District.String())
	total, ok := rows[0].TotalStation.Int()
	assert.True(t, ok)
	assert.Equal(t, 12, total)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UpstreamRequests.WithLabelValues(EndpointSummary, "success")), 1e-9)
}

func TestClient_FetchDistrictDetail_Envelope(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `{"stations":[{"stationId":"3015","stationName":"Batu Kitang","waterLevel":-9999,"stationStatus":1}]}`)
	}))

	stations, err := c.FetchDistrictDetail(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "/api/StationRiverLevels/GetWLAllStationData/7", gotPath)
	require.Len(t, stations, 1)
	assert.Equal(t, "3015", domain.StationExternalID(stations[0]))
	assert.Zero(t, domain.WaterLevel(stations[0]))
}

func TestClient_FetchDistrictDetail_BareArray(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"id":9}]`)
	}))
	stations, err := c.FetchStationMetadata(context.Background(), "2")
	require.NoError(t, err)
	require.Len(t, stations, 1)
	assert.Equal(t, "9", domain.StationExternalID(stations[0]))
}

func TestClient_FetchCameraMetadata(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, `[{"cameraId":"c1","imgUrl":"https://img/c1.jpg"}]`)
	}))
	cams, err := c.FetchCameraMetadata(context.Background(), "11")
	require.NoError(t, err)
	assert.Equal(t, "/cams/11", gotPath)
	require.Len(t, cams, 1)
	assert.Equal(t, "https://img/c1.jpg", cams[0].ImgURL.String())
}

func TestClient_Non2xxIsUpstreamUnavailable(t *testing.T) {
	c, metrics := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))

	_, err := c.FetchDistrictDetail(context.Background(), "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	var upErr *domain.UpstreamUnavailableError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusServiceUnavailable, upErr.StatusCode)
	assert.Equal(t, EndpointDistrictDetail, upErr.Endpoint)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UpstreamRequests.WithLabelValues(EndpointDistrictDetail, "error")), 1e-9)
}

func TestClient_MalformedPayload(t *testing.T) {
	for name, body := range map[string]string{
		"garbage":        `<html>oops</html>`,
		"wrong envelope": `{"items":[]}`,
		"truncated":      `[{"stationId":`,
	} {
		t.Run(name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, body)
			}))
			_, err := c.FetchDistrictDetail(context.Background(), "1")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedPayload)
		})
	}
}

func TestClient_NullBodyIsEmpty(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"stations":null}`)
	}))
	stations, err := c.FetchDistrictDetail(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, stations)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := NewClient(&config.Config{UpstreamBaseURL: srv.URL, UpstreamTimeout: 50 * time.Millisecond}, slog.Default(), observability.NewMetricsForTesting())

	_, err := c.FetchSummary(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestClient_CameraEndpointNotConfigured(t *testing.T) {
	c := NewClient(&config.Config{UpstreamBaseURL: "http://unused"}, slog.Default(), observability.NewMetricsForTesting())
	_, err := c.FetchCameraMetadata(context.Background(), "1")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestClient_RateLimiterHonoursContext(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `[]`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(&config.Config{UpstreamBaseURL: srv.URL, UpstreamTimeout: time.Second, UpstreamRateLimit: 0.001}, slog.Default(), observability.NewMetricsForTesting())

	_, err := c.FetchSummary(context.Background())
	require.NoError(t, err, "first request uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchSummary(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int64(1), hits.Load())
}

// --- breaker ---

type stubFetcher struct {
	calls atomic.Int64
	err   error
}

func (s *stubFetcher) FetchSummary(context.Context) ([]domain.RawDistrictSummary, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return []domain.RawDistrictSummary{{District: domain.FlexOf("Kuching")}}, nil
}

func (s *stubFetcher) FetchDistrictDetail(context.Context, string) ([]domain.RawStation, error) {
	s.calls.Add(1)
	return nil, s.err
}

func (s *stubFetcher) FetchStationMetadata(ctx context.Context, id string) ([]domain.RawStation, error) {
	return s.FetchDistrictDetail(ctx, id)
}

func (s *stubFetcher) FetchCameraMetadata(context.Context, string) ([]domain.RawCamera, error) {
	s.calls.Add(1)
	return nil, s.err
}

func TestBreakerClient_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubFetcher{err: &domain.UpstreamUnavailableError{Endpoint: EndpointDistrictDetail, StatusCode: 502}}
	metrics := observability.NewMetricsForTesting()
	b := NewBreakerClient(inner, 3, time.Minute, slog.Default(), metrics)

	for range 3 {
		_, err := b.FetchDistrictDetail(context.Background(), "1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.BreakerState.WithLabelValues("upstream")), 1e-9)

	_, err := b.FetchDistrictDetail(context.Background(), "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), inner.calls.Load(), "open breaker does not reach upstream")
}

func TestBreakerClient_MalformedDoesNotTrip(t *testing.T) {
	inner := &stubFetcher{err: &domain.MalformedPayloadError{Endpoint: EndpointCameraMetadata, Err: errors.New("bad json")}}
	b := NewBreakerClient(inner, 2, time.Minute, slog.Default(), observability.NewMetricsForTesting())

	for range 5 {
		_, err := b.FetchCameraMetadata(context.Background(), "1")
		assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, int64(5), inner.calls.Load())
}

func TestBreakerClient_PassesResults(t *testing.T) {
	b := NewBreakerClient(&stubFetcher{}, 2, time.Minute, slog.Default(), observability.NewMetricsForTesting())
	rows, err := b.FetchSummary(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Kuching", rows[0].District.String())
}
