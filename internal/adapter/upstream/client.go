package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/config"
	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Endpoint labels used in errors and metrics.
const (
	EndpointSummary         = "summary"
	EndpointDistrictDetail  = "district_detail"
	EndpointStationMetadata = "station_metadata"
	EndpointCameraMetadata  = "camera_metadata"
)

const (
	summaryPath = "/StationRiverLevels/GetWLStationSummary"
	detailPath  = "/StationRiverLevels/GetWLAllStationData/"

	maxBodyBytes = 16 << 20
)

// Client fetches river-level payloads with one attempt per call.
type Client struct {
	baseURL    string
	cameraURL  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates an upstream client. A zero rate limit disables pacing.
func NewClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	c := &Client{
		baseURL:   cfg.UpstreamBaseURL,
		cameraURL: cfg.UpstreamCameraURL,
		httpClient: &http.Client{
			Timeout: cfg.UpstreamTimeout,
		},
		logger:  logger,
		metrics: metrics,
	}
	if cfg.UpstreamRateLimit > 0 {
		burst := max(int(cfg.UpstreamRateLimit), 1)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRateLimit), burst)
	}
	return c
}

// FetchSummary returns the per-district summary rows.
func (c *Client) FetchSummary(ctx context.Context) ([]domain.RawDistrictSummary, error) {
	var rows []domain.RawDistrictSummary
	if err := c.getList(ctx, EndpointSummary, c.baseURL+summaryPath, "data", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FetchDistrictDetail returns the live readings of every station in a district.
func (c *Client) FetchDistrictDetail(ctx context.Context, districtID string) ([]domain.RawStation, error) {
	return c.fetchStations(ctx, EndpointDistrictDetail, districtID)
}

// FetchStationMetadata returns station attributes for a district. The upstream
// serves metadata and readings from the same endpoint.
func (c *Client) FetchStationMetadata(ctx context.Context, districtID string) ([]domain.RawStation, error) {
	return c.fetchStations(ctx, EndpointStationMetadata, districtID)
}

func (c *Client) fetchStations(ctx context.Context, endpoint, districtID string) ([]domain.RawStation, error) {
	var stations []domain.RawStation
	u := c.baseURL + detailPath + url.PathEscape(districtID)
	if err := c.getList(ctx, endpoint, u, "stations", &stations); err != nil {
		return nil, err
	}
	return stations, nil
}

// FetchCameraMetadata returns the cameras listed for a district.
func (c *Client) FetchCameraMetadata(ctx context.Context, districtID string) ([]domain.RawCamera, error) {
	if c.cameraURL == "" {
		return nil, &domain.UpstreamUnavailableError{Endpoint: EndpointCameraMetadata, Err: errors.New("camera endpoint not configured")}
	}
	var cams []domain.RawCamera
	u := c.cameraURL + "/" + url.PathEscape(districtID)
	if err := c.getList(ctx, EndpointCameraMetadata, u, "cameras", &cams); err != nil {
		return nil, err
	}
	return cams, nil
}

// getList GETs fullURL and decodes a JSON array into dst. An object body is
// accepted when it wraps the array under envelopeKey.
func (c *Client) getList(ctx context.Context, endpoint, fullURL, envelopeKey string, dst any) error {
	start := time.Now()
	body, err := c.get(ctx, endpoint, fullURL)
	c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return err
	}

	if err := decodeList(body, envelopeKey, dst); err != nil {
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, "malformed").Inc()
		c.logger.Warn("upstream payload malformed", "endpoint", endpoint, "url", fullURL, "error", err)
		return &domain.MalformedPayloadError{Endpoint: endpoint, Err: err}
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "success").Inc()
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, fullURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &domain.UpstreamUnavailableError{Endpoint: endpoint, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.UpstreamUnavailableError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", bytes.TrimSpace(snippet)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.UpstreamUnavailableError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

func decodeList(body []byte, envelopeKey string, dst any) error {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return errors.New("empty body")
	case bytes.Equal(trimmed, []byte("null")):
		return nil
	case trimmed[0] == '[':
		return json.Unmarshal(trimmed, dst)
	case trimmed[0] == '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return err
		}
		inner, ok := envelope[envelopeKey]
		if !ok {
			return fmt.Errorf("object has no %q field", envelopeKey)
		}
		return decodeList(inner, envelopeKey, dst)
	default:
		return fmt.Errorf("unexpected JSON value starting with %q", trimmed[0])
	}
}
