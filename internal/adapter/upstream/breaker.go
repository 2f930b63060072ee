package upstream

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Fetcher is the upstream surface wrapped by BreakerClient.
type Fetcher interface {
	FetchSummary(ctx context.Context) ([]domain.RawDistrictSummary, error)
	FetchDistrictDetail(ctx context.Context, districtID string) ([]domain.RawStation, error)
	FetchStationMetadata(ctx context.Context, districtID string) ([]domain.RawStation, error)
	FetchCameraMetadata(ctx context.Context, districtID string) ([]domain.RawCamera, error)
}

// BreakerClient short-circuits upstream calls after consecutive failures so a
// down upstream fails each district fast instead of waiting out every timeout.
type BreakerClient struct {
	inner Fetcher
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerClient wraps inner with a circuit breaker that opens after
// failures consecutive errors and probes again after timeout.
func NewBreakerClient(inner Fetcher, failures int, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *BreakerClient {
	const name = "upstream"
	metrics.BreakerState.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(max(failures, 1))
		},
		// A payload that arrived but did not parse says nothing about availability.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrMalformedPayload) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return &BreakerClient{inner: inner, cb: cb}
}

// State returns the breaker's current state.
func (b *BreakerClient) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerClient) FetchSummary(ctx context.Context) ([]domain.RawDistrictSummary, error) {
	return execute(b, EndpointSummary, func() ([]domain.RawDistrictSummary, error) {
		return b.inner.FetchSummary(ctx)
	})
}

func (b *BreakerClient) FetchDistrictDetail(ctx context.Context, districtID string) ([]domain.RawStation, error) {
	return execute(b, EndpointDistrictDetail, func() ([]domain.RawStation, error) {
		return b.inner.FetchDistrictDetail(ctx, districtID)
	})
}

func (b *BreakerClient) FetchStationMetadata(ctx context.Context, districtID string) ([]domain.RawStation, error) {
	return execute(b, EndpointStationMetadata, func() ([]domain.RawStation, error) {
		return b.inner.FetchStationMetadata(ctx, districtID)
	})
}

func (b *BreakerClient) FetchCameraMetadata(ctx context.Context, districtID string) ([]domain.RawCamera, error) {
	return execute(b, EndpointCameraMetadata, func() ([]domain.RawCamera, error) {
		return b.inner.FetchCameraMetadata(ctx, districtID)
	})
}

func execute[T any](b *BreakerClient, endpoint string, fn func() ([]T, error)) ([]T, error) {
	result, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &domain.UpstreamUnavailableError{Endpoint: endpoint, Err: err}
		}
		return nil, err
	}
	items, _ := result.([]T)
	return items, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
