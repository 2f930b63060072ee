package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/couchcryptid/river-level-sync/internal/domain"
	"github.com/couchcryptid/river-level-sync/internal/observability"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var errEmptyDistrictName = errors.New("district name is empty")

// districtResolver finds or lazily creates districts by normalized name.
// Lookups and creation share one critical section so concurrent cycles never
// race to insert the same district.
type districtResolver struct {
	store   DistrictStore
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu    sync.Mutex
	known map[string]domain.District // keyed by normalized name
}

func newDistrictResolver(store DistrictStore, clock clockwork.Clock, metrics *observability.Metrics) *districtResolver {
	return &districtResolver{
		store:   store,
		clock:   clock,
		metrics: metrics,
		known:   make(map[string]domain.District),
	}
}

// Resolve returns the district for name, creating it on first sight. Duplicate
// names resolve to the first stored match.
func (r *districtResolver) Resolve(ctx context.Context, name, upstreamID string) (domain.District, error) {
	key := domain.NormalizeDistrictName(name)
	if key == "" {
		return domain.District{}, errEmptyDistrictName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.known[key]; ok {
		return d, nil
	}

	d, found, err := r.store.FindDistrictByName(ctx, name)
	if err != nil {
		return domain.District{}, fmt.Errorf("find district %q: %w", name, err)
	}
	if !found {
		d, err = r.store.InsertDistrict(ctx, domain.District{
			ID:         uuid.NewString(),
			Name:       strings.Join(strings.Fields(name), " "),
			UpstreamID: upstreamID,
			CreatedAt:  r.clock.Now().UTC(),
		})
		if err != nil {
			return domain.District{}, fmt.Errorf("insert district %q: %w", name, err)
		}
		r.metrics.RecordsUpserted.WithLabelValues("district").Inc()
	}

	r.known[key] = d
	return d, nil
}
