package sharedstore

import (
	"context"
	"fmt"
	"time"

	"github.com/synapseai/gateway-core/breaker"
)

// BreakerMirror republishes per-provider circuit-breaker transitions to
// the shared store for cross-process visibility (admin/status APIs
// reading any instance's view of a provider's breaker state). It is a
// read-side mirror only: the process-local breaker.Breaker remains the
// sole authority over Allow/RecordSuccess/RecordFailure decisions, per
// §5's "contract... identical" requirement — mirroring never feeds back
// into breaker state.
type BreakerMirror struct {
	store     *Store
	namespace string
	ttl       time.Duration
}

func NewBreakerMirror(store *Store, namespace string) *BreakerMirror {
	return &BreakerMirror{store: store, namespace: namespace, ttl: 24 * time.Hour}
}

// OnStateChange matches breaker.Breaker.OnStateChange's signature; wire
// it directly: `b.OnStateChange = mirror.OnStateChange`.
func (m *BreakerMirror) OnStateChange(providerID string, from, to breaker.Status) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = m.store.Set(ctx, m.key(providerID), to.String(), m.ttl)
}

// Status returns the last-mirrored breaker status for providerID as seen
// by any process, or ErrMiss if never reported.
func (m *BreakerMirror) Status(ctx context.Context, providerID string) (string, error) {
	return m.store.Get(ctx, m.key(providerID))
}

func (m *BreakerMirror) key(providerID string) string {
	return m.namespace + ":breaker:" + providerID
}

// LimiterMirror periodically snapshots a set of providers' current
// fixed-window counts into the shared store, grounded on the teacher's
// cache.Manager healthCheckLoop ticker pattern. Read-only: the
// process-local ratelimit.Limiter remains the sole Allow() authority.
type LimiterMirror struct {
	store     *Store
	namespace string
	ttl       time.Duration

	// CurrentCount is the read-side hook into a *ratelimit.Limiter,
	// expressed as a func rather than an import to avoid a
	// sharedstore->ratelimit dependency.
	CurrentCount func(providerID string) int
}

func NewLimiterMirror(store *Store, namespace string, currentCount func(string) int) *LimiterMirror {
	return &LimiterMirror{store: store, namespace: namespace, ttl: 2 * time.Minute, CurrentCount: currentCount}
}

// Sync snapshots every providerID's current count into the shared store.
// Intended to be called on a short interval (e.g. every few seconds) by
// the composition root, not on the request hot path.
func (m *LimiterMirror) Sync(ctx context.Context, providerIDs []string) error {
	for _, id := range providerIDs {
		count := m.CurrentCount(id)
		if err := m.store.Set(ctx, m.key(id), fmt.Sprintf("%d", count), m.ttl); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the last-mirrored count for providerID as seen by any
// process, or ErrMiss if never reported.
func (m *LimiterMirror) Count(ctx context.Context, providerID string) (string, error) {
	return m.store.Get(ctx, m.key(providerID))
}

func (m *LimiterMirror) key(providerID string) string {
	return m.namespace + ":ratelimit:" + providerID
}
