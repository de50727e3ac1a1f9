package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapseai/gateway-core/gwtypes"
)

type usageIncrement struct {
	providerID                 string
	date                       string
	requests, errors, tokens   int64
	cost                       float64
}

type fakeStore struct {
	mu        sync.Mutex
	increments []usageIncrement
	providers map[string]*gwtypes.Provider
}

func newFakeStore(providers ...*gwtypes.Provider) *fakeStore {
	m := map[string]*gwtypes.Provider{}
	for _, p := range providers {
		m[p.ID] = p
	}
	return &fakeStore{providers: m}
}

func (s *fakeStore) IncrementUsage(ctx context.Context, providerID, date string, requests, errors, tokens int64, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments = append(s.increments, usageIncrement{providerID, date, requests, errors, tokens, cost})
	return nil
}

func (s *fakeStore) GetProviderForUpdate(ctx context.Context, providerID string) (*gwtypes.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providers[providerID], nil
}

func (s *fakeStore) SaveProviderRollup(ctx context.Context, p *gwtypes.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return nil
}

func newTestRecorder(store Store) *Recorder {
	return New(store, "gateway_test", prometheus.NewRegistry(), nil)
}

func TestRecordSuccessUpsertsUsageAndRollup(t *testing.T) {
	p := &gwtypes.Provider{ID: "p1"}
	store := newFakeStore(p)
	r := newTestRecorder(store)

	r.Record(context.Background(), "p1", true, 120, 0.002, 150*time.Millisecond)

	require.Len(t, store.increments, 1)
	inc := store.increments[0]
	assert.Equal(t, int64(1), inc.requests)
	assert.Equal(t, int64(0), inc.errors)
	assert.Equal(t, int64(120), inc.tokens)
	assert.InDelta(t, 0.002, inc.cost, 1e-9)

	assert.Equal(t, int64(1), p.TotalRequests)
	assert.Equal(t, int64(0), p.TotalErrors)
	require.NotNil(t, p.SuccessRate)
	assert.Equal(t, 1.0, *p.SuccessRate)
	assert.Equal(t, 150*time.Millisecond, p.AvgResponseTime, "first observation seeds the EMA directly")
	require.NotNil(t, p.LastUsedAt)
}

func TestRecordAppliesExponentialMovingAverage(t *testing.T) {
	p := &gwtypes.Provider{ID: "p1", AvgResponseTime: 100 * time.Millisecond, TotalRequests: 1}
	store := newFakeStore(p)
	r := newTestRecorder(store)

	r.Record(context.Background(), "p1", true, 10, 0, 200*time.Millisecond)

	// avg' = 0.9*100 + 0.1*200 = 110ms
	assert.Equal(t, 110*time.Millisecond, p.AvgResponseTime)
}

func TestRecordFailureIncrementsErrorsAndLowersSuccessRate(t *testing.T) {
	p := &gwtypes.Provider{ID: "p1", TotalRequests: 9, TotalErrors: 0}
	p.RecomputeSuccessRate()
	store := newFakeStore(p)
	r := newTestRecorder(store)

	r.Record(context.Background(), "p1", false, 0, 0, 500*time.Millisecond)

	assert.Equal(t, int64(10), p.TotalRequests)
	assert.Equal(t, int64(1), p.TotalErrors)
	require.NotNil(t, p.SuccessRate)
	assert.InDelta(t, 0.9, *p.SuccessRate, 1e-9)

	require.Len(t, store.increments, 1)
	assert.Equal(t, int64(1), store.increments[0].errors)
}

func TestRecordUsesUTCDayForUsageBucket(t *testing.T) {
	p := &gwtypes.Provider{ID: "p1"}
	store := newFakeStore(p)
	r := newTestRecorder(store)
	// 2026-07-31 02:00 at UTC+5 is 2026-07-30 21:00 UTC; the bucket must
	// follow the UTC day, not the local one the clock happens to carry.
	r.clock = func() time.Time { return time.Date(2026, 7, 31, 2, 0, 0, 0, time.FixedZone("UTC+5", 5*3600)) }

	r.Record(context.Background(), "p1", true, 1, 0, time.Millisecond)

	require.Len(t, store.increments, 1)
	assert.Equal(t, "2026-07-30", store.increments[0].date)
}

func TestRecordTolerantOfUnknownProvider(t *testing.T) {
	store := newFakeStore()
	r := newTestRecorder(store)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), "ghost", true, 1, 0, time.Millisecond)
	})
}
