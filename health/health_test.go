package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapseai/gateway-core/events"
	"github.com/synapseai/gateway-core/gwtypes"
)

type listerStub struct {
	providers []*gwtypes.Provider
}

func (l *listerStub) ListAllActive(ctx context.Context) ([]*gwtypes.Provider, error) {
	return l.providers, nil
}

type recordingUpdater struct {
	mu     sync.Mutex
	health []gwtypes.HealthStatus
	checks []gwtypes.HealthCheck
}

func (u *recordingUpdater) UpdateHealth(ctx context.Context, p *gwtypes.Provider) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.health = append(u.health, p.Health)
	return nil
}

func (u *recordingUpdater) RecordHealthCheck(ctx context.Context, c gwtypes.HealthCheck) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.checks = append(u.checks, c)
	return nil
}

type recordingDisabler struct {
	mu       sync.Mutex
	disabled []string
}

func (d *recordingDisabler) Disable(ctx context.Context, p *gwtypes.Provider) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled = append(d.disabled, p.ID)
	p.Active = false
	return nil
}

func TestRunOnceClassifiesHealthyFastProbe(t *testing.T) {
	provider := &gwtypes.Provider{ID: "p1", TenantID: "t1", Active: true}
	lister := &listerStub{providers: []*gwtypes.Provider{provider}}
	updater := &recordingUpdater{}
	disabler := &recordingDisabler{}

	probe := New(lister, func(ctx context.Context, providerID string) error { return nil }, updater, disabler, events.NewBus(), nil)
	probe.RunOnce(context.Background())

	require.Len(t, updater.health, 1)
	assert.Equal(t, gwtypes.HealthHealthy, updater.health[0])
	require.Len(t, updater.checks, 1)
	assert.Equal(t, gwtypes.HealthHealthy, updater.checks[0].Status)
	assert.NotNil(t, provider.LastHealthCheckAt)
}

func TestRunOnceClassifiesDegradedOnSlowProbe(t *testing.T) {
	provider := &gwtypes.Provider{ID: "p1", TenantID: "t1", Active: true}
	lister := &listerStub{providers: []*gwtypes.Provider{provider}}
	updater := &recordingUpdater{}
	disabler := &recordingDisabler{}

	probe := New(lister, func(ctx context.Context, providerID string) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}, updater, disabler, events.NewBus(), nil).WithTimeout(50 * time.Millisecond)

	// force the degraded threshold down so a 5ms sleep counts as "slow"
	degraded := degradedThresholdOverride(t, time.Millisecond)
	_ = degraded

	probe.RunOnce(context.Background())

	assert.Equal(t, gwtypes.HealthDegraded, updater.health[0])
}

func TestRunOnceSkipsRecentlyCheckedProvider(t *testing.T) {
	recent := time.Now()
	provider := &gwtypes.Provider{ID: "p1", TenantID: "t1", Active: true, LastHealthCheckAt: &recent}
	lister := &listerStub{providers: []*gwtypes.Provider{provider}}
	updater := &recordingUpdater{}
	disabler := &recordingDisabler{}

	called := false
	probe := New(lister, func(ctx context.Context, providerID string) error {
		called = true
		return nil
	}, updater, disabler, events.NewBus(), nil)
	probe.RunOnce(context.Background())

	assert.False(t, called, "a provider checked within the last 4 minutes must be skipped")
	assert.Empty(t, updater.health)
}

func TestAutoDisableAfterFiveConsecutiveUnhealthy(t *testing.T) {
	provider := &gwtypes.Provider{ID: "p1", TenantID: "t1", Active: true}
	lister := &listerStub{providers: []*gwtypes.Provider{provider}}
	updater := &recordingUpdater{}
	disabler := &recordingDisabler{}

	probe := New(lister, func(ctx context.Context, providerID string) error {
		return errors.New("dial tcp: connection refused")
	}, updater, disabler, events.NewBus(), nil)

	for i := 0; i < 4; i++ {
		provider.LastHealthCheckAt = nil
		probe.RunOnce(context.Background())
		assert.Empty(t, disabler.disabled, "must not disable before the 5th consecutive UNHEALTHY")
	}
	provider.LastHealthCheckAt = nil
	probe.RunOnce(context.Background())

	require.Len(t, disabler.disabled, 1)
	assert.Equal(t, "p1", disabler.disabled[0])
	assert.False(t, provider.Active)
}

func TestDegradedResetsUnhealthyStreak(t *testing.T) {
	provider := &gwtypes.Provider{ID: "p1", TenantID: "t1", Active: true}
	lister := &listerStub{providers: []*gwtypes.Provider{provider}}
	updater := &recordingUpdater{}
	disabler := &recordingDisabler{}

	fail := true
	probe := New(lister, func(ctx context.Context, providerID string) error {
		if fail {
			return errors.New("timeout")
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	}, updater, disabler, events.NewBus(), nil)

	// a 5ms answer counts as slow, so the non-failing probe is DEGRADED
	degradedThresholdOverride(t, time.Millisecond)

	for i := 0; i < 4; i++ {
		provider.LastHealthCheckAt = nil
		probe.RunOnce(context.Background())
	}
	fail = false
	provider.LastHealthCheckAt = nil
	probe.RunOnce(context.Background()) // DEGRADED, resets the streak

	fail = true
	for i := 0; i < 4; i++ {
		provider.LastHealthCheckAt = nil
		probe.RunOnce(context.Background())
	}
	assert.Empty(t, disabler.disabled, "streak must restart after a DEGRADED classification")
}

func TestStartStopRunsLoopAndShutsDownCleanly(t *testing.T) {
	provider := &gwtypes.Provider{ID: "p1", TenantID: "t1", Active: true}
	lister := &listerStub{providers: []*gwtypes.Provider{provider}}
	updater := &recordingUpdater{}
	disabler := &recordingDisabler{}

	probe := New(lister, func(ctx context.Context, providerID string) error { return nil }, updater, disabler, events.NewBus(), nil).
		WithInterval(5 * time.Millisecond)

	probe.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	probe.Stop()

	updater.mu.Lock()
	n := len(updater.checks)
	updater.mu.Unlock()
	assert.NotZero(t, n)
}

// degradedThresholdOverride temporarily lowers the package-level degraded
// latency threshold for a test, restoring it on cleanup. Mirrors the
// backoffOverride pattern used in executor_test.go.
func degradedThresholdOverride(t *testing.T, d time.Duration) time.Duration {
	t.Helper()
	prev := degradedThreshold
	degradedThreshold = d
	t.Cleanup(func() { degradedThreshold = prev })
	return d
}
