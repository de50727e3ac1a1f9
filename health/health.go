// Package health implements the HealthProbe of §4.5: a named periodic
// task that probes every active provider, classifies HEALTHY/DEGRADED/
// UNHEALTHY by latency, writes a HealthCheck record, and auto-deactivates
// a provider after 5 consecutive UNHEALTHY classifications. Grounded on
// the teacher's llm/health_monitor.go ticker-based background loop
// (startHealthCheckLoop, context-cancellation Stop), generalized from
// the teacher's two-parallel-notions-of-health design (a cached score
// plus a probe-result map) into the single Provider.Health enum §9
// calls for, with the probe timestamp (LastHealthCheckAt) governing
// recency instead of a separate cache.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/events"
	"github.com/synapseai/gateway-core/gwtypes"
)

const (
	probeTimeout    = 10 * time.Second
	probeInterval   = 5 * time.Minute
	skipWindow      = 4 * time.Minute
	unhealthyStreak = 5
)

// degradedThreshold is a var (not const) so tests can shrink it instead
// of sleeping for 2 real seconds to exercise the DEGRADED path.
var degradedThreshold = 2000 * time.Millisecond

// ProviderLister returns every active provider across all tenants, the
// full population HealthProbe reclassifies each cycle.
type ProviderLister interface {
	ListAllActive(ctx context.Context) ([]*gwtypes.Provider, error)
}

// Updater persists the post-probe Provider state (health and
// lastHealthCheck) and the HealthCheck audit record.
type Updater interface {
	UpdateHealth(ctx context.Context, p *gwtypes.Provider) error
	RecordHealthCheck(ctx context.Context, check gwtypes.HealthCheck) error
}

// Disabler deactivates a provider and emits PROVIDER_DISABLED, satisfied
// by *registry.Registry.
type Disabler interface {
	Disable(ctx context.Context, p *gwtypes.Provider) error
}

// ProbeFunc performs the smallest possible live call used to classify a
// provider. Implemented by a thin adapter over the Registry's Invoker
// lookup so this package doesn't import adapters/registry directly.
type ProbeFunc func(ctx context.Context, providerID string) error

// Probe is one periodic health-check task (§9's "named periodic task
// with explicit shutdown").
type Probe struct {
	providers ProviderLister
	probe     ProbeFunc
	updater   Updater
	disabler  Disabler
	bus       *events.Bus
	logger    *zap.Logger

	interval time.Duration
	timeout  time.Duration

	mu         sync.Mutex
	streaks    map[string]int
	cancel     context.CancelFunc
	done       chan struct{}
}

func New(providers ProviderLister, probe ProbeFunc, updater Updater, disabler Disabler, bus *events.Bus, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		providers: providers,
		probe:     probe,
		updater:   updater,
		disabler:  disabler,
		bus:       bus,
		logger:    logger,
		interval:  probeInterval,
		timeout:   probeTimeout,
		streaks:   make(map[string]int),
	}
}

// WithInterval overrides the default 5-minute cadence, for tests.
func (p *Probe) WithInterval(d time.Duration) *Probe {
	p.interval = d
	return p
}

// WithTimeout overrides the default 10s per-call timeout, for tests.
func (p *Probe) WithTimeout(d time.Duration) *Probe {
	p.timeout = d
	return p
}

// Start launches the periodic loop in a background goroutine. Stop must
// be called to release it deterministically (§9).
func (p *Probe) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	}()
}

// Stop cancels the loop and blocks until it has exited.
func (p *Probe) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// RunOnce probes every eligible active provider once; exported so tests
// and manual/forced checks can drive a single cycle synchronously.
func (p *Probe) RunOnce(ctx context.Context) {
	providers, err := p.providers.ListAllActive(ctx)
	if err != nil {
		p.logger.Warn("health: list active providers failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, provider := range providers {
		if provider.LastHealthCheckAt != nil && now.Sub(*provider.LastHealthCheckAt) < skipWindow {
			continue
		}
		p.probeOne(ctx, provider, now)
	}
}

func (p *Probe) probeOne(ctx context.Context, provider *gwtypes.Provider, checkedAt time.Time) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.probe(callCtx, provider.ID)
	latency := time.Since(start)

	status, healthy := classify(err, latency)

	provider.Health = status
	provider.LastHealthCheckAt = &checkedAt

	if updateErr := p.updater.UpdateHealth(ctx, provider); updateErr != nil {
		p.logger.Warn("health: update provider failed", zap.String("provider", provider.ID), zap.Error(updateErr))
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if recErr := p.updater.RecordHealthCheck(ctx, gwtypes.HealthCheck{
		ProviderID:   provider.ID,
		Status:       status,
		ResponseTime: latency,
		ErrorMessage: errMsg,
		CheckedAt:    checkedAt,
	}); recErr != nil {
		p.logger.Warn("health: record health check failed", zap.String("provider", provider.ID), zap.Error(recErr))
	}

	p.bus.Publish(ctx, events.Event{
		EventType:  events.ProviderHealthChanged,
		ProviderID: provider.ID,
		TenantID:   provider.TenantID,
		Payload:    map[string]any{"status": string(status)},
	})

	p.trackStreak(ctx, provider, healthy)
}

func (p *Probe) trackStreak(ctx context.Context, provider *gwtypes.Provider, healthy bool) {
	p.mu.Lock()
	if healthy {
		delete(p.streaks, provider.ID)
		p.mu.Unlock()
		return
	}
	p.streaks[provider.ID]++
	streak := p.streaks[provider.ID]
	p.mu.Unlock()

	if streak >= unhealthyStreak {
		if err := p.disabler.Disable(ctx, provider); err != nil {
			p.logger.Warn("health: auto-disable failed", zap.String("provider", provider.ID), zap.Error(err))
			return
		}
		p.mu.Lock()
		delete(p.streaks, provider.ID)
		p.mu.Unlock()
	}
}

// classify implements §4.5's classification table; healthy is false only
// for the UNHEALTHY case, since only consecutive UNHEALTHY outcomes
// count toward the auto-disable streak (DEGRADED resets it — the
// provider answered, just slowly).
func classify(err error, latency time.Duration) (gwtypes.HealthStatus, bool) {
	if err != nil {
		return gwtypes.HealthUnhealthy, false
	}
	if latency >= degradedThreshold {
		return gwtypes.HealthDegraded, true
	}
	return gwtypes.HealthHealthy, true
}
