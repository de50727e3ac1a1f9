// Package metrics implements the MetricsRecorder of §4.6: on every
// request outcome it upserts the day's UsageMetric, updates the
// Provider's rolling latency EMA and success rate, and mirrors the same
// counters onto Prometheus instruments for operator dashboards.
// Grounded on the teacher's internal/metrics/collector.go (promauto
// Counter/Histogram vectors registered per-process) for the Prometheus
// half, and llm/health_check_metrics.go for the per-provider rolling
// aggregate it replaces, generalized from a fixed set of named vendor
// labels to a tenant/providerID-keyed schema.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwtypes"
)

// emaAlpha is §4.6's fixed exponential-moving-average weight for rolling
// latency: avg' = (1-alpha)*avg + alpha*durationMs.
const emaAlpha = 0.1

// Store is the persistence boundary the Recorder writes through: an
// atomic per-day usage increment plus a Provider read-modify-write for
// the rolling rollup fields. The repository package supplies a
// GORM-backed implementation; callers may also supply one for tests.
type Store interface {
	IncrementUsage(ctx context.Context, providerID, date string, requests, errors, tokens int64, cost float64) error
	GetProviderForUpdate(ctx context.Context, providerID string) (*gwtypes.Provider, error)
	SaveProviderRollup(ctx context.Context, p *gwtypes.Provider) error
}

// Recorder implements executor.MetricsRecorder.
type Recorder struct {
	store  Store
	logger *zap.Logger
	clock  func() time.Time

	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New builds a Recorder and registers its Prometheus instruments under
// namespace. Pass a dedicated prometheus.Registerer in tests to avoid
// colliding with the default global registry across test cases.
func New(store Store, namespace string, reg prometheus.Registerer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	return &Recorder{
		store:  store,
		logger: logger,
		clock:  time.Now,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider execution attempts.",
		}, []string{"provider", "status"}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of failed provider execution attempts.",
		}, []string{"provider"}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total tokens consumed per provider.",
		}, []string{"provider"}),
		costTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_usd_total",
			Help:      "Total estimated cost in USD per provider.",
		}, []string{"provider"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider execution latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
	}
}

// Record implements §4.6's three-step algorithm for one outcome.
func (r *Recorder) Record(ctx context.Context, providerID string, success bool, tokensUsed int, costUSD float64, duration time.Duration) {
	now := r.clock()
	date := now.UTC().Format("2006-01-02")

	var errs int64
	status := "success"
	if !success {
		errs = 1
		status = "error"
	}

	r.requestsTotal.WithLabelValues(providerID, status).Inc()
	if !success {
		r.errorsTotal.WithLabelValues(providerID).Inc()
	}
	r.tokensTotal.WithLabelValues(providerID).Add(float64(tokensUsed))
	r.costTotal.WithLabelValues(providerID).Add(costUSD)
	r.requestDuration.WithLabelValues(providerID).Observe(duration.Seconds())

	if err := r.store.IncrementUsage(ctx, providerID, date, 1, errs, int64(tokensUsed), costUSD); err != nil {
		r.logger.Warn("metrics: increment usage failed", zap.String("provider", providerID), zap.Error(err))
	}

	if err := r.updateRollup(ctx, providerID, success, duration, now); err != nil {
		r.logger.Warn("metrics: update provider rollup failed", zap.String("provider", providerID), zap.Error(err))
	}
}

// updateRollup applies §4.6 steps 2-3 against the current Provider
// record: the EMA latency update and the successRate/lastUsedAt refresh.
func (r *Recorder) updateRollup(ctx context.Context, providerID string, success bool, duration time.Duration, now time.Time) error {
	p, err := r.store.GetProviderForUpdate(ctx, providerID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}

	durationMs := float64(duration.Milliseconds())
	if p.TotalRequests == 0 && p.AvgResponseTime == 0 {
		p.AvgResponseTime = duration
	} else {
		prevMs := float64(p.AvgResponseTime.Milliseconds())
		p.AvgResponseTime = time.Duration((1-emaAlpha)*prevMs+emaAlpha*durationMs) * time.Millisecond
	}

	p.TotalRequests++
	if !success {
		p.TotalErrors++
	}
	p.RecomputeSuccessRate()
	p.LastUsedAt = &now

	return r.store.SaveProviderRollup(ctx, p)
}
