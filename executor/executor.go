// Package executor implements the Executor of §4.8: walks the Router's
// candidate list, applies the breaker/limiter per-attempt gate, invokes
// the adapter with bounded internal retries, and falls back across
// candidates until success or exhaustion. Grounded on the teacher's
// llm/resilience.go retry-policy/backoff shape and llm/resilient_provider.go's
// decorator-style retry+idempotency+breaker composition, generalized from
// a single wrapped Provider to the spec's per-candidate fallback loop.
package executor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/adapters"
	"github.com/synapseai/gateway-core/breaker"
	"github.com/synapseai/gateway-core/events"
	"github.com/synapseai/gateway-core/gwerr"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/ratelimit"
	"github.com/synapseai/gateway-core/router"
)

// tracer emits one span per Execute call and one child span per candidate
// attempt, grounded on the teacher's llm/middleware/chain.go TracingMiddleware
// shape but talking to the real OTel API directly rather than through that
// package's narrow Tracer/Span interface, since internal/telemetry already
// registers a concrete SDK TracerProvider globally. A noop TracerProvider
// (telemetry disabled, or no Init call at all) makes every span a cheap noop.
var tracer = otel.Tracer("github.com/synapseai/gateway-core/executor")

// backoffSchedule is the fixed 1s/2s/4s internal retry delay of §4.8 step 5
// and §7's retry policy (at most 3 internal attempts per candidate).
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// InvokerResolver hands the Executor the live Invoker for a candidate,
// the Registry's adapter cache in production use.
type InvokerResolver interface {
	Invoker(providerID string) (adapters.Invoker, error)
}

// MetricsRecorder is the narrow write-side the Executor needs; the full
// implementation lives in package metrics (§4.6). costUSD is 0 when the
// provider has no configured CostPerToken.
type MetricsRecorder interface {
	Record(ctx context.Context, providerID string, success bool, tokensUsed int, costUSD float64, duration time.Duration)
}

// CostEstimator estimates token usage when the upstream doesn't report
// real usage (§4.8's estimated-cost rule).
type CostEstimator func(req gwtypes.ChatRequest) int

// Executor runs one Execute() call per inbound request.
type Executor struct {
	router    *router.Router
	breakers  *breaker.Breaker
	limiters  *ratelimit.Limiter
	invokers  InvokerResolver
	metrics   MetricsRecorder
	bus       *events.Bus
	estimate  CostEstimator
	logger    *zap.Logger

	idempotencyTTL time.Duration
	idemMu         sync.Mutex
	idempotency    map[string]idemEntry
}

type idemEntry struct {
	result    gwtypes.ExecutionResult
	expiresAt time.Time
}

func New(r *router.Router, b *breaker.Breaker, l *ratelimit.Limiter, invokers InvokerResolver, metrics MetricsRecorder, bus *events.Bus, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		router:         r,
		breakers:       b,
		limiters:       l,
		invokers:       invokers,
		metrics:        metrics,
		bus:            bus,
		estimate:       estimateTokensNaive,
		logger:         logger,
		idempotencyTTL: 5 * time.Minute,
		idempotency:    make(map[string]idemEntry),
	}
}

// WithCostEstimator overrides the default len/4 estimator, e.g. with a
// tiktoken-backed one (see estimator.go).
func (e *Executor) WithCostEstimator(fn CostEstimator) *Executor {
	e.estimate = fn
	return e
}

// Execute runs §4.8's full algorithm and returns the first successful
// result or AllProvidersFailed.
func (e *Executor) Execute(ctx context.Context, tenantID string, req gwtypes.ChatRequest, prefs gwtypes.Preferences) (*gwtypes.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "executor.Execute", oteltrace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("strategy", string(prefs.Strategy)),
	))
	defer span.End()

	result, err := e.execute(ctx, tenantID, req, prefs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetAttributes(
			attribute.String("provider_id", result.ProviderID),
			attribute.Int("attempts", result.Attempts),
			attribute.Bool("fallback_used", result.FallbackUsed),
		)
	}
	return result, err
}

func (e *Executor) execute(ctx context.Context, tenantID string, req gwtypes.ChatRequest, prefs gwtypes.Preferences) (*gwtypes.ExecutionResult, error) {
	if prefs.IdempotencyKey != "" {
		if cached, ok := e.replayIdempotent(prefs.IdempotencyKey); ok {
			return &cached, nil
		}
	}

	candidates, err := e.router.Route(ctx, tenantID, req, prefs)
	if err != nil {
		return nil, err
	}

	maxRetries := prefs.MaxRetriesOrDefault()
	fallbackEnabled := prefs.FallbackEnabled()
	start := time.Now()

	attempts := 0
	candidateHops := 0
	var lastErr error

	for _, candidate := range candidates {
		if candidateHops >= maxRetries {
			break
		}
		candidateHops++
		result, err := e.attemptCandidate(ctx, candidate, req, &attempts)
		if err == nil {
			result.Attempts = attempts
			result.DurationMs = time.Since(start).Milliseconds()
			result.Strategy = prefs.Strategy
			result.FallbackUsed = attempts > 1
			e.bus.Publish(ctx, events.Event{EventType: events.ProviderExecutionOK, ProviderID: candidate.ID, TenantID: tenantID})

			if prefs.IdempotencyKey != "" {
				e.storeIdempotent(prefs.IdempotencyKey, *result)
			}
			return result, nil
		}
		lastErr = err
		e.bus.Publish(ctx, events.Event{EventType: events.ProviderExecutionFail, ProviderID: candidate.ID, TenantID: tenantID, Payload: map[string]any{"kind": string(gwerr.GetKind(err))}})

		if !fallbackEnabled {
			break
		}
	}

	e.bus.Publish(ctx, events.Event{EventType: events.AllProvidersFailed, TenantID: tenantID, Payload: map[string]any{"attempts": attempts, "kind": string(gwerr.GetKind(lastErr))}})
	return nil, &gwerr.Error{Kind: gwerr.AllProvidersFailed, Message: "all candidates failed", Cause: lastErr}
}

// maxAttemptsPerCandidate bounds the internal retry loop to 3 total
// calls per candidate (an initial attempt plus 2 retries), per §4.8 step
// 5 / §7's retry policy. This bound is fixed and independent of
// maxRetries, which instead bounds the number of distinct candidates the
// fallback walk will hop across (§7: "Fallback walk is separate and
// bounded by maxRetries across all candidates") — §8 scenario 2's
// default maxRetries=3 still has to walk P1 (3 internal attempts) then
// P2 (1 attempt) for a total of attempts=4, which only holds if the
// internal-retry bound and the fallback-hop bound are tracked
// separately instead of sharing one counter.
var maxAttemptsPerCandidate = len(backoffSchedule)

// attemptCandidate runs §4.8 steps 1-7 for a single candidate, including
// its internal retry loop (step 5).
func (e *Executor) attemptCandidate(ctx context.Context, p *gwtypes.Provider, req gwtypes.ChatRequest, attempts *int) (*gwtypes.ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "executor.attemptCandidate", oteltrace.WithAttributes(
		attribute.String("provider_id", p.ID),
	))
	defer span.End()

	result, err := e.attemptCandidateOnce(ctx, p, req, attempts)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
	return result, err
}

func (e *Executor) attemptCandidateOnce(ctx context.Context, p *gwtypes.Provider, req gwtypes.ChatRequest, attempts *int) (*gwtypes.ExecutionResult, error) {
	for candidateAttempt := 0; candidateAttempt < maxAttemptsPerCandidate; candidateAttempt++ {
		*attempts++

		if !e.breakers.Allow(p.ID) {
			e.deferredFailure(ctx, p.ID)
			return nil, &gwerr.Error{Kind: gwerr.CircuitOpen, Provider: p.ID, Message: "circuit open"}
		}
		if !e.limiters.Allow(p.ID, p.RateLimit) {
			e.deferredFailure(ctx, p.ID)
			return nil, &gwerr.Error{Kind: gwerr.RateLimited, Provider: p.ID, Message: "rate limited"}
		}

		invoker, err := e.invokers.Invoker(p.ID)
		if err != nil {
			return nil, err
		}

		callStart := time.Now()
		result, callErr := invoker.Invoke(ctx, req)
		duration := time.Since(callStart)

		if callErr == nil {
			e.breakers.RecordSuccess(p.ID)
			tokens := tokensUsed(result.Usage, e.estimate(req))
			cost := estimatedCost(p, result, e.estimate(req))
			e.recordMetric(ctx, p.ID, true, tokens, cost, duration)
			return &gwtypes.ExecutionResult{
				ChatResult:    result,
				ProviderID:    p.ID,
				TokensUsed:    tokens,
				EstimatedCost: cost,
			}, nil
		}

		if gwerr.CountsAsBreakerFailure(callErr) {
			e.breakers.RecordFailure(p.ID)
		}
		e.recordMetric(ctx, p.ID, false, 0, 0, duration)

		canRetry := gwerr.IsRetryable(callErr) && candidateAttempt < maxAttemptsPerCandidate-1
		if !canRetry {
			return nil, callErr
		}
		select {
		case <-ctx.Done():
			return nil, &gwerr.Error{Kind: gwerr.Timeout, Provider: p.ID, Message: "context cancelled during retry backoff", Cause: ctx.Err()}
		case <-time.After(backoffSchedule[candidateAttempt]):
		}
	}
	return nil, &gwerr.Error{Kind: gwerr.AllProvidersFailed, Message: "internal retries exhausted", Provider: p.ID}
}

func (e *Executor) deferredFailure(ctx context.Context, providerID string) {
	e.recordMetric(ctx, providerID, false, 0, 0, 0)
}

func (e *Executor) recordMetric(ctx context.Context, providerID string, success bool, tokens int, costUSD float64, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(ctx, providerID, success, tokens, costUSD, d)
}

func (e *Executor) replayIdempotent(key string) (gwtypes.ExecutionResult, bool) {
	e.idemMu.Lock()
	defer e.idemMu.Unlock()
	entry, ok := e.idempotency[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return gwtypes.ExecutionResult{}, false
	}
	return entry.result, true
}

func (e *Executor) storeIdempotent(key string, result gwtypes.ExecutionResult) {
	e.idemMu.Lock()
	defer e.idemMu.Unlock()
	e.idempotency[key] = idemEntry{result: result, expiresAt: time.Now().Add(e.idempotencyTTL)}
}

func tokensUsed(usage *gwtypes.Usage, estimated int) int {
	if usage != nil && usage.TotalTokens > 0 {
		return usage.TotalTokens
	}
	return estimated
}

func estimatedCost(p *gwtypes.Provider, result gwtypes.ChatResult, estimated int) float64 {
	if p.CostPerToken == nil {
		return 0
	}
	return *p.CostPerToken * float64(tokensUsed(result.Usage, estimated))
}

// estimateTokensNaive is the §4.8/§9 fallback heuristic: ceil(Σ
// len(content)/4) + maxTokens, used when no tokenizer is wired (see
// estimator.go for the tiktoken-backed estimator).
func estimateTokensNaive(req gwtypes.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.Content)
	}
	tokens := int(math.Ceil(float64(total) / 4))
	if req.MaxTokens != nil {
		tokens += *req.MaxTokens
	}
	return tokens
}
