package router

import (
	"github.com/synapseai/gateway-core/gwtypes"
)

// Score implements §4.7 step 7: score(provider, strategy) in [0,100],
// plus the priority/model-support/tools bonuses from the same step.
// Grounded on the teacher's selectByCostMulti/selectByHealthMulti
// weighting shape in llm/router_multi_provider.go, generalized into one
// parameterized weighted sum per strategy.
func Score(p *gwtypes.Provider, strategy gwtypes.Strategy, req gwtypes.ChatRequest) float64 {
	latency := latencyScore(p)
	cost := costScore(p)
	reliability := reliabilityScore(p)
	health := healthScore(p)
	availability := availabilityScore(p)
	load := loadScore(p)

	var base float64
	switch strategy {
	case gwtypes.StrategyCost:
		base = 0.6*cost + 0.2*reliability + 0.1*health + 0.1*availability
	case gwtypes.StrategyLatency:
		base = 0.6*latency + 0.2*reliability + 0.1*health + 0.1*availability
	case gwtypes.StrategyQuality:
		base = 0.5*reliability + 0.3*health + 0.1*latency + 0.1*availability
	default: // balanced, and unset/unknown strategies default to balanced
		base = 0.25*latency + 0.2*cost + 0.25*reliability + 0.15*health + 0.1*availability + 0.05*load
	}

	base += float64(p.Priority) / 10

	if req.Model != "" && modelKnownToAdapter(p, req.Model) {
		base += 5
	}
	if len(req.Tools) > 0 && p.HasCapability(gwtypes.CapabilityFunctionCalling) {
		base += 3
	}

	if base > 100 {
		base = 100
	}
	if base < 0 {
		base = 0
	}
	return base
}

func latencyScore(p *gwtypes.Provider) float64 {
	ms := p.AvgResponseTime.Milliseconds()
	switch {
	case ms <= 500:
		// Covers both sub-500ms and the no-traffic-yet zero value: §4.7's
		// latency table gives no "missing -> 50" carve-out (unlike cost/
		// reliability, which state one explicitly), so a brand-new
		// provider falls where the literal piecewise table puts it.
		return 100
	case ms <= 1000:
		return 80
	case ms <= 2000:
		return 60
	case ms <= 5000:
		return 40
	case ms <= 10000:
		return 20
	default:
		return 10
	}
}

func costScore(p *gwtypes.Provider) float64 {
	if p.CostPerToken == nil {
		return 50
	}
	c := *p.CostPerToken
	switch {
	case c <= 1e-4:
		return 100
	case c <= 5e-4:
		return 80
	case c <= 1e-3:
		return 60
	case c <= 5e-3:
		return 40
	case c <= 1e-2:
		return 20
	default:
		return 10
	}
}

func reliabilityScore(p *gwtypes.Provider) float64 {
	if p.SuccessRate == nil {
		return 50
	}
	return *p.SuccessRate * 100
}

func healthScore(p *gwtypes.Provider) float64 {
	switch p.Health {
	case gwtypes.HealthHealthy:
		return 100
	case gwtypes.HealthDegraded:
		return 60
	case gwtypes.HealthUnhealthy:
		return 20
	default:
		return 50
	}
}

// availabilityScore is not pinned down by an explicit formula in the
// spec's scoring table; it folds the breaker/limiter "is this provider
// immediately usable" signal into the weighted sum the same way
// healthScore folds in the probe-derived status. Only the stored breaker
// status is read: OPEN scores 0, and CLOSED or HALF_OPEN (a single probe
// slot) score full marks. The rate limit is not consulted.
func availabilityScore(p *gwtypes.Provider) float64 {
	switch p.Breaker {
	case gwtypes.BreakerOpen:
		return 0
	default:
		return 100
	}
}

// loadScore only feeds the balanced strategy's 5% weight. It returns 100
// for every provider, with or without a rate limit, so that weight adds
// the same amount to every balanced score; it does not read the limiter.
func loadScore(p *gwtypes.Provider) float64 {
	if p.RateLimit == nil || *p.RateLimit <= 0 {
		return 100
	}
	return 100
}

func modelKnownToAdapter(p *gwtypes.Provider, model string) bool {
	known, ok := p.AdapterConfig["known_models"]
	if !ok {
		return false
	}
	list, ok := known.([]any)
	if !ok {
		return false
	}
	for _, m := range list {
		if s, ok := m.(string); ok && s == model {
			return true
		}
	}
	return false
}
