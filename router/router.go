// Package router implements the Router of §4.7: candidate selection,
// scoring, and fallback-list ordering. Grounded on the teacher's
// llm/router_multi_provider.go candidate-scoring/sort shape (score desc,
// tie-break by priority), generalized from the teacher's four
// hand-rolled selectByXMulti functions (cost/health/qps/tag) into the
// spec's single parameterized score() with strategy-weighted factors.
package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/synapseai/gateway-core/breaker"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/ratelimit"
)

// ProviderLister is the read-side of the repository interface the Router
// needs: active, non-UNHEALTHY providers for a tenant (§4.7 step 1).
type ProviderLister interface {
	ListActiveProviders(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error)
}

// FallbackLister is the optional read side of the operator-configured
// FallbackChain set (§3). A Router with no FallbackLister attached skips
// chain consultation entirely and behaves exactly as plain score-order
// routing.
type FallbackLister interface {
	ListFallbackChains(ctx context.Context, tenantID, primaryProviderID string) ([]gwtypes.FallbackChain, error)
}

// SharedCache is the optional shared-store backend for the score cache
// (§5's multi-process note), satisfied by *sharedstore.Store without
// router importing it directly. A Router with no SharedCache attached
// caches locally only, exactly as before shared state existed.
type SharedCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Router produces the ordered candidate list consumed by the Executor.
type Router struct {
	providers ProviderLister
	fallbacks FallbackLister
	breakers  *breaker.Breaker
	limiters  *ratelimit.Limiter
	logger    *zap.Logger
	shared    SharedCache

	cacheTTL time.Duration
	cacheMu  sync.RWMutex
	cache    map[string]cacheEntry
	flight   singleflight.Group

	now func() time.Time
}

type cacheEntry struct {
	candidates []*gwtypes.Provider
	expiresAt  time.Time
}

// sharedCacheEntry is cacheEntry's JSON wire shape for the optional
// shared-store backend; cacheEntry's fields are unexported so
// encoding/json needs this exported twin.
type sharedCacheEntry struct {
	Candidates []*gwtypes.Provider `json:"candidates"`
	ExpiresAt  time.Time           `json:"expires_at"`
}

func New(providers ProviderLister, breakers *breaker.Breaker, limiters *ratelimit.Limiter, cacheTTL time.Duration) *Router {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Router{
		providers: providers,
		breakers:  breakers,
		limiters:  limiters,
		logger:    zap.NewNop(),
		cacheTTL:  cacheTTL,
		cache:     make(map[string]cacheEntry),
		now:       time.Now,
	}
}

// WithFallbackChains attaches the FallbackChain read side (§3), enabling
// the fallbackBoost step in compute. Returns r for chained construction.
func (r *Router) WithFallbackChains(f FallbackLister) *Router {
	r.fallbacks = f
	return r
}

// WithLogger overrides the Router's default no-op logger.
func (r *Router) WithLogger(logger *zap.Logger) *Router {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithSharedCache attaches the optional cross-process score-cache
// backend (§5). Local caching stays the fast path; the shared store is
// consulted only on a local miss and written through on every store.
func (r *Router) WithSharedCache(shared SharedCache) *Router {
	r.shared = shared
	return r
}

// Route runs the full §4.7 algorithm and returns the ordered candidate
// list the Executor walks.
func (r *Router) Route(ctx context.Context, tenantID string, req gwtypes.ChatRequest, prefs gwtypes.Preferences) ([]*gwtypes.Provider, error) {
	key := cacheKey(tenantID, prefs)

	if prefs.PreferredProviderID == "" {
		if cached, ok := r.lookupCache(key); ok {
			return cached, nil
		}
	}

	v, err, _ := r.flight.Do(key, func() (any, error) {
		candidates, err := r.compute(ctx, tenantID, req, prefs)
		if err != nil {
			return nil, err
		}
		if prefs.PreferredProviderID == "" {
			r.storeCache(key, candidates)
		}
		return candidates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*gwtypes.Provider), nil
}

func (r *Router) compute(ctx context.Context, tenantID string, req gwtypes.ChatRequest, prefs gwtypes.Preferences) ([]*gwtypes.Provider, error) {
	// Step 1: load active, non-UNHEALTHY providers for tenantID.
	all, err := r.providers.ListActiveProviders(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var pinned *gwtypes.Provider
	var rest []*gwtypes.Provider
	for _, p := range all {
		// Step 2: pin preferredProviderID to the head if present.
		if prefs.PreferredProviderID != "" && p.ID == prefs.PreferredProviderID {
			pinned = p
			continue
		}
		rest = append(rest, p)
	}

	// Step 3: capability filter.
	rest = filter(rest, func(p *gwtypes.Provider) bool {
		for _, cap := range prefs.RequireCapabilities {
			if !p.HasCapability(cap) {
				return false
			}
		}
		return true
	})

	// Step 4: maxCostPerToken filter.
	if prefs.MaxCostPerToken != nil {
		rest = filter(rest, func(p *gwtypes.Provider) bool {
			if p.CostPerToken == nil {
				return true
			}
			return *p.CostPerToken <= *prefs.MaxCostPerToken
		})
	}

	// Step 5: maxLatencyMs filter.
	if prefs.MaxLatencyMs != nil {
		maxLatency := time.Duration(*prefs.MaxLatencyMs) * time.Millisecond
		rest = filter(rest, func(p *gwtypes.Provider) bool {
			if p.AvgResponseTime == 0 {
				return true
			}
			return p.AvgResponseTime <= maxLatency
		})
	}

	// Step 6: drop providers whose breaker denies AND whose rate limit is
	// already exhausted. Either check alone is not disqualifying — the
	// Executor applies the final, consuming per-attempt gate. CurrentCount
	// is a read-only peek so scoring stays side-effect free.
	rest = filter(rest, func(p *gwtypes.Provider) bool {
		breakerDenies := r.breakers.Status(p.ID) == breaker.Open
		limiterSaturated := p.RateLimit != nil && r.limiters.CurrentCount(p.ID) >= *p.RateLimit
		return !(breakerDenies && limiterSaturated)
	})

	// Step 7: score.
	scored := make([]scoredProvider, 0, len(rest))
	for _, p := range rest {
		scored = append(scored, scoredProvider{provider: p, score: Score(p, prefs.Strategy, req)})
	}

	// Step 8: sort descending by score, tie-break by priority desc, then
	// id lexicographic asc.
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].provider.Priority != scored[j].provider.Priority {
			return scored[i].provider.Priority > scored[j].provider.Priority
		}
		return scored[i].provider.ID < scored[j].provider.ID
	})

	result := make([]*gwtypes.Provider, 0, len(scored)+1)
	if pinned != nil {
		result = append(result, pinned)
	}
	for _, s := range scored {
		result = append(result, s.provider)
	}

	// Step 9: fallbackBoost. When fallback is enabled and chains are
	// configured for tenantID, pull each primary's designated fallback
	// provider to immediately follow it, ahead of where plain scoring
	// would otherwise place it.
	if prefs.EnableFallback && r.fallbacks != nil {
		result = r.applyFallbackChains(ctx, tenantID, result)
	}
	return result, nil
}

// applyFallbackChains implements fallbackBoost: a single left-to-right
// pass that, for every provider in result, splices its configured
// fallbacks (ordered by descending Priority) in directly behind it,
// pulling them out of wherever plain scoring placed them. Providers with
// no configured chain, or whose fallback target isn't in result, are
// left untouched.
func (r *Router) applyFallbackChains(ctx context.Context, tenantID string, result []*gwtypes.Provider) []*gwtypes.Provider {
	byID := make(map[string]*gwtypes.Provider, len(result))
	for _, p := range result {
		byID[p.ID] = p
	}

	out := make([]*gwtypes.Provider, 0, len(result))
	placed := make(map[string]bool, len(result))
	for _, p := range result {
		if placed[p.ID] {
			continue
		}
		out = append(out, p)
		placed[p.ID] = true

		chains, err := r.fallbacks.ListFallbackChains(ctx, tenantID, p.ID)
		if err != nil {
			r.logger.Warn("fallback chain lookup failed, leaving score order unchanged",
				zap.String("tenant_id", tenantID), zap.String("provider_id", p.ID), zap.Error(err))
			continue
		}
		for _, c := range chains {
			fb, ok := byID[c.FallbackProviderID]
			if !ok || placed[c.FallbackProviderID] {
				continue
			}
			out = append(out, fb)
			placed[c.FallbackProviderID] = true
		}
	}
	return out
}

type scoredProvider struct {
	provider *gwtypes.Provider
	score    float64
}

func filter(ps []*gwtypes.Provider, keep func(*gwtypes.Provider) bool) []*gwtypes.Provider {
	out := ps[:0:0]
	for _, p := range ps {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func cacheKey(tenantID string, prefs gwtypes.Preferences) string {
	return fmt.Sprintf("%s|%s|%v|%v|%v|%v", tenantID, prefs.Strategy, prefs.MaxCostPerToken, prefs.MaxLatencyMs, prefs.RequireCapabilities, prefs.EnableFallback)
}

func (r *Router) lookupCache(key string) ([]*gwtypes.Provider, bool) {
	r.cacheMu.RLock()
	e, ok := r.cache[key]
	r.cacheMu.RUnlock()
	if ok && r.now().Before(e.expiresAt) {
		return e.candidates, true
	}

	if r.shared == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var shared sharedCacheEntry
	if err := r.shared.GetJSON(ctx, r.sharedKey(key), &shared); err != nil {
		return nil, false
	}
	if r.now().After(shared.ExpiresAt) {
		return nil, false
	}
	r.storeLocal(key, shared.Candidates, shared.ExpiresAt)
	return shared.Candidates, true
}

func (r *Router) storeCache(key string, candidates []*gwtypes.Provider) {
	expiresAt := r.now().Add(r.cacheTTL)
	r.storeLocal(key, candidates, expiresAt)

	if r.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.shared.SetJSON(ctx, r.sharedKey(key), sharedCacheEntry{Candidates: candidates, ExpiresAt: expiresAt}, r.cacheTTL)
}

func (r *Router) storeLocal(key string, candidates []*gwtypes.Provider, expiresAt time.Time) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache[key] = cacheEntry{candidates: candidates, expiresAt: expiresAt}
}

func (r *Router) sharedKey(key string) string {
	return "router:cache:" + key
}

// InvalidateTenant drops every cached entry for tenantID, locally and
// (if attached) in the shared store. Called by the Registry on any
// provider mutation within the tenant (§4.7 caching rule).
func (r *Router) InvalidateTenant(tenantID string) {
	r.cacheMu.Lock()
	prefix := tenantID + "|"
	for k := range r.cache {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.cache, k)
		}
	}
	r.cacheMu.Unlock()

	if r.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.shared.DeletePrefix(ctx, r.sharedKey(prefix))
}
