// Package registry implements the Registry of §4.9: create/update/delete/
// list/get against the repository, credential sealing, adapter
// construction/rebuild, breaker/limiter/cache eviction on delete, and
// lifecycle event emission. Grounded on the teacher's llm/registry.go
// ProviderRegistry (thread-safe map + RWMutex, register/get/list/
// unregister shape), generalized from a single process-wide, name-keyed
// map with one default provider to a tenant-scoped CRUD surface backed
// by a persistent repository, with an adapter instance cached per
// provider ID rather than held directly in the map.
package registry

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/adapters"
	"github.com/synapseai/gateway-core/breaker"
	"github.com/synapseai/gateway-core/events"
	"github.com/synapseai/gateway-core/gwerr"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/ratelimit"
	"github.com/synapseai/gateway-core/vault"
)

// Repository is the persistence boundary §6 describes: an async CRUD
// surface keyed by tenantId+providerId.
type Repository interface {
	Create(ctx context.Context, p *gwtypes.Provider) error
	Update(ctx context.Context, p *gwtypes.Provider) error
	Delete(ctx context.Context, tenantID, providerID string) error
	Get(ctx context.Context, tenantID, providerID string) (*gwtypes.Provider, error)
	List(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error)
}

// cacheInvalidator is the slice of *router.Router the Registry needs;
// expressed as an interface here to avoid a registry->router import
// cycle (router does not depend on registry).
type cacheInvalidator interface {
	InvalidateTenant(tenantID string)
}

// CreateInput is the caller-supplied shape for Registry.Create; Provider
// fields the caller must not set directly (ID, timestamps, health,
// breaker status) are derived here.
type CreateInput struct {
	TenantID      string
	OwnerUserID   string
	Name          string
	Dialect       gwtypes.Dialect
	BaseURL       string
	Credential    string // plaintext; sealed before persistence
	AdapterConfig map[string]any
	Capabilities  []gwtypes.Capability
	Priority      int
	RateLimit     *int
	CostPerToken  *float64
}

// Registry owns the provider lifecycle: persistence, credential sealing,
// adapter instantiation, and breaker/limiter/cache eviction.
type Registry struct {
	repo     Repository
	vault    *vault.Vault
	breakers *breaker.Breaker
	limiters *ratelimit.Limiter
	cache    cacheInvalidator
	bus      *events.Bus
	logger   *zap.Logger

	mu       sync.RWMutex
	invokers map[string]adapters.Invoker
}

func New(repo Repository, v *vault.Vault, b *breaker.Breaker, l *ratelimit.Limiter, cache cacheInvalidator, bus *events.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		repo:     repo,
		vault:    v,
		breakers: b,
		limiters: l,
		cache:    cache,
		bus:      bus,
		logger:   logger,
		invokers: make(map[string]adapters.Invoker),
	}
}

// Create seals the credential, persists the provider, and instantiates
// its adapter. The breaker starts CLOSED implicitly — breaker.Breaker
// treats an unseen providerID as CLOSED until a failure is recorded.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*gwtypes.Provider, error) {
	sealed, err := r.vault.Seal(in.Credential)
	if err != nil {
		return nil, &gwerr.Error{Kind: gwerr.NotInitialized, Message: "failed to seal credential", Cause: err}
	}

	p := &gwtypes.Provider{
		TenantID:            in.TenantID,
		OwnerUserID:         in.OwnerUserID,
		Name:                in.Name,
		Dialect:             in.Dialect,
		BaseURL:             in.BaseURL,
		EncryptedCredential: []byte(sealed),
		AdapterConfig:       in.AdapterConfig,
		Capabilities:        in.Capabilities,
		Priority:            in.Priority,
		RateLimit:           in.RateLimit,
		CostPerToken:        in.CostPerToken,
		Active:              true,
		Health:              gwtypes.HealthUnknown,
		Breaker:             gwtypes.BreakerClosed,
	}

	if err := r.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	if err := r.buildAdapter(p, in.Credential); err != nil {
		return nil, err
	}

	r.bus.Publish(ctx, events.Event{EventType: events.ProviderCreated, ProviderID: p.ID, TenantID: p.TenantID})
	return p, nil
}

// Update persists changed fields and rebuilds the adapter when the
// credential, endpoint, or adapter config changed (§4.9).
func (r *Registry) Update(ctx context.Context, p *gwtypes.Provider, newCredential string, credentialChanged bool) error {
	if credentialChanged {
		sealed, err := r.vault.Seal(newCredential)
		if err != nil {
			return &gwerr.Error{Kind: gwerr.NotInitialized, Message: "failed to seal credential", Cause: err}
		}
		p.EncryptedCredential = []byte(sealed)
	}

	if err := r.repo.Update(ctx, p); err != nil {
		return err
	}

	if credentialChanged {
		if err := r.buildAdapter(p, newCredential); err != nil {
			return err
		}
	} else if err := r.rebuildAdapterFromStored(p); err != nil {
		return err
	}

	r.cache.InvalidateTenant(p.TenantID)
	r.bus.Publish(ctx, events.Event{EventType: events.ProviderUpdated, ProviderID: p.ID, TenantID: p.TenantID})
	return nil
}

// Delete evicts the adapter, breaker state, limiter state, and any
// cached routing decisions for the tenant, then removes the record.
func (r *Registry) Delete(ctx context.Context, tenantID, providerID string) error {
	if err := r.repo.Delete(ctx, tenantID, providerID); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.invokers, providerID)
	r.mu.Unlock()

	r.breakers.Evict(providerID)
	r.limiters.Evict(providerID)
	r.cache.InvalidateTenant(tenantID)

	r.bus.Publish(ctx, events.Event{EventType: events.ProviderDeleted, ProviderID: providerID, TenantID: tenantID})
	return nil
}

// Disable marks a provider inactive (used by HealthProbe's auto-disable
// path, §4.5) and emits PROVIDER_DISABLED.
func (r *Registry) Disable(ctx context.Context, p *gwtypes.Provider) error {
	p.Active = false
	if err := r.repo.Update(ctx, p); err != nil {
		return err
	}
	r.cache.InvalidateTenant(p.TenantID)
	r.bus.Publish(ctx, events.Event{EventType: events.ProviderDisabled, ProviderID: p.ID, TenantID: p.TenantID})
	return nil
}

func (r *Registry) Get(ctx context.Context, tenantID, providerID string) (*gwtypes.Provider, error) {
	p, err := r.repo.Get(ctx, tenantID, providerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, &gwerr.Error{Kind: gwerr.ProviderNotFound, Provider: providerID}
	}
	return p, nil
}

// List returns every provider for tenantID (T1: every returned provider
// belongs to the requested tenant, enforced by the repository query).
func (r *Registry) List(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error) {
	return r.repo.List(ctx, tenantID)
}

// ListActiveProviders implements router.ProviderLister: active providers
// whose health is not UNHEALTHY (§4.7 step 1).
func (r *Registry) ListActiveProviders(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error) {
	all, err := r.repo.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*gwtypes.Provider, 0, len(all))
	for _, p := range all {
		if p.Selectable() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Invoker implements executor.InvokerResolver.
func (r *Registry) Invoker(providerID string) (adapters.Invoker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invokers[providerID]
	if !ok {
		return nil, &gwerr.Error{Kind: gwerr.NotInitialized, Provider: providerID, Message: "adapter not instantiated"}
	}
	return inv, nil
}

func (r *Registry) buildAdapter(p *gwtypes.Provider, plaintextCredential string) error {
	inv, err := adapters.Construct(adapters.BuildConfig{
		Dialect:     p.Dialect,
		BaseURL:     p.BaseURL,
		Credentials: adapters.Credentials{APIKey: plaintextCredential},
		Config:      p.AdapterConfig,
		Logger:      r.logger,
	})
	if err != nil {
		return fmt.Errorf("registry: construct adapter for %s: %w", p.ID, err)
	}
	r.mu.Lock()
	r.invokers[p.ID] = inv
	r.mu.Unlock()
	return nil
}

// rebuildAdapterFromStored re-opens the sealed credential and rebuilds
// the adapter, used when the endpoint or config changed but the
// credential itself did not.
func (r *Registry) rebuildAdapterFromStored(p *gwtypes.Provider) error {
	plaintext, err := r.vault.Open(string(p.EncryptedCredential))
	if err != nil {
		return &gwerr.Error{Kind: gwerr.NotInitialized, Message: "failed to open credential", Provider: p.ID, Cause: err}
	}
	return r.buildAdapter(p, plaintext)
}
