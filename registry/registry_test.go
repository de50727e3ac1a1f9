package registry

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synapseai/gateway-core/breaker"
	"github.com/synapseai/gateway-core/events"
	"github.com/synapseai/gateway-core/gwerr"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/ratelimit"
	"github.com/synapseai/gateway-core/vault"
)

type memRepo struct {
	mu        sync.Mutex
	providers map[string]*gwtypes.Provider
	nextID    int
}

func newMemRepo() *memRepo { return &memRepo{providers: make(map[string]*gwtypes.Provider)} }

func (m *memRepo) Create(ctx context.Context, p *gwtypes.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = "prov-" + string(rune('0'+m.nextID))
	m.providers[p.ID] = p
	return nil
}

func (m *memRepo) Update(ctx context.Context, p *gwtypes.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
	return nil
}

func (m *memRepo) Delete(ctx context.Context, tenantID, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.providers, providerID)
	return nil
}

func (m *memRepo) Get(ctx context.Context, tenantID, providerID string) (*gwtypes.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.providers[providerID], nil
}

func (m *memRepo) List(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*gwtypes.Provider
	for _, p := range m.providers {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	return out, nil
}

type noopCache struct{ invalidated []string }

func (c *noopCache) InvalidateTenant(tenantID string) { c.invalidated = append(c.invalidated, tenantID) }

func newTestRegistry(t *testing.T) (*Registry, *memRepo, *noopCache) {
	t.Helper()
	v, err := vault.New("", nil)
	require.NoError(t, err)
	repo := newMemRepo()
	cache := &noopCache{}
	r := New(repo, v, breaker.New(breaker.DefaultConfig(), nil), ratelimit.New(0), cache, events.NewBus(), nil)
	return r, repo, cache
}

func TestCreateSealsCredentialAndBuildsAdapter(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()

	r, repo, _ := newTestRegistry(t)
	p, err := r.Create(context.Background(), CreateInput{
		TenantID:   "t1",
		Name:       "primary",
		Dialect:    gwtypes.DialectVendorA,
		BaseURL:    srv.URL,
		Credential: "sk-secret",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "sk-secret", string(p.EncryptedCredential), "credential must be sealed, not stored in plaintext")
	assert.True(t, p.Active)
	assert.Equal(t, gwtypes.HealthUnknown, p.Health)

	stored, _ := repo.Get(context.Background(), "t1", p.ID)
	require.NotNil(t, stored)

	inv, err := r.Invoker(p.ID)
	require.NoError(t, err)
	assert.NotNil(t, inv)
}

func TestListOnlyReturnsTenantsOwnProviders(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()
	r, _, _ := newTestRegistry(t)

	_, err := r.Create(context.Background(), CreateInput{TenantID: "t1", Dialect: gwtypes.DialectVendorA, BaseURL: srv.URL, Credential: "k"})
	require.NoError(t, err)
	_, err = r.Create(context.Background(), CreateInput{TenantID: "t2", Dialect: gwtypes.DialectVendorA, BaseURL: srv.URL, Credential: "k"})
	require.NoError(t, err)

	t1Providers, err := r.List(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, t1Providers, 1)
	assert.Equal(t, "t1", t1Providers[0].TenantID)
}

func TestDeleteEvictsAdapterAndInvalidatesCache(t *testing.T) {
	srv := httptest.NewServer(nil)
	defer srv.Close()
	r, _, cache := newTestRegistry(t)

	p, err := r.Create(context.Background(), CreateInput{TenantID: "t1", Dialect: gwtypes.DialectVendorA, BaseURL: srv.URL, Credential: "k"})
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "t1", p.ID))

	_, err = r.Invoker(p.ID)
	assert.Error(t, err)
	assert.Equal(t, gwerr.NotInitialized, gwerr.GetKind(err))
	assert.Contains(t, cache.invalidated, "t1")
}

func TestGetUnknownProviderReturnsProviderNotFound(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Get(context.Background(), "t1", "nonexistent")
	require.Error(t, err)
	assert.Equal(t, gwerr.ProviderNotFound, gwerr.GetKind(err))
}
