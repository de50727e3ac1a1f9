package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/synapseai/gateway-core/gwconfig"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/registry"
)

func testConfig(t *testing.T) *gwconfig.Config {
	t.Helper()
	cfg := gwconfig.DefaultConfig()
	cfg.Database.DSN = "file:" + t.Name() + "?mode=memory&cache=shared"
	cfg.HealthProbeInterval = time.Hour // don't let the probe fire during the test
	cfg.Telemetry.Enabled = false
	return cfg
}

func TestNewWiresEveryCollaboratorAndClosesCleanly(t *testing.T) {
	gw, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, gw.Repo)
	require.NotNil(t, gw.Vault)
	require.NotNil(t, gw.Breakers)
	require.NotNil(t, gw.Limiters)
	require.NotNil(t, gw.Router)
	require.NotNil(t, gw.Registry)
	require.NotNil(t, gw.Metrics)
	require.NotNil(t, gw.Executor)
	require.NotNil(t, gw.Health)

	assert.NoError(t, gw.Close(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BreakerThreshold = 0

	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestGatewayExecuteRoundTripsThroughRegisteredProvider(t *testing.T) {
	gw, err := New(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer gw.Close(context.Background())

	ctx := context.Background()
	p, err := gw.Registry.Create(ctx, registry.CreateInput{
		TenantID:      "tenant-a",
		OwnerUserID:   "user-1",
		Name:          "primary",
		Dialect:       gwtypes.DialectVendorA,
		BaseURL:       "https://unreachable.invalid",
		Credential:    "sk-test",
		Capabilities:  []gwtypes.Capability{gwtypes.CapabilityChat},
		Priority:      50,
	})
	require.NoError(t, err)
	require.NotEmpty(t, p.ID)

	_, err = gw.Execute(ctx, p.TenantID, gwtypes.ChatRequest{
		Messages: []gwtypes.Message{{Role: gwtypes.RoleUser, Content: "hi"}},
	}, gwtypes.Preferences{})
	// The test provider's BaseURL is unreachable, so the call itself
	// fails upstream; what this test guards is that every collaborator
	// the Gateway wired together (router, breaker, limiter, registry,
	// metrics, executor) cooperates end to end instead of nil-pointering.
	require.Error(t, err)
}
