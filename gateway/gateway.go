// Package gateway is the library's composition root: it wires a single
// gwconfig.Config into a ready-to-use dependency graph — repository,
// vault, breaker, limiter, router, registry, metrics recorder, executor,
// and health probe — and is where the OTel telemetry providers
// internal/telemetry builds actually get initialized and handed to the
// process, rather than left for a caller to remember to wire themselves.
// Grounded on the teacher's cmd/agentflow/main.go runServe function
// (telemetry.Init -> openDatabase -> construct collaborators -> start
// background loops), trimmed to the library-embed shape this system is
// scoped as: no HTTP listener, no CLI, just New and Execute (see
// DESIGN.md's "On cmd/" note for why no standalone binary is built).
package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/synapseai/gateway-core/breaker"
	"github.com/synapseai/gateway-core/events"
	"github.com/synapseai/gateway-core/executor"
	"github.com/synapseai/gateway-core/gwconfig"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/health"
	"github.com/synapseai/gateway-core/internal/telemetry"
	"github.com/synapseai/gateway-core/metrics"
	"github.com/synapseai/gateway-core/ratelimit"
	"github.com/synapseai/gateway-core/registry"
	"github.com/synapseai/gateway-core/repository"
	"github.com/synapseai/gateway-core/router"
	"github.com/synapseai/gateway-core/vault"
)

// Gateway owns every long-lived collaborator built from one
// gwconfig.Config. Exported fields let a caller reach a specific
// collaborator (e.g. Registry, for provider CRUD) without this package
// growing a facade method per operation.
type Gateway struct {
	Repo     *repository.Repository
	Vault    *vault.Vault
	Breakers *breaker.Breaker
	Limiters *ratelimit.Limiter
	Bus      *events.Bus
	Router   *router.Router
	Registry *registry.Registry
	Metrics  *metrics.Recorder
	Executor *executor.Executor
	Health   *health.Probe

	telemetry *telemetry.Providers
	logger    *zap.Logger
}

// New builds and wires a Gateway from cfg: opens the repository's
// database connection and brings the schema up via AutoMigrate,
// initializes OTel tracing/metrics export when cfg.Telemetry.Enabled
// (internal/telemetry.Init), and starts the health probe's background
// loop. A failed telemetry init is non-fatal — the gateway runs with
// noop tracing rather than refusing to start. Call Close during
// shutdown.
func New(cfg *gwconfig.Config, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway: invalid config: %w", err)
	}

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing with noop tracing", zap.Error(err))
		providers = &telemetry.Providers{}
	}

	repo, err := repository.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("gateway: open repository: %w", err)
	}
	if err := repo.AutoMigrate(context.Background()); err != nil {
		repo.Close()
		return nil, fmt.Errorf("gateway: automigrate: %w", err)
	}

	v, err := vault.New(cfg.EncryptionKey, logger)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("gateway: vault: %w", err)
	}

	breakers := breaker.New(breaker.Config{FailureThreshold: cfg.BreakerThreshold, Cooldown: cfg.BreakerCooldown}, logger)
	limiters := ratelimit.New(cfg.RateLimitWindow)
	bus := events.NewBus()
	rtr := router.New(repo, breakers, limiters, cfg.RouterCacheTTL)
	reg := registry.New(repo, v, breakers, limiters, rtr, bus, logger)
	rec := metrics.New(repo, "gateway", prometheus.DefaultRegisterer, logger)
	exec := executor.New(rtr, breakers, limiters, reg, rec, bus, logger)

	probe := health.New(repo, probeFunc(reg), repo, reg, bus, logger).
		WithInterval(cfg.HealthProbeInterval).
		WithTimeout(cfg.HealthProbeTimeout)
	probe.Start(context.Background())

	return &Gateway{
		Repo:      repo,
		Vault:     v,
		Breakers:  breakers,
		Limiters:  limiters,
		Bus:       bus,
		Router:    rtr,
		Registry:  reg,
		Metrics:   rec,
		Executor:  exec,
		Health:    probe,
		telemetry: providers,
		logger:    logger,
	}, nil
}

// Execute is the §6 external interface's single inbound entry point.
func (g *Gateway) Execute(ctx context.Context, tenantID string, req gwtypes.ChatRequest, prefs gwtypes.Preferences) (*gwtypes.ExecutionResult, error) {
	return g.Executor.Execute(ctx, tenantID, req, prefs)
}

// Close stops the health probe, flushes and shuts down telemetry
// exporters, and releases the repository's connection pool.
func (g *Gateway) Close(ctx context.Context) error {
	g.Health.Stop()
	if err := g.telemetry.Shutdown(ctx); err != nil {
		g.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	return g.Repo.Close()
}

// probeFunc adapts the Registry's Invoker lookup into health.ProbeFunc,
// the smallest live call the probe uses to classify a provider.
func probeFunc(reg *registry.Registry) health.ProbeFunc {
	return func(ctx context.Context, providerID string) error {
		inv, err := reg.Invoker(providerID)
		if err != nil {
			return err
		}
		return inv.Probe(ctx)
	}
}
