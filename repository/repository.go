// Package repository is the GORM-backed persistence boundary §6 names:
// an async CRUD surface over Provider/UsageMetric/HealthCheck/
// FallbackChain with composite-key upserts and atomic numeric
// increments. Implements registry.Repository, metrics.Store, and
// health.ProviderLister/Updater so one *Repository wires directly into
// all three. Grounded on the teacher's llm/types.go (GORM struct/
// TableName layout) and llm/db_init.go (AutoMigrate-driven schema
// bring-up), generalized from the teacher's normalized model/provider/
// api-key schema to the spec's flatter per-tenant Provider row, with
// llm/db_init.go's db.AutoMigrate(...) call kept as the default schema
// path and internal/migration's golang-migrate runner (see
// internal/migration/factory.go's NewMigratorFromConfig) wired as the
// versioned alternative for production rollout. Open builds the
// *gorm.DB itself from gwconfig.DatabaseConfig and wraps its pool in
// internal/database.PoolManager, so provider writes get bounded
// deadlock/serialization retry; New stays available for callers (tests,
// mainly) that already own a *gorm.DB.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/synapseai/gateway-core/gwconfig"
	"github.com/synapseai/gateway-core/gwerr"
	"github.com/synapseai/gateway-core/gwtypes"
	"github.com/synapseai/gateway-core/internal/database"
)

// Repository is the single persistence implementation shared by
// registry.Registry, metrics.Recorder, and health.Probe.
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
	pool   *database.PoolManager // nil when constructed via New directly (e.g. tests)
}

func New(db *gorm.DB, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{db: db, logger: logger}
}

// Open opens a *gorm.DB for cfg.Driver ("postgres" | "mysql" | "sqlite"),
// wraps its connection pool in a database.PoolManager sized from
// cfg.MaxConns, and returns a Repository whose provider writes
// (Create/Update) run through PoolManager.WithTransactionRetry so a
// lost deadlock/serialization race gets a bounded retry instead of
// surfacing straight to the caller. Call Close when done.
func Open(cfg gwconfig.DatabaseConfig, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("repository: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", cfg.Driver, err)
	}

	poolCfg := database.DefaultPoolConfig()
	if cfg.MaxConns > 0 {
		poolCfg.MaxOpenConns = cfg.MaxConns
		if poolCfg.MaxIdleConns > cfg.MaxConns {
			poolCfg.MaxIdleConns = cfg.MaxConns
		}
	}
	pool, err := database.NewPoolManager(db, poolCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("repository: pool manager: %w", err)
	}

	return &Repository{db: db, logger: logger, pool: pool}, nil
}

// Close releases the underlying connection pool. A no-op on a
// Repository built via New with a caller-owned *gorm.DB.
func (r *Repository) Close() error {
	if r.pool == nil {
		return nil
	}
	return r.pool.Close()
}

// Stats returns connection-pool statistics, or the zero value when
// this Repository was built via New rather than Open.
func (r *Repository) Stats() database.PoolStats {
	if r.pool == nil {
		return database.PoolStats{}
	}
	return r.pool.GetStats()
}

// withWriteRetry runs fn directly when no pool is attached (the New
// constructor's path, mainly tests), or through the pool's bounded
// deadlock/serialization retry when one is.
func (r *Repository) withWriteRetry(ctx context.Context, fn database.TransactionFunc) error {
	if r.pool == nil {
		return r.db.WithContext(ctx).Transaction(fn)
	}
	return r.pool.WithTransactionRetry(ctx, 3, fn)
}

// AutoMigrate brings the schema up via GORM's reflection-based migrator,
// the teacher's llm/db_init.go InitDatabase path. Prefer
// internal/migration's versioned runner for production rollouts.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.AutoMigrate(&providerRow{}, &usageMetricRow{}, &healthCheckRow{}, &fallbackChainRow{}); err != nil {
		return fmt.Errorf("repository: automigrate: %w", err)
	}
	return nil
}

// -- registry.Repository --------------------------------------------

func (r *Repository) Create(ctx context.Context, p *gwtypes.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	row, err := fromProvider(p)
	if err != nil {
		return err
	}
	if err := r.withWriteRetry(ctx, func(tx *gorm.DB) error { return tx.Create(row).Error }); err != nil {
		return fmt.Errorf("repository: create provider: %w", err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, p *gwtypes.Provider) error {
	p.UpdatedAt = time.Now()
	row, err := fromProvider(p)
	if err != nil {
		return err
	}
	var rowsAffected int64
	writeErr := r.withWriteRetry(ctx, func(tx *gorm.DB) error {
		res := tx.Where("tenant_id = ?", p.TenantID).Save(row)
		rowsAffected = res.RowsAffected
		return res.Error
	})
	if writeErr != nil {
		return fmt.Errorf("repository: update provider: %w", writeErr)
	}
	if rowsAffected == 0 {
		return &gwerr.Error{Kind: gwerr.ProviderNotFound, Provider: p.ID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, tenantID, providerID string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", providerID, tenantID).
		Delete(&providerRow{})
	if res.Error != nil {
		return fmt.Errorf("repository: delete provider: %w", res.Error)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, tenantID, providerID string) (*gwtypes.Provider, error) {
	var row providerRow
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", providerID, tenantID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get provider: %w", err)
	}
	return row.toDomain()
}

func (r *Repository) List(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error) {
	var rows []providerRow
	if err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository: list providers: %w", err)
	}
	return toProviderSlice(rows)
}

// -- router.ProviderLister ------------------------------------------

// ListActiveProviders is the Router's scoped read side (§4.7 step 1):
// active, non-UNHEALTHY providers for one tenant, candidates for scoring.
func (r *Repository) ListActiveProviders(ctx context.Context, tenantID string) ([]*gwtypes.Provider, error) {
	var rows []providerRow
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ? AND health <> ?", tenantID, true, string(gwtypes.HealthUnhealthy)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list active providers: %w", err)
	}
	return toProviderSlice(rows)
}

// -- health.ProviderLister / health.Updater ---------------------------

func (r *Repository) ListAllActive(ctx context.Context) ([]*gwtypes.Provider, error) {
	var rows []providerRow
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository: list active providers: %w", err)
	}
	return toProviderSlice(rows)
}

func (r *Repository) UpdateHealth(ctx context.Context, p *gwtypes.Provider) error {
	updates := map[string]any{
		"health":                string(p.Health),
		"last_health_check_at":  p.LastHealthCheckAt,
		"updated_at":            time.Now(),
	}
	return r.db.WithContext(ctx).Model(&providerRow{}).Where("id = ?", p.ID).Updates(updates).Error
}

func (r *Repository) RecordHealthCheck(ctx context.Context, check gwtypes.HealthCheck) error {
	row := fromHealthCheck(check)
	return r.db.WithContext(ctx).Create(&row).Error
}

// -- metrics.Store ------------------------------------------------------

// IncrementUsage upserts today's row, adding to existing counters rather
// than overwriting — the at-least-once, composite-key increment §6/§4.6
// require. clause.OnConflict with gorm.Expr keeps the increment atomic
// at the database layer instead of a read-modify-write race.
func (r *Repository) IncrementUsage(ctx context.Context, providerID, date string, requests, errors, tokens int64, cost float64) error {
	row := usageMetricRow{
		ProviderID: providerID,
		Date:       date,
		Requests:   requests,
		Errors:     errors,
		Tokens:     tokens,
		Cost:       cost,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"requests": gorm.Expr("requests + ?", requests),
			"errors":   gorm.Expr("errors + ?", errors),
			"tokens":   gorm.Expr("tokens + ?", tokens),
			"cost":     gorm.Expr("cost + ?", cost),
		}),
	}).Create(&row).Error
}

func (r *Repository) GetProviderForUpdate(ctx context.Context, providerID string) (*gwtypes.Provider, error) {
	var row providerRow
	err := r.db.WithContext(ctx).Where("id = ?", providerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get provider for update: %w", err)
	}
	return row.toDomain()
}

func (r *Repository) SaveProviderRollup(ctx context.Context, p *gwtypes.Provider) error {
	updates := map[string]any{
		"total_requests":       p.TotalRequests,
		"total_errors":         p.TotalErrors,
		"success_rate":         p.SuccessRate,
		"avg_response_time_ms": p.AvgResponseTime.Milliseconds(),
		"last_used_at":         p.LastUsedAt,
		"updated_at":           time.Now(),
	}
	return r.db.WithContext(ctx).Model(&providerRow{}).Where("id = ?", p.ID).Updates(updates).Error
}

// -- FallbackChain CRUD (§3, operator-configured) ------------------------

func (r *Repository) CreateFallbackChain(ctx context.Context, c *gwtypes.FallbackChain) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := fromFallbackChain(*c)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) ListFallbackChains(ctx context.Context, tenantID, primaryProviderID string) ([]gwtypes.FallbackChain, error) {
	var rows []fallbackChainRow
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND primary_provider_id = ?", tenantID, primaryProviderID).
		Order("priority DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: list fallback chains: %w", err)
	}
	out := make([]gwtypes.FallbackChain, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *Repository) DeleteFallbackChain(ctx context.Context, tenantID, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&fallbackChainRow{}).Error
}

func toProviderSlice(rows []providerRow) ([]*gwtypes.Provider, error) {
	out := make([]*gwtypes.Provider, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
