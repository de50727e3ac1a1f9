// GORM row models and their conversion to/from gwtypes domain structs.
// Grounded on the teacher's llm/types.go (GORM struct tags, explicit
// TableName() overrides, sc_-prefixed table names), generalized from
// the teacher's normalized model/provider/api-key/provider-model schema
// to the spec's flatter per-tenant Provider/UsageMetric/HealthCheck/
// FallbackChain rows.
package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/synapseai/gateway-core/gwtypes"
)

// AdapterConfig and Capabilities are stored as JSON-encoded TEXT columns
// (via plain encoding/json marshal/unmarshal below) rather than a
// dialect-specific JSON/JSONB column type, so the same row struct works
// unmodified across sqlite/mysql/postgres.

// providerRow is the providers table row (see
// internal/migration/migrations/*/000001_create_providers.up.sql).
type providerRow struct {
	ID                  string `gorm:"primaryKey"`
	TenantID            string `gorm:"index"`
	OwnerUserID         string
	Name                string
	Dialect             string
	BaseURL             string
	EncryptedCredential []byte
	AdapterConfig       string // JSON-encoded map[string]any
	Capabilities        string // JSON-encoded []string
	Priority            int
	RateLimit           *int
	CostPerToken        *float64
	Active              bool
	Health              string
	Breaker             string
	TotalRequests       int64
	TotalErrors         int64
	SuccessRate         *float64
	AvgResponseTimeMs   int64
	LastUsedAt          *time.Time
	LastHealthCheckAt   *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (providerRow) TableName() string { return "providers" }

func fromProvider(p *gwtypes.Provider) (*providerRow, error) {
	adapterConfig, err := json.Marshal(p.AdapterConfig)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal adapter config: %w", err)
	}
	caps, err := json.Marshal(p.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("repository: marshal capabilities: %w", err)
	}
	return &providerRow{
		ID:                  p.ID,
		TenantID:            p.TenantID,
		OwnerUserID:         p.OwnerUserID,
		Name:                p.Name,
		Dialect:             string(p.Dialect),
		BaseURL:             p.BaseURL,
		EncryptedCredential: p.EncryptedCredential,
		AdapterConfig:       string(adapterConfig),
		Capabilities:        string(caps),
		Priority:            p.Priority,
		RateLimit:           p.RateLimit,
		CostPerToken:        p.CostPerToken,
		Active:              p.Active,
		Health:              string(p.Health),
		Breaker:             string(p.Breaker),
		TotalRequests:       p.TotalRequests,
		TotalErrors:         p.TotalErrors,
		SuccessRate:         p.SuccessRate,
		AvgResponseTimeMs:   p.AvgResponseTime.Milliseconds(),
		LastUsedAt:          p.LastUsedAt,
		LastHealthCheckAt:   p.LastHealthCheckAt,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}, nil
}

func (r providerRow) toDomain() (*gwtypes.Provider, error) {
	var adapterConfig map[string]any
	if r.AdapterConfig != "" {
		if err := json.Unmarshal([]byte(r.AdapterConfig), &adapterConfig); err != nil {
			return nil, fmt.Errorf("repository: unmarshal adapter config: %w", err)
		}
	}
	var caps []gwtypes.Capability
	if r.Capabilities != "" {
		if err := json.Unmarshal([]byte(r.Capabilities), &caps); err != nil {
			return nil, fmt.Errorf("repository: unmarshal capabilities: %w", err)
		}
	}
	return &gwtypes.Provider{
		ID:                  r.ID,
		TenantID:            r.TenantID,
		OwnerUserID:         r.OwnerUserID,
		Name:                r.Name,
		Dialect:             gwtypes.Dialect(r.Dialect),
		BaseURL:             r.BaseURL,
		EncryptedCredential: r.EncryptedCredential,
		AdapterConfig:       adapterConfig,
		Capabilities:        caps,
		Priority:            r.Priority,
		RateLimit:           r.RateLimit,
		CostPerToken:        r.CostPerToken,
		Active:              r.Active,
		Health:              gwtypes.HealthStatus(r.Health),
		Breaker:             gwtypes.BreakerStatus(r.Breaker),
		TotalRequests:       r.TotalRequests,
		TotalErrors:         r.TotalErrors,
		SuccessRate:         r.SuccessRate,
		AvgResponseTime:     time.Duration(r.AvgResponseTimeMs) * time.Millisecond,
		LastUsedAt:          r.LastUsedAt,
		LastHealthCheckAt:   r.LastHealthCheckAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

// usageMetricRow is the usage_metrics table row, keyed by (provider_id,
// date) so a day's counters upsert in place (§6's composite-key rule).
type usageMetricRow struct {
	ProviderID string `gorm:"primaryKey"`
	Date       string `gorm:"primaryKey"`
	Requests   int64
	Errors     int64
	Tokens     int64
	Cost       float64
	AvgLatencyMs int64
}

func (usageMetricRow) TableName() string { return "usage_metrics" }

// healthCheckRow is the health_checks append-only audit table row.
type healthCheckRow struct {
	ID             uint `gorm:"primaryKey"`
	ProviderID     string
	Status         string
	ResponseTimeMs int64
	ErrorMessage   string
	CheckedAt      time.Time
}

func (healthCheckRow) TableName() string { return "health_checks" }

func fromHealthCheck(c gwtypes.HealthCheck) healthCheckRow {
	return healthCheckRow{
		ProviderID:     c.ProviderID,
		Status:         string(c.Status),
		ResponseTimeMs: c.ResponseTime.Milliseconds(),
		ErrorMessage:   c.ErrorMessage,
		CheckedAt:      c.CheckedAt,
	}
}

// fallbackChainRow is an operator-configured primary->fallback edge
// (§3's FallbackChain, consulted by router.Router — see router.go's
// fallbackBoost).
type fallbackChainRow struct {
	ID                 string `gorm:"primaryKey"`
	TenantID           string `gorm:"index"`
	PrimaryProviderID  string `gorm:"index"`
	FallbackProviderID string
	Priority           int
	ConditionExpr      string
}

func (fallbackChainRow) TableName() string { return "fallback_chains" }

func (r fallbackChainRow) toDomain() gwtypes.FallbackChain {
	return gwtypes.FallbackChain{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		PrimaryProviderID:  r.PrimaryProviderID,
		FallbackProviderID: r.FallbackProviderID,
		Priority:           r.Priority,
		Condition:          r.ConditionExpr,
	}
}

func fromFallbackChain(c gwtypes.FallbackChain) fallbackChainRow {
	return fallbackChainRow{
		ID:                 c.ID,
		TenantID:           c.TenantID,
		PrimaryProviderID:  c.PrimaryProviderID,
		FallbackProviderID: c.FallbackProviderID,
		Priority:           c.Priority,
		ConditionExpr:      c.Condition,
	}
}
