// Package gwtypes holds the data model shared across every gateway
// component: Provider, UsageMetric, HealthCheck, FallbackChain, and the
// uniform chat request/response shapes the Adapter set produces and
// consumes.
package gwtypes

import "time"

// Dialect is the wire shape a provider speaks.
type Dialect string

const (
	DialectVendorA           Dialect = "vendor-a"
	DialectVendorB           Dialect = "vendor-b"
	DialectVendorC           Dialect = "vendor-c"
	DialectVendorD           Dialect = "vendor-d"
	DialectVendorE           Dialect = "vendor-e"
	DialectVendorF           Dialect = "vendor-f"
	DialectAggregator        Dialect = "aggregator"
	DialectSelfHostedA       Dialect = "self-hosted-a"
	DialectSelfHostedB       Dialect = "self-hosted-b"
	DialectCustom            Dialect = "custom"
)

// Capability is one entry of a Provider's capability set.
type Capability string

const (
	CapabilityChat           Capability = "chat"
	CapabilityCompletion     Capability = "completion"
	CapabilityEmbedding      Capability = "embedding"
	CapabilityFunctionCalling Capability = "function_calling"
	CapabilityVision         Capability = "vision"
)

// HealthStatus is the Provider's health classification (§4.5).
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "UNKNOWN"
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// BreakerStatus is the Provider's circuit-breaker status (§4.4).
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "CLOSED"
	BreakerOpen     BreakerStatus = "OPEN"
	BreakerHalfOpen BreakerStatus = "HALF_OPEN"
)

// Provider is the tenant-scoped entity described in §3.
type Provider struct {
	ID          string
	TenantID    string
	OwnerUserID string
	Name        string
	Dialect     Dialect
	BaseURL     string

	// EncryptedCredential is the CredentialVault ciphertext; never
	// decrypted except transiently at adapter construction (§4.2, P5).
	EncryptedCredential []byte
	// AdapterConfig is free-form, dialect-specific configuration (custom
	// request/response transform descriptors, model aliases, ...).
	AdapterConfig map[string]any

	Capabilities []Capability
	Priority     int // [0,100]

	RateLimit    *int     // requests per 60s window, nil = unlimited
	CostPerToken *float64 // non-negative, nil = unknown

	Active bool

	Health  HealthStatus
	Breaker BreakerStatus

	TotalRequests   int64
	TotalErrors     int64
	SuccessRate     *float64 // nil when TotalRequests == 0 (P6)
	AvgResponseTime time.Duration

	LastUsedAt       *time.Time
	LastHealthCheckAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCapability reports whether cap is in p.Capabilities.
func (p *Provider) HasCapability(cap Capability) bool {
	for _, c := range p.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Selectable implements P2/P3: inactive or UNHEALTHY providers are never
// offered to the Router for new traffic.
func (p *Provider) Selectable() bool {
	return p.Active && p.Health != HealthUnhealthy
}

// RecomputeSuccessRate applies P6.
func (p *Provider) RecomputeSuccessRate() {
	if p.TotalRequests == 0 {
		p.SuccessRate = nil
		return
	}
	rate := float64(p.TotalRequests-p.TotalErrors) / float64(p.TotalRequests)
	p.SuccessRate = &rate
}

// UsageMetric is the per-provider, per-UTC-day counters of §3.
type UsageMetric struct {
	ProviderID string
	Date       string // YYYY-MM-DD, UTC
	Requests   int64
	Errors     int64
	Tokens     int64
	Cost       float64
	AvgLatency time.Duration
}

// HealthCheck is an append-only probe record (§3, §4.5).
type HealthCheck struct {
	ID           string
	ProviderID   string
	Status       HealthStatus
	ResponseTime time.Duration
	ErrorMessage string
	CheckedAt    time.Time
}

// FallbackChain is an operator-configured primary->fallback edge (§3).
type FallbackChain struct {
	ID                string
	TenantID          string
	PrimaryProviderID string
	FallbackProviderID string
	Priority          int
	Condition         string // optional activation condition, opaque
}
