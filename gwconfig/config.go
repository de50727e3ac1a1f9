// Package gwconfig loads the gateway's configuration (§6): ENCRYPTION_KEY,
// call timeouts, health-probe cadence, breaker threshold/cooldown, and the
// rate-limit window, plus the DB/Redis connection strings the repository
// and sharedstore collaborators need. Trimmed from the teacher's
// config/loader.go Loader (YAML file + env-var override via reflection),
// dropping the teacher's Server/Agent/Qdrant/Weaviate/Milvus fields and its
// hot-reload/watcher/HTTP-admin-API machinery (management-plane, out of
// scope per §1).
package gwconfig

import "time"

// Config is the gateway's complete configuration.
type Config struct {
	// EncryptionKey backs the CredentialVault (§4.2). Required in
	// production; absent in tests is tolerated (vault warns and runs
	// with a volatile key).
	EncryptionKey string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`

	DefaultCallTimeout    time.Duration `yaml:"default_call_timeout" env:"DEFAULT_CALL_TIMEOUT"`
	SelfHostedCallTimeout time.Duration `yaml:"self_hosted_call_timeout" env:"SELF_HOSTED_CALL_TIMEOUT"`

	HealthProbeInterval time.Duration `yaml:"health_probe_interval" env:"HEALTH_PROBE_INTERVAL"`
	HealthProbeTimeout  time.Duration `yaml:"health_probe_timeout" env:"HEALTH_PROBE_TIMEOUT"`
	HealthySkipWindow   time.Duration `yaml:"health_skip_window" env:"HEALTH_SKIP_WINDOW"`
	HealthFailStreak    int           `yaml:"health_fail_streak" env:"HEALTH_FAIL_STREAK"`

	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`

	RateLimitWindow time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW"`

	RouterCacheTTL time.Duration `yaml:"router_cache_ttl" env:"ROUTER_CACHE_TTL"`

	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// TelemetryConfig is internal/telemetry's OTel SDK initialization
// configuration. Disabled by default; enabling it points the gateway's
// traces/metrics at an OTLP collector.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// DatabaseConfig is the repository package's connection configuration.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // postgres | mysql | sqlite
	DSN      string `yaml:"dsn" env:"DSN"`
	MaxConns int    `yaml:"max_conns" env:"MAX_CONNS"`
}

// RedisConfig is the sharedstore package's connection configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
}

// DefaultConfig returns the §6-specified defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultCallTimeout:    30 * time.Second,
		SelfHostedCallTimeout: 60 * time.Second,
		HealthProbeInterval:  300 * time.Second,
		HealthProbeTimeout:   10 * time.Second,
		HealthySkipWindow:    4 * time.Minute,
		HealthFailStreak:     5,
		BreakerThreshold:     5,
		BreakerCooldown:      60 * time.Second,
		RateLimitWindow:      60 * time.Second,
		RouterCacheTTL:       30 * time.Second,
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "file::memory:?cache=shared",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Enabled: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "gateway-core",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   0.1,
		},
	}
}

// Validate enforces the invariants a production deployment must satisfy.
// It deliberately does NOT fail on an empty EncryptionKey — §9 says that
// is "warn-and-continue in tests" and fail-fast is a deployment-time
// policy decision the caller makes after inspecting Vault.Volatile().
func (c *Config) Validate() error {
	if c.BreakerThreshold <= 0 {
		return errInvalid("breaker_threshold must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return errInvalid("rate_limit_window must be positive")
	}
	if c.HealthProbeInterval <= 0 {
		return errInvalid("health_probe_interval must be positive")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalid(msg string) error { return configError(msg) }
