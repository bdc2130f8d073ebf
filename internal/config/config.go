// Package config defines the process configuration for notemeter binaries.
// Configuration is loaded once at startup and is immutable thereafter.
//
// Values are resolved in priority order:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"notemeter/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for credentials.
type SecretString = types.SecretString

// Entitlement backends.
const (
	BackendTier   = "tier"
	BackendMemory = "memory"
)

// Report dispatch modes.
const (
	ReportModeDirect = "direct"
	ReportModeQueue  = "queue"
)

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"notemeter"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Server        ServerConfig
	Database      DatabaseConfig
	Billing       BillingConfig
	AWS           AWSConfig
	Auth          AuthConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	EnableCompression  bool          `envconfig:"ENABLE_COMPRESSION" default:"true"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds the Tier pricing API connection and entitlement policy.
type BillingConfig struct {
	Client  string        `envconfig:"BILLING_CLIENT" default:"tier" validate:"oneof=tier memory"`
	BaseURL string        `envconfig:"TIER_BASE_URL" default:"https://api.tier.run" validate:"required,url"`
	APIKey  SecretString  `envconfig:"TIER_API_KEY"`
	Timeout time.Duration `envconfig:"BILLING_TIMEOUT" default:"5s"`

	FreePlanPrefix string   `envconfig:"FREE_PLAN_PREFIX" default:"plan:free@" validate:"required"`
	PlanOrder      []string `envconfig:"PRICING_PLAN_ORDER" default:"plan:free@,plan:basic@,plan:pro@,plan:paygo@"`

	ReportMode    string        `envconfig:"REPORT_MODE" default:"direct" validate:"oneof=direct queue"`
	ReportTimeout time.Duration `envconfig:"REPORT_TIMEOUT" default:"10s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	UsageQueueURL string `envconfig:"USAGE_QUEUE_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// AuthConfig holds credential hashing parameters.
type AuthConfig struct {
	BcryptCost int `envconfig:"BCRYPT_COST" default:"10" validate:"min=4,max=31"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"NoteMeter"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// EntitlementBackend returns the entitlement client to construct. Test mode,
// an explicit memory client, or a local environment without an API key all
// select the in-memory backend.
func (c *Config) EntitlementBackend() string {
	if c.IsTestMode || c.Billing.Client == BackendMemory {
		return BackendMemory
	}
	if c.Environment == localEnv && !c.Billing.APIKey.IsSet() {
		return BackendMemory
	}
	return BackendTier
}

// WorkerConfig is the configuration of the report worker. It shares the
// billing section with Config but needs no database or HTTP server.
type WorkerConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Billing BillingConfig

	Build BuildInfo
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed into its
	// target type.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
