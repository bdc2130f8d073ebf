package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// localEnv is the APP_ENV value for developer machines.
const localEnv = "local"

// LoadConfig loads and validates the configuration.
//
//  1. Sets the process timezone to UTC.
//  2. Loads a .env file if present. Existing environment variables win.
//  3. Processes envconfig tags.
//  4. Populates Config.Build from linker-injected variables.
//  5. Validates struct tags, then rules spanning several sections.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if err := validateCrossSection(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWorkerConfig loads the report worker configuration the same way as
// LoadConfig. The worker always reports to Tier, so TIER_API_KEY is required.
func LoadWorkerConfig() (*WorkerConfig, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	if !cfg.Billing.APIKey.IsSet() {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "TIER_API_KEY is required for the report worker",
		}
	}

	return &cfg, nil
}

// validateCrossSection enforces rules that struct tags cannot express because
// they span sections.
func validateCrossSection(cfg *Config) error {
	var problems []string

	if cfg.EntitlementBackend() == BackendTier && !cfg.Billing.APIKey.IsSet() {
		problems = append(problems, "TIER_API_KEY is required when BILLING_CLIENT=tier")
	}
	if cfg.Billing.ReportMode == ReportModeQueue && cfg.AWS.UsageQueueURL == "" {
		problems = append(problems, "USAGE_QUEUE_URL is required when REPORT_MODE=queue")
	}
	if cfg.Database.MinConns > cfg.Database.MaxConns {
		problems = append(problems, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
	}

	if len(problems) == 0 {
		return nil
	}
	return &ConfigError{
		Type:    ErrValidation,
		Message: strings.Join(problems, "; "),
	}
}
