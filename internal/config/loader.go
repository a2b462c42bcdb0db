package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tiller.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TILLER_PORT")
	setString(&cfg.Server.CORSOrigin, "TILLER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TILLER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TILLER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TILLER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TILLER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TILLER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "TILLER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TILLER_LOG_SERVICE")
	setFloat64(&cfg.Trust.SuccessDelta, "TILLER_TRUST_SUCCESS_DELTA")
	setFloat64(&cfg.Trust.OverrideDelta, "TILLER_TRUST_OVERRIDE_DELTA")
	setFloat64(&cfg.Trust.Min, "TILLER_TRUST_MIN")
	setFloat64(&cfg.Trust.Max, "TILLER_TRUST_MAX")
	setDuration(&cfg.Undo.Window, "TILLER_UNDO_WINDOW")
	setDuration(&cfg.Undo.SweepInterval, "TILLER_UNDO_SWEEP_INTERVAL")
	setInt(&cfg.Undo.SweepBatchSize, "TILLER_UNDO_SWEEP_BATCH")
	setInt64(&cfg.Undo.SweepParallel, "TILLER_UNDO_SWEEP_PARALLEL")
	setInt(&cfg.Breaker.MaxFailures, "TILLER_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TILLER_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "TILLER_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.IdempotencyTTL, "TILLER_IDEMPOTENCY_TTL")
	setDuration(&cfg.Cache.PendingTTL, "TILLER_CACHE_PENDING_TTL")
	setBool(&cfg.Telemetry.Enabled, "TILLER_TELEMETRY_ENABLED")
	setString(&cfg.Telemetry.OTLPEndpoint, "TILLER_OTLP_ENDPOINT")
	setBool(&cfg.Auth.Enabled, "TILLER_AUTH_ENABLED")
	setString(&cfg.Auth.APIKeyHash, "TILLER_API_KEY_HASH")
	setBool(&cfg.MCP.Enabled, "TILLER_MCP_ENABLED")
	setString(&cfg.MCP.Port, "TILLER_MCP_PORT")
	setString(&cfg.Effector.URL, "TILLER_EFFECTOR_URL")
	setString(&cfg.Effector.Token, "TILLER_EFFECTOR_TOKEN")
	setDuration(&cfg.Effector.Timeout, "TILLER_EFFECTOR_TIMEOUT")
}

// validate checks that required fields are set and the update rules are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Trust.SuccessDelta <= 0 {
		return errors.New("trust.success_delta must be > 0")
	}
	if cfg.Trust.OverrideDelta >= 0 {
		return errors.New("trust.override_delta must be < 0")
	}
	if cfg.Trust.Min >= cfg.Trust.Max {
		return errors.New("trust.min must be < trust.max")
	}
	if cfg.Undo.Window <= 0 {
		return errors.New("undo.window must be > 0")
	}
	if cfg.Undo.SweepInterval <= 0 {
		return errors.New("undo.sweep_interval must be > 0")
	}
	if cfg.Undo.SweepBatchSize < 1 {
		return errors.New("undo.sweep_batch_size must be >= 1")
	}
	if cfg.Undo.SweepParallel < 1 {
		return errors.New("undo.sweep_parallel must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Auth.Enabled && cfg.Auth.APIKeyHash == "" {
		return errors.New("auth.api_key_hash is required when auth is enabled")
	}
	if cfg.Effector.URL == "" {
		return errors.New("effector.url is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
