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
const DefaultConfigFile = "reactor.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("REACTOR_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
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
	setString(&cfg.Server.Port, "REACTOR_PORT")
	setString(&cfg.Server.CORSOrigin, "REACTOR_CORS_ORIGIN")
	setFloat64(&cfg.Server.RateLimit, "REACTOR_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "REACTOR_RATE_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "REACTOR_IDEMPOTENCY_TTL")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REACTOR_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REACTOR_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REACTOR_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REACTOR_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REACTOR_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "REACTOR_NATS_STREAM")
	setString(&cfg.Logging.Level, "REACTOR_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REACTOR_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REACTOR_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "REACTOR_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REACTOR_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "REACTOR_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "REACTOR_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "REACTOR_CACHE_L2_TTL")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "REACTOR_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "REACTOR_OTEL_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "REACTOR_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "REACTOR_OTEL_SERVICE_NAME")

	// Reactor
	setString(&cfg.Reactor.AgentsDir, "REACTOR_AGENTS_DIR")
	setInt(&cfg.Reactor.MaxParallel, "REACTOR_MAX_PARALLEL")
	setString(&cfg.Reactor.ServicePrincipalName, "REACTOR_SERVICE_PRINCIPAL")
	setDuration(&cfg.Reactor.TokenTTL, "REACTOR_TOKEN_TTL")
	setDuration(&cfg.Reactor.LaunchTimeout, "REACTOR_LAUNCH_TIMEOUT")

	// Headwaiter
	setString(&cfg.Endpoints.Agents, "REACTOR_AGENTS_ENDPOINT")
	setString(&cfg.Endpoints.Messages, "REACTOR_MESSAGES_ENDPOINT")
	setString(&cfg.Endpoints.Permissions, "REACTOR_PERMISSIONS_ENDPOINT")
	setString(&cfg.Endpoints.Principals, "REACTOR_PRINCIPALS_ENDPOINT")
	setString(&cfg.Endpoints.Blobs, "REACTOR_BLOBS_ENDPOINT")
	setString(&cfg.Endpoints.BlobProvider, "REACTOR_BLOB_PROVIDER")
}

// validate checks that required fields are set.
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
	if cfg.NATS.Stream == "" {
		return errors.New("nats.stream is required")
	}
	if cfg.Server.RateLimit <= 0 || cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_limit must be > 0 and server.rate_burst >= 1")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Cache.L1MaxSizeMB < 1 {
		return errors.New("cache.l1_max_size_mb must be >= 1")
	}
	if cfg.Reactor.MaxParallel < 1 {
		return errors.New("reactor.max_parallel must be >= 1")
	}
	if cfg.Reactor.ServicePrincipalName == "" {
		return errors.New("reactor.service_principal_name is required")
	}
	if cfg.Reactor.TokenTTL <= 0 {
		return errors.New("reactor.token_ttl must be > 0")
	}
	if cfg.Reactor.LaunchTimeout <= 0 {
		return errors.New("reactor.launch_timeout must be > 0")
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
