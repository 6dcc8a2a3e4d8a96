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
const DefaultConfigFile = "sandboxer.yaml"

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
	setString(&cfg.Server.Port, "SANDBOXER_PORT")
	setString(&cfg.Server.CORSOrigin, "SANDBOXER_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SANDBOXER_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SANDBOXER_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SANDBOXER_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SANDBOXER_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SANDBOXER_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setInt(&cfg.Terminal.MaxSessions, "SANDBOXER_MAX_SESSIONS")
	setString(&cfg.Terminal.DefaultWorkdir, "SANDBOXER_DEFAULT_WORKDIR")
	setString(&cfg.Terminal.GitRoot, "SANDBOXER_GIT_ROOT")
	setDuration(&cfg.Terminal.KillGrace, "SANDBOXER_KILL_GRACE")
	setString(&cfg.Agent.Runner, "SANDBOXER_AGENT_RUNNER")
	setString(&cfg.Agent.Command, "SANDBOXER_AGENT_COMMAND")
	setString(&cfg.Agent.SystemPrompt, "SANDBOXER_AGENT_SYSTEM_PROMPT")
	setDuration(&cfg.Snapshot.TTL, "SANDBOXER_SNAPSHOT_TTL")
	setInt64(&cfg.Snapshot.MaxEntries, "SANDBOXER_SNAPSHOT_MAX_ENTRIES")
	setString(&cfg.Logging.Level, "SANDBOXER_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SANDBOXER_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "SANDBOXER_LOG_ASYNC")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Terminal.MaxSessions < 1 {
		return errors.New("terminal.max_sessions must be >= 1")
	}
	if cfg.Agent.Runner == "" {
		return errors.New("agent.runner is required")
	}
	if cfg.Snapshot.TTL <= 0 {
		return errors.New("snapshot.ttl must be positive")
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
