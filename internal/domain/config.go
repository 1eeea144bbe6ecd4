package domain

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig

	// Tier determines infrastructure choices
	Tier DeploymentTier `env:"HARRIER_TIER"`

	// Component configurations
	Repository RepositoryConfig
	Cache      CacheConfig
	EventBus   EventBusConfig
	Engine     EngineConfig
	VAT        VATConfig

	// Observability
	Logging LoggingConfig
	Tracing TracingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `env:"HARRIER_HOST"`
	Port         int    `env:"HARRIER_PORT"`
	ReadTimeout  int    `env:"HARRIER_READ_TIMEOUT"`  // seconds
	WriteTimeout int    `env:"HARRIER_WRITE_TIMEOUT"` // seconds
}

// EngineConfig holds calculation engine settings.
type EngineConfig struct {
	// BatchSize bounds the number of (event, role) units processed
	// concurrently within a run.
	BatchSize int `env:"HARRIER_BATCH_SIZE"`

	// ActorID is recorded on audit rows produced by this instance.
	ActorID string `env:"HARRIER_ACTOR_ID"`
}

// VATConfig holds the default VAT rate; per-fund overrides live in
// configuration files or the persistence layer of the deployment.
type VATConfig struct {
	DefaultRate string `env:"HARRIER_VAT_RATE"`
}

// Table builds the VATTable value passed into calculations.
func (v VATConfig) Table() (VATTable, error) {
	rate, err := decimal.NewFromString(v.DefaultRate)
	if err != nil {
		return VATTable{}, fmt.Errorf("invalid default VAT rate %q: %w", v.DefaultRate, err)
	}
	return VATTable{DefaultRate: rate}, nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"HARRIER_LOG_LEVEL"`   // debug, info, warn, error
	Format string `env:"HARRIER_LOG_FORMAT"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `env:"HARRIER_TRACING_ENABLED"`
	ServiceName string `env:"HARRIER_TRACING_SERVICE"`
	Endpoint    string `env:"HARRIER_TRACING_ENDPOINT"`
}

// DeploymentTier represents the deployment tier.
type DeploymentTier string

const (
	// TierCommunity is SQLite + channels + local LRU
	TierCommunity DeploymentTier = "community"

	// TierPro is PostgreSQL + NATS + Redis
	TierPro DeploymentTier = "pro"
)

// DefaultConfig returns a default configuration for the community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			BatchSize: 10,
			ActorID:   "harrier-engine",
		},
		VAT: VATConfig{DefaultRate: "0.17"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for the pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// FromEnv overlays environment variables onto cfg.
func (c *Config) FromEnv() error {
	for _, target := range []any{
		&c.Server, &c.Repository, &c.Cache, &c.EventBus,
		&c.Engine, &c.VAT, &c.Logging, &c.Tracing,
	} {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}
