// Package config loads the whole service configuration from environment
// variables. Everything is tunable here; main only wires parsed values.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"groupsync/internal/reconcile/models"
)

// Backend selector values for GROUPSYNC_BACKEND.
const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendGrouper = "grouper"
)

// Config is the full environment surface.
type Config struct {
	// Reconciliation behavior.
	ScopingPolicy          string `env:"GROUPSYNC_SCOPING_POLICY" envDefault:"project"`
	GroupAttributeName     string `env:"GROUPSYNC_GROUP_ATTRIBUTE" envDefault:"ldap_group"`
	SignalsEnabled         bool   `env:"GROUPSYNC_SIGNALS_ENABLED" envDefault:"true"`
	RemoveOnProjectArchive bool   `env:"GROUPSYNC_REMOVE_ON_PROJECT_ARCHIVE" envDefault:"true"`

	// Engine tuning.
	RetryMaxAttempts int           `env:"GROUPSYNC_RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"GROUPSYNC_RETRY_BASE_DELAY" envDefault:"200ms"`
	RetryMaxDelay    time.Duration `env:"GROUPSYNC_RETRY_MAX_DELAY" envDefault:"5s"`
	ClientTimeout    time.Duration `env:"GROUPSYNC_CLIENT_TIMEOUT" envDefault:"10s"`
	BatchWorkers     int           `env:"GROUPSYNC_BATCH_WORKERS" envDefault:"8"`
	OutcomeBuffer    int           `env:"GROUPSYNC_OUTCOME_BUFFER" envDefault:"256"`

	// Membership backend.
	Backend string `env:"GROUPSYNC_BACKEND" envDefault:"memory"`

	// HTTP server.
	HTTPAddr        string        `env:"GROUPSYNC_HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"GROUPSYNC_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	JWTSigningKey   string        `env:"GROUPSYNC_JWT_SIGNING_KEY"`

	// Logging.
	LogLevel  string `env:"GROUPSYNC_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GROUPSYNC_LOG_FORMAT" envDefault:"text"`

	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Grouper  Grouper
}

// Postgres settings. An empty directory DSN selects the in-memory directory
// store; an empty outcome DSN selects the in-memory outcome store.
type Postgres struct {
	DirectoryDSN string `env:"GROUPSYNC_POSTGRES_DIRECTORY_DSN"`
	OutcomeDSN   string `env:"GROUPSYNC_POSTGRES_OUTCOME_DSN"`
}

// Redis settings for the redis membership backend.
type Redis struct {
	Addr      string `env:"GROUPSYNC_REDIS_ADDR" envDefault:"localhost:6379"`
	Password  string `env:"GROUPSYNC_REDIS_PASSWORD"`
	DB        int    `env:"GROUPSYNC_REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"GROUPSYNC_REDIS_KEY_PREFIX" envDefault:"groupsync:group:"`
}

// Kafka settings. No brokers means the Kafka runner is not started and
// events arrive over HTTP only.
type Kafka struct {
	Brokers []string `env:"GROUPSYNC_KAFKA_BROKERS" envSeparator:","`
	GroupID string   `env:"GROUPSYNC_KAFKA_GROUP_ID" envDefault:"groupsync"`
	Topic   string   `env:"GROUPSYNC_KAFKA_TOPIC" envDefault:"portal.lifecycle.events"`
}

// Grouper settings for the grouper membership backend.
type Grouper struct {
	BaseURL        string        `env:"GROUPSYNC_GROUPER_BASE_URL"`
	Subject        string        `env:"GROUPSYNC_GROUPER_SUBJECT"`
	Stem           string        `env:"GROUPSYNC_GROUPER_STEM"`
	SigningKeyPath string        `env:"GROUPSYNC_GROUPER_SIGNING_KEY_PATH"`
	TokenTTL       time.Duration `env:"GROUPSYNC_GROUPER_TOKEN_TTL" envDefault:"5m"`
}

// Load parses and validates the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch models.ScopingPolicy(c.ScopingPolicy) {
	case models.PolicyProjectLevel, models.PolicyAllocationLevel:
	default:
		return fmt.Errorf("config: unknown scoping policy %q", c.ScopingPolicy)
	}
	switch c.Backend {
	case BackendMemory, BackendRedis:
	case BackendGrouper:
		if c.Grouper.BaseURL == "" {
			return fmt.Errorf("config: grouper backend requires GROUPSYNC_GROUPER_BASE_URL")
		}
		if c.Grouper.Subject == "" {
			return fmt.Errorf("config: grouper backend requires GROUPSYNC_GROUPER_SUBJECT")
		}
		if c.Grouper.SigningKeyPath == "" {
			return fmt.Errorf("config: grouper backend requires GROUPSYNC_GROUPER_SIGNING_KEY_PATH")
		}
	default:
		return fmt.Errorf("config: unknown membership backend %q", c.Backend)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("config: retry max attempts must be at least 1")
	}
	return nil
}

// Policy returns the parsed scoping policy.
func (c *Config) Policy() models.ScopingPolicy {
	return models.ScopingPolicy(c.ScopingPolicy)
}
