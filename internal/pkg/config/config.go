package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StoreBackend selects the ledger backend: memory, postgres, or jsonl.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	// ProjectionBackend selects where materialized state lives: memory,
	// postgres, or redis.
	ProjectionBackend string `env:"PROJECTION_BACKEND" envDefault:"memory"`

	PostgresURL string `env:"POSTGRES_URL"`
	RedisURL    string `env:"REDIS_URL"`

	LedgerDir         string `env:"LEDGER_DIR" envDefault:"./data/ledger"`
	LedgerSegmentSize int64  `env:"LEDGER_SEGMENT_SIZE_BYTES" envDefault:"104857600"` // 100MB

	MaxEventSize int64 `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576"` // 1MB

	APIServerAddr   string        `env:"API_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr string        `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	APIKeys         string        `env:"API_KEYS"` // comma-separated static keys for non-postgres deployments
	APIKeyCacheTTL  time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`

	ProjectionBatchSize    int           `env:"PROJECTION_BATCH_SIZE" envDefault:"500"`
	ProjectionPollInterval time.Duration `env:"PROJECTION_POLL_INTERVAL" envDefault:"1s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
