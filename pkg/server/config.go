package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Storage backends selectable with TINYTRACK_STORAGE.
const (
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds server configuration.
type Config struct {
	Port         string `env:"PORT"                     envDefault:"8080"`
	Storage      string `env:"TINYTRACK_STORAGE"        envDefault:"badger"`
	DataDir      string `env:"TINYTRACK_DATA_DIR"       envDefault:"./data/tinytrack"`
	PostgresURL  string `env:"TINYTRACK_POSTGRES_URL"`
	MaxStorageGB int64  `env:"TINYTRACK_MAX_STORAGE_GB" envDefault:"1"`
	MaxMemoryMB  int64  `env:"TINYTRACK_MAX_MEMORY_MB"  envDefault:"48"`

	JWTSecret string `env:"TINYTRACK_JWT_SECRET"`
	JWTIssuer string `env:"TINYTRACK_JWT_ISSUER" envDefault:"tinytrack"`

	RedisAddr     string        `env:"TINYTRACK_REDIS_ADDR"`
	StatsCacheTTL time.Duration `env:"TINYTRACK_STATS_CACHE_TTL" envDefault:"1s"`

	KafkaBrokers []string `env:"TINYTRACK_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"TINYTRACK_KAFKA_TOPIC"   envDefault:"tinytrack-events"`

	// AllowedOrigins defaults to the local dashboard origins, see LoadConfig.
	AllowedOrigins []string `env:"TINYTRACK_ALLOWED_ORIGINS" envSeparator:","`

	RateLimit float64 `env:"TINYTRACK_RATE_LIMIT" envDefault:"50"`
	RateBurst int     `env:"TINYTRACK_RATE_BURST" envDefault:"100"`

	LogLevel string `env:"TINYTRACK_LOG_LEVEL" envDefault:"info"`
	LogDev   bool   `env:"TINYTRACK_LOG_DEV"   envDefault:"false"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:" + cfg.Port,
			"http://127.0.0.1:" + cfg.Port,
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.Storage {
	case BackendBadger, BackendSQLite:
		if c.DataDir == "" {
			return fmt.Errorf("TINYTRACK_DATA_DIR is required for %s storage", c.Storage)
		}
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("TINYTRACK_POSTGRES_URL is required for postgres storage")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown TINYTRACK_STORAGE %q (want badger, memory, sqlite or postgres)", c.Storage)
	}
	if c.MaxStorageGB <= 0 {
		return fmt.Errorf("TINYTRACK_MAX_STORAGE_GB must be positive, got %d", c.MaxStorageGB)
	}
	if c.StatsCacheTTL < 0 {
		return fmt.Errorf("TINYTRACK_STATS_CACHE_TTL must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("TINYTRACK_LOG_LEVEL: %w", err)
	}
	return nil
}

// MaxStorageBytes is the disk budget of the data directory.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

// NewLogger builds the process logger: JSON in production, console when LogDev is set.
func NewLogger(c Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if c.LogDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
