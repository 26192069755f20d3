package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const defaultEnvFile = "config.env"

type Config struct {
	DB     DBConfig
	HTTP   HTTPConfig
	Log    LogConfig
	Ledger LedgerConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
}

type DBConfig struct {
	Host         string `env:"DB_HOST" envDefault:"localhost"`
	Port         int    `env:"DB_PORT" envDefault:"5432"`
	User         string `env:"DB_USER"`
	Password     string `env:"DB_PASSWORD"`
	Name         string `env:"DB_NAME"`
	SSLMode      string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	AutoMigrate  bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type LogConfig struct {
	InfoFile  string `env:"LOG_INFO_FILE"`
	ErrorFile string `env:"LOG_ERROR_FILE"`
	Level     string `env:"LOG_LEVEL" envDefault:"info"`
}

// LedgerConfig holds the defaults applied to wallets created without
// explicit settings, including the default wallet of a new owner.
type LedgerConfig struct {
	DefaultDecimalPlaces     uint8 `env:"LEDGER_DEFAULT_DECIMAL_PLACES" envDefault:"2"`
	DefaultMinAllowedBalance int64 `env:"LEDGER_DEFAULT_MIN_ALLOWED_BALANCE" envDefault:"0"`
}

type RedisConfig struct {
	Enabled    bool          `env:"REDIS_ENABLED" envDefault:"false"`
	Addr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password   string        `env:"REDIS_PASSWORD"`
	DB         int           `env:"REDIS_DB" envDefault:"0"`
	BalanceTTL time.Duration `env:"REDIS_BALANCE_TTL" envDefault:"30s"`
}

type KafkaConfig struct {
	Enabled          bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID          string        `env:"KAFKA_GROUP_ID" envDefault:"wallet-ledger"`
	RetryMaxAttempts int           `env:"KAFKA_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay   time.Duration `env:"KAFKA_RETRY_BASE_DELAY" envDefault:"100ms"`
	RetryMaxDelay    time.Duration `env:"KAFKA_RETRY_MAX_DELAY" envDefault:"10s"`
	RetryJitter      bool          `env:"KAFKA_RETRY_JITTER" envDefault:"true"`
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

func (k KafkaConfig) GetRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: k.RetryMaxAttempts,
		BaseDelay:   k.RetryBaseDelay,
		MaxDelay:    k.RetryMaxDelay,
		Jitter:      k.RetryJitter,
	}
}

// Load reads config.env when it exists and then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	return LoadFile(defaultEnvFile)
}

func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DB.MaxOpenConns < 0 || c.DB.MaxIdleConns < 0 {
		return fmt.Errorf("invalid DB pool size: open=%d idle=%d", c.DB.MaxOpenConns, c.DB.MaxIdleConns)
	}
	if c.Ledger.DefaultDecimalPlaces > 18 {
		return fmt.Errorf("invalid LEDGER_DEFAULT_DECIMAL_PLACES: %d", c.Ledger.DefaultDecimalPlaces)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS must be set when KAFKA_ENABLED is true")
	}
	return nil
}
