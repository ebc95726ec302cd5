package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0:8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"INFO"`
	PostgresConfig
	BiddingConfig
	RedisConfig
}

func NewConfig() (*Config, error) {
	config := &Config{}

	err := env.Parse(config)
	if err != nil {
		return config, fmt.Errorf("config.NewConfig: %w", err)
	}

	err = config.BiddingConfig.Validate()
	if err != nil {
		return config, fmt.Errorf("config.NewConfig: %w", err)
	}
	return config, nil
}

type PostgresConfig struct {
	Conn            string `env:"POSTGRES_CONN" envDefault:"postgres://bidding:bidding@db:5432/bidding?sslmode=disable"`
	AutoMigrateUp   string `env:"AUTO_MIGRATE_UP" envDefault:"true"`
	AutoMigrateDown string `env:"AUTO_MIGRATE_DOWN" envDefault:"false"`
	MigrationsURL   string `env:"MIGRATIONS_URL" envDefault:"file://internal/repository/db/migrations"`
}

func NewPostgresConfig() (*PostgresConfig, error) {
	config := &PostgresConfig{}

	err := env.Parse(config)
	if err != nil {
		err = fmt.Errorf("config.NewPostgresConfig: %w", err)
	}
	return config, err
}

type BiddingConfig struct {
	MinBidAmount          decimal.Decimal `env:"BID_MIN_AMOUNT" envDefault:"0.01"`
	MaxBidAmount          decimal.Decimal `env:"BID_MAX_AMOUNT" envDefault:"10000.00"`
	AutoResolutionEnabled bool            `env:"BID_AUTO_RESOLUTION_ENABLED" envDefault:"true"`
	ScanInterval          time.Duration   `env:"BID_SCAN_INTERVAL" envDefault:"5m"`
	ScanWorkers           int             `env:"BID_SCAN_WORKERS" envDefault:"4"`
	RetryBatch            int             `env:"BID_PROPAGATION_RETRY_BATCH" envDefault:"20"`
	TaskServiceURL        string          `env:"TASK_SERVICE_URL" envDefault:"http://task-service:8080"`
	OracleTimeout         time.Duration   `env:"TASK_SERVICE_TIMEOUT" envDefault:"5s"`
}

func NewBiddingConfig() (*BiddingConfig, error) {
	config := &BiddingConfig{}

	err := env.Parse(config)
	if err != nil {
		return config, fmt.Errorf("config.NewBiddingConfig: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return config, fmt.Errorf("config.NewBiddingConfig: %w", err)
	}
	return config, nil
}

func (c *BiddingConfig) Validate() error {
	var errs []error
	if !c.MinBidAmount.IsPositive() {
		errs = append(errs, fmt.Errorf("BID_MIN_AMOUNT must be positive, got %s", c.MinBidAmount))
	}
	if c.MaxBidAmount.LessThan(c.MinBidAmount) {
		errs = append(errs, fmt.Errorf("BID_MAX_AMOUNT %s is below BID_MIN_AMOUNT %s", c.MaxBidAmount, c.MinBidAmount))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("BID_SCAN_INTERVAL must be positive, got %s", c.ScanInterval))
	}
	if c.ScanWorkers < 1 {
		errs = append(errs, fmt.Errorf("BID_SCAN_WORKERS must be at least 1, got %d", c.ScanWorkers))
	}
	if c.RetryBatch < 1 {
		errs = append(errs, fmt.Errorf("BID_PROPAGATION_RETRY_BATCH must be at least 1, got %d", c.RetryBatch))
	}
	if c.OracleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TASK_SERVICE_TIMEOUT must be positive, got %s", c.OracleTimeout))
	}
	return errors.Join(errs...)
}

// RedisConfig is optional. An empty Addr disables the scan lock and the
// outcome stream.
type RedisConfig struct {
	Addr           string        `env:"REDIS_ADDR"`
	Password       string        `env:"REDIS_PASSWORD"`
	DB             int           `env:"REDIS_DB" envDefault:"0"`
	ScanLockKey    string        `env:"REDIS_SCAN_LOCK_KEY" envDefault:"bidding:scan:lock"`
	ScanLockExpiry time.Duration `env:"REDIS_SCAN_LOCK_EXPIRY" envDefault:"10m"`
	EventStream    string        `env:"REDIS_EVENT_STREAM" envDefault:"bidding:resolutions"`
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}
