package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "LEDGER"

type Config struct {
	Port      string       `mapstructure:"port"`
	LogLevel  string       `mapstructure:"log_level"`
	LogFormat string       `mapstructure:"log_format"` // console | json
	Store     StoreConfig  `mapstructure:"store"`
	Ledger    LedgerConfig `mapstructure:"ledger"`
	Notify    NotifyConfig `mapstructure:"notify"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // memory | mongo | postgres
	MongoURI    string `mapstructure:"mongo_uri"`
	MongoDB     string `mapstructure:"mongo_db"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type LedgerConfig struct {
	MaxRetries            int  `mapstructure:"max_retries"`
	FingerprintIterations int  `mapstructure:"fingerprint_iterations"`
	VerifySignatures      bool `mapstructure:"verify_signatures"`
	DefaultHistoryLimit   int  `mapstructure:"default_history_limit"`
}

type NotifyConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	AMQPURL   string        `mapstructure:"amqp_url"`
	Exchange  string        `mapstructure:"exchange"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DefaultLedgerConfig is what services fall back to when built without a
// config file, e.g. in tests.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MaxRetries:            5,
		FingerprintIterations: 100_000,
		DefaultHistoryLimit:   10,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultLedgerConfig()
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo_db", "ledger_service")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("ledger.max_retries", d.MaxRetries)
	v.SetDefault("ledger.fingerprint_iterations", d.FingerprintIterations)
	v.SetDefault("ledger.verify_signatures", d.VerifySignatures)
	v.SetDefault("ledger.default_history_limit", d.DefaultHistoryLimit)
	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.exchange", "ledger_events")
	v.SetDefault("notify.timeout", 2*time.Second)
}

// Load reads the yaml file at path. A missing file is not an error, defaults
// and LEDGER_* environment variables still apply. A .env file in the working
// directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// ENV overrides YAML
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("store.mongo_uri is required for the mongo driver")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Ledger.MaxRetries < 1 {
		return errors.New("ledger.max_retries must be at least 1")
	}
	if c.Ledger.DefaultHistoryLimit < 1 {
		return errors.New("ledger.default_history_limit must be at least 1")
	}
	return nil
}
