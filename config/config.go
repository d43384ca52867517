package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange       ExchangeConfig   `mapstructure:"exchange"`
	Feed           FeedConfig       `mapstructure:"feed"`
	Supervisor     SupervisorConfig `mapstructure:"supervisor"`
	Cache          CacheConfig      `mapstructure:"cache"`
	Storage        StorageConfig    `mapstructure:"storage"`
	Postgres       PostgresConfig   `mapstructure:"postgres"`
	Redis          RedisConfig      `mapstructure:"redis"`
	HTTP           HTTPConfig       `mapstructure:"http"`
	Log            LogConfig        `mapstructure:"log"`
	StatusInterval time.Duration    `mapstructure:"status_interval"`
}

type ExchangeConfig struct {
	Name      string        `mapstructure:"name"` // "bingx" or "binance"
	RESTURL   string        `mapstructure:"rest_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `mapstructure:"burst"`
}

type FeedConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	ChannelSize  int           `mapstructure:"channel_size"`
	Retry        RetryConfig   `mapstructure:"retry"`
	Needed       []NeededFeed  `mapstructure:"needed"`
}

type RetryConfig struct {
	Policy     string        `mapstructure:"policy"` // "fixed" or "exponential"
	Base       time.Duration `mapstructure:"base"`
	Max        time.Duration `mapstructure:"max"`
	MaxRetries int           `mapstructure:"max_retries"` // 0 = retry forever
}

// NeededFeed is a feed the supervisor keeps alive from startup.
type NeededFeed struct {
	Symbol   string `mapstructure:"symbol"`
	Kind     string `mapstructure:"kind"` // "ticker" or "kline"
	Interval string `mapstructure:"interval"`
}

type SupervisorConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	MatchByID bool          `mapstructure:"match_by_id"`
}

type CacheConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	FlushTicker   time.Duration `mapstructure:"flush_ticker"` // 0 = flush on traffic only
}

type StorageConfig struct {
	Driver     string        `mapstructure:"driver"` // "file", "postgres", "sqlite", "redis" or "none"
	Dir        string        `mapstructure:"dir"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	CreateDB   bool          `mapstructure:"create_db"`
	Retention  time.Duration `mapstructure:"retention"` // 0 = keep forever; postgres and sqlite only
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	WSPushInterval time.Duration `mapstructure:"ws_push_interval"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.name", "bingx")
	v.SetDefault("exchange.rest_url", "https://open-api.bingx.com")
	v.SetDefault("exchange.timeout", 5*time.Second)
	v.SetDefault("exchange.rate_limit", 10)
	v.SetDefault("exchange.burst", 5)

	v.SetDefault("feed.poll_interval", time.Second)
	v.SetDefault("feed.fetch_timeout", 5*time.Second)
	v.SetDefault("feed.channel_size", 1024)
	v.SetDefault("feed.retry.policy", "fixed")
	v.SetDefault("feed.retry.base", time.Second)
	v.SetDefault("feed.retry.max", 30*time.Second)
	v.SetDefault("feed.retry.max_retries", 0)
	v.SetDefault("feed.needed", []map[string]any{{"symbol": "BTC-USDT", "kind": "ticker"}})

	v.SetDefault("supervisor.interval", 3*time.Second)
	v.SetDefault("supervisor.match_by_id", false)

	v.SetDefault("cache.flush_interval", 20*time.Second)
	v.SetDefault("cache.flush_ticker", 0)

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", "data/klines")
	v.SetDefault("storage.sqlite_path", "data/klines.db")
	v.SetDefault("storage.retention", 0)

	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timezone", "UTC")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "marketfeed:klines:")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.ws_push_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.environment", "dev")

	v.SetDefault("status_interval", 5*time.Second)
}

// Load reads application configuration using Viper. path may name a file; when empty, config.yaml
// is searched next to the working directory and the executable. A missing file is not an error:
// defaults and environment variables (e.g. FEED_POLL_INTERVAL=2s) still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // config.yaml
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
		if ex, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
		}
	}

	// Support environment variables with dot notation (e.g., STORAGE_DRIVER)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	switch c.Exchange.Name {
	case "bingx", "binance":
	default:
		return fmt.Errorf("unknown exchange %q", c.Exchange.Name)
	}
	switch c.Storage.Driver {
	case "file", "postgres", "sqlite", "redis", "none":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Feed.Retry.Policy {
	case "fixed":
	case "exponential":
		if c.Feed.Retry.Max <= 0 {
			return fmt.Errorf("feed.retry.max must be positive for the exponential policy")
		}
	default:
		return fmt.Errorf("unknown retry policy %q", c.Feed.Retry.Policy)
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must not be negative")
	}
	if c.Feed.ChannelSize < 0 {
		return fmt.Errorf("feed.channel_size must not be negative")
	}
	return nil
}
