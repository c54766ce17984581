package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all Resource Sentinel configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Forecast ForecastConfig `mapstructure:"forecast"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig defines database settings. Path is used by sqlite, DSN by postgres.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// Target returns the driver-specific connection target.
func (s StorageConfig) Target() string {
	if s.Driver == "postgres" || s.Driver == "pgx" {
		return s.DSN
	}
	return s.Path
}

// ServerConfig defines the HTTP API and gRPC health listeners.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	GRPCListen      string        `mapstructure:"grpc_listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// ForecastConfig tunes the burn-rate estimator.
type ForecastConfig struct {
	Window               int `mapstructure:"window"`
	ConfidenceSaturation int `mapstructure:"confidence_saturation"`
}

// NotifyConfig tunes notification routing.
type NotifyConfig struct {
	Workers         int           `mapstructure:"workers"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	RouteTimeout    time.Duration `mapstructure:"route_timeout"`
	BodyLimit       int           `mapstructure:"body_limit"`
	Dedupe          string        `mapstructure:"dedupe"`
	DedupeTTL       time.Duration `mapstructure:"dedupe_ttl"`
}

// RedisConfig defines the Redis connection used by the redis deduper.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChannelsConfig defines notification channel integrations.
type ChannelsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
}

// TelegramConfig defines Telegram bot settings.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	APIURL  string `mapstructure:"api_url"`
	BotName string `mapstructure:"bot_name"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// ExportConfig defines where forecast snapshots are written. A set bucket
// selects S3 over the local directory.
type ExportConfig struct {
	Dir string   `mapstructure:"dir"`
	S3  S3Config `mapstructure:"s3"`
}

// S3Config defines the snapshot bucket.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Prefix          string `mapstructure:"prefix"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. A .env
// file in the working directory is loaded first; it never overrides
// variables already set.
func Load(cfgFile string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".sentinel"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".sentinel", "sentinel.db"))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.grpc_listen", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_body_size", 1<<20) // 1 MB
	v.SetDefault("forecast.window", 30)
	v.SetDefault("forecast.confidence_saturation", 10)
	v.SetDefault("notify.workers", 8)
	v.SetDefault("notify.delivery_timeout", "10s")
	v.SetDefault("notify.route_timeout", "1m")
	v.SetDefault("notify.body_limit", 500)
	v.SetDefault("notify.dedupe", "storage")
	v.SetDefault("notify.dedupe_ttl", "72h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("channels.telegram.enabled", false)
	v.SetDefault("channels.telegram.token", "")
	v.SetDefault("channels.telegram.api_url", "https://api.telegram.org")
	v.SetDefault("channels.telegram.bot_name", "")
	v.SetDefault("channels.slack.enabled", false)
	v.SetDefault("channels.slack.webhook_url", "")
	v.SetDefault("channels.webhook.enabled", false)
	v.SetDefault("channels.webhook.url", "")
	v.SetDefault("channels.webhook.secret", "")
	v.SetDefault("export.dir", filepath.Join(home, ".sentinel", "exports"))
	v.SetDefault("export.s3.bucket", "")
	v.SetDefault("export.s3.region", "us-east-1")
	v.SetDefault("export.s3.endpoint", "")
	v.SetDefault("export.s3.prefix", "")
	v.SetDefault("export.s3.path_style", false)
	v.SetDefault("export.s3.access_key_id", "")
	v.SetDefault("export.s3.secret_access_key", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("storage.driver %q: want sqlite or postgres", c.Storage.Driver)
	}
	if c.Storage.Target() == "" {
		return fmt.Errorf("storage: missing path or dsn for %s", c.Storage.Driver)
	}
	switch c.Notify.Dedupe {
	case "storage", "redis", "memory", "none":
	default:
		return fmt.Errorf("notify.dedupe %q: want storage, redis, memory or none", c.Notify.Dedupe)
	}
	if c.Forecast.Window <= 0 {
		return fmt.Errorf("forecast.window must be positive, got %d", c.Forecast.Window)
	}
	return nil
}

// LoadEnvFile loads variables from path into the environment. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}
