package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API    APIConfig    `yaml:"api" mapstructure:"api"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Ingest IngestConfig `yaml:"ingest" mapstructure:"ingest"`
	State  StateConfig  `yaml:"state" mapstructure:"state"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// APIConfig holds the Socrata SODA3 endpoint settings.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	AppToken    string  `yaml:"app_token" mapstructure:"app_token"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// Timeout returns the per-request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IngestConfig configures the pull pipeline.
type IngestConfig struct {
	PageSize        int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPages        int    `yaml:"max_pages" mapstructure:"max_pages"`
	InvalidRows     string `yaml:"invalid_rows" mapstructure:"invalid_rows"`
	PullRunType     string `yaml:"pull_run_type" mapstructure:"pull_run_type"`
	BackfillRunType string `yaml:"backfill_run_type" mapstructure:"backfill_run_type"`
}

// StateConfig configures local run state.
type StateConfig struct {
	WatermarkPath string `yaml:"watermark_path" mapstructure:"watermark_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRAFFICSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.rate_per_sec", 5)
	v.SetDefault("api.burst", 5)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "trafficsync.db")
	v.SetDefault("ingest.page_size", 1000)
	v.SetDefault("ingest.max_pages", 100)
	v.SetDefault("ingest.invalid_rows", "skip")
	v.SetDefault("ingest.pull_run_type", "daily")
	v.SetDefault("ingest.backfill_run_type", "weekly")
	v.SetDefault("state.watermark_path", "state/watermark.json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
