// Package config loads mailhaus settings from config.yaml and MAILHAUS_* environment variables.
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
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Worker      WorkerConfig      `yaml:"worker" mapstructure:"worker"`
	Tracker     TrackerConfig     `yaml:"tracker" mapstructure:"tracker"`
	Reconcile   ReconcileConfig   `yaml:"reconcile" mapstructure:"reconcile"`
	Suppression SuppressionConfig `yaml:"suppression" mapstructure:"suppression"`
	Campaign    CampaignConfig    `yaml:"campaign" mapstructure:"campaign"`
	Radar       RadarConfig       `yaml:"radar" mapstructure:"radar"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	FTP         FTPConfig         `yaml:"ftp" mapstructure:"ftp"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// WorkerConfig configures the ingestion worker pool.
type WorkerConfig struct {
	ID             string `yaml:"id" mapstructure:"id"`
	Concurrency    int    `yaml:"concurrency" mapstructure:"concurrency"`
	PollIntervalMs int    `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	ProgressEvery  int    `yaml:"progress_every" mapstructure:"progress_every"`
}

// PollInterval returns the idle poll delay.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// TrackerConfig configures unit submission and stuck detection.
type TrackerConfig struct {
	PendingThresholdMins    int `yaml:"pending_threshold_mins" mapstructure:"pending_threshold_mins"`
	ProcessingThresholdMins int `yaml:"processing_threshold_mins" mapstructure:"processing_threshold_mins"`
	BatchSize               int `yaml:"batch_size" mapstructure:"batch_size"`
	DefaultPriority         int `yaml:"default_priority" mapstructure:"default_priority"`
}

// ReconcileConfig configures record reconciliation.
type ReconcileConfig struct {
	ProviderID  string `yaml:"provider_id" mapstructure:"provider_id"`
	OwnerPolicy string `yaml:"owner_policy" mapstructure:"owner_policy"`
}

// SuppressionConfig configures DNM lookups.
type SuppressionConfig struct {
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// CampaignConfig configures recipient generation.
type CampaignConfig struct {
	InsertChunkSize int `yaml:"insert_chunk_size" mapstructure:"insert_chunk_size"`
}

// RadarConfig holds the property data provider API settings.
type RadarConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RetryConfig controls retries of transient record and provider failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// FTPConfig configures batch file retrieval over FTP.
type FTPConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	User        string `yaml:"user" mapstructure:"user"`
	Password    string `yaml:"password" mapstructure:"password"`
}

// ServerConfig configures the HTTP query server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RecordErrorThreshold float64 `yaml:"record_error_threshold" mapstructure:"record_error_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MAILHAUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.progress_every", 50)
	v.SetDefault("tracker.pending_threshold_mins", 60)
	v.SetDefault("tracker.processing_threshold_mins", 180)
	v.SetDefault("tracker.batch_size", 500)
	v.SetDefault("tracker.default_priority", 0)
	v.SetDefault("reconcile.provider_id", "propertyradar")
	v.SetDefault("reconcile.owner_policy", "append")
	v.SetDefault("suppression.chunk_size", 500)
	v.SetDefault("campaign.insert_chunk_size", 250)
	v.SetDefault("radar.base_url", "https://api.propertyradar.com/v1")
	v.SetDefault("radar.token", "")
	v.SetDefault("radar.rate_per_sec", 2.0)
	v.SetDefault("radar.timeout_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("ftp.timeout_secs", 30)
	v.SetDefault("ftp.user", "anonymous")
	v.SetDefault("ftp.password", "anonymous@")
	v.SetDefault("server.port", 8080)
	v.SetDefault("worker.id", "")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.record_error_threshold", 0.10)
	v.SetDefault("monitoring.webhook_url", "")

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

// Validate checks the settings a command family needs. Modes: "store",
// "worker", "serve", "campaign".
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	switch mode {
	case "store", "worker", "serve", "campaign":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	require(c.Store.Driver == "postgres" || c.Store.Driver == "sqlite", "store.driver must be postgres or sqlite")
	require(c.Store.DatabaseURL != "", "store.database_url is required")

	switch mode {
	case "worker":
		require(c.Worker.Concurrency >= 1 && c.Worker.Concurrency <= 64, "worker.concurrency must be between 1 and 64")
		require(c.Worker.PollIntervalMs > 0, "worker.poll_interval_ms must be positive")
		require(c.Reconcile.ProviderID != "", "reconcile.provider_id is required")
		require(c.Reconcile.OwnerPolicy == "append" || c.Reconcile.OwnerPolicy == "match", "reconcile.owner_policy must be append or match")
	case "serve":
		require(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be between 1 and 65535")
		require(c.Tracker.PendingThresholdMins > 0, "tracker.pending_threshold_mins must be positive")
		require(c.Tracker.ProcessingThresholdMins > 0, "tracker.processing_threshold_mins must be positive")
	case "campaign":
		require(c.Suppression.ChunkSize > 0, "suppression.chunk_size must be positive")
		require(c.Campaign.InsertChunkSize > 0, "campaign.insert_chunk_size must be positive")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid %s configuration: %s", mode, strings.Join(problems, "; "))
	}
	return nil
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
