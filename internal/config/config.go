package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridian-clinical/triage-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Triage      TriageConfig      `yaml:"triage" mapstructure:"triage"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Calibration CalibrationConfig `yaml:"calibration" mapstructure:"calibration"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	JournalPath string `yaml:"journal_path" mapstructure:"journal_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	TriageModel string  `yaml:"triage_model" mapstructure:"triage_model"`
	FullModel   string  `yaml:"full_model" mapstructure:"full_model"`
	RateRPS     float64 `yaml:"rate_rps" mapstructure:"rate_rps"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// TriageConfig configures the two classification stages and the
// escalation policy.
type TriageConfig struct {
	TriageTimeoutSecs int    `yaml:"triage_timeout_secs" mapstructure:"triage_timeout_secs"`
	FullTimeoutSecs   int    `yaml:"full_timeout_secs" mapstructure:"full_timeout_secs"`
	ContextChars      int    `yaml:"context_chars" mapstructure:"context_chars"`
	TriageMaxTokens   int64  `yaml:"triage_max_tokens" mapstructure:"triage_max_tokens"`
	FullMaxTokens     int64  `yaml:"full_max_tokens" mapstructure:"full_max_tokens"`
	TriggersFile      string `yaml:"triggers_file" mapstructure:"triggers_file"`
}

// TriageTimeout returns the triage stage hard timeout.
func (t TriageConfig) TriageTimeout() time.Duration {
	return time.Duration(t.TriageTimeoutSecs) * time.Second
}

// FullTimeout returns the full stage hard timeout.
func (t TriageConfig) FullTimeout() time.Duration {
	return time.Duration(t.FullTimeoutSecs) * time.Second
}

// RetryConfig configures classifier retry behavior.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// ToRetry converts to the resilience package's config.
func (r RetryConfig) ToRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    r.MaxAttempts,
		InitialBackoff: time.Duration(r.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.MaxBackoffMS) * time.Millisecond,
	}
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentCases int `yaml:"max_concurrent_cases" mapstructure:"max_concurrent_cases"`
}

// CalibrationConfig configures the calibration analyzer.
type CalibrationConfig struct {
	Buckets int `yaml:"buckets" mapstructure:"buckets"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "triage.db")
	v.SetDefault("store.journal_path", "triage-audit.jsonl")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_cases", 4)
	v.SetDefault("calibration.buckets", 10)
	v.SetDefault("anthropic.triage_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.full_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.rate_rps", 5.0)
	v.SetDefault("anthropic.rate_burst", 10)
	v.SetDefault("triage.triage_timeout_secs", 10)
	v.SetDefault("triage.full_timeout_secs", 120)
	v.SetDefault("triage.context_chars", 6000)
	v.SetDefault("triage.triage_max_tokens", 512)
	v.SetDefault("triage.full_max_tokens", 4096)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 15000)

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

// Validate checks the configuration for the given command mode. All
// problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Batch.MaxConcurrentCases < 1 || c.Batch.MaxConcurrentCases > 32 {
		problems = append(problems, "batch.max_concurrent_cases must be between 1 and 32")
	}
	if c.Triage.TriageTimeoutSecs <= 0 || c.Triage.FullTimeoutSecs <= 0 {
		problems = append(problems, "triage timeouts must be > 0")
	} else if c.Triage.TriageTimeoutSecs >= c.Triage.FullTimeoutSecs {
		problems = append(problems, "triage.triage_timeout_secs must be shorter than triage.full_timeout_secs")
	}
	if c.Calibration.Buckets < 2 || c.Calibration.Buckets > 100 {
		problems = append(problems, "calibration.buckets must be between 2 and 100")
	}

	switch mode {
	case "extract":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Anthropic.TriageModel == "" || c.Anthropic.FullModel == "" {
			problems = append(problems, "anthropic.triage_model and anthropic.full_model are required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "review", "calibrate", "export", "migrate":
		// Store checks above cover these.
	default:
		problems = append(problems, "unknown mode "+mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
