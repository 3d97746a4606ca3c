package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "triage.db", cfg.Store.SQLitePath)
	assert.Equal(t, "triage-audit.jsonl", cfg.Store.JournalPath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrentCases)
	assert.Equal(t, 10, cfg.Calibration.Buckets)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.TriageModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.FullModel)
	assert.Equal(t, 10, cfg.Triage.TriageTimeoutSecs)
	assert.Equal(t, 120, cfg.Triage.FullTimeoutSecs)
	assert.Equal(t, 6000, cfg.Triage.ContextChars)
	assert.Equal(t, int64(512), cfg.Triage.TriageMaxTokens)
	assert.Equal(t, int64(4096), cfg.Triage.FullMaxTokens)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)

	assert.Equal(t, 10*time.Second, cfg.Triage.TriageTimeout())
	assert.Equal(t, 2*time.Minute, cfg.Triage.FullTimeout())
	assert.Equal(t, time.Second, cfg.Retry.ToRetry().InitialBackoff)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/triage
log:
  level: debug
  format: console
server:
  port: 9090
batch:
  max_concurrent_cases: 8
triage:
  triage_timeout_secs: 5
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Batch.MaxConcurrentCases)
	assert.Equal(t, 5, cfg.Triage.TriageTimeoutSecs)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.Triage.FullTimeoutSecs)
	assert.Equal(t, 6000, cfg.Triage.ContextChars)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TRIAGE_STORE_DRIVER", "postgres")
	t.Setenv("TRIAGE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("TRIAGE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes the shared checks.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "triage.db"
	cfg.Batch.MaxConcurrentCases = 4
	cfg.Triage.TriageTimeoutSecs = 10
	cfg.Triage.FullTimeoutSecs = 120
	cfg.Calibration.Buckets = 10
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateExtract_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Anthropic.TriageModel = "claude-haiku-4-5-20251001"
	cfg.Anthropic.FullModel = "claude-sonnet-4-5-20250929"

	assert.NoError(t, cfg.Validate("extract"))
}

func TestValidateExtract_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("extract")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidatePostgresRequiresURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("review")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/triage"
	assert.NoError(t, cfg.Validate("review"))
}

func TestValidateUnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "dynamo"

	err := cfg.Validate("review")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("enrich")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Batch.MaxConcurrentCases = 0
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_cases must be between 1 and 32")

	cfg.Batch.MaxConcurrentCases = 33
	err = cfg.Validate("serve")
	assert.Error(t, err)

	cfg.Batch.MaxConcurrentCases = 32
	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateTimeoutOrdering(t *testing.T) {
	cfg := validDefaults()

	cfg.Triage.TriageTimeoutSecs = 120
	cfg.Triage.FullTimeoutSecs = 120
	err := cfg.Validate("review")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shorter than")

	cfg.Triage.TriageTimeoutSecs = 0
	err = cfg.Validate("review")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeouts must be > 0")
}

func TestValidateBucketBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Calibration.Buckets = 1
	err := cfg.Validate("calibrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calibration.buckets")

	cfg.Calibration.Buckets = 101
	assert.Error(t, cfg.Validate("calibrate"))

	cfg.Calibration.Buckets = 20
	assert.NoError(t, cfg.Validate("calibrate"))
}
