package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskrouter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("no-such-env", "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Router.MaxAttempts)
	assert.Equal(t, "chars", cfg.Router.TokenEstimator)
	assert.Equal(t, "memory", cfg.Usage.Backend)
	assert.Equal(t, 30*time.Second, cfg.Health.Cooldown)
	assert.Equal(t, time.Minute, cfg.Cache.CleanupInterval)

	limits, err := cfg.TierLimits()
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTierLimits(), limits)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
router:
  max_attempts: 2
  retry_backoff_ms: 250
  coalesce: true
health:
  cooldown: 1m
tiers:
  free:
    max_quality: low
    monthly_runs: 10
providers:
  deepseek:
    api_key_env: DS_KEY
    timeout: 20
`)
	t.Setenv("APP_ROUTER_MAX_ATTEMPTS", "5")

	cfg, err := Load("test", path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Router.MaxAttempts, "环境变量优先")
	assert.Equal(t, 250*time.Millisecond, cfg.Router.RetryBackoff())
	assert.True(t, cfg.Router.Coalesce)
	assert.Equal(t, time.Minute, cfg.Health.Cooldown)
	assert.Equal(t, "DS_KEY", cfg.Providers["deepseek"].APIKeyEnv)

	limits, err := cfg.TierLimits()
	require.NoError(t, err)
	assert.Equal(t, models.QualityLow, limits[models.TierFree].MaxQuality)
	assert.Equal(t, int64(10), limits[models.TierFree].MonthlyRuns)
	assert.Equal(t, models.QualityHigh, limits[models.TierPro].MaxQuality)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":       "database:\n  driver: mysql\n",
		"usage":        "usage:\n  backend: etcd\n",
		"redis usage":  "usage:\n  backend: redis\n",
		"tier":         "tiers:\n  platinum:\n    max_quality: high\n",
		"tier quality": "tiers:\n  free:\n    max_quality: ultra\n",
		"provider":     "providers:\n  mistral:\n    api_key: x\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load("test", writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("test", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
