package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VERDICT_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10, cfg.Quota.DailyLimit)
	assert.Equal(t, 15*time.Minute, cfg.Freshness.Cache)
	assert.Equal(t, 90*time.Minute, cfg.Freshness.Persisted)
	assert.Equal(t, 20*time.Second, cfg.Analyzers.Timeout)
	assert.Equal(t, 5, cfg.Analyzers.MaxConcurrency)
	assert.True(t, cfg.Classification.Enabled)
	assert.Equal(t, 3, cfg.Classification.DemoteAfterDays)
	assert.Equal(t, 24*time.Hour, cfg.Classification.MaxDataAge)
	assert.Equal(t, DefaultWeights(), cfg.Weights)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VERDICT_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("QUOTA_DAILY_LIMIT", "3")
	t.Setenv("CACHE_FRESHNESS", "5m")
	t.Setenv("CLASSIFICATION_ENABLED", "false")
	t.Setenv("CLASSIFICATION_MIN_PRICE", "2.5")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("ANALYZER_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 3, cfg.Quota.DailyLimit)
	assert.Equal(t, 5*time.Minute, cfg.Freshness.Cache)
	assert.False(t, cfg.Classification.Enabled)
	assert.Equal(t, 2.5, cfg.Classification.MinPrice)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	// Unparseable values keep the default
	assert.Equal(t, 20*time.Second, cfg.Analyzers.Timeout)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	t.Setenv("VERDICT_DATA_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "verbose")

	_, err := Load()
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_WeightsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  technical: 60\n  news: 40\n"), 0644))

	t.Setenv("VERDICT_DATA_DIR", dir)
	t.Setenv("WEIGHTS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"technical": 60, "news": 40}, cfg.Weights)
}

func TestLoad_WeightsFileNotSummingTo100(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.yaml")
	require.NoError(t, os.WriteFile(path, []byte("weights:\n  technical: 60\n  news: 30\n"), 0644))

	t.Setenv("VERDICT_DATA_DIR", dir)
	t.Setenv("WEIGHTS_FILE", path)

	_, err := Load()
	assert.ErrorContains(t, err, "sum to 90")
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights map[string]float64
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{"single component", map[string]float64{"technical": 100}, false},
		{"fractional", map[string]float64{"a": 33.5, "b": 66.5}, false},
		{"under", map[string]float64{"a": 50, "b": 49}, true},
		{"over", map[string]float64{"a": 50, "b": 51}, true},
		{"negative", map[string]float64{"a": 110, "b": -10}, true},
		{"empty", map[string]float64{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(tt.weights)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadWeights_Errors(t *testing.T) {
	_, err := LoadWeights(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read weights file")

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("other: 1\n"), 0644))
	_, err = LoadWeights(path)
	assert.ErrorContains(t, err, "defines no weights")
}
