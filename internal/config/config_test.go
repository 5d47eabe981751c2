package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadICFillsDefaultsForOmittedFields(t *testing.T) {
	path := writeFile(t, `{"db_path": "/custom/info_center.db"}`)
	cfg, err := LoadIC(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/info_center.db", cfg.DBPath)
	assert.Equal(t, 0.3, cfg.LoadBalancingWeights.Prealloc)
	assert.Equal(t, 600, cfg.SnapshotIntervalSeconds)
}

func TestLoadSentryOverridesDefaults(t *testing.T) {
	path := writeFile(t, `{"sentry_id": "sentry-a", "health_interval": 5}`)
	cfg, err := LoadSentry(path)
	require.NoError(t, err)
	assert.Equal(t, "sentry-a", cfg.SentryID)
	assert.Equal(t, float64(5), cfg.HealthIntervalSecs)
	assert.Equal(t, 6379, cfg.Redis.Port)
}

func TestLoadICMissingFileIsFatal(t *testing.T) {
	_, err := LoadIC(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
