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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".waymark/waymark.db", cfg.DBPath)
	assert.Equal(t, 30.0, cfg.SnapThresholdMeters)
	assert.Equal(t, 200*time.Millisecond, cfg.GeocodeDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.PushDebounce)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waymark.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/custom.db
user_id: u42
snap_threshold_meters: 75.5
geocode_delay: 1s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.DBPath)
	assert.Equal(t, "u42", cfg.UserID)
	assert.Equal(t, 75.5, cfg.SnapThresholdMeters)
	assert.Equal(t, time.Second, cfg.GeocodeDelay)
	// Unspecified keys fall back to defaults.
	assert.Equal(t, 250*time.Millisecond, cfg.PushDebounce)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WAYMARK_DB_PATH", "/tmp/env.db")
	t.Setenv("WAYMARK_MAPBOX_TOKEN", "pk.test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
	assert.Equal(t, "pk.test", cfg.MapboxToken)
}

func TestLoad_ExplicitMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "waymark.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: [unterminated"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
