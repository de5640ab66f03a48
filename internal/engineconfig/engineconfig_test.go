package engineconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FileLayerOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stateDir: /custom/state\nlogLevel: debug\njobWaitTimeout: 45s\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/state", cfg.StateDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45*time.Second, cfg.JobWaitTimeout)
	assert.Equal(t, DefaultDbusTimeout, cfg.DbusTimeout)
}

func TestLoad_EnvLayerOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stateDir: /custom/state\n"), 0o644))

	t.Setenv("SYSTEM_MANAGER_ENGINE_STATE_DIR", "/env/state")
	t.Setenv("RUST_LOG", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/env/state", cfg.StateDir)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_MalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestStateFilePath(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/system-manager/state"
	assert.Equal(t, "/var/lib/system-manager/state/system-manager-state.json", cfg.StateFilePath())
}
