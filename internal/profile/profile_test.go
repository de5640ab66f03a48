package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"system-manager-engine/internal/storepath"
)

func setupProfile(t *testing.T, etcFilesJSON, servicesJSON string) storepath.StorePath {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	profileDir := filepath.Join(store, "abc123-profile")

	require.NoError(t, os.MkdirAll(filepath.Join(profileDir, "etcFiles"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(profileDir, "services"), 0o755))

	if etcFilesJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(profileDir, "etcFiles", "etcFiles.json"), []byte(etcFilesJSON), 0o644))
	}
	if servicesJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(profileDir, "services", "services.json"), []byte(servicesJSON), 0o644))
	}

	old := storepath.CurrentPrefix
	storepath.CurrentPrefix = store
	t.Cleanup(func() { storepath.CurrentPrefix = old })

	sp, err := storepath.New(profileDir, store)
	require.NoError(t, err)
	return sp
}

func TestLoadEtcFiles_ParsesEntriesAndStaticEnv(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	staticEnvPath := filepath.Join(store, "zzz-staticenv")
	require.NoError(t, os.MkdirAll(staticEnvPath, 0o755))

	etcFilesJSON := `{
		"entries": {
			"foo": {"source": "etc/foo", "target": "foo", "uid": 0, "gid": 0, "user": "root", "group": "root", "mode": "symlink"},
			"bar": {"source": "etc/bar", "target": "bar", "mode": "0644"}
		},
		"staticEnv": "` + staticEnvPath + `"
	}`
	sp := setupProfile(t, etcFilesJSON, "")

	cfg, err := LoadEtcFiles(sp)
	require.NoError(t, err)
	assert.Len(t, cfg.Entries, 2)
	assert.True(t, cfg.Entries["foo"].IsSymlink())
	assert.False(t, cfg.Entries["bar"].IsSymlink())
	assert.Equal(t, staticEnvPath, cfg.StaticEnv.Path())
}

func TestLoadEtcFiles_MissingFile(t *testing.T) {
	sp := setupProfile(t, "", "")
	_, err := LoadEtcFiles(sp)
	assert.Error(t, err)
}

func TestLoadEtcFiles_MalformedJSON(t *testing.T) {
	sp := setupProfile(t, "{not valid", "")
	_, err := LoadEtcFiles(sp)
	assert.Error(t, err)
}

func TestLoadServices_ParsesUnitMap(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	unitStorePath := filepath.Join(store, "yyy-unit")
	require.NoError(t, os.MkdirAll(unitStorePath, 0o755))

	servicesJSON := `{"foo.service": {"storePath": "` + unitStorePath + `"}}`
	sp := setupProfile(t, "", servicesJSON)

	set, err := LoadServices(sp)
	require.NoError(t, err)
	assert.Len(t, set, 1)
	assert.Equal(t, unitStorePath, set["foo.service"].StorePath.Path())
}

func TestSourcePath_JoinsStorePathAndTarget(t *testing.T) {
	sp := setupProfile(t, "", "")
	entry := EtcFile{Source: "etc/foo.conf", Target: "foo.conf"}
	assert.Equal(t, filepath.Join(sp.Path(), "foo.conf"), SourcePath(sp, entry))
}
