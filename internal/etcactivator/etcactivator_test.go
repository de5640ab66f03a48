package etcactivator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"system-manager-engine/internal/pathtree"
	"system-manager-engine/internal/profile"
	"system-manager-engine/internal/storepath"
)

func setupStore(t *testing.T) (store string, profileDir string, sp storepath.StorePath) {
	t.Helper()
	dir := t.TempDir()
	store = filepath.Join(dir, "store")
	profileDir = filepath.Join(store, "abc123-profile")
	require.NoError(t, os.MkdirAll(profileDir, 0o755))

	old := storepath.CurrentPrefix
	storepath.CurrentPrefix = store
	t.Cleanup(func() { storepath.CurrentPrefix = old })

	var err error
	sp, err = storepath.New(profileDir, store)
	require.NoError(t, err)
	return store, profileDir, sp
}

func staticEnv(t *testing.T, store string, files map[string]string) storepath.StorePath {
	t.Helper()
	envDir := filepath.Join(store, "static-env")
	for rel, content := range files {
		full := filepath.Join(envDir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	sp, err := storepath.New(envDir, store)
	require.NoError(t, err)
	return sp
}

func TestActivate_SingleSymlinkEntry(t *testing.T) {
	store, _, sp := setupStore(t)
	env := staticEnv(t, store, map[string]string{"foo": "hello"})

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"foo": {Target: "foo", Mode: "symlink"},
		},
	}

	etcRoot := filepath.Join(t.TempDir(), "etc")
	tree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	assert.True(t, tree.IsManaged(treePath("foo")))
	assert.True(t, tree.IsManaged(treePath(staticLinkName)))

	linkContent, err := os.Readlink(filepath.Join(etcRoot, "foo"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(staticLinkName, "foo"), linkContent)

	data, err := os.ReadFile(filepath.Join(etcRoot, "foo"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestActivate_CopyEntry(t *testing.T) {
	store, profileDir, sp := setupStore(t)
	env := staticEnv(t, store, nil)

	require.NoError(t, os.WriteFile(filepath.Join(profileDir, "bar.conf"), []byte("config-data"), 0o644))

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"bar": {Source: "bar.conf", Target: "bar.conf", Mode: "0640"},
		},
	}

	etcRoot := filepath.Join(t.TempDir(), "etc")
	tree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	assert.True(t, tree.IsManaged(treePath("bar.conf")))
	data, err := os.ReadFile(filepath.Join(etcRoot, "bar.conf"))
	require.NoError(t, err)
	assert.Equal(t, "config-data", string(data))

	info, err := os.Stat(filepath.Join(etcRoot, "bar.conf"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestActivate_NestedSymlinkUsesRelativeStaticLink(t *testing.T) {
	store, _, sp := setupStore(t)
	env := staticEnv(t, store, map[string]string{"systemd/system/foo.service": "unit"})

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"foo": {Target: "systemd/system/foo.service", Mode: "symlink"},
		},
	}

	etcRoot := filepath.Join(t.TempDir(), "etc")
	tree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	linkContent, err := os.Readlink(filepath.Join(etcRoot, "systemd/system/foo.service"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("..", "..", staticLinkName, "systemd/system/foo.service"), linkContent)

	// Intermediate directories are tracked as Unmanaged, the leaf as Managed.
	assert.False(t, tree.IsManaged(treePath("systemd")))
	assert.True(t, tree.IsManaged(treePath("systemd/system/foo.service")))
}

func TestActivate_UnmanagedConflictSkipsEntryButContinues(t *testing.T) {
	store, _, sp := setupStore(t)
	env := staticEnv(t, store, map[string]string{"foo": "new", "ok": "ok"})

	etcRoot := filepath.Join(t.TempDir(), "etc")
	require.NoError(t, os.MkdirAll(etcRoot, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(etcRoot, "foo"), []byte("hand-edited"), 0o644))

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"foo": {Target: "foo", Mode: "symlink"},
			"ok":  {Target: "ok", Mode: "symlink"},
		},
	}

	tree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	assert.False(t, tree.IsManaged(treePath("foo")))
	assert.True(t, tree.IsManaged(treePath("ok")))

	data, err := os.ReadFile(filepath.Join(etcRoot, "foo"))
	require.NoError(t, err)
	assert.Equal(t, "hand-edited", string(data))
}

func TestActivate_ReactivationOverPreviouslyManagedSymlinkIsIdempotent(t *testing.T) {
	store, _, sp := setupStore(t)
	env := staticEnv(t, store, map[string]string{"foo": "v1"})

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"foo": {Target: "foo", Mode: "symlink"},
		},
	}

	etcRoot := filepath.Join(t.TempDir(), "etc")
	firstTree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	secondTree, err := Activate(sp, cfg, etcRoot, firstTree)
	require.NoError(t, err)
	assert.True(t, secondTree.IsManaged(treePath("foo")))
}

func TestActivate_WantsDirectoryMergesFileChildrenAsSymlinks(t *testing.T) {
	store, _, sp := setupStore(t)
	env := staticEnv(t, store, map[string]string{
		"systemd/system/multi-user.target.wants/a.service": "a",
		"systemd/system/multi-user.target.wants/b.service": "b",
	})

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"wants": {Target: "systemd/system/multi-user.target.wants", Mode: "symlink"},
		},
	}

	etcRoot := filepath.Join(t.TempDir(), "etc")
	tree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	wantsDir := filepath.Join(etcRoot, "systemd/system/multi-user.target.wants")
	info, err := os.Lstat(wantsDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.False(t, info.Mode()&os.ModeSymlink != 0)

	for _, svc := range []string{"a.service", "b.service"} {
		linkPath := filepath.Join(wantsDir, svc)
		fi, err := os.Lstat(linkPath)
		require.NoError(t, err)
		assert.True(t, fi.Mode()&os.ModeSymlink != 0)
		assert.True(t, tree.IsManaged(treePath("systemd/system/multi-user.target.wants/"+svc)))
	}
}

func TestActivate_PreexistingUnmanagedDirectoryTriggersMerge(t *testing.T) {
	store, _, sp := setupStore(t)
	env := staticEnv(t, store, map[string]string{
		"some.dir/child": "c",
	})

	etcRoot := filepath.Join(t.TempDir(), "etc")
	require.NoError(t, os.MkdirAll(filepath.Join(etcRoot, "some.dir"), 0o755))

	cfg := profile.EtcFilesConfig{
		StaticEnv: env,
		Entries: map[string]profile.EtcFile{
			"somedir": {Target: "some.dir", Mode: "symlink"},
		},
	}

	tree, err := Activate(sp, cfg, etcRoot, pathtree.Root())
	require.NoError(t, err)

	childLink := filepath.Join(etcRoot, "some.dir", "child")
	fi, err := os.Lstat(childLink)
	require.NoError(t, err)
	assert.True(t, fi.Mode()&os.ModeSymlink != 0)
	assert.True(t, tree.IsManaged(treePath("some.dir/child")))
}
