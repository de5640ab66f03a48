package statelock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_CreatesStateDirAndLocksExclusively(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")

	unlock, err := Lock(stateDir)
	require.NoError(t, err)
	defer unlock()

	assert.DirExists(t, stateDir)
	assert.FileExists(t, filepath.Join(stateDir, lockFileName))

	_, err = Lock(stateDir)
	assert.Error(t, err, "a second concurrent Lock on the same directory must fail")
}

func TestLock_UnlockAllowsReacquisition(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")

	unlock, err := Lock(stateDir)
	require.NoError(t, err)
	require.NoError(t, unlock())

	unlock2, err := Lock(stateDir)
	require.NoError(t, err)
	require.NoError(t, unlock2())
}
