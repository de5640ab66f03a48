package pathtree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_Merge(t *testing.T) {
	cases := []struct {
		a, b, want Status
	}{
		{Unmanaged, Unmanaged, Unmanaged},
		{Unmanaged, Managed, Managed},
		{Managed, Unmanaged, Managed},
		{Managed, Managed, Managed},
		{Managed, ManagedWithBackup, ManagedWithBackup},
		{ManagedWithBackup, Unmanaged, ManagedWithBackup},
		{ManagedWithBackup, ManagedWithBackup, ManagedWithBackup},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.a.Merge(c.b))
		assert.Equal(t, c.want, c.b.Merge(c.a), "merge must be commutative")
	}
}

func TestRegister_GetStatus(t *testing.T) {
	tree := Root()
	tree, err := tree.Register("/etc/foo/bar", Managed)
	require.NoError(t, err)

	assert.Equal(t, Managed, tree.Status("/etc/foo/bar"))
	// intermediate directories created along the way start Unmanaged.
	assert.Equal(t, Unmanaged, tree.Status("/etc/foo"))
	assert.Equal(t, Unmanaged, tree.Status("/etc"))
	// unregistered paths report Unmanaged.
	assert.Equal(t, Unmanaged, tree.Status("/etc/nope"))
}

func TestRegister_OverwritesLeafKeepsIntermediates(t *testing.T) {
	tree := Root()
	tree, err := tree.Register("/etc/foo", Unmanaged)
	require.NoError(t, err)
	tree, err = tree.Register("/etc/foo/bar", Managed)
	require.NoError(t, err)

	// re-registering /etc/foo as Managed must not disturb the child.
	tree, err = tree.Register("/etc/foo", Managed)
	require.NoError(t, err)
	assert.Equal(t, Managed, tree.Status("/etc/foo"))
	assert.Equal(t, Managed, tree.Status("/etc/foo/bar"))
}

func TestRegister_RejectsBadComponents(t *testing.T) {
	tree := Root()
	_, err := tree.Register("relative/path", Managed)
	assert.Error(t, err)

	_, err = tree.Register("/etc/../foo", Managed)
	assert.Error(t, err)
}

func TestValueSemantics_IndependentHandles(t *testing.T) {
	base := Root()
	base, err := base.Register("/etc/foo", Managed)
	require.NoError(t, err)

	branchA, err := base.Register("/etc/foo/a", Managed)
	require.NoError(t, err)
	branchB, err := base.Register("/etc/foo/b", Managed)
	require.NoError(t, err)

	assert.True(t, branchA.IsManaged("/etc/foo/a"))
	assert.False(t, branchA.IsManaged("/etc/foo/b"))
	assert.True(t, branchB.IsManaged("/etc/foo/b"))
	assert.False(t, branchB.IsManaged("/etc/foo/a"))
}

func TestDeactivate_PrunesManagedLeavesAndEmptyUnmanagedDirs(t *testing.T) {
	tree := Root()
	tree, err := tree.Register("/etc/foo/bar", Managed)
	require.NoError(t, err)

	var deleted []string
	result, ok := tree.Deactivate(func(path string, status Status) bool {
		deleted = append(deleted, path)
		return true
	})
	require.True(t, ok)
	assert.Equal(t, []string{"/etc/foo/bar"}, deleted)
	// /etc/foo and /etc were Unmanaged intermediates with no remaining
	// children; they are pruned from the tree entirely.
	assert.Equal(t, Unmanaged, result.Status("/etc/foo"))
	assert.Empty(t, result.Children())
}

func TestDeactivate_KeepsNodeWhenActionRefuses(t *testing.T) {
	tree := Root()
	tree, err := tree.Register("/etc/foo/bar", Managed)
	require.NoError(t, err)

	result, ok := tree.Deactivate(func(path string, status Status) bool {
		return false // simulate a delete failure
	})
	require.True(t, ok)
	assert.Equal(t, Managed, result.Status("/etc/foo/bar"))
}

func TestDeactivate_DoesNotTouchUnmanagedSiblingFiles(t *testing.T) {
	tree := Root()
	tree, err := tree.Register("/etc/foo/bar", Managed)
	require.NoError(t, err)
	tree, err = tree.Register("/etc/foo/baz", Unmanaged)
	require.NoError(t, err)

	var deleted []string
	result, ok := tree.Deactivate(func(path string, status Status) bool {
		deleted = append(deleted, path)
		return true
	})
	require.True(t, ok)
	assert.Equal(t, []string{"/etc/foo/bar"}, deleted)
	// action is never called for the Unmanaged sibling; it and /etc/foo are
	// childless Unmanaged nodes, so both are pruned and read back Unmanaged.
	assert.Equal(t, Unmanaged, result.Status("/etc/foo"))
	assert.Equal(t, Unmanaged, result.Status("/etc/foo/baz"))
}

func TestUpdateState_RemovedEntryIsDeactivated(t *testing.T) {
	prev := Root()
	prev, err := prev.Register("/etc/old", Managed)
	require.NoError(t, err)

	next := Root()

	var deleted []string
	result := next.UpdateState(prev, func(path string, status Status) bool {
		deleted = append(deleted, path)
		return true
	})

	assert.Equal(t, []string{"/etc/old"}, deleted)
	assert.Equal(t, Unmanaged, result.Status("/etc/old"))
}

func TestUpdateState_SurvivingEntryMerges(t *testing.T) {
	prev := Root()
	prev, err := prev.Register("/etc/foo", ManagedWithBackup)
	require.NoError(t, err)

	next := Root()
	next, err = next.Register("/etc/foo", Managed)
	require.NoError(t, err)

	result := next.UpdateState(prev, func(string, Status) bool { return true })
	// merge law: Managed ⊕ ManagedWithBackup = ManagedWithBackup.
	assert.Equal(t, ManagedWithBackup, result.Status("/etc/foo"))
}

func TestUpdateState_NewOnlyEntryUnchanged(t *testing.T) {
	prev := Root()
	next := Root()
	next, err := next.Register("/etc/new", Managed)
	require.NoError(t, err)

	result := next.UpdateState(prev, func(string, Status) bool {
		t.Fatal("action should not be called for entries absent from prev")
		return true
	})
	assert.Equal(t, Managed, result.Status("/etc/new"))
}

func TestTree_JSONRoundTrip(t *testing.T) {
	tree := Root()
	tree, err := tree.Register("/etc/foo/bar", ManagedWithBackup)
	require.NoError(t, err)

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"unmanaged"`)
	assert.Contains(t, string(data), `"managedWithBackup"`)

	var out Tree
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, ManagedWithBackup, out.Status("/etc/foo/bar"))
	assert.Equal(t, Unmanaged, out.Status("/etc/foo"))
}

// TestUpdateState_ScenarioReplacedStorePath ports the "replacing a managed
// file with a new generation's copy under a changed store path" scenario:
// the path itself is unchanged, but its recorded provenance transitions
// cleanly across the generation boundary without ever reporting Unmanaged in
// between.
func TestUpdateState_ScenarioReplacedStorePath(t *testing.T) {
	prev := Root()
	prev, err := prev.Register("/etc/nixos/configuration.nix", Managed)
	require.NoError(t, err)

	next := Root()
	next, err = next.Register("/etc/nixos/configuration.nix", Managed)
	require.NoError(t, err)

	called := false
	result := next.UpdateState(prev, func(string, Status) bool {
		called = true
		return true
	})
	assert.False(t, called, "path present in both generations must not be deactivated")
	assert.Equal(t, Managed, result.Status("/etc/nixos/configuration.nix"))
}
