// Package pathtree implements the managed-path tree from spec.md §4.1: a
// persistent tree of '/'-rooted paths used to diff successive generations and
// drive safe cleanup of files system-manager-engine itself created.
//
// It generalizes the two-valued FileStatus from the original Rust
// implementation's FileTree (etc_tree.rs) to the three-valued PathStatus
// spec.md §3 requires (adding ManagedWithBackup), and renders the persistent
// im::HashMap-based tree as a plain, value-semantic Go tree: every mutating
// operation takes a Tree by value and returns a new Tree, with the children
// map copied at each node visited on the path of the edit so that two
// independently-held Tree handles never observe each other's writes.
package pathtree

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// Status is the tri-state ownership label of a PathTree node (spec.md §3).
type Status int

const (
	// Unmanaged nodes were not created by this tool; never touched on cleanup.
	Unmanaged Status = iota
	// Managed nodes were created by this tool; deleted on cleanup if empty/leaf.
	Managed
	// ManagedWithBackup is Managed, plus: a pre-existing file was preserved
	// elsewhere on replacement. Restore semantics are the caller's
	// responsibility; this status only needs to propagate correctly through
	// merges.
	ManagedWithBackup
)

// String renders the camelCase spelling used on the wire (spec.md §6).
func (s Status) String() string {
	switch s {
	case Managed:
		return "managed"
	case ManagedWithBackup:
		return "managedWithBackup"
	default:
		return "unmanaged"
	}
}

// ParseStatus parses the camelCase wire spelling back into a Status.
func ParseStatus(s string) Status {
	switch s {
	case "managed":
		return Managed
	case "managedWithBackup":
		return ManagedWithBackup
	default:
		return Unmanaged
	}
}

// Merge implements the commutative merge law from spec.md §3:
// ManagedWithBackup absorbs both other states; Managed absorbs Unmanaged;
// Unmanaged⊕Unmanaged=Unmanaged.
func (s Status) Merge(other Status) Status {
	if s == ManagedWithBackup || other == ManagedWithBackup {
		return ManagedWithBackup
	}
	if s == Managed || other == Managed {
		return Managed
	}
	return Unmanaged
}

// IsManaged reports whether status counts as "managed" for IsManaged queries.
func (s Status) IsManaged() bool {
	return s == Managed || s == ManagedWithBackup
}

// Tree is a node in the managed-path tree. The zero value is not a valid
// tree; use Root.
type Tree struct {
	path   string
	status Status
	nested map[string]Tree
}

// Root returns an empty root tree, rooted at "/".
func Root() Tree {
	return Tree{path: "/", status: Unmanaged, nested: map[string]Tree{}}
}

// Path returns this node's absolute path.
func (t Tree) Path() string {
	return t.path
}

// NodeStatus returns this node's own status (not a lookup by path).
func (t Tree) NodeStatus() Status {
	return t.status
}

// Children returns the names of this node's direct children, for tests and
// diagnostics that need to inspect tree shape.
func (t Tree) Children() []string {
	names := make([]string, 0, len(t.nested))
	for name := range t.nested {
		names = append(names, name)
	}
	return names
}

// Child returns the named child and whether it exists.
func (t Tree) Child(name string) (Tree, bool) {
	child, ok := t.nested[name]
	return child, ok
}

// splitPath splits an absolute path into its normal components, rejecting
// anything but the root and plain names — "." / ".." / relative paths /
// volume prefixes are all unsupported, matching spec.md §4.1's
// UnsupportedPathComponent contract.
func splitPath(path string) ([]string, error) {
	if !filepath.IsAbs(path) {
		return nil, &UnsupportedPathComponentError{Path: path, Component: path}
	}
	for _, p := range strings.Split(path, "/") {
		if p == "." || p == ".." {
			return nil, &UnsupportedPathComponentError{Path: path, Component: p}
		}
	}
	clean := filepath.Clean(path)
	if clean == "/" {
		return nil, nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, &UnsupportedPathComponentError{Path: path, Component: p}
		}
	}
	return parts, nil
}

// UnsupportedPathComponentError is returned when Register is given a path
// containing "." / ".." / empty components, per spec.md §4.1.
type UnsupportedPathComponentError struct {
	Path      string
	Component string
}

func (e *UnsupportedPathComponentError) Error() string {
	return "pathtree: unsupported path component " + e.Component + " in " + e.Path
}

// Register adds path to the tree, labeling the leaf with leafStatus and any
// newly created intermediate nodes Unmanaged. If the leaf already exists its
// status is overwritten; pre-existing intermediate nodes keep their status
// (spec.md §4.1).
func (t Tree) Register(path string, leafStatus Status) (Tree, error) {
	parts, err := splitPath(path)
	if err != nil {
		return t, err
	}
	return t.registerParts(parts, "/", leafStatus), nil
}

func (t Tree) registerParts(parts []string, pathSoFar string, leafStatus Status) Tree {
	if len(parts) == 0 {
		t.status = leafStatus
		return t
	}

	name := parts[0]
	childPath := joinPath(pathSoFar, name)
	nested := copyChildren(t.nested)

	child, existed := nested[name]
	if !existed {
		initial := Unmanaged
		if len(parts) == 1 {
			initial = leafStatus
		}
		child = Tree{path: childPath, status: initial, nested: map[string]Tree{}}
	}
	nested[name] = child.registerParts(parts[1:], childPath, leafStatus)
	t.nested = nested
	return t
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func copyChildren(m map[string]Tree) map[string]Tree {
	out := make(map[string]Tree, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Status returns the status recorded for path, or Unmanaged if path is not
// present in the tree (spec.md §4.1).
func (t Tree) Status(path string) Status {
	parts, err := splitPath(path)
	if err != nil {
		return Unmanaged
	}
	node := t
	for _, name := range parts {
		child, ok := node.nested[name]
		if !ok {
			return Unmanaged
		}
		node = child
	}
	return node.status
}

// IsManaged reports whether path's status is Managed or ManagedWithBackup.
func (t Tree) IsManaged(path string) bool {
	return t.Status(path).IsManaged()
}

// DeleteAction is called by Deactivate for every Managed leaf it visits; it
// returns true if the path was (or is already) deleted and should be pruned
// from the tree, false to keep the record (e.g. the delete failed).
type DeleteAction func(path string, status Status) bool

// Deactivate performs a post-order traversal, calling action on every
// Managed leaf (a node with no children) and pruning it if action returns
// true. After processing a node's children, if it now has no children and
// its own status is Unmanaged, it is pruned too (a pre-existing intermediate
// directory this tool never owned, per spec.md §4.1's non-spillover
// invariant). ok is false when this node itself was pruned; an Unmanaged
// root ("/") is never pruned and comes back with ok true even when it has
// no children left.
func (t Tree) Deactivate(action DeleteAction) (Tree, bool) {
	newNested := make(map[string]Tree, len(t.nested))
	for name, child := range t.nested {
		if newChild, ok := child.Deactivate(action); ok {
			newNested[name] = newChild
		}
	}
	t.nested = newNested

	if len(t.nested) == 0 {
		if t.status == Managed || t.status == ManagedWithBackup {
			if action(t.path, t.status) {
				return Tree{}, false
			}
			return t, true
		}
		// Unmanaged leaf with no children: a pre-existing empty directory,
		// or the root itself when it has no managed content left.
		if t.path == "/" {
			return t, true
		}
		return Tree{}, false
	}
	return t, true
}

// UpdateState computes the diff between this (new) tree and prev (the
// previous generation's tree), per spec.md §4.1:
//   - names present in prev but not in self are deactivated via action; any
//     subtree that refuses full deletion is kept as a record so a later run
//     can retry it.
//   - names present in both are recursively merged, folding the resulting
//     status with the merge law.
//   - names present only in self are kept unchanged.
func (t Tree) UpdateState(prev Tree, action DeleteAction) Tree {
	merged := make(map[string]Tree, len(t.nested))
	for name, child := range t.nested {
		merged[name] = child
	}

	for name, prevChild := range prev.nested {
		selfChild, inSelf := t.nested[name]
		if !inSelf {
			if deactivated, ok := prevChild.Deactivate(action); ok {
				merged[name] = deactivated
			}
			continue
		}
		newChild := selfChild.UpdateState(prevChild, action)
		newChild.status = newChild.status.Merge(prevChild.status)
		merged[name] = newChild
	}

	t.nested = merged
	return t
}

// wireNode is the exact on-disk shape from spec.md §6: camelCase status/
// path/nested fields, nested keyed by child name.
type wireNode struct {
	Status string              `json:"status"`
	Path   string              `json:"path"`
	Nested map[string]wireNode `json:"nested"`
}

func (t Tree) toWire() wireNode {
	nested := make(map[string]wireNode, len(t.nested))
	for name, child := range t.nested {
		nested[name] = child.toWire()
	}
	return wireNode{Status: t.status.String(), Path: t.path, Nested: nested}
}

func (w wireNode) toTree() Tree {
	nested := make(map[string]Tree, len(w.Nested))
	for name, child := range w.Nested {
		nested[name] = child.toTree()
	}
	return Tree{status: ParseStatus(w.Status), path: w.Path, nested: nested}
}

// MarshalJSON renders the tree using the TreeNode wire schema from spec.md §6.
func (t Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.toWire())
}

// UnmarshalJSON parses the TreeNode wire schema from spec.md §6.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = w.toTree()
	return nil
}
