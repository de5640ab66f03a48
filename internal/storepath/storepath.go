// Package storepath implements the StorePath value from spec.md §3: an
// absolute filesystem path whose canonical form lies under a known
// content-addressed store prefix (e.g. /nix/store/...).
package storepath

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
)

// DefaultPrefix is the store prefix used when none is configured. It matches
// the original implementation's hard-coded /nix/store.
const DefaultPrefix = "/nix/store"

// CurrentPrefix is the store prefix used by UnmarshalJSON, the one call site
// that cannot take an explicit prefix parameter (it is driven by
// encoding/json). The engine itself leaves it at DefaultPrefix; tests may
// override it for the duration of a single test via t.Cleanup.
var CurrentPrefix = DefaultPrefix

// ErrInvalidStorePath is returned (wrapped) when a path does not canonicalize
// under the configured store prefix. Corresponds to spec.md §7's
// InvalidStorePath error kind.
var ErrInvalidStorePath = errors.New("invalid store path")

// StorePath is an absolute path rooted under a content-addressed store.
type StorePath struct {
	path string
}

// New validates and constructs a StorePath from a string. The path is
// canonicalized (symlinks resolved) and checked against prefix; pass "" to
// use DefaultPrefix. Symlinks pointing into the store resolve successfully,
// matching the "symlinks into the store are resolved" clause in spec.md §3.
func New(path, prefix string) (StorePath, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if path == "" {
		return StorePath{}, fmt.Errorf("%w: empty path", ErrInvalidStorePath)
	}

	resolved, err := resolve(path)
	if err != nil {
		return StorePath{}, fmt.Errorf("%w: %s: %v", ErrInvalidStorePath, path, err)
	}

	rel, err := filepath.Rel(prefix, resolved)
	if err != nil || rel == ".." || len(rel) >= 3 && rel[:3] == "../" {
		return StorePath{}, fmt.Errorf("%w: %s is not under %s", ErrInvalidStorePath, path, prefix)
	}
	if !hasPrefixDir(resolved, prefix) {
		return StorePath{}, fmt.Errorf("%w: %s is not under %s", ErrInvalidStorePath, path, prefix)
	}

	return StorePath{path: resolved}, nil
}

// MustNew is a test/config-bootstrap helper that panics on invalid input.
func MustNew(path, prefix string) StorePath {
	sp, err := New(path, prefix)
	if err != nil {
		panic(err)
	}
	return sp
}

func hasPrefixDir(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	path = filepath.Clean(path)
	if path == prefix {
		return true
	}
	return len(path) > len(prefix) && path[:len(prefix)] == prefix && path[len(prefix)] == filepath.Separator
}

// resolve canonicalizes path with filepath.EvalSymlinks. When that fails
// (the path or one of its ancestors does not exist), it returns the cleaned
// absolute path with no symlinks resolved.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The path (or one of its ancestors) may not exist yet on disk in
		// tests or dry-run contexts; fall back to the cleaned absolute path
		// rather than failing construction outright.
		return filepath.Clean(abs), nil
	}
	return resolved, nil
}

// Path returns the underlying absolute filesystem path.
func (s StorePath) Path() string {
	return s.path
}

// String implements fmt.Stringer.
func (s StorePath) String() string {
	return s.path
}

// IsZero reports whether s is the zero value (never validated).
func (s StorePath) IsZero() bool {
	return s.path == ""
}

// Join joins additional path elements onto the store path.
func (s StorePath) Join(elem ...string) string {
	return filepath.Join(append([]string{s.path}, elem...)...)
}

// MarshalJSON renders the StorePath as a plain JSON string, matching the
// on-the-wire representation used by etcFiles.json/services.json (spec.md §3).
func (s StorePath) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.path)
}

// UnmarshalJSON parses a plain JSON string into a StorePath, validating it
// against CurrentPrefix. Profile inputs are trusted content, but we still
// enforce the store-path invariant so a malformed profile fails fast with
// InvalidStorePath rather than corrupting the managed-path tree.
func (s *StorePath) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("storepath: %w", err)
	}
	sp, err := New(raw, CurrentPrefix)
	if err != nil {
		return err
	}
	*s = sp
	return nil
}
