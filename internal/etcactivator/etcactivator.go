// Package etcactivator implements spec.md §4.3: placing the files and
// symlinks a profile's etcFiles.json declares under the etc root (/etc, or
// /run/etc in ephemeral mode), and registering everything it touches in a
// fresh PathTree. Grounded on the older src/activate/etc_files.rs revision's
// create_etc_links/create_etc_link shape, extended with the directory-merge
// special case and collision policy spec.md §4.3 adds beyond that revision.
package etcactivator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/internal/pathtree"
	"system-manager-engine/internal/profile"
	"system-manager-engine/internal/storepath"
	"system-manager-engine/pkg/logging"
)

const staticLinkName = ".system-manager-static"

// treePath converts a slash-separated path relative to the etc root (as
// carried by EtcFile.Target and the mkdirAllTracked intermediates) into the
// "/"-rooted absolute form pathtree.Tree uses internally, independent of
// where the etc root actually lives on disk.
func treePath(relTarget string) string {
	return "/" + relTarget
}

// Activate places the static environment link and every etcFiles.json entry
// under etcRoot, returning a fresh tree recording everything it touched.
// prevTree is consulted read-only, to decide the collision policy for
// entries whose destination already exists; cleanup of paths prevTree
// records that are no longer wanted is the Orchestrator's job, via
// pathtree.Tree.UpdateState on the tree this function returns.
func Activate(storePath storepath.StorePath, cfg profile.EtcFilesConfig, etcRoot string, prevTree pathtree.Tree) (pathtree.Tree, error) {
	logging.Info("EtcActivator", "activating etc entries under %s", etcRoot)

	if err := os.MkdirAll(etcRoot, 0o755); err != nil {
		return pathtree.Root(), activationerr.Partial(pathtree.Root(), activationerr.New(activationerr.FilesystemError, etcRoot, err))
	}

	tree := pathtree.Root()

	if err := installStaticLink(cfg.StaticEnv, etcRoot); err != nil {
		return tree, activationerr.Partial(tree, err)
	}
	var regErr error
	tree, regErr = tree.Register(treePath(staticLinkName), pathtree.Managed)
	if regErr != nil {
		return tree, activationerr.Partial(tree, activationerr.New(activationerr.FilesystemError, staticLinkName, regErr))
	}

	names := make([]string, 0, len(cfg.Entries))
	for name := range cfg.Entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := cfg.Entries[name]
		var err error
		tree, err = activateEntry(storePath, entry, etcRoot, prevTree, tree)
		if err != nil {
			logging.Error("EtcActivator", err, "entry %s (target %s): failed", name, entry.Target)
		}
	}

	logging.Info("EtcActivator", "done")
	return tree, nil
}

// installStaticLink creates (or idempotently reuses) the single
// .system-manager-static link at the etc root, pointing at staticEnv.
func installStaticLink(staticEnv storepath.StorePath, etcRoot string) error {
	linkPath := filepath.Join(etcRoot, staticLinkName)
	target := staticEnv.Path()

	existing, err := os.Readlink(linkPath)
	if err == nil {
		if existing == target {
			return nil
		}
		if err := os.Remove(linkPath); err != nil {
			return activationerr.New(activationerr.FilesystemError, linkPath, err)
		}
	} else if !os.IsNotExist(err) {
		return activationerr.New(activationerr.FilesystemError, linkPath, err)
	}

	if err := os.Symlink(target, linkPath); err != nil {
		return activationerr.New(activationerr.FilesystemError, linkPath, err)
	}
	return nil
}

// activateEntry installs one declared etcFiles.json entry, returning an
// updated tree. A single entry's failure is never fatal to the whole
// activation: it is logged by the caller and the remaining entries still
// run.
func activateEntry(storePath storepath.StorePath, entry profile.EtcFile, etcRoot string, prevTree, tree pathtree.Tree) (pathtree.Tree, error) {
	target := filepath.Clean(entry.Target)
	if target == "." || target == "/" || target == "" {
		return tree, activationerr.Newf(activationerr.MalformedInput, entry.Target, "empty or root target")
	}

	destPath := filepath.Join(etcRoot, target)

	if entry.IsSymlink() {
		if needsDirectoryMerge(target, destPath) {
			return activateMergedSymlinkDir(target, etcRoot, prevTree, tree)
		}
		return activateSingleSymlink(target, destPath, etcRoot, prevTree, tree)
	}

	return activateCopyEntry(storePath, entry, target, destPath, etcRoot, prevTree, tree)
}

// needsDirectoryMerge implements spec.md §4.3's directory-merge special
// case: some supervisors ignore .wants/.requires directories that are
// symlinks, so those (and any target that already exists as an unmanaged
// directory) are merged file-by-file instead of linked as a whole.
func needsDirectoryMerge(target, destPath string) bool {
	base := filepath.Base(target)
	if strings.HasSuffix(base, ".wants") || strings.HasSuffix(base, ".requires") {
		return true
	}
	info, err := os.Lstat(destPath)
	if err != nil {
		return false
	}
	return info.IsDir() && info.Mode()&os.ModeSymlink == 0
}

// relativeStaticLink returns the "(../)ⁿ .system-manager-static/target"
// link content for a symlink entry whose destination is etcRoot/target.
func relativeStaticLink(target string) string {
	depth := strings.Count(target, string(filepath.Separator))
	return strings.Repeat(".."+string(filepath.Separator), depth) + staticLinkName + string(filepath.Separator) + target
}

func activateSingleSymlink(target, destPath, etcRoot string, prevTree, tree pathtree.Tree) (pathtree.Tree, error) {
	parentDirs, err := mkdirAllTracked(filepath.Dir(destPath), etcRoot)
	if err != nil {
		return tree, err
	}
	tree = registerAll(tree, parentDirs, pathtree.Unmanaged)

	desiredLinkContent := relativeStaticLink(target)

	current, readErr := os.Readlink(destPath)
	switch {
	case readErr == nil:
		if current == desiredLinkContent {
			return tree.Register(treePath(target), pathtree.Managed)
		}
		if !prevTree.IsManaged(treePath(target)) {
			return tree, activationerr.Newf(activationerr.UnmanagedConflict, destPath, "destination exists and is not managed")
		}
		if err := os.Remove(destPath); err != nil {
			return tree, activationerr.New(activationerr.FilesystemError, destPath, err)
		}
	case os.IsNotExist(readErr):
		// nothing at destPath yet.
	default:
		if !isSymlinkTypeError(readErr) {
			return tree, activationerr.New(activationerr.FilesystemError, destPath, readErr)
		}
		// destPath exists but is not a symlink (a plain file or directory):
		// an unmanaged conflict unless this tool already owns it.
		if !prevTree.IsManaged(treePath(target)) {
			return tree, activationerr.Newf(activationerr.UnmanagedConflict, destPath, "destination exists and is not managed")
		}
		if err := os.RemoveAll(destPath); err != nil {
			return tree, activationerr.New(activationerr.FilesystemError, destPath, err)
		}
	}

	if err := os.Symlink(desiredLinkContent, destPath); err != nil {
		return tree, activationerr.New(activationerr.FilesystemError, destPath, err)
	}
	return tree.Register(treePath(target), pathtree.Managed)
}

// isSymlinkTypeError reports whether err from os.Readlink indicates the
// path exists but is not a symlink (EINVAL on Linux), as opposed to a
// genuine I/O failure.
func isSymlinkTypeError(err error) bool {
	return errors.Is(err, syscall.EINVAL)
}

// activateMergedSymlinkDir descends into the static link's copy of target
// and creates one symlink per file child, recursively, per spec.md §4.3's
// directory-merge special case.
func activateMergedSymlinkDir(target, etcRoot string, prevTree, tree pathtree.Tree) (pathtree.Tree, error) {
	sourceDir := filepath.Join(etcRoot, staticLinkName, target)
	destDir := filepath.Join(etcRoot, target)

	parentDirs, err := mkdirAllTracked(destDir, etcRoot)
	if err != nil {
		return tree, err
	}
	tree = registerAll(tree, parentDirs, pathtree.Unmanaged)

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return tree, activationerr.New(activationerr.FilesystemError, sourceDir, err)
	}

	for _, de := range entries {
		childTarget := filepath.Join(target, de.Name())
		if de.IsDir() {
			var mergeErr error
			tree, mergeErr = activateMergedSymlinkDir(childTarget, etcRoot, prevTree, tree)
			if mergeErr != nil {
				logging.Error("EtcActivator", mergeErr, "merging %s", childTarget)
			}
			continue
		}
		childDest := filepath.Join(etcRoot, childTarget)
		var linkErr error
		tree, linkErr = activateSingleSymlink(childTarget, childDest, etcRoot, prevTree, tree)
		if linkErr != nil {
			logging.Error("EtcActivator", linkErr, "linking %s", childTarget)
		}
	}
	return tree, nil
}

func activateCopyEntry(storePath storepath.StorePath, entry profile.EtcFile, target, destPath, etcRoot string, prevTree, tree pathtree.Tree) (pathtree.Tree, error) {
	parentDirs, err := mkdirAllTracked(filepath.Dir(destPath), etcRoot)
	if err != nil {
		return tree, err
	}
	tree = registerAll(tree, parentDirs, pathtree.Unmanaged)

	if info, err := os.Lstat(destPath); err == nil {
		if !prevTree.IsManaged(treePath(target)) {
			return tree, activationerr.Newf(activationerr.UnmanagedConflict, destPath, "destination exists and is not managed")
		}
		if info.IsDir() {
			return tree, activationerr.Newf(activationerr.FilesystemError, destPath, "managed destination is unexpectedly a directory")
		}
	} else if !os.IsNotExist(err) {
		return tree, activationerr.New(activationerr.FilesystemError, destPath, err)
	}

	source := profile.SourcePath(storePath, entry)
	mode, err := parseMode(entry.Mode)
	if err != nil {
		return tree, activationerr.New(activationerr.MalformedInput, entry.Mode, err)
	}

	if err := copyFile(source, destPath, mode); err != nil {
		return tree, activationerr.New(activationerr.FilesystemError, destPath, err)
	}

	return tree.Register(treePath(target), pathtree.Managed)
}

// parseMode parses an octal permission string such as "0644".
func parseMode(mode string) (fs.FileMode, error) {
	v, err := strconv.ParseUint(mode, 8, 32)
	if err != nil {
		return 0, err
	}
	return fs.FileMode(v), nil
}

func copyFile(source, dest string, mode fs.FileMode) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, mode); err != nil {
		return err
	}
	return os.Chmod(dest, mode)
}

// mkdirAllTracked creates every missing directory from just below etcRoot
// down to dir (inclusive), and returns the paths of all those components,
// whether they already existed or were just created, relative to etcRoot in
// top-down order for registration as Unmanaged intermediates, per spec.md
// §4.3.
func mkdirAllTracked(dir, etcRoot string) ([]string, error) {
	rel, err := filepath.Rel(etcRoot, dir)
	if err != nil {
		return nil, activationerr.New(activationerr.FilesystemError, dir, err)
	}
	if rel == "." {
		return nil, nil
	}

	parts := strings.Split(rel, string(filepath.Separator))
	var created []string
	current := etcRoot
	var relSoFar []string
	for _, part := range parts {
		current = filepath.Join(current, part)
		relSoFar = append(relSoFar, part)
		if _, err := os.Stat(current); os.IsNotExist(err) {
			if err := os.Mkdir(current, 0o755); err != nil {
				return created, activationerr.New(activationerr.FilesystemError, current, err)
			}
		} else if err != nil {
			return created, activationerr.New(activationerr.FilesystemError, current, err)
		}
		created = append(created, strings.Join(relSoFar, string(filepath.Separator)))
	}
	return created, nil
}

func registerAll(tree pathtree.Tree, relPaths []string, status pathtree.Status) pathtree.Tree {
	for _, p := range relPaths {
		var err error
		tree, err = tree.Register(treePath(p), status)
		if err != nil {
			logging.Warn("EtcActivator", "could not register %s: %v", p, err)
		}
	}
	return tree
}
