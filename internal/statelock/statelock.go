// Package statelock provides the advisory lock over the state directory that
// spec.md §5 recommends callers take out before mutating state. The CLI
// acquires it at the start of each state-mutating subcommand's RunE, so the
// recommendation is actually enforced at the one boundary this repo owns
// (the engine binary) rather than left purely to an external wrapper.
package statelock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"system-manager-engine/pkg/logging"
)

const lockFileName = ".lock"

// Lock acquires an exclusive, non-blocking flock(2) lock on a ".lock" file
// inside stateDir, creating stateDir if necessary. It returns an Unlock
// function that releases the lock and stops the background watcher; the
// caller should invoke it exactly once, typically via defer.
//
// While the lock is held, a best-effort fsnotify watch on stateDir logs a
// warning (never an abort) for every write, create or remove event on any
// file in stateDir other than the lock file. It does not tell this process's
// own temp-file write and rename apart from another writer's, so a normal
// state save also produces these warnings. It is a diagnostic, not an
// enforcement mechanism.
func Lock(stateDir string) (unlock func() error, err error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("statelock: creating state dir %s: %w", stateDir, err)
	}

	lockPath := filepath.Join(stateDir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("statelock: opening %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("statelock: state directory %s is locked by another invocation: %w", stateDir, err)
	}

	stopWatch := watchForForeignWrites(stateDir)

	return func() error {
		stopWatch()
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
			f.Close()
			return fmt.Errorf("statelock: unlocking %s: %w", lockPath, err)
		}
		return f.Close()
	}, nil
}

// watchForForeignWrites starts a best-effort fsnotify watcher on stateDir
// and returns a function to stop it. Watcher setup failures are logged and
// treated as a no-op stop, since this is diagnostic only and must never
// block lock acquisition.
func watchForForeignWrites(stateDir string) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("StateLock", "could not start state directory watcher: %v", err)
		return func() {}
	}
	if err := watcher.Add(stateDir); err != nil {
		logging.Warn("StateLock", "could not watch state directory %s: %v", stateDir, err)
		watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) == lockFileName {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) != 0 {
					logging.Warn("StateLock", "state directory %s changed externally while locked: %s", stateDir, event.Name)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("StateLock", "state directory watcher error: %v", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}
}
