// Package preactivation wraps the mandatory pre-activation assertion hook
// named in spec.md §6/§9 and supplemented from the original implementation's
// main.rs: before any mutation, activate and prepopulate run
// <profile>/bin/preActivationAssertions if present. Unlike tmpfiles or
// userborn, a non-zero exit here is fatal (ExternalToolFailure) — this
// binary exists specifically to veto activation before anything changes.
package preactivation

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/pkg/logging"
)

const relPath = "bin/preActivationAssertions"

// Run executes <storePath>/bin/preActivationAssertions if it exists. A
// missing binary is not an error — the hook is optional per profile. A
// non-zero exit returns ExternalToolFailure; the caller must abort before
// any mutation.
func Run(ctx context.Context, storePath string) error {
	path := filepath.Join(storePath, relPath)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logging.Debug("PreActivation", "no preActivationAssertions binary at %s, skipping", path)
			return nil
		}
		return activationerr.New(activationerr.FilesystemError, path, err)
	}

	logging.Info("PreActivation", "running pre-activation assertions")
	cmd := exec.CommandContext(ctx, path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return activationerr.New(activationerr.ExternalToolFailure, path, errWithStderr(err, stderr.String()))
	}
	logging.Debug("PreActivation", "pre-activation assertions passed")
	return nil
}

type exitError struct {
	err    error
	stderr string
}

func (e *exitError) Error() string {
	return e.err.Error() + ": " + e.stderr
}

func (e *exitError) Unwrap() error {
	return e.err
}

func errWithStderr(err error, stderr string) error {
	if stderr == "" {
		return err
	}
	return &exitError{err: err, stderr: stderr}
}
