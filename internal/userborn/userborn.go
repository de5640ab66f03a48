// Package userborn wraps the optional userborn accounts hook described in
// spec.md §4.4 and §6, grounded on
// crates/system-manager-engine/src/activate/users.rs and services.rs's
// restart_userborn_if_exists. userborn manages Linux user/group accounts
// declaratively; this engine only needs to lock accounts on deactivate and
// restart the service on activate so newly declared users exist before the
// tmpfiles pass needs them.
package userborn

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/cenkalti/backoff/v5"

	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/pkg/logging"
)

const (
	previousConfigPath = "/var/lib/userborn/previous-userborn.json"
	binaryName         = "userborn"
)

// emptyConfigShape is the userborn configuration shape with no declared accounts:
// {"users": [], "groups": []}.
type emptyConfigShape struct {
	Users  []struct{} `json:"users"`
	Groups []struct{} `json:"groups"`
}

// available reports whether the userborn binary is on PATH.
func available() bool {
	_, err := exec.LookPath(binaryName)
	return err == nil
}

// LockManagedUsers locks every account previously managed by userborn, by
// invoking it with an empty users/groups config. Invoked on deactivate,
// before etc-cleanup. A missing userborn binary is not an error: this hook
// is best-effort and only applies to hosts that opted into user management.
func LockManagedUsers(ctx context.Context) error {
	if !available() {
		logging.Debug("Userborn", "userborn not found in PATH, skipping user account locking")
		return nil
	}

	logging.Info("Userborn", "locking previously managed user accounts")

	configPath, cleanup, err := writeEmptyConfig()
	if err != nil {
		logging.Warn("Userborn", "could not write temporary userborn config: %v", err)
		return nil
	}
	defer cleanup()

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, runUserborn(configPath)
	}, backoff.WithMaxTries(3))
	if err != nil {
		logging.Warn("Userborn", "userborn failed to lock accounts: %v", err)
		return nil
	}

	logging.Info("Userborn", "successfully locked managed user accounts")
	return nil
}

// RestartIfExists restarts userborn.service if systemd knows about it, so
// newly declared users exist before the tmpfiles pass runs. Must be called
// after daemon-reload but before tmpfiles activation.
func RestartIfExists(ctx context.Context, dispatcher *jobdispatcher.Dispatcher) error {
	units, err := dispatcher.ListUnitsByPatterns(ctx, nil, []string{"userborn.service"})
	if err != nil {
		return err
	}
	if len(units) == 0 {
		logging.Debug("Userborn", "userborn.service not found, skipping")
		return nil
	}

	logging.Info("Userborn", "restarting userborn.service to create users before tmpfiles")
	batch := dispatcher.NewBatch()
	batch.RestartUnit(ctx, "userborn.service")
	if !batch.WaitAll(ctx) {
		logging.Warn("Userborn", "timed out waiting for userborn.service to restart")
		return nil
	}
	logging.Info("Userborn", "userborn.service completed")
	return nil
}

func writeEmptyConfig() (path string, cleanup func(), err error) {
	data, err := json.Marshal(emptyConfigShape{Users: []struct{}{}, Groups: []struct{}{}})
	if err != nil {
		return "", nil, err
	}

	tmp, err := os.CreateTemp("", "userborn-config-*.json")
	if err != nil {
		return "", nil, err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}

	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func runUserborn(configPath string) error {
	cmd := exec.Command(binaryName, configPath, "/etc")
	cmd.Env = append(os.Environ(),
		"USERBORN_MUTABLE_USERS=true",
		"USERBORN_PREVIOUS_CONFIG="+previousConfigPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &exitError{err: err, stderr: stderr.String()}
	}
	return nil
}

type exitError struct {
	err    error
	stderr string
}

func (e *exitError) Error() string {
	return "userborn: " + e.err.Error() + ": " + e.stderr
}

func (e *exitError) Unwrap() error {
	return e.err
}
