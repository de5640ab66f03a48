// Package serviceactivator implements spec.md §4.4: reconciling the set of
// systemd units a profile declares against what was previously running, via
// internal/jobdispatcher. Grounded on
// crates/system-manager-engine/src/activate/services.rs's activate/deactivate
// and their systemd_system_dir/verify_systemd_dir/restore_ephemeral_system_dir
// helpers.
package serviceactivator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/internal/serviceset"
	"system-manager-engine/pkg/logging"
)

// JobWaitTimeout bounds how long Activate/Deactivate wait for systemd jobs
// to settle before giving up (spec.md §4.5's 30-second default).
var JobWaitTimeout = 30 * time.Second

const systemManagerTarget = "system-manager.target"
const sysinitReactivationTarget = "sysinit-reactivation.target"

// Activate reconciles next against prev: units present in prev but not next
// are stopped, units whose store path changed are reloaded or restarted, and
// system-manager.target is (re)started. It returns next on success. On
// failure it returns a WithPartialResult[serviceset.Set]: carrying prev if
// the ephemeral systemd directory check fails (before any job is issued),
// and carrying next if either job batch times out.
func Activate(ctx context.Context, dispatcher *jobdispatcher.Dispatcher, next, prev serviceset.Set, etcRoot string, ephemeral bool) (serviceset.Set, error) {
	if err := verifySystemdDir(etcRoot, ephemeral); err != nil {
		return prev, activationerr.Partial(prev, activationerr.New(activationerr.FilesystemError, "", err))
	}

	toStop := prev.RelativeComplement(next)
	toReload := serviceset.ReloadSet(next, prev)

	deadline, cancel := context.WithTimeout(ctx, JobWaitTimeout)
	defer cancel()

	stopBatch := dispatcher.NewBatch()
	for _, name := range toStop.Names() {
		stopBatch.StopUnit(ctx, name)
	}
	if !stopBatch.WaitAll(deadline) {
		return next, activationerr.Partial(next, activationerr.NewJobTimeout(toStop.Names()))
	}

	restartBatch := dispatcher.NewBatch()
	for _, name := range toReload.Names() {
		restartBatch.ReloadOrRestartUnit(ctx, name)
	}
	restartBatch.StartUnit(ctx, systemManagerTarget)

	deadline2, cancel2 := context.WithTimeout(ctx, JobWaitTimeout)
	defer cancel2()
	if !restartBatch.WaitAll(deadline2) {
		names := append(toReload.Names(), systemManagerTarget)
		return next, activationerr.Partial(next, activationerr.NewJobTimeout(names))
	}

	logging.Info("ServiceActivator", "done")
	return next, nil
}

// Deactivate stops every unit prev declares plus system-manager.target, then
// daemon-reloads. Once the stop jobs are issued it returns an empty set, even
// if a job timed out or the daemon-reload failed: per spec.md §4.4 the caller
// must then consider everything un-deployed. If the ephemeral systemd
// directory cannot be repaired first, no job is issued and prev is returned
// as the partial result.
func Deactivate(ctx context.Context, dispatcher *jobdispatcher.Dispatcher, prev serviceset.Set, etcRoot string, ephemeral bool) (serviceset.Set, error) {
	if err := restoreEphemeralSystemDir(ephemeral); err != nil {
		return prev, activationerr.Partial(prev, activationerr.New(activationerr.FilesystemError, "", err))
	}

	empty := serviceset.Set{}

	if len(prev) == 0 {
		logging.Info("ServiceActivator", "no services to deactivate")
	}

	deadline, cancel := context.WithTimeout(ctx, JobWaitTimeout)
	defer cancel()

	batch := dispatcher.NewBatch()
	for _, name := range prev.Names() {
		batch.StopUnit(ctx, name)
	}
	batch.StopUnit(ctx, systemManagerTarget)

	if !batch.WaitAll(deadline) {
		logging.Warn("ServiceActivator", "timed out waiting for services to stop, considering them stopped anyway")
	}

	if err := dispatcher.DaemonReload(ctx); err != nil {
		return empty, activationerr.Partial(empty, err)
	}

	logging.Info("ServiceActivator", "done")
	return empty, nil
}

// RestartSysinitReactivationTarget daemon-reloads and restarts
// sysinit-reactivation.target, the hook systemd-sysusers-flavored units use
// to pick up newly-activated generators (spec.md §4.4's supplemented
// restart-sysinit-reactivation-target operation).
func RestartSysinitReactivationTarget(ctx context.Context, dispatcher *jobdispatcher.Dispatcher) error {
	logging.Info("ServiceActivator", "reloading the systemd daemon...")
	if err := dispatcher.DaemonReload(ctx); err != nil {
		return err
	}

	deadline, cancel := context.WithTimeout(ctx, JobWaitTimeout)
	defer cancel()

	batch := dispatcher.NewBatch()
	batch.RestartUnit(ctx, sysinitReactivationTarget)
	if !batch.WaitAll(deadline) {
		return activationerr.NewJobTimeout([]string{sysinitReactivationTarget})
	}
	return nil
}

// systemdSystemDir returns where systemd expects to find unit files: under
// /run in ephemeral mode (since /etc itself is unwritable there), or /etc
// otherwise.
func systemdSystemDir(ephemeral bool) string {
	if ephemeral {
		return filepath.Join("/run", "systemd", "system")
	}
	return filepath.Join("/etc", "systemd", "system")
}

// verifySystemdDir ensures, in ephemeral mode, that /run/systemd/system is a
// symlink into the ephemeral etc root's systemd/system directory — systemd
// itself always reads /etc/systemd/system (or, when PID 1 runs with
// RuntimeDirectory semantics, /run/systemd/system), so without this link it
// would never see units placed under the ephemeral etc root.
func verifySystemdDir(etcRoot string, ephemeral bool) error {
	if !ephemeral {
		return nil
	}
	target := filepath.Join(etcRoot, "systemd", "system")
	return verifySystemdDirAt(systemdSystemDir(true), target)
}

// verifySystemdDirAt holds the pure placement logic, parameterized so tests
// can exercise it against a temp directory instead of the real /run tree.
func verifySystemdDirAt(systemDir, target string) error {
	info, err := os.Lstat(systemDir)
	if err == nil {
		if info.Mode()&os.ModeSymlink == 0 && info.IsDir() {
			entries, readErr := os.ReadDir(systemDir)
			if readErr != nil {
				return readErr
			}
			if len(entries) > 0 {
				return activationerr.Newf(activationerr.FilesystemError, systemDir, "directory exists and is not empty, cannot symlink it")
			}
			if err := os.Remove(systemDir); err != nil {
				return err
			}
		} else {
			if err := os.Remove(systemDir); err != nil {
				return err
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(systemDir), 0o755); err != nil {
		return err
	}
	return os.Symlink(target, systemDir)
}

// restoreEphemeralSystemDir repairs /run/systemd/system if it ended up
// neither present nor a working symlink, since a broken symlink here crashes
// systemd. Must run after etc cleanup, per the original implementation's
// comment on restore_ephemeral_system_dir.
func restoreEphemeralSystemDir(ephemeral bool) error {
	if !ephemeral {
		return nil
	}
	return restoreEphemeralSystemDirAt(systemdSystemDir(true))
}

func restoreEphemeralSystemDirAt(systemDir string) error {
	if _, err := os.Stat(systemDir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if info, err := os.Lstat(systemDir); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(systemDir); err != nil {
			return err
		}
	}
	return os.MkdirAll(systemDir, 0o755)
}
