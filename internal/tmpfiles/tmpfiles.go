// Package tmpfiles wraps the systemd-tmpfiles external tool contract named
// in spec.md §6: "systemd-tmpfiles --create --remove", invoked during
// service activation after the userborn restart so newly declared users
// already exist. A non-zero exit is logged and the run continues — per
// spec.md §7 it is one of the "other external tools" that log and continue
// rather than abort.
package tmpfiles

import (
	"bytes"
	"context"
	"os/exec"

	"system-manager-engine/pkg/logging"
)

const binaryName = "systemd-tmpfiles"

// Run invokes `systemd-tmpfiles --create --remove`. Failure is logged, not
// returned as a fatal error, matching spec.md §6's contract for this tool.
func Run(ctx context.Context) {
	cmd := exec.CommandContext(ctx, binaryName, "--create", "--remove")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logging.Info("Tmpfiles", "running systemd-tmpfiles --create --remove")
	if err := cmd.Run(); err != nil {
		logging.Warn("Tmpfiles", "systemd-tmpfiles failed: %v: %s", err, stderr.String())
		return
	}
	logging.Debug("Tmpfiles", "systemd-tmpfiles completed")
}
