// Package nixprofile wraps the Nix profile boundary named in spec.md §6's
// register subcommand: installing a store path as a new generation of the
// system-manager Nix profile, and pinning it with a GC root. Grounded on
// register.rs's register/install_nix_profile/create_gcroot — this package
// deliberately stops there: flake resolution (register.rs's build/
// find_flake_attr) needs a Nix evaluator, not a systemd/etc reconciler, and
// is out of scope per spec.md's supplemented-features note.
package nixprofile

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/internal/storepath"
	"system-manager-engine/pkg/logging"
)

const (
	// ProfileDir holds the system-manager Nix profile's generations.
	ProfileDir = "/nix/var/nix/profiles/system-manager"
	// ProfileName is the profile file nix-env manages under ProfileDir.
	ProfileName = "system-profile"
	// GCRootPath is the symlink pinning the active generation against the
	// Nix garbage collector.
	GCRootPath = "/nix/var/nix/gcroots/system-manager-current"
)

// Option is one --option key/value pair forwarded to nix-env, matching
// spec.md §6's --nix-option flag.
type Option struct {
	Key   string
	Value string
}

// Register installs storePath as the new generation of the system-manager
// Nix profile via nix-env --profile ... --set, then repoints the GC root
// symlink at the resulting profile generation's resolved store path.
func Register(ctx context.Context, storePath storepath.StorePath, options []Option) error {
	logging.Info("NixProfile", "creating new generation from %s", storePath)

	if err := os.MkdirAll(ProfileDir, 0o755); err != nil {
		return activationerr.New(activationerr.FilesystemError, ProfileDir, err)
	}

	profilePath := filepath.Join(ProfileDir, ProfileName)
	if err := installProfile(ctx, storePath, profilePath, options); err != nil {
		return err
	}

	logging.Info("NixProfile", "registering GC root...")
	if err := createGCRoot(GCRootPath, profilePath); err != nil {
		return err
	}

	logging.Info("NixProfile", "done")
	return nil
}

func installProfile(ctx context.Context, storePath storepath.StorePath, profilePath string, options []Option) error {
	args := []string{"--profile", profilePath, "--set", storePath.Path()}
	for _, opt := range options {
		args = append(args, "--option", opt.Key, opt.Value)
	}

	cmd := exec.CommandContext(ctx, "nix-env", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return activationerr.New(activationerr.ExternalToolFailure, "nix-env", err)
	}
	return nil
}

// createGCRoot resolves profilePath (a symlink nix-env maintains) to its
// underlying store path and makes gcrootPath a symlink to that resolved
// path, the same indirection create_store_link uses so the GC root survives
// the profile symlink itself being repointed by a later generation.
func createGCRoot(gcrootPath, profilePath string) error {
	resolved, err := filepath.EvalSymlinks(profilePath)
	if err != nil {
		return activationerr.New(activationerr.FilesystemError, profilePath, err)
	}

	if err := os.MkdirAll(filepath.Dir(gcrootPath), 0o755); err != nil {
		return activationerr.New(activationerr.FilesystemError, gcrootPath, err)
	}

	if _, err := os.Lstat(gcrootPath); err == nil {
		if err := os.Remove(gcrootPath); err != nil {
			return activationerr.New(activationerr.FilesystemError, gcrootPath, err)
		}
	} else if !os.IsNotExist(err) {
		return activationerr.New(activationerr.FilesystemError, gcrootPath, err)
	}

	if err := os.Symlink(resolved, gcrootPath); err != nil {
		return activationerr.New(activationerr.FilesystemError, gcrootPath, err)
	}
	return nil
}
