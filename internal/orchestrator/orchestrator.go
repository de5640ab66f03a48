// Package orchestrator implements spec.md §4.6: the activate/prepopulate/
// deactivate transactions that sequence EtcActivator and ServiceActivator
// and persist the resulting (PathTree, ServiceSet) record even on partial
// failure. Grounded on main.rs's activate/deactivate/prepopulate dispatch
// and services.rs's stage ordering (etc before services, restore-ephemeral
// after etc cleanup).
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/internal/etcactivator"
	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/internal/pathtree"
	"system-manager-engine/internal/preactivation"
	"system-manager-engine/internal/profile"
	"system-manager-engine/internal/serviceactivator"
	"system-manager-engine/internal/serviceset"
	"system-manager-engine/internal/statestore"
	"system-manager-engine/internal/storepath"
	"system-manager-engine/internal/tmpfiles"
	"system-manager-engine/internal/userborn"
	"system-manager-engine/pkg/logging"
)

// Orchestrator sequences one activation/deactivation transaction. It owns
// the JobDispatcher for its lifetime and the path to the persisted state
// record; the caller is responsible for the advisory lock (internal/statelock)
// around each operation, per spec.md §5.
type Orchestrator struct {
	Dispatcher    *jobdispatcher.Dispatcher
	StateFilePath string
}

// New constructs an Orchestrator bound to a dispatcher and state file.
func New(dispatcher *jobdispatcher.Dispatcher, stateFilePath string) *Orchestrator {
	return &Orchestrator{Dispatcher: dispatcher, StateFilePath: stateFilePath}
}

// etcRoot returns where managed /etc content is materialized: /run/etc in
// ephemeral mode (the real /etc stays untouched, e.g. for live ISOs), /etc
// otherwise.
func etcRoot(ephemeral bool) string {
	if ephemeral {
		return "/run/etc"
	}
	return "/etc"
}

// Activate reconciles the host against storePath: etc placement, then
// daemon-reload, the userborn and tmpfiles hooks, then service
// reconciliation. Every stage's failure persists the best-effort record
// built so far and returns a classified error; the next Activate or
// Deactivate run picks up from exactly that record.
func (o *Orchestrator) Activate(ctx context.Context, storePath storepath.StorePath, ephemeral bool) error {
	txID := uuid.NewString()
	logging.Info("Orchestrator", "[%s] activate %s (ephemeral=%v)", txID, storePath, ephemeral)

	prev := statestore.Load(o.StateFilePath)
	root := etcRoot(ephemeral)

	if err := preactivation.Run(ctx, storePath.Path()); err != nil {
		logging.Error("Orchestrator", err, "[%s] pre-activation assertions failed, aborting before any mutation", txID)
		return err
	}

	etcFiles, err := profile.LoadEtcFiles(storePath)
	if err != nil {
		logging.Error("Orchestrator", err, "[%s] could not read etcFiles.json", txID)
		return err
	}

	newTree, etcErr := etcactivator.Activate(storePath, etcFiles, root, prev.FileTree)
	cleanedTree := newTree.UpdateState(prev.FileTree, tryDelete(root))
	if etcErr != nil {
		o.persist(txID, statestore.Record{FileTree: cleanedTree, Services: prev.Services})
		return unwrapPartial(etcErr)
	}

	services, err := profile.LoadServices(storePath)
	if err != nil {
		o.persist(txID, statestore.Record{FileTree: cleanedTree, Services: prev.Services})
		return err
	}

	if err := o.Dispatcher.DaemonReload(ctx); err != nil {
		o.persist(txID, statestore.Record{FileTree: cleanedTree, Services: prev.Services})
		return err
	}

	if err := userborn.RestartIfExists(ctx, o.Dispatcher); err != nil {
		logging.Warn("Orchestrator", "[%s] userborn restart hook failed: %v", txID, err)
	}
	tmpfiles.Run(ctx)

	nextServices, svcErr := serviceactivator.Activate(ctx, o.Dispatcher, services, prev.Services, root, ephemeral)
	o.persist(txID, statestore.Record{FileTree: cleanedTree, Services: nextServices})
	if svcErr != nil {
		return unwrapPartial(svcErr)
	}

	logging.Info("Orchestrator", "[%s] activate done", txID)
	return nil
}

// Prepopulate runs only the etc-activation stage, and reads (without acting
// on) the service set so a later Activate sees the correct "previous"
// service configuration, per spec.md §4.6.
func (o *Orchestrator) Prepopulate(ctx context.Context, storePath storepath.StorePath, ephemeral bool) error {
	txID := uuid.NewString()
	logging.Info("Orchestrator", "[%s] prepopulate %s (ephemeral=%v)", txID, storePath, ephemeral)

	prev := statestore.Load(o.StateFilePath)
	root := etcRoot(ephemeral)

	if err := preactivation.Run(ctx, storePath.Path()); err != nil {
		logging.Error("Orchestrator", err, "[%s] pre-activation assertions failed, aborting before any mutation", txID)
		return err
	}

	etcFiles, err := profile.LoadEtcFiles(storePath)
	if err != nil {
		logging.Error("Orchestrator", err, "[%s] could not read etcFiles.json", txID)
		return err
	}

	newTree, etcErr := etcactivator.Activate(storePath, etcFiles, root, prev.FileTree)
	cleanedTree := newTree.UpdateState(prev.FileTree, tryDelete(root))

	services, svcErr := profile.LoadServices(storePath)
	if svcErr != nil {
		logging.Warn("Orchestrator", "[%s] could not read services.json during prepopulate, keeping previous service record: %v", txID, svcErr)
		services = prev.Services
	}

	o.persist(txID, statestore.Record{FileTree: cleanedTree, Services: services})
	if etcErr != nil {
		return unwrapPartial(etcErr)
	}

	logging.Info("Orchestrator", "[%s] prepopulate done", txID)
	return nil
}

// Deactivate tears down everything the persisted record describes: user
// accounts are locked first, then etc content is fully cleaned up, then
// services are stopped and the ephemeral systemd directory is repaired if
// needed. ephemeral must match whatever Activate/Prepopulate last used,
// since the state file schema (spec.md §6) does not itself record it.
func (o *Orchestrator) Deactivate(ctx context.Context, ephemeral bool) error {
	txID := uuid.NewString()
	logging.Info("Orchestrator", "[%s] deactivate (ephemeral=%v)", txID, ephemeral)

	prev := statestore.Load(o.StateFilePath)
	root := etcRoot(ephemeral)

	if err := userborn.LockManagedUsers(ctx); err != nil {
		logging.Warn("Orchestrator", "[%s] userborn account-locking hook failed: %v", txID, err)
	}

	cleanedTree := pathtree.Root().UpdateState(prev.FileTree, tryDelete(root))

	emptyServices, svcErr := serviceactivator.Deactivate(ctx, o.Dispatcher, prev.Services, root, ephemeral)
	o.persist(txID, statestore.Record{FileTree: cleanedTree, Services: emptyServices})
	if svcErr != nil {
		return unwrapPartial(svcErr)
	}

	logging.Info("Orchestrator", "[%s] deactivate done", txID)
	return nil
}

// RestartSysinitReactivationTarget is the auxiliary operation named in
// spec.md §4.6, supplemented from services.rs's
// restart_sysinit_reactivation_target.
func (o *Orchestrator) RestartSysinitReactivationTarget(ctx context.Context) error {
	return serviceactivator.RestartSysinitReactivationTarget(ctx, o.Dispatcher)
}

func (o *Orchestrator) persist(txID string, record statestore.Record) {
	if err := statestore.Save(o.StateFilePath, record); err != nil {
		logging.Error("Orchestrator", err, "[%s] failed to persist state, the next run may repeat work", txID)
	}
}

// unwrapPartial strips a WithPartialResult's outer wrapper for the error
// returned to the caller, since its partial value has already been
// persisted; callers of Activate/Deactivate/Prepopulate only need the
// classified cause for exit-code mapping.
func unwrapPartial(err error) error {
	var classified *activationerr.Error
	if errors.As(err, &classified) {
		return classified
	}
	return err
}

// tryDelete returns a pathtree.DeleteAction that removes the real
// filesystem entry for a virtual "/"-rooted tree path under root. Symlinks
// and regular files are unlinked; directories are removed only if empty,
// since a managed directory that still holds content cannot be this tool's
// to delete outright (spec.md §4.1's non-spillover invariant) — grounded on
// etc_files.rs's remove_created_file, simplified because pathtree already
// performs the post-order recursion.
func tryDelete(root string) pathtree.DeleteAction {
	return func(virtualPath string, status pathtree.Status) bool {
		real := filepath.Join(root, strings.TrimPrefix(virtualPath, "/"))

		info, err := os.Lstat(real)
		if err != nil {
			return os.IsNotExist(err)
		}

		if info.Mode()&os.ModeSymlink != 0 || !info.IsDir() {
			if err := os.Remove(real); err != nil {
				logging.Warn("Orchestrator", "could not remove %s: %v", real, err)
				return false
			}
			return true
		}

		if err := os.Remove(real); err != nil {
			if status == pathtree.ManagedWithBackup {
				logging.Warn("Orchestrator", "managed directory %s is not empty, keeping it for a later run", real)
			}
			return false
		}
		return true
	}
}
