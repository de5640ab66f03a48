package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"system-manager-engine/internal/engineconfig"
	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/internal/orchestrator"
	"system-manager-engine/internal/serviceactivator"
	"system-manager-engine/internal/statelock"
)

var deactivateEphemeral bool

func newDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Tear down everything the current state record describes",
		RunE:  runDeactivate,
	}
	// spec.md's literal CLI line lists deactivate as taking only an optional
	// --store-path (unused by the transaction itself, since everything it
	// needs comes from the persisted record); --ephemeral is a necessary
	// addition here, since the state file schema carries no such flag and
	// this is the only way to tell deactivate which etc root to clean up.
	// It must match whatever activate/prepopulate last used.
	cmd.Flags().BoolVar(&deactivateEphemeral, "ephemeral", false, "clean up /run/etc instead of /etc (must match the last activate/prepopulate call)")
	return cmd
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	unlock, err := statelock.Lock(engineCfg.StateDir)
	if err != nil {
		return err
	}
	defer unlock()

	ctx := cmd.Context()
	dispatcher, err := jobdispatcher.New(ctx, engineCfg.DbusTimeout)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	serviceactivator.JobWaitTimeout = engineCfg.JobWaitTimeout

	stateFile := filepath.Join(engineCfg.StateDir, engineconfig.DefaultStateFileName)
	return orchestrator.New(dispatcher, stateFile).Deactivate(ctx, deactivateEphemeral)
}

func init() {
	rootCmd.AddCommand(newDeactivateCmd())
}
