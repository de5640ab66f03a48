package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"system-manager-engine/internal/engineconfig"
	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/internal/orchestrator"
	"system-manager-engine/internal/serviceactivator"
	"system-manager-engine/internal/statelock"
	"system-manager-engine/internal/storepath"
)

var (
	activateStorePath string
	activateEphemeral bool
)

func newActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a profile: place etc files, reconcile systemd units",
		RunE:  runActivate,
	}
	cmd.Flags().StringVar(&activateStorePath, "store-path", "", "content-addressed store path to activate (required)")
	cmd.Flags().BoolVar(&activateEphemeral, "ephemeral", false, "materialize etc content under /run/etc instead of /etc")
	cmd.MarkFlagRequired("store-path")
	return cmd
}

func runActivate(cmd *cobra.Command, args []string) error {
	unlock, err := statelock.Lock(engineCfg.StateDir)
	if err != nil {
		return err
	}
	defer unlock()

	sp, err := storepath.New(activateStorePath, storepath.CurrentPrefix)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	dispatcher, err := jobdispatcher.New(ctx, engineCfg.DbusTimeout)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	serviceactivator.JobWaitTimeout = engineCfg.JobWaitTimeout

	stateFile := filepath.Join(engineCfg.StateDir, engineconfig.DefaultStateFileName)
	return orchestrator.New(dispatcher, stateFile).Activate(ctx, sp, activateEphemeral)
}

func init() {
	rootCmd.AddCommand(newActivateCmd())
}
