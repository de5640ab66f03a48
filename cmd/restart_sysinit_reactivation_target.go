package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"system-manager-engine/internal/engineconfig"
	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/internal/orchestrator"
	"system-manager-engine/internal/statelock"
)

func newRestartSysinitReactivationTargetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart-sysinit-reactivation-target",
		Short: "Daemon-reload and restart sysinit-reactivation.target",
		RunE:  runRestartSysinitReactivationTarget,
	}
}

func runRestartSysinitReactivationTarget(cmd *cobra.Command, args []string) error {
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

	stateFile := filepath.Join(engineCfg.StateDir, engineconfig.DefaultStateFileName)
	return orchestrator.New(dispatcher, stateFile).RestartSysinitReactivationTarget(ctx)
}

func init() {
	rootCmd.AddCommand(newRestartSysinitReactivationTargetCmd())
}
