package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"system-manager-engine/internal/engineconfig"
	"system-manager-engine/internal/jobdispatcher"
	"system-manager-engine/internal/orchestrator"
	"system-manager-engine/internal/statelock"
	"system-manager-engine/internal/storepath"
)

var (
	prepopulateStorePath string
	prepopulateEphemeral bool
)

func newPrepopulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepopulate",
		Short: "Place etc files for a profile without touching systemd units",
		RunE:  runPrepopulate,
	}
	cmd.Flags().StringVar(&prepopulateStorePath, "store-path", "", "content-addressed store path to prepopulate (required)")
	cmd.Flags().BoolVar(&prepopulateEphemeral, "ephemeral", false, "materialize etc content under /run/etc instead of /etc")
	cmd.MarkFlagRequired("store-path")
	return cmd
}

func runPrepopulate(cmd *cobra.Command, args []string) error {
	unlock, err := statelock.Lock(engineCfg.StateDir)
	if err != nil {
		return err
	}
	defer unlock()

	sp, err := storepath.New(prepopulateStorePath, storepath.CurrentPrefix)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	dispatcher, err := jobdispatcher.New(ctx, engineCfg.DbusTimeout)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	stateFile := filepath.Join(engineCfg.StateDir, engineconfig.DefaultStateFileName)
	return orchestrator.New(dispatcher, stateFile).Prepopulate(ctx, sp, prepopulateEphemeral)
}

func init() {
	rootCmd.AddCommand(newPrepopulateCmd())
}
