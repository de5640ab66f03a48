package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"system-manager-engine/internal/jobdispatcher"
	engstrings "system-manager-engine/pkg/strings"
)

var listUnitsPatterns []string

func newListUnitsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-units",
		Short: "List systemd units, optionally filtered by glob pattern",
		RunE:  runListUnits,
	}
	cmd.Flags().StringArrayVar(&listUnitsPatterns, "pattern", nil, "repeatable glob pattern, e.g. --pattern 'system-manager-*'")
	return cmd
}

func runListUnits(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dispatcher, err := jobdispatcher.New(ctx, engineCfg.DbusTimeout)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	units, err := dispatcher.ListUnitsByPatterns(ctx, nil, listUnitsPatterns)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Unit", "Load", "Active", "Sub", "Description"})
	for _, u := range units {
		description := engstrings.TruncateDescription(u.Description, engstrings.DefaultDescriptionMaxLen)
		t.AppendRow(table.Row{u.Name, u.LoadState, u.ActiveState, u.SubState, description})
	}
	t.Render()
	return nil
}

func init() {
	rootCmd.AddCommand(newListUnitsCmd())
}
