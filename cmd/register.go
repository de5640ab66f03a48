package cmd

import (
	"github.com/spf13/cobra"

	"system-manager-engine/internal/nixprofile"
	"system-manager-engine/internal/storepath"
)

var registerStorePath string

func newRegisterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Install a store path as the current Nix profile generation and GC root",
		RunE:  runRegister,
	}
	cmd.Flags().StringVar(&registerStorePath, "store-path", "", "content-addressed store path to register (required)")
	cmd.MarkFlagRequired("store-path")
	return cmd
}

func runRegister(cmd *cobra.Command, args []string) error {
	sp, err := storepath.New(registerStorePath, storepath.CurrentPrefix)
	if err != nil {
		return err
	}

	opts, err := nixOptions()
	if err != nil {
		return err
	}

	nixOpts := make([]nixprofile.Option, len(opts))
	for i, o := range opts {
		nixOpts[i] = nixprofile.Option{Key: o.Key, Value: o.Value}
	}

	return nixprofile.Register(cmd.Context(), sp, nixOpts)
}

func init() {
	rootCmd.AddCommand(newRegisterCmd())
}
