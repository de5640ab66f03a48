package cmd

import (
	"errors"
	"os"
	"strings"

	"system-manager-engine/internal/activationerr"
	"system-manager-engine/internal/engineconfig"
	"system-manager-engine/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands, following spec.md §6: "0 on success, 1 on any
// error; errors are logged to stderr."
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
)

// NixOption is one --nix-option K V pair collected from the command line.
type NixOption struct {
	Key   string
	Value string
}

var (
	cfgFile       string
	logLevelFlag  string
	stateDirFlag  string
	nixOptionArgs []string

	// engineCfg is the fully layered configuration, resolved once in
	// PersistentPreRunE and read by every subcommand.
	engineCfg engineconfig.Config
)

// rootCmd is the entry point when system-manager-engine is invoked without
// a recognized subcommand reaching Run.
var rootCmd = &cobra.Command{
	Use:   "system-manager-engine",
	Short: "Reconcile a host's /etc and systemd units against a declarative profile",
	Long: `system-manager-engine activates and deactivates a declarative system
profile: it reconciles managed files under /etc (or /run/etc in ephemeral
mode) and the systemd units they describe against the profile named by a
content-addressed store path.`,
	SilenceUsage:      true,
	PersistentPreRunE: persistentPreRun,
}

// persistentPreRun loads the layered configuration (flags > env > file >
// built-in default) and initializes the CLI logger before any subcommand
// runs.
func persistentPreRun(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = engineconfig.DefaultConfigPath
	}

	cfg, err := engineconfig.Load(path)
	if err != nil {
		return err
	}
	if stateDirFlag != "" {
		cfg.StateDir = stateDirFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	engineCfg = cfg

	logging.InitForCLI(logging.ParseLevel(cfg.LogLevel), os.Stderr)
	return nil
}

// nixOptions parses the repeated --nix-option flag into key/value pairs.
// spec.md §6 describes this as a two-token flag ("--nix-option K V"); pflag
// has no multi-token single-flag form, so this renders it the way Go CLIs
// idiomatically spell repeatable key/value options (kubectl --set,
// docker -e): --nix-option key=value, repeatable.
func nixOptions() ([]NixOption, error) {
	opts := make([]NixOption, 0, len(nixOptionArgs))
	for _, raw := range nixOptionArgs {
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, activationerr.Newf(activationerr.MalformedInput, "", "--nix-option expects key=value, got %q", raw)
		}
		opts = append(opts, NixOption{Key: key, Value: value})
	}
	return opts, nil
}

// SetVersion sets the version for the root command. Called from main at
// build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the CLI entry point called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "system-manager-engine version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps a classified activationerr.Error onto the process exit
// code. Per spec.md §6 every error kind maps to the same exit status (1);
// the classification still drives what gets logged, and the mapping stays
// here (rather than collapsing to a bare os.Exit(1)) so a future kind that
// warrants a distinct status has one place to add it.
func getExitCode(err error) int {
	var classified *activationerr.Error
	if errors.As(err, &classified) {
		logging.Error("CLI", err, "%s", classified.Kind)
		return ExitCodeError
	}

	logging.Error("CLI", err, "command failed")
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.yaml (default /etc/system-manager-engine/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error (overrides config/env)")
	rootCmd.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "override the state directory (default /var/lib/system-manager/state)")
	rootCmd.PersistentFlags().StringArrayVar(&nixOptionArgs, "nix-option", nil, "repeatable key=value pair, e.g. --nix-option substituters=https://cache.example")

	rootCmd.AddCommand(newVersionCmd())
}
