// Package cli defines the stagehand commands.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/example/stagehand/internal/core/policy"
	"github.com/example/stagehand/internal/version"
	"github.com/example/stagehand/internal/wire"
)

// Global flags shared by every command.
var (
	jsonOutput bool
	tokenFlag  string
	configPath string
	cronRun    bool
)

// RootCmd returns the stagehand root command with all subcommands.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "stagehand",
		Short:   "Stagehand - staged package updates for a live site",
		Version: version.String(),
		Long: `Stagehand applies package updates to a live codebase through a staging copy.

A stage is created by mirroring production, packages are required inside it,
and the result is promoted back only after every validator agrees.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			trigger := policy.TriggerInteractive
			if cronRun {
				trigger = policy.TriggerCron
			}
			wire.Configure(wire.Options{ConfigPath: configPath, Trigger: trigger, LogOutput: os.Stderr})
		},
	}

	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print a JSON payload instead of text")
	cmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Ownership token (default: $"+EnvToken+" or the saved session)")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <project>/.stagehand/config.yaml)")
	cmd.PersistentFlags().BoolVar(&cronRun, "cron", false, "Apply the unattended update policy")

	cmd.AddCommand(BeginCmd())
	cmd.AddCommand(StageCmd())
	cmd.AddCommand(UpdateCmd())
	cmd.AddCommand(RemoveCmd())
	cmd.AddCommand(ApplyCmd())
	cmd.AddCommand(PostApplyCmd())
	cmd.AddCommand(DestroyCmd())
	cmd.AddCommand(StatusCmd())
	cmd.AddCommand(CheckCmd())
	cmd.AddCommand(MarkerCmd())
	cmd.AddCommand(VersionCmd())

	return cmd
}
