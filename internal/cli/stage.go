package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	cliadapter "github.com/example/stagehand/internal/adapters/cli"
	"github.com/example/stagehand/internal/version"
	"github.com/example/stagehand/internal/wire"
)

// Lookups into wire, swapped out by tests.
var (
	loadConfig      = wire.Config
	newStageAdapter = wire.StageAdapter
	processLogger   = wire.Logger
)

// BeginCmd returns the begin command
func BeginCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "begin <package:constraint>...",
		Short: "Create a stage and require packages in it",
		Long: `Create a new stage by mirroring production, then require the given
packages inside it. The ownership token is saved to the session file so
later commands can find it.

Examples:
  stagehand begin drupal/core:9.8.1
  stagehand begin drupal/core-recommended:9.8.1 drupal/core-dev:9.8.1 --dev`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer wire.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}

			owner := Fingerprint()
			token, err := adapter.Begin(cmd.Context(), owner, args, dev)
			if token != "" {
				if serr := SaveSession(cfg.StateDir, Session{Token: token, Owner: owner, CreatedAt: time.Now()}); serr != nil {
					logger := processLogger()
					logger.Warn().Err(serr).Str("state_dir", cfg.StateDir).Msg("stage created but the session could not be saved")
					if !jsonOutput {
						fmt.Fprintf(cmd.ErrOrStderr(), "Save this token to continue: %s\n", token)
					}
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "Require packages as development dependencies")

	return cmd
}

// StageCmd returns the stage command
func StageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage",
		Short: "Re-sync the stage from production and re-require its packages",
		Args:  cobra.NoArgs,
		RunE: withToken(func(cmd *cobra.Command, adapter *cliadapter.StageAdapter, token string) error {
			return adapter.Stage(cmd.Context(), token)
		}),
	}
}

// UpdateCmd returns the update command
func UpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <package>...",
		Short: "Update packages already required in the stage",
		Long: `Update the named packages inside the stage within their recorded
constraints. The same checks as require run before and after.

Examples:
  stagehand update drupal/core-recommended
  stagehand update drupal/token drupal/pathauto`,
		Args: cobra.MinimumNArgs(1),
		RunE: withToken(func(cmd *cobra.Command, adapter *cliadapter.StageAdapter, token string) error {
			return adapter.Update(cmd.Context(), token, cmd.Flags().Args())
		}),
	}
}

// RemoveCmd returns the remove command
func RemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <package>...",
		Short: "Remove packages from the stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: withToken(func(cmd *cobra.Command, adapter *cliadapter.StageAdapter, token string) error {
			return adapter.Remove(cmd.Context(), token, cmd.Flags().Args())
		}),
	}
}

// ApplyCmd returns the apply command
func ApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Promote the stage into production",
		Long: `Promote the stage into production.

A failure marker is written before any production file changes and removed
only after the copy finishes. If apply is interrupted the marker stays set,
every later operation is refused, and this command exits with status 3.`,
		Args: cobra.NoArgs,
		RunE: withToken(func(cmd *cobra.Command, adapter *cliadapter.StageAdapter, token string) error {
			return adapter.Apply(cmd.Context(), token)
		}),
	}
}

// PostApplyCmd returns the post-apply command
func PostApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post-apply",
		Short: "Run the configured post-apply hooks (safe to retry)",
		Args:  cobra.NoArgs,
		RunE: withToken(func(cmd *cobra.Command, adapter *cliadapter.StageAdapter, token string) error {
			return adapter.PostApply(cmd.Context(), token)
		}),
	}
}

// DestroyCmd returns the destroy command
func DestroyCmd() *cobra.Command {
	var force bool
	var reason string

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Remove the stage and release ownership",
		Long: `Remove the stage directory and release the ownership lock.

--force destroys a stage owned by someone else. The reason is recorded and
shown to the owner the next time they use their token.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer wire.Close()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, err := ResolveToken(tokenFlag, os.Getenv, cfg.StateDir)
			if err != nil && !force {
				return err
			}
			adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}
			if err := adapter.Destroy(cmd.Context(), token, force, reason); err != nil {
				return err
			}
			return ClearSession(cfg.StateDir)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Destroy regardless of owner")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the stage is destroyed")

	return cmd
}

// StatusCmd returns the status command
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current stage, lock and failure marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer wire.Close()

			adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}
			_, err = adapter.Status(cmd.Context())
			return err
		},
	}
}

// CheckCmd returns the check command
func CheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the read-only status checks",
		Long: `Run the environment and version policy checks without changing anything.
Exits non-zero when any check reports an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer wire.Close()

			adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}
			return adapter.Check(cmd.Context())
		},
	}
}

// MarkerCmd returns the marker command
func MarkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marker",
		Short: "Inspect or clear the failure marker",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the failure marker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer wire.Close()

			adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}
			return adapter.ShowMarker(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the failure marker after verifying the site",
		Long: `Clear the failure marker. Only do this after the production codebase has
been verified or restored from backup. An interrupted stage is moved to the
failed phase and can then be destroyed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer wire.Close()

			adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
			if err != nil {
				return err
			}
			return adapter.ClearMarker(cmd.Context())
		},
	})

	return cmd
}

// VersionCmd returns the version command
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stagehand version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// withToken resolves the ownership token and builds the adapter before
// running fn.
func withToken(fn func(cmd *cobra.Command, adapter *cliadapter.StageAdapter, token string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer wire.Close()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := ResolveToken(tokenFlag, os.Getenv, cfg.StateDir)
		if err != nil {
			return err
		}
		adapter, err := newStageAdapter(cmd.OutOrStdout(), jsonOutput)
		if err != nil {
			return err
		}
		return fn(cmd, adapter, token)
	}
}
