package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/JTan2231/vizier/internal/config"
)

var (
	// Global flags
	verbose    bool
	output     string
	repoRoot   string
	configPath string
	dryRun     bool

	cfg *config.Snapshot
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "vizier",
	Short: "A persistent job scheduler for command orchestration",
	Long: `vizier schedules, runs, and tracks long-lived jobs (save, draft,
approve, review, merge) against a git working tree, persisting every job's
state to ".vizier/jobs" so it survives a crash or a restart.

Core Commands:
  jobs schedule   Run one scheduler tick
  jobs list       Show jobs and their status
  jobs show       Show one job's full record
  jobs tail       Follow a running job's logs
  jobs retry      Reset a blocked or failed job (and its consumers)
  jobs cancel     Stop a running job
  jobs approve    Approve or reject a job waiting on a decision
  jobs gc         Remove old terminal job directories`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if repoRoot == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			repoRoot = cwd
		}
		loaded, err := config.Load(repoRoot, output, cmd.Flags().Changed("verbose"), verbose, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "", "Output format recorded in the config snapshot (json, table, yaml); jobs commands take their own --format")
	rootCmd.PersistentFlags().StringVar(&repoRoot, "repo", "", "Repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Explicit config file path (default: <repo>/.vizier/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Plan a mutating command without enqueueing it")
}

// DryRun reports whether --dry-run was set for this invocation.
func DryRun() bool { return dryRun }

// Config returns the resolved configuration snapshot for the current
// invocation, available to subcommands once PersistentPreRunE has run.
func Config() *config.Snapshot {
	return cfg
}

// VerbosePrintf prints only when verbose mode is enabled.
func VerbosePrintf(format string, args ...interface{}) {
	if cfg != nil && cfg.Verbose {
		fmt.Printf(format, args...)
	}
}

// CurrentUser returns the current system username, or "unknown" when it
// cannot be resolved.
func CurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
