package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath   string
	redisURL     string
	instanceName string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taskboard",
	Short: "Taskboard - message-board task delegation between agents",
	Long: `Taskboard coordinates agents through a shared message board.

Agents post requests, responses and notes to one ordered board. Workers
delegate tasks to an executor, split them across sub-workers, and wait on
tasks owned by other agents; a human executor answers requests from this CLI.

The board and agent state live in Redis under one instance namespace.`,
	Version: version,
	// Show help instead of silently succeeding, e.g. "taskboard --to x"
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	// Errors are printed by the printer package; silence cobra's copies
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "taskboard.yml", "Path to taskboard.yml (built-in defaults if absent)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "", "Redis URL (overrides config and REDIS_URL)")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "n", "", "Instance namespace (overrides config and TASKBOARD_INSTANCE)")
}
