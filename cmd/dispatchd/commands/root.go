package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dispatchd",
		Short: "Issue-driven workflow router",
		Long: `dispatchd routes GitHub issue and comment events to phased workflows.

It listens for webhook deliveries, detects workflow trigger tokens in the
text, validates dependent-phase preconditions, allocates isolated resources
for new instances (git worktree, branch, port pair), and executes phases
through a durable task queue with a bounded worker pool. Outcomes are
reported back to the originating issue as bot-marked comments.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newInstancesCommand())
	rootCmd.AddCommand(newTasksCommand())
	rootCmd.AddCommand(newAuditCommand())

	return rootCmd
}
