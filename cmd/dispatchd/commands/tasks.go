package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/issueops/dispatchd/pkg/queue"
)

func newTasksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage dispatch tasks",
	}

	cmd.AddCommand(newTasksListCommand())
	cmd.AddCommand(newTasksShowCommand())
	cmd.AddCommand(newTasksRetryCommand())

	return cmd
}

func newTasksListCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dispatch tasks",
		Example: `  # List recent tasks
  dispatchd tasks list

  # List failed tasks
  dispatchd tasks list --status failed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, cleanup, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			var filter *queue.TaskStatus
			if status != "" {
				s := queue.TaskStatus(status)
				filter = &s
			}

			list, err := tasks.ListTasks(cmd.Context(), filter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(list)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tINSTANCE\tPHASE\tSTATUS\tATTEMPTS\tENQUEUED")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%s\t%s-%s\t%s\t%d\t%s\n",
					t.ID, t.InstanceID, t.Family, t.Phase, t.Status, t.Attempts,
					t.EnqueuedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status (pending, running, succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum tasks to list")

	return cmd
}

func newTasksShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, cleanup, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			task, err := tasks.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(task)
		},
	}
}

func newTasksRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Re-queue a failed task",
		Long: `Re-queue a failed task.

The router never retries a failed phase on its own; this command puts a
failed task back in the queue for the worker pool to pick up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, cleanup, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := tasks.Retry(cmd.Context(), args[0]); err != nil {
				return err
			}

			log.Info().Str("task_id", args[0]).Msg("Task re-queued")
			return nil
		},
	}
}

// openQueue loads config and opens the task queue database.
func openQueue(ctx context.Context) (*queue.Store, func(), error) {
	cfg, _, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	tasks, err := queue.NewStore(cfg.Queue.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open task queue: %w", err)
	}
	if err := tasks.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("open task queue: %w", err)
	}
	if err := tasks.Migrate(ctx); err != nil {
		_ = tasks.Close()
		return nil, nil, fmt.Errorf("migrate task queue: %w", err)
	}

	return tasks, func() { _ = tasks.Close() }, nil
}
