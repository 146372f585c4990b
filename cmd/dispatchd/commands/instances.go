package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/issueops/dispatchd/pkg/alloc"
	"github.com/issueops/dispatchd/pkg/config"
	"github.com/issueops/dispatchd/pkg/instance"
	"github.com/issueops/dispatchd/pkg/workflow"
)

func newInstancesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Inspect and manage workflow instances",
	}

	cmd.AddCommand(newInstancesListCommand())
	cmd.AddCommand(newInstancesShowCommand())
	cmd.AddCommand(newInstancesArchiveCommand())

	return cmd
}

func newInstancesListCommand() *cobra.Command {
	var family string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow instances",
		Example: `  # List active app instances
  dispatchd instances list --family app

  # List all instances, archived included
  dispatchd instances list --family infra --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}

			families := []workflow.Family{workflow.FamilyApp, workflow.FamilyInfra}
			if family != "" {
				families = []workflow.Family{workflow.Family(family)}
			}

			var instances []*instance.Instance
			for _, f := range families {
				list, err := store.List(cmd.Context(), f)
				if err != nil {
					return fmt.Errorf("list %s instances: %w", f, err)
				}
				for _, inst := range list {
					if all || !inst.Archived {
						instances = append(instances, inst)
					}
				}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(instances)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INSTANCE\tFAMILY\tISSUE\tPHASES\tBRANCH\tARCHIVED")
			for _, inst := range instances {
				fmt.Fprintf(w, "%s\t%s\t#%d\t%s\t%s\t%v\n",
					inst.InstanceID, inst.Family, inst.IssueNumber,
					strings.Join(inst.PhaseHistory, ","), inst.BranchName, inst.Archived)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&family, "family", "f", "", "filter by family (app or infra)")
	cmd.Flags().BoolVar(&all, "all", false, "include archived instances")

	return cmd
}

func newInstancesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show one instance document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openStore()
			if err != nil {
				return err
			}

			inst, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(inst)
		},
	}
}

func newInstancesArchiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <instance-id>",
		Short: "Archive an instance and release its resources",
		Long: `Archive an instance and release its resources.

The instance document is kept for audit; its worktree and port slot are
released for reuse. Archived instances no longer satisfy dependent-phase
preconditions.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openStore()
			if err != nil {
				return err
			}

			allocator, err := openAllocator(cfg)
			if err != nil {
				return err
			}

			inst, err := store.Archive(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := allocator.Release(cmd.Context(), inst); err != nil {
				return fmt.Errorf("instance %s archived but resource release failed: %w", inst.InstanceID, err)
			}

			log.Info().Str("instance_id", inst.InstanceID).Msg("Instance archived")
			return nil
		},
	}
}

// openStore loads config and opens the instance store.
func openStore() (*config.Config, *instance.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, err := instance.NewStore(cfg.State.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("open instance store: %w", err)
	}
	return cfg, store, nil
}

// openAllocator builds the allocation service from config.
func openAllocator(cfg *config.Config) (*alloc.Allocator, error) {
	ports, err := alloc.NewPortTable(filepath.Join(cfg.State.Dir, "ports"))
	if err != nil {
		return nil, fmt.Errorf("open port table: %w", err)
	}
	trees, err := alloc.NewWorktreeManager(cfg.State.RepoRoot, cfg.State.WorktreeDir)
	if err != nil {
		return nil, fmt.Errorf("open worktree manager: %w", err)
	}
	return alloc.NewAllocator(log.Logger, ports, trees, cfg.State.BaseBranch), nil
}
