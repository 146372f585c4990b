package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the routing audit trail",
	}

	cmd.AddCommand(newAuditListCommand())

	return cmd
}

func newAuditListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List routing decisions, newest first",
		Example: `  # Show the last 50 routing decisions
  dispatchd audit list

  # Show more history
  dispatchd audit list --limit 500`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, cleanup, err := openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			decisions, err := tasks.ListDecisions(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(decisions)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tOUTCOME\tREASON\tFAMILY\tPHASE\tINSTANCE\tISSUE")
			for _, d := range decisions {
				issue := ""
				if d.IssueNumber != 0 {
					issue = fmt.Sprintf("#%d", d.IssueNumber)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					d.Timestamp.Format("2006-01-02 15:04:05"),
					d.Event, d.Outcome, d.Reason, d.Family, d.Phase, d.InstanceID, issue)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum decisions to list")

	return cmd
}
