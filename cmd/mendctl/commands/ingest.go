package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/mend/common/clients"
)

func newIngestCommand() *cobra.Command {
	var (
		projectID string
		title     string
		body      string
		priority  string
		labels    []string
		criteria  []string
		repoURL   string
		branch    string
		force     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <external-key>",
		Short: "Submit a ticket and start its workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := map[string]interface{}{}
			if repoURL != "" {
				meta["repo_url"] = repoURL
			}
			if branch != "" {
				meta["base_branch"] = branch
			}

			resp, err := api().Ingest(cmd.Context(), &clients.IngestRequest{
				ExternalKey:        args[0],
				ProjectID:          projectID,
				Title:              title,
				Description:        body,
				AcceptanceCriteria: criteria,
				Priority:           priority,
				Labels:             labels,
				Meta:               meta,
				Force:              force,
			})
			if err != nil {
				return err
			}

			fmt.Printf("ticket %s accepted (state: %s, resumed: %v)\n", resp.TicketID, resp.State, resp.Resumed)
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "owning project id (required)")
	cmd.Flags().StringVar(&title, "title", "", "ticket title (required)")
	cmd.Flags().StringVar(&body, "body", "", "ticket description")
	cmd.Flags().StringVar(&priority, "priority", "medium", "ticket priority")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "ticket labels (repeatable)")
	cmd.Flags().StringSliceVar(&criteria, "criterion", nil, "acceptance criteria (repeatable)")
	cmd.Flags().StringVar(&repoURL, "repo", "", "repository clone URL")
	cmd.Flags().StringVar(&branch, "base-branch", "", "base branch for the fix")
	cmd.Flags().BoolVar(&force, "force", false, "restart past the retry ceiling")
	cmd.MarkFlagRequired("project")
	cmd.MarkFlagRequired("title")

	return cmd
}
