package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <ticket-id>",
		Short: "Show workflow status for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := api().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func newRetryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <ticket-id>",
		Short: "Resume a failed workflow from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := api().Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("workflow resumed at %s (retries: %d)\n", status.State, status.Retries)
			return nil
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <ticket-id>",
		Short: "Cancel a workflow; in-flight jobs drain without executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := api().Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("workflow cancelled (state: %s)\n", status.State)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate workflow counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := api().Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}
