package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBundleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <ticket-id>",
		Short: "Show the most recent failure bundle for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := api().LatestBundle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if bundle == nil {
				fmt.Println("no failure bundle captured for this ticket")
				return nil
			}
			return printJSON(bundle)
		},
	}
}

func newRunsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "runs <ticket-id>",
		Short: "List recent check runs for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := api().Runs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Printf("%s  %-10s %-8s exit=%d\n",
					run.CreatedAt.Format("2006-01-02 15:04:05"),
					run.Type, run.Status, run.ExitCode)
			}
			return nil
		},
	}
}
