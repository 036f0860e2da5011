// Package commands implements the mendctl CLI: operator access to ticket
// ingestion, workflow control and failure bundle inspection over the API.
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lyzr/mend/common/clients"
)

var (
	apiURL string
	token  string
)

// NewRootCommand builds the mendctl command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "mendctl",
		Short:        "Operate the automated maintenance pipeline",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&apiURL, "api-url", envOr("MEND_API_URL", "http://localhost:8080"), "mend API base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("MEND_TOKEN"), "API bearer token")

	root.AddCommand(
		newIngestCommand(),
		newStatusCommand(),
		newRetryCommand(),
		newCancelCommand(),
		newBundleCommand(),
		newStatsCommand(),
		newRunsCommand(),
	)
	return root
}

func api() *clients.APIClient {
	return clients.NewAPIClient(apiURL, token)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printJSON renders any API response as indented JSON on stdout
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
