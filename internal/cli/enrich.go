package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Retry attribute extraction for pending memories",
		Run:   runEnrich,
	}
	cmd.Flags().IntP("limit", "l", 50, "Max memories to retry")

	RootCmd.AddCommand(cmd)
}

func runEnrich(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpen()
	defer a.close()

	n, err := a.records.RetryEnrichment(cmd.Context(), limit)
	if err != nil {
		exitErr("enrich", err)
	}
	fmt.Printf("{\"enriched\": %d}\n", n)
}
