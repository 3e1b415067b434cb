package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's memories as JSON",
		Long:  "Export every memory of an owner, active and archived, with its links and compaction history.",
		Run:   runExport,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner id (required)")
	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")

	a := mustOpen()
	defer a.close()

	exp, err := a.store.ExportOwner(cmd.Context(), owner)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(exp)
}
