package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a memory",
		Long:  "Archive a memory. Archived memories are kept for history and link integrity; archiving twice is a no-op.",
		Args:  cobra.ExactArgs(1),
		Run:   runArchive,
	}
	cmd.Flags().StringP("reason", "r", "archived by user", "Why the memory is archived")

	RootCmd.AddCommand(cmd)
}

func runArchive(cmd *cobra.Command, args []string) {
	reason, _ := cmd.Flags().GetString("reason")

	a := mustOpen()
	defer a.close()

	if err := a.records.ArchiveMemory(cmd.Context(), args[0], reason); err != nil {
		exitErr("archive", err)
	}
	mem, err := a.records.Peek(cmd.Context(), args[0])
	if err != nil {
		exitErr("archive", err)
	}
	printJSON(mem)
}
