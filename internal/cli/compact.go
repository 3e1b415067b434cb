package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/compaction"
)

func init() {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Merge low-value memories to fit the token budget",
		Long: "Compact an owner's active memories: when their token total exceeds the budget the " +
			"least valuable ones are summarized into a single successor. Use --history to list past runs.\n\n" +
			"The local reasoner summarizes by keeping the first sentence of each memory, so detail is lost. " +
			"Configure an LLM provider for faithful summaries.",
		Run: runCompact,
	}
	cmd.Flags().StringP("owner", "o", "", "Owner id (required)")
	cmd.Flags().IntP("budget", "b", 0, "Token budget (default from config)")
	cmd.Flags().Bool("history", false, "List past compaction runs instead of compacting")
	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runCompact(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	budget, _ := cmd.Flags().GetInt("budget")
	history, _ := cmd.Flags().GetBool("history")

	a := mustOpen()
	defer a.close()

	if history {
		recs, err := a.compaction.ListCompactions(cmd.Context(), owner)
		if err != nil {
			exitErr("compact", err)
		}
		if textOutput() {
			for _, r := range recs {
				fmt.Printf("%s  %s  %d memories  %s -> %s tokens\n", r.ID, humanize.Time(r.TriggeredAt),
					len(r.AbsorbedMemoryIDs), humanize.Comma(int64(r.TokenCountBefore)), humanize.Comma(int64(r.TokenCountAfter)))
			}
			return
		}
		printJSON(recs)
		return
	}

	res, err := a.compaction.TriggerCompaction(cmd.Context(), owner, compaction.Options{Budget: budget})
	if err != nil {
		exitErr("compact", err)
	}
	printJSON(res)
}
