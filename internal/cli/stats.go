package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a := mustOpen()
	defer a.close()

	stats, err := a.store.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	if textOutput() {
		fmt.Printf("database:    %s (%s)\n", stats.DBPath, humanize.Bytes(uint64(stats.DBSizeBytes)))
		fmt.Printf("memories:    %s active, %s archived, %s pending enrichment\n",
			humanize.Comma(int64(stats.ActiveMemories)), humanize.Comma(int64(stats.ArchivedMemories)),
			humanize.Comma(int64(stats.PendingMemories)))
		fmt.Printf("links:       %s\n", humanize.Comma(int64(stats.ActiveLinks)))
		fmt.Printf("compactions: %s\n", humanize.Comma(int64(stats.Compactions)))
		for _, o := range stats.Owners {
			fmt.Printf("  %-20s %d active, %d archived\n", o.OwnerID, o.Active, o.Archived)
		}
		return
	}
	printJSON(stats)
}
