package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/retrieval"
	"github.com/rcliao/memgraph/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search an owner's memories",
		Long: "Search an owner's memories. The query matches content and keywords and ranks hits by " +
			"semantic relevance, importance and recency. Every filter is optional and they combine.",
		Run: runSearch,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner id (required)")
	cmd.Flags().StringP("category", "c", "", "Filter by domain/name category")
	cmd.Flags().String("importance", "", "Importance range min:max")
	cmd.Flags().String("valence", "", "Valence range min:max")
	cmd.Flags().String("arousal", "", "Arousal range min:max")
	cmd.Flags().String("dominance", "", "Dominance range min:max")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags or globs (any match)")
	cmd.Flags().Bool("archived", false, "Include archived memories")
	cmd.Flags().IntP("limit", "l", retrieval.DefaultLimit, "Max results")

	cmd.MarkFlagRequired("owner")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	owner, _ := flags.GetString("owner")
	category, _ := flags.GetString("category")
	tags, _ := flags.GetString("tags")
	archived, _ := flags.GetBool("archived")
	limit, _ := flags.GetInt("limit")

	q := retrieval.Query{
		OwnerID:         owner,
		Category:        category,
		Tags:            splitList(tags),
		Text:            strings.Join(args, " "),
		IncludeArchived: archived,
		Limit:           limit,
	}
	for _, r := range []struct {
		flag string
		dst  **store.Range
	}{
		{"importance", &q.Importance},
		{"valence", &q.Valence},
		{"arousal", &q.Arousal},
		{"dominance", &q.Dominance},
	} {
		s, _ := flags.GetString(r.flag)
		rng, err := parseRange(s)
		if err != nil {
			exitErr("search", fmt.Errorf("--%s: %w", r.flag, err))
		}
		*r.dst = rng
	}

	a := mustOpen()
	defer a.close()

	results, err := a.retrieval.Search(cmd.Context(), q)
	if err != nil {
		exitErr("search", err)
	}

	if textOutput() {
		for _, r := range results {
			fmt.Printf("%.3f  %s  %s  %s\n", r.Score, r.Memory.ID, humanize.Time(r.Memory.CreatedAt), firstLine(r.Memory.Content))
		}
		return
	}
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}
	printJSON(results)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
