package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/compaction"
	"github.com/rcliao/memgraph/internal/config"
	"github.com/rcliao/memgraph/internal/records"
)

func init() {
	cmd := &cobra.Command{
		Use:   "put [content]",
		Short: "Store a memory",
		Long: "Store a memory. Content can be a positional arg or piped via stdin. " +
			"VAD, keywords and tags not given are extracted by the configured reasoner.\n\n" +
			"After storing, the owner is compacted if over budget. With the local reasoner this " +
			"only happens with --compact, because local summaries keep just the first sentence " +
			"of each merged memory.",
		Run: runPut,
	}

	cmd.Flags().StringP("owner", "o", "", "Owner id (required)")
	cmd.Flags().StringP("categories", "c", "", "Comma-separated domain/name categories (required)")
	cmd.Flags().Float64P("importance", "i", 0.5, "Importance in [0,1]; must fit a category range")
	cmd.Flags().String("vad", "", "valence,arousal,dominance in [-1,1]")
	cmd.Flags().StringP("keywords", "k", "", "Comma-separated keywords")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("trigger", "user", "What caused this memory")
	cmd.Flags().Bool("compact", false, "Compact after storing even with the local reasoner")

	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("categories")

	RootCmd.AddCommand(cmd)
}

func runPut(cmd *cobra.Command, args []string) {
	owner, _ := cmd.Flags().GetString("owner")
	catStr, _ := cmd.Flags().GetString("categories")
	importance, _ := cmd.Flags().GetFloat64("importance")
	trigger, _ := cmd.Flags().GetString("trigger")

	content := readContent(args)
	if content == "" {
		exitErr("put", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	cats, err := parseCategories(catStr)
	if err != nil {
		exitErr("put", err)
	}

	p := records.CreateParams{
		OwnerID:    owner,
		Content:    content,
		Categories: cats,
		Importance: importance,
		Trigger:    trigger,
	}
	if cmd.Flags().Changed("vad") {
		s, _ := cmd.Flags().GetString("vad")
		if p.VAD, err = parseVAD(s); err != nil {
			exitErr("put", err)
		}
	}
	if cmd.Flags().Changed("keywords") {
		s, _ := cmd.Flags().GetString("keywords")
		p.Keywords = splitList(s)
	}
	if cmd.Flags().Changed("tags") {
		s, _ := cmd.Flags().GetString("tags")
		p.Tags = splitList(s)
	}

	a := mustOpen()
	defer a.close()

	mem, err := a.records.CreateMemory(cmd.Context(), p)
	if err != nil {
		exitErr("put", err)
	}
	force, _ := cmd.Flags().GetBool("compact")
	if compactAfterPut(a.cfg, force) {
		if _, err := a.compaction.MaybeCompact(cmd.Context(), owner, compaction.Options{}); err != nil {
			a.obs.Log().Warn().Err(err).Str("owner", owner).Msg("compaction after put failed")
		}
	}
	printJSON(mem)
}

// compactAfterPut reports whether put should run the budget check. The local
// reasoner summarizes lossily, so it only compacts on request.
func compactAfterPut(cfg config.Config, force bool) bool {
	return force || cfg.Reasoner.Provider != "local"
}
