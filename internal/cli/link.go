package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/graph"
	"github.com/rcliao/memgraph/internal/model"
)

func init() {
	link := &cobra.Command{
		Use:   "link <source-id> <target-id>",
		Short: "Create or update a link between two memories",
		Long: "Create or update a directed link. Strength and reason not given are scored by the " +
			"configured reasoner. Relations: related, contradicts, elaborates, causes, supersedes.",
		Args: cobra.ExactArgs(2),
		Run:  runLink,
	}
	link.Flags().StringP("rel", "r", "related", "Relation type")
	link.Flags().Float64P("strength", "s", 0, "Strength in [0,1]")
	link.Flags().String("reason", "", "Why the memories are linked")
	link.Flags().String("by", "", "Who creates the link (default: system)")

	links := &cobra.Command{
		Use:   "links <id>",
		Short: "List active links of a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runLinks,
	}

	suggest := &cobra.Command{
		Use:   "suggest <id> <candidate-id>...",
		Short: "Score candidate links without saving them",
		Args:  cobra.MinimumNArgs(2),
		Run:   runSuggest,
	}

	RootCmd.AddCommand(link, links, suggest)
}

func runLink(cmd *cobra.Command, args []string) {
	rel, _ := cmd.Flags().GetString("rel")
	by, _ := cmd.Flags().GetString("by")

	p := graph.LinkParams{
		SourceID:  args[0],
		TargetID:  args[1],
		Type:      model.LinkType(rel),
		CreatedBy: by,
	}
	if cmd.Flags().Changed("strength") {
		v, _ := cmd.Flags().GetFloat64("strength")
		p.Strength = &v
	}
	if cmd.Flags().Changed("reason") {
		v, _ := cmd.Flags().GetString("reason")
		p.Reason = &v
	}

	a := mustOpen()
	defer a.close()

	l, err := a.graph.CreateLink(cmd.Context(), p)
	if err != nil {
		exitErr("link", err)
	}
	printJSON(l)
}

func runLinks(cmd *cobra.Command, args []string) {
	a := mustOpen()
	defer a.close()

	out, err := a.graph.Outgoing(cmd.Context(), args[0])
	if err != nil {
		exitErr("links", err)
	}
	in, err := a.graph.Incoming(cmd.Context(), args[0])
	if err != nil {
		exitErr("links", err)
	}

	if textOutput() {
		for _, l := range out {
			fmt.Printf("-> %s  %-11s %.2f  %s\n", l.TargetID, l.Type, l.Strength, l.Reason)
		}
		for _, l := range in {
			fmt.Printf("<- %s  %-11s %.2f  %s\n", l.SourceID, l.Type, l.Strength, l.Reason)
		}
		return
	}
	printJSON(map[string][]model.MemoryLink{"outgoing": out, "incoming": in})
}

func runSuggest(cmd *cobra.Command, args []string) {
	a := mustOpen()
	defer a.close()

	suggestions, err := a.graph.SuggestLinks(cmd.Context(), args[0], args[1:])
	if err != nil {
		exitErr("suggest", err)
	}
	printJSON(suggestions)
}
