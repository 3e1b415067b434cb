package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/records"
)

func init() {
	cmd := &cobra.Command{
		Use:   "version <id> [content]",
		Short: "Create a new version of a memory",
		Long: "Archive the active memory <id> and store new content as its successor. " +
			"Fields not overridden by flags are copied from the previous version.",
		Args: cobra.MinimumNArgs(1),
		Run:  runVersion,
	}

	cmd.Flags().String("trigger", "user", "Why the memory changed (user, correction, ...)")
	cmd.Flags().StringP("categories", "c", "", "Replace categories")
	cmd.Flags().Float64P("importance", "i", 0, "Replace importance")
	cmd.Flags().String("vad", "", "Replace VAD: valence,arousal,dominance")
	cmd.Flags().StringP("keywords", "k", "", "Replace keywords")
	cmd.Flags().StringP("tags", "t", "", "Replace tags")

	RootCmd.AddCommand(cmd)
}

func runVersion(cmd *cobra.Command, args []string) {
	id := args[0]
	trigger, _ := cmd.Flags().GetString("trigger")
	content := readContent(args[1:])
	if content == "" {
		exitErr("version", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	var o records.Overrides
	var err error
	flags := cmd.Flags()
	if flags.Changed("categories") {
		s, _ := flags.GetString("categories")
		if o.Categories, err = parseCategories(s); err != nil {
			exitErr("version", err)
		}
	}
	if flags.Changed("importance") {
		v, _ := flags.GetFloat64("importance")
		o.Importance = &v
	}
	if flags.Changed("vad") {
		s, _ := flags.GetString("vad")
		if o.VAD, err = parseVAD(s); err != nil {
			exitErr("version", err)
		}
	}
	if flags.Changed("keywords") {
		s, _ := flags.GetString("keywords")
		o.Keywords = splitList(s)
	}
	if flags.Changed("tags") {
		s, _ := flags.GetString("tags")
		o.Tags = splitList(s)
	}

	a := mustOpen()
	defer a.close()

	mem, err := a.records.CreateVersion(cmd.Context(), id, content, trigger, o)
	if err != nil {
		exitErr("version", err)
	}
	printJSON(mem)
}
