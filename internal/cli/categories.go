package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/memgraph/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "categories [domain]",
		Short: "List the category taxonomy",
		Args:  cobra.MaximumNArgs(1),
		Run:   runCategories,
	}

	RootCmd.AddCommand(cmd)
}

func runCategories(cmd *cobra.Command, args []string) {
	a := mustOpen()
	defer a.close()

	cats, err := a.store.Categories(cmd.Context())
	if err != nil {
		exitErr("categories", err)
	}
	if len(args) == 1 {
		d := model.Domain(args[0])
		if !model.ValidDomains[d] {
			exitErr("categories", model.Validationf("unknown domain %q", args[0]))
		}
		var filtered []model.Category
		for _, c := range cats {
			if c.Domain == d {
				filtered = append(filtered, c)
			}
		}
		cats = filtered
	}

	if textOutput() {
		for _, c := range cats {
			fmt.Printf("%-24s %.1f - %.1f\n", c.FullPath, c.ImportanceMin, c.ImportanceMax)
		}
		return
	}
	printJSON(cats)
}
