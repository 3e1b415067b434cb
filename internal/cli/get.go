package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a memory by id",
		Long:  "Retrieve a memory by id. Each read is counted towards the memory's access statistics.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}
	chain := &cobra.Command{
		Use:   "chain <id>",
		Short: "Show every version of a memory, oldest first",
		Args:  cobra.ExactArgs(1),
		Run:   runChain,
	}

	RootCmd.AddCommand(get, chain)
}

func runGet(cmd *cobra.Command, args []string) {
	a := mustOpen()
	defer a.close()

	mem, err := a.records.GetMemory(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	printJSON(mem)
}

func runChain(cmd *cobra.Command, args []string) {
	a := mustOpen()
	defer a.close()

	chain, err := a.records.GetVersionChain(cmd.Context(), args[0])
	if err != nil {
		exitErr("chain", err)
	}
	printJSON(chain)
}
