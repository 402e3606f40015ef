package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/blimp/internal/decoder"
)

// commandsCmd lists the commands a central can write
var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "Print the command catalog",
	Long: `Prints every command the builtin decoder accepts, in registration order.

Actions are written verbatim (e.g. "sampleBag"). Parameters carry their value
as trailing digits with no separator (e.g. "samplingTime5000").`,
	Args: cobra.NoArgs,
	RunE: runCommands,
}

var commandsJSON bool

func init() {
	commandsCmd.Flags().BoolVar(&commandsJSON, "json", false, "Output as JSON")
}

func runCommands(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	// The catalog is only listed; handlers never run, so no target is needed.
	specs := decoder.DefaultRegistry(nil).Specs()
	if commandsJSON {
		return writeCommandsJSON(cmd.OutOrStdout(), specs)
	}
	return writeCommandsTable(cmd.OutOrStdout(), specs)
}

func writeCommandsTable(out io.Writer, specs []decoder.Spec) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMMAND\tKIND\tDESCRIPTION")
	fmt.Fprintln(w, "-------\t----\t-----------")
	for _, s := range specs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Usage(), s.Kind, s.Help)
	}
	return w.Flush()
}

func writeCommandsJSON(out io.Writer, specs []decoder.Spec) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(specs)
}
