package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/heatpump-link/internal/bridges/heatpump"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the polled values and configuration parameters",
	Long: `Print the value table (published every poll cycle) and the parameter
table (published once as the configuration snapshot) in request order, with
the exact bytes sent on the wire for each entry.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listRegistries(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func listRegistries(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	sections := []struct {
		title    string
		registry *heatpump.Registry
	}{
		{title: "VALUES", registry: heatpump.DefaultValues()},
		{title: "PARAMETERS", registry: heatpump.DefaultParameters()},
	}

	for i, section := range sections {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\tREQUEST\tWIRE\tKIND\n", section.title)
		for _, e := range section.registry.Entries() {
			wire, err := heatpump.Encode(e.Descriptor)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", e.Name, err)
			}
			fmt.Fprintf(tw, "%s\t%s\t%q\t%s\n", e.Name, e.Descriptor, wire, e.Descriptor.Command.Kind())
		}
	}

	return tw.Flush()
}
