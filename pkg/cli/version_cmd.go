package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd(_ *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"version": version,
					"commit":  commit,
				})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dynfilter version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}
