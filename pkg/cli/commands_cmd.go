package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// commandEntry describes one runnable command of the tree.
type commandEntry struct {
	Path    string      `json:"path"`
	Short   string      `json:"short"`
	Example string      `json:"example,omitempty"`
	Flags   []flagEntry `json:"flags,omitempty"`
}

type flagEntry struct {
	Name     string `json:"name"`
	Short    string `json:"shorthand,omitempty"`
	Type     string `json:"type"`
	Default  string `json:"default,omitempty"`
	Usage    string `json:"usage,omitempty"`
	Required bool   `json:"required,omitempty"`
}

func newCommandsCmd() *cobra.Command {
	var match string
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the CLI commands with their flags",
		Example: `  dynfilter commands
  dynfilter commands --match schema -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := walkCommands(cmd.Root(), "")
			if match != "" {
				needle := strings.ToLower(match)
				kept := entries[:0]
				for _, e := range entries {
					if strings.Contains(strings.ToLower(e.Path+" "+e.Short), needle) {
						kept = append(kept, e)
					}
				}
				entries = kept
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Path, e.Short})
			}
			return printTable(cmd.OutOrStdout(), []string{"PATH", "DESCRIPTION"}, rows)
		},
	}
	cmd.Flags().StringVar(&match, "match", "", "Substring search across command paths and descriptions")
	return cmd
}

// walkCommands collects the leaf commands below cmd.
func walkCommands(cmd *cobra.Command, parentPath string) []commandEntry {
	var entries []commandEntry
	for _, child := range cmd.Commands() {
		if child.Hidden || child.Name() == "help" || child.Name() == "completion" {
			continue
		}
		path := child.Name()
		if parentPath != "" {
			path = parentPath + " " + path
		}
		if child.HasSubCommands() {
			entries = append(entries, walkCommands(child, path)...)
			continue
		}
		entries = append(entries, commandEntry{
			Path:    path,
			Short:   child.Short,
			Example: child.Example,
			Flags:   collectFlags(child.Flags()),
		})
	}
	return entries
}

func collectFlags(fs *pflag.FlagSet) []flagEntry {
	var flags []flagEntry
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		e := flagEntry{
			Name:    f.Name,
			Short:   f.Shorthand,
			Type:    f.Value.Type(),
			Default: f.DefValue,
			Usage:   f.Usage,
		}
		if ann, ok := f.Annotations[cobra.BashCompOneRequiredFlag]; ok && len(ann) > 0 && ann[0] == "true" {
			e.Required = true
		}
		flags = append(flags, e)
	})
	return flags
}
