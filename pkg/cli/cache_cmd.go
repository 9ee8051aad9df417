package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCacheCmd(g *globals) *cobra.Command {
	var (
		src    sourceFlags
		out    string
		format string
	)
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Write the filter definitions of a model to a cache file",
		Long: `Load the model and its filters and write the registered definitions to a
file. A msgpack cache is loaded at start through DYNFILTER_MODEL_CACHE; a yaml
file can be passed back with --filters.`,
		Example: `  dynfilter cache --model shop.yaml --filters filters.yaml --out shop.cache
  dynfilter cache --model shop.yaml --filters filters.yaml --out normalized.yaml --format yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := *g.cfg
			c.ModelCache = ""
			e, err := openEngine(g, nil, &c, src)
			if err != nil {
				return err
			}
			switch format {
			case "msgpack":
				err = e.SaveModelCache(out)
			case "yaml":
				var data []byte
				if data, err = e.ExportFilters(); err == nil {
					err = os.WriteFile(out, data, 0o644)
				}
			default:
				return fmt.Errorf("unsupported cache format %q: use 'msgpack' or 'yaml'", format)
			}
			if err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}

			n := len(e.Filters())
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"path":    out,
					"format":  format,
					"filters": n,
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d filter definitions to %s\n", n, out)
			return err
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Output file")
	cmd.Flags().StringVar(&format, "format", "msgpack", "Cache format (msgpack, yaml)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
