package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

type parameterView struct {
	Name        string `json:"name"`
	Placeholder string `json:"placeholder"`
	Filter      string `json:"filter,omitempty"`
	Param       string `json:"param,omitempty"`
	Type        string `json:"type"`
	Collection  bool   `json:"collection,omitempty"`
}

type commandView struct {
	SQL        string          `json:"sql"`
	Dialect    string          `json:"dialect"`
	Parameters []parameterView `json:"parameters"`
}

func newExplainCmd(g *globals) *cobra.Command {
	var (
		src        sourceFlags
		q          queryFlags
		conceptual bool
		dialect    string
	)
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Print the SQL a filtered query compiles to",
		Long: `Build a query over the model, splice in the registered filters and print
the resulting command with its synthetic parameters. No database is opened.`,
		Example: `  dynfilter explain --model shop.yaml --filters filters.yaml --entity Customer --include Orders
  dynfilter explain --model shop.yaml --entity Order --dialect postgres --conceptual -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := *g.cfg
			if cmd.Flags().Changed("conceptual") {
				c.PreferConceptual = conceptual
			}
			if dialect != "" {
				c.Dialect = dialect
			}
			e, err := openEngine(g, nil, &c, src)
			if err != nil {
				return err
			}
			tree, err := q.tree(e.Model())
			if err != nil {
				return err
			}
			command, err := e.Explain(cmd.Context(), tree)
			if err != nil {
				return err
			}

			view := commandView{SQL: command.Text, Dialect: command.Dialect.Name(), Parameters: []parameterView{}}
			for _, p := range command.Params {
				pv := parameterView{
					Name:        p.Name,
					Placeholder: p.Placeholder,
					Type:        p.Type.String(),
					Collection:  p.Collection,
				}
				pv.Filter, pv.Param, _ = e.DescribeParameter(p.Name)
				view.Parameters = append(view.Parameters, pv)
			}
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), view)
			}
			return printCommand(cmd, view)
		},
	}
	src.register(cmd)
	q.register(cmd)
	cmd.Flags().BoolVar(&conceptual, "conceptual", false, "Apply filters on the conceptual plan (overrides DYNFILTER_PREFER_CONCEPTUAL)")
	cmd.Flags().StringVar(&dialect, "dialect", "", "SQL dialect (overrides DYNFILTER_DIALECT)")
	return cmd
}

func printCommand(cmd *cobra.Command, view commandView) error {
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(out, "-- %s\n%s\n", view.Dialect, view.SQL); err != nil {
		return err
	}
	if len(view.Parameters) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	rows := make([][]string, 0, len(view.Parameters))
	for _, p := range view.Parameters {
		rows = append(rows, []string{p.Placeholder, p.Filter, p.Param, p.Type, strconv.FormatBool(p.Collection)})
	}
	return printTable(out, []string{"PLACEHOLDER", "FILTER", "PARAM", "TYPE", "COLLECTION"}, rows)
}
