package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dynfilter/engine"
	"dynfilter/internal/db"
)

func newQueryCmd(g *globals) *cobra.Command {
	var (
		src            sourceFlags
		q              queryFlags
		dsn            string
		sets           []string
		disable        []string
		enable         []string
		withoutFilters bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a filtered query and print the materialized records",
		Long: `Run a query over the model against a database. Parameter values and
enabled flags given on the command line apply to a session opened for the
query only.`,
		Example: `  dynfilter query --model shop.yaml --filters filters.yaml --entity Customer --set Active=true
  dynfilter query --model shop.yaml --filters filters.yaml --entity Order --set Region:codes=[EU,US] --disable Tenant`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := *g.cfg
			if dsn != "" {
				c.DSN = dsn
			}
			conn, err := db.OpenReader(c.Dialect, c.DSN)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck

			e, err := openEngine(g, conn, &c, src)
			if err != nil {
				return err
			}
			tree, err := q.tree(e.Model())
			if err != nil {
				return err
			}

			s := e.NewSession()
			defer s.Close()
			for _, a := range sets {
				name, param, v, err := parseAssignment(e, a)
				if err != nil {
					return err
				}
				if err := s.SetParameterValue(name, param, v); err != nil {
					return err
				}
			}
			for _, name := range enable {
				if err := s.EnableFilter(name); err != nil {
					return err
				}
			}
			for _, name := range disable {
				if err := s.DisableFilter(name); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if withoutFilters {
				ctx = engine.WithoutFilters(ctx)
			}
			records, err := s.Query(ctx, tree)
			if err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				if records == nil {
					records = []*engine.Record{}
				}
				return printJSON(cmd.OutOrStdout(), records)
			}
			return printRecords(cmd, e, q.entity, records)
		},
	}
	src.register(cmd)
	q.register(cmd)
	cmd.Flags().StringVar(&dsn, "dsn", "", "Data source name (overrides DYNFILTER_DSN)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Parameter value as filter[:param]=value (repeatable)")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "Filter to disable for this query (repeatable)")
	cmd.Flags().StringSliceVar(&enable, "enable", nil, "Filter to enable for this query (repeatable)")
	cmd.Flags().BoolVar(&withoutFilters, "without-filters", false, "Run the query with no filters applied")
	return cmd
}

// printRecords prints the root fields of records, one row per record.
func printRecords(cmd *cobra.Command, e *engine.Engine, entity string, records []*engine.Record) error {
	et, ok := e.Model().Entity(entity)
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	props := et.AllProperties()
	header := make([]string, len(props))
	for i, p := range props {
		header[i] = p.Name
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := make([]string, len(props))
		for i, p := range props {
			row[i] = formatValue(r.Get(p.Name))
		}
		rows = append(rows, row)
	}
	return printTable(cmd.OutOrStdout(), header, rows)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}
