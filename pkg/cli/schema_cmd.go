package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dynfilter/engine"
	"dynfilter/internal/db"
	"dynfilter/internal/sqlgen"
	"dynfilter/model"
)

func newSchemaCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print, create or drop the tables of a model",
	}
	cmd.AddCommand(newSchemaPrintCmd(g))
	cmd.AddCommand(newSchemaExecCmd(g, "create", "Create one table per storage unit of the model",
		func(e *engine.Engine, cmd *cobra.Command) error { return e.CreateSchema(cmd.Context()) }))
	cmd.AddCommand(newSchemaExecCmd(g, "drop", "Drop the tables of the model",
		func(e *engine.Engine, cmd *cobra.Command) error { return e.DropSchema(cmd.Context()) }))
	return cmd
}

func newSchemaPrintCmd(g *globals) *cobra.Command {
	var (
		modelPath string
		dialect   string
	)
	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the CREATE TABLE statements of a model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dialect == "" {
				dialect = g.cfg.Dialect
			}
			d, err := sqlgen.DialectByName(dialect)
			if err != nil {
				return err
			}
			m, err := model.LoadYAMLFile(modelPath)
			if err != nil {
				return err
			}
			stmts, err := sqlgen.CreateTables(m, d)
			if err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"dialect":    d.Name(),
					"statements": stmts,
				})
			}
			for _, stmt := range stmts {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s;\n", stmt); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&modelPath, "model", "", "Model YAML file")
	cmd.Flags().StringVar(&dialect, "dialect", "", "SQL dialect (overrides DYNFILTER_DIALECT)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newSchemaExecCmd(g *globals, use, short string, run func(*engine.Engine, *cobra.Command) error) *cobra.Command {
	var (
		src sourceFlags
		dsn string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := *g.cfg
			if dsn != "" {
				c.DSN = dsn
			}
			conn, err := db.Open(c.Dialect, c.DSN)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck

			e, err := openEngine(g, conn, &c, src)
			if err != nil {
				return err
			}
			if err := run(e, cmd); err != nil {
				return err
			}
			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"status": use + "d"})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Schema %sd (%s)\n", use, e.Dialect().Name())
			return err
		},
	}
	src.register(cmd)
	cmd.Flags().StringVar(&dsn, "dsn", "", "Data source name (overrides DYNFILTER_DSN)")
	return cmd
}
