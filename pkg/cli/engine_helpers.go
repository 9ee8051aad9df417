package cli

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dynfilter/engine"
	"dynfilter/filter"
	"dynfilter/internal/config"
	"dynfilter/model"
	"dynfilter/predicate"
	"dynfilter/query"
)

// sourceFlags name the model and filter files a command loads.
type sourceFlags struct {
	model   string
	filters string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.model, "model", "", "Model YAML file")
	cmd.Flags().StringVar(&s.filters, "filters", "", "Filters YAML file")
	_ = cmd.MarkFlagRequired("model")
}

// queryFlags describe the query a command builds over the model.
type queryFlags struct {
	entity   string
	includes []string
	orderBy  []string
	take     int
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.entity, "entity", "", "Root entity type")
	cmd.Flags().StringSliceVar(&q.includes, "include", nil, "Navigation path to include, such as Orders.Lines (repeatable)")
	cmd.Flags().StringSliceVar(&q.orderBy, "order-by", nil, "Property to sort by, optionally suffixed with :desc (repeatable)")
	cmd.Flags().IntVar(&q.take, "take", 0, "Maximum number of root rows")
	_ = cmd.MarkFlagRequired("entity")
}

func (q *queryFlags) tree(m *model.Model) (*engine.Tree, error) {
	b := query.From(m, q.entity)
	for _, o := range q.orderBy {
		prop, dir, _ := strings.Cut(o, ":")
		switch strings.ToLower(dir) {
		case "", "asc":
			b = b.OrderBy(prop, false)
		case "desc":
			b = b.OrderBy(prop, true)
		default:
			return nil, fmt.Errorf("order %q: direction must be asc or desc", o)
		}
	}
	if q.take > 0 {
		b = b.Take(q.take)
	}
	for _, inc := range q.includes {
		b = b.Include(inc)
	}
	return b.Tree()
}

// openEngine loads the model and filters of src into an engine over conn,
// which may be nil for commands that only render SQL.
func openEngine(g *globals, conn *sql.DB, cfg *config.Config, src sourceFlags) (*engine.Engine, error) {
	m, err := model.LoadYAMLFile(src.model)
	if err != nil {
		return nil, err
	}
	e, err := engine.New(conn, m, engine.WithConfig(cfg), engine.WithLogger(g.logger))
	if err != nil {
		return nil, err
	}
	if src.filters == "" {
		return e, nil
	}
	data, err := os.ReadFile(src.filters)
	if err != nil {
		return nil, fmt.Errorf("read filters file: %w", err)
	}
	if err := e.LoadFilters(data); err != nil {
		return nil, fmt.Errorf("load filters %s: %w", src.filters, err)
	}
	return e, nil
}

// parseAssignment parses filter[:param]=value. The value is a YAML scalar
// or flow sequence, coerced to the parameter's declared type when the
// filter declares one.
func parseAssignment(e *engine.Engine, s string) (filterName, param string, value any, err error) {
	lhs, raw, ok := strings.Cut(s, "=")
	if !ok || lhs == "" {
		return "", "", nil, fmt.Errorf("assignment %q: want filter[:param]=value", s)
	}
	filterName, param, _ = strings.Cut(lhs, ":")
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return "", "", nil, fmt.Errorf("assignment %q: %w", s, err)
	}
	if value == nil {
		return filterName, param, nil, nil
	}
	for _, def := range e.Filters() {
		if def.Name != filter.NormalizeName(filterName) || def.IsColumn() {
			continue
		}
		var p *predicate.Param
		ok = false
		switch {
		case param != "":
			p, ok = def.Predicate.Param(param)
		case len(def.Predicate.Params) == 1:
			p, ok = def.Predicate.Params[0], true
		}
		if !ok {
			break
		}
		value, err = predicate.CoerceValue(value, p.Type)
		if err != nil {
			return "", "", nil, fmt.Errorf("assignment %q: %w", s, err)
		}
		break
	}
	return filterName, param, value, nil
}
