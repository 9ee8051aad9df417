package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"dynfilter/internal/domain"
	"dynfilter/plan"
)

// Parameter describes one named parameter of a command.
type Parameter struct {
	Name        string
	Placeholder string // text of the parameter reference in the command
	Type        plan.Type
	Collection  bool // element type in Type; bound as an IN list
}

// Command is a rendered statement.
type Command struct {
	Text    string
	Params  []Parameter
	Dialect Dialect
}

// Clone returns a copy that can be patched for one execution.
func (c *Command) Clone() *Command {
	out := *c
	out.Params = append([]Parameter(nil), c.Params...)
	return &out
}

// Format renders tree as a single SELECT statement. A top-level Project
// gives the select list; filters, sorts and limits directly under it become
// WHERE, ORDER BY and LIMIT; any other non-scan join operand is rendered as
// a derived table aliased by its leftmost scan binding.
func Format(tree *plan.Tree, d Dialect) (*Command, error) {
	f := &formatter{d: d, buf: new(strings.Builder), seen: make(map[string]bool)}
	root := tree.Root
	var cols []plan.ProjectColumn
	if p, ok := root.(*plan.Project); ok {
		cols, root = p.Columns, p.Input
	}
	if err := f.selectBlock(root, cols); err != nil {
		return nil, err
	}
	return &Command{Text: f.buf.String(), Params: f.params, Dialect: d}, nil
}

// FormatExpr renders a single expression, for diagnostics.
func FormatExpr(e plan.Expr, d Dialect) (string, error) {
	f := &formatter{d: d, buf: new(strings.Builder), seen: make(map[string]bool)}
	if err := f.expr(e); err != nil {
		return "", err
	}
	return f.buf.String(), nil
}

// formatter is a flat SQL string builder.
type formatter struct {
	d      Dialect
	buf    *strings.Builder
	params []Parameter
	seen   map[string]bool
}

func (f *formatter) write(s string) {
	f.buf.WriteString(s)
}

func (f *formatter) ident(s string) {
	f.write(f.d.QuoteIdent(s))
}

func (f *formatter) selectBlock(rel plan.Rel, cols []plan.ProjectColumn) error {
	var (
		limit   *plan.Limit
		sort    *plan.Sort
		filters []plan.Expr
	)
	if l, ok := rel.(*plan.Limit); ok {
		limit, rel = l, l.Input
	}
	if s, ok := rel.(*plan.Sort); ok {
		sort, rel = s, s.Input
	}
	for {
		flt, ok := rel.(*plan.Filter)
		if !ok {
			break
		}
		filters = append([]plan.Expr{flt.Predicate}, filters...)
		rel = flt.Input
	}

	f.write("SELECT ")
	if len(cols) > 0 {
		for i, c := range cols {
			if i > 0 {
				f.write(", ")
			}
			if err := f.expr(c.Expr); err != nil {
				return err
			}
			f.write(" AS ")
			f.ident(c.Name)
		}
	} else if err := f.derivedColumns(rel); err != nil {
		return err
	}

	f.write(" FROM ")
	if err := f.from(rel); err != nil {
		return err
	}
	if where := plan.And(filters...); where != nil {
		f.write(" WHERE ")
		if err := f.expr(where); err != nil {
			return err
		}
	}
	if sort != nil && len(sort.Keys) > 0 {
		f.write(" ORDER BY ")
		for i, k := range sort.Keys {
			if i > 0 {
				f.write(", ")
			}
			if err := f.expr(k.Expr); err != nil {
				return err
			}
			if k.Desc {
				f.write(" DESC")
			}
		}
	}
	if limit != nil {
		f.write(" LIMIT ")
		f.write(strconv.Itoa(limit.Count))
	}
	return nil
}

// derivedColumns lists the columns of every scan under rel, once per column
// name, qualified by the scan binding.
func (f *formatter) derivedColumns(rel plan.Rel) error {
	names := make(map[string]bool)
	n := 0
	for _, s := range plan.Scans(rel) {
		for _, c := range s.Columns {
			if names[c.Name] {
				continue
			}
			names[c.Name] = true
			if n > 0 {
				f.write(", ")
			}
			f.ident(s.Binding)
			f.write(".")
			f.ident(c.Name)
			n++
		}
	}
	if n == 0 {
		return fmt.Errorf("derived table without columns")
	}
	return nil
}

func (f *formatter) from(rel plan.Rel) error {
	switch r := rel.(type) {
	case *plan.Scan:
		f.ident(r.Table)
		f.write(" AS ")
		f.ident(r.Binding)
		return nil
	case *plan.Join:
		if err := f.joinOperand(r.Left, false); err != nil {
			return err
		}
		f.write(" ")
		f.write(r.Kind.String())
		f.write(" ")
		if err := f.joinOperand(r.Right, r.Kind == plan.LeftLateralJoin); err != nil {
			return err
		}
		f.write(" ON ")
		if r.Condition == nil {
			f.write("TRUE")
			return nil
		}
		return f.expr(r.Condition)
	case nil:
		return fmt.Errorf("empty relation")
	}
	return f.derived(rel)
}

func (f *formatter) joinOperand(rel plan.Rel, lateral bool) error {
	switch r := rel.(type) {
	case *plan.Scan:
		if !lateral {
			return f.from(r)
		}
	case *plan.Join:
		if !lateral {
			f.write("(")
			if err := f.from(r); err != nil {
				return err
			}
			f.write(")")
			return nil
		}
	}
	return f.derived(rel)
}

func (f *formatter) derived(rel plan.Rel) error {
	alias := plan.OutputBinding(rel)
	if alias == "" {
		return fmt.Errorf("derived table %T without a scan", rel)
	}
	f.write("(")
	if err := f.selectBlock(rel, nil); err != nil {
		return err
	}
	f.write(") AS ")
	f.ident(alias)
	return nil
}

func (f *formatter) expr(e plan.Expr) error {
	switch x := e.(type) {
	case *plan.ColumnRef:
		f.ident(x.Binding)
		f.write(".")
		f.ident(x.Column)
	case *plan.Param:
		f.param(x)
	case *plan.Constant:
		lit, err := f.d.Literal(x.Value, x.Type)
		if err != nil {
			return err
		}
		f.write(lit)
	case *plan.Comparison:
		f.write("(")
		if err := f.expr(x.Left); err != nil {
			return err
		}
		f.write(" " + x.Op.String() + " ")
		if err := f.expr(x.Right); err != nil {
			return err
		}
		f.write(")")
	case *plan.Logical:
		f.write("(")
		for i, a := range x.Args {
			if i > 0 {
				f.write(" " + x.Op.String() + " ")
			}
			if err := f.expr(a); err != nil {
				return err
			}
		}
		f.write(")")
	case *plan.Not:
		f.write("(NOT ")
		if err := f.expr(x.Expr); err != nil {
			return err
		}
		f.write(")")
	case *plan.IsNull:
		f.write("(")
		if err := f.expr(x.Expr); err != nil {
			return err
		}
		f.write(" IS NULL)")
	case *plan.Cast:
		f.write("CAST(")
		if err := f.expr(x.Expr); err != nil {
			return err
		}
		f.write(" AS " + f.d.CastType(x.Type) + ")")
	case *plan.Like:
		return f.like(x)
	default:
		return domain.ErrNotImplemented("expression %T in SQL", e)
	}
	return nil
}

func (f *formatter) param(p *plan.Param) {
	ph := f.d.Placeholder(p.Name, p.Type)
	if !f.seen[p.Name] {
		f.seen[p.Name] = true
		f.params = append(f.params, Parameter{Name: p.Name, Placeholder: ph, Type: p.Type, Collection: p.Collection})
	}
	f.write(ph)
}

// like renders string matching with substring functions so that pattern
// characters in the operand are never interpreted.
func (f *formatter) like(l *plan.Like) error {
	x, err := f.sub(l.Expr)
	if err != nil {
		return err
	}
	p, err := f.sub(l.Pattern)
	if err != nil {
		return err
	}
	switch l.Mode {
	case plan.LikePrefix:
		f.write(fmt.Sprintf("(substr(%s, 1, length(%s)) = %s)", x, p, p))
	case plan.LikeSuffix:
		f.write(fmt.Sprintf("(length(%s) >= length(%s) AND substr(%s, length(%s) - length(%s) + 1) = %s)", x, p, x, x, p, p))
	default:
		f.write("(" + f.d.Contains(x, p) + ")")
	}
	return nil
}

// sub renders e on its own, registering its parameters with f.
func (f *formatter) sub(e plan.Expr) (string, error) {
	saved := f.buf
	f.buf = new(strings.Builder)
	err := f.expr(e)
	out := f.buf.String()
	f.buf = saved
	return out, err
}
