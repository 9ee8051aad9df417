package query

import (
	"fmt"

	"github.com/samber/lo"

	"dynfilter/internal/domain"
	"dynfilter/model"
	"dynfilter/plan"
)

// Shape describes how the flat rows of a lowered query map back to entity
// records: one node per conceptual binding, children per included
// navigation.
type Shape struct {
	Binding    string
	Entity     *model.EntityType
	Navigation string // empty for the root
	Many       bool
	Columns    map[string]int // property name -> output column index
	Order      []string       // property names in output order
	Children   []*Shape
}

// Keys returns the key property names of the shape's entity.
func (s *Shape) Keys() []string {
	return lo.Map(s.Entity.Keys(), func(p model.Property, _ int) string { return p.Name })
}

// Width returns the number of output columns of the shape and its
// descendants.
func (s *Shape) Width() int {
	n := len(s.Order)
	for _, c := range s.Children {
		n += c.Width()
	}
	return n
}

// column locates a conceptual property in the store plan.
type column struct {
	binding string
	name    string
	typ     plan.Type
}

type scope struct {
	entity  *model.EntityType
	columns map[string]column
}

type lowerer struct {
	next   int
	scopes map[string]*scope
}

// Lower maps a conceptual query onto the storage units of its entities.
// Per-type hierarchies become inner-join chains on the key, included
// navigations become left joins on their join columns, and a first-row
// reduction becomes a lateral join. Scans of extents or navigations marked
// Filtered are marked FiltersApplied.
func Lower(t *Tree) (*plan.Tree, *Shape, error) {
	l := &lowerer{scopes: make(map[string]*scope)}

	includes := lo.Reverse(Includes(t.Root))
	var base Rel = t.Root
	if len(includes) > 0 {
		base = includes[0].Input
	}
	root := RootExtent(base)
	if root == nil {
		return nil, nil, domain.ErrNotImplemented("query without a root extent")
	}

	rel, err := l.spine(base)
	if err != nil {
		return nil, nil, err
	}
	rootShape := &Shape{Binding: root.Binding, Entity: root.Entity}
	shapes := map[string]*Shape{root.Binding: rootShape}
	ordered := []*Shape{rootShape}

	for _, inc := range includes {
		if _, ok := rel.(*plan.Scan); !ok {
			if _, ok := rel.(*plan.Join); !ok {
				l.derive(rel)
			}
		}
		right, kind, cond, err := l.include(inc)
		if err != nil {
			return nil, nil, err
		}
		rel = &plan.Join{Kind: kind, Left: rel, Right: right, Condition: cond}

		parent, ok := shapes[inc.Nav.Parent]
		if !ok {
			return nil, nil, fmt.Errorf("include %s: unknown parent binding %q", inc.Nav.Navigation.Name, inc.Nav.Parent)
		}
		s := &Shape{
			Binding:    inc.Nav.Binding,
			Entity:     inc.Nav.Target(),
			Navigation: inc.Nav.Navigation.Name,
			Many:       inc.Nav.Navigation.Many,
		}
		parent.Children = append(parent.Children, s)
		shapes[s.Binding] = s
		ordered = append(ordered, s)
	}

	if keys := rootOrder(base); len(includes) > 0 && len(keys) > 0 {
		resolved, err := l.sortKeys(keys)
		if err != nil {
			return nil, nil, err
		}
		rel = &plan.Sort{Input: rel, Keys: resolved}
	}

	project := &plan.Project{Input: rel}
	for _, s := range ordered {
		sc := l.scopes[s.Binding]
		s.Columns = make(map[string]int)
		for _, p := range s.Entity.AllProperties() {
			c, ok := sc.columns[p.Name]
			if !ok {
				return nil, nil, domain.ErrTranslation("", "property %s.%s has no storage column", s.Entity.Name, p.Name)
			}
			idx := len(project.Columns)
			project.Columns = append(project.Columns, plan.ProjectColumn{
				Name: fmt.Sprintf("c%d", idx),
				Expr: &plan.ColumnRef{Binding: c.binding, Column: c.name, Type: c.typ},
			})
			s.Columns[p.Name] = idx
			s.Order = append(s.Order, p.Name)
		}
	}
	return &plan.Tree{Root: project}, rootShape, nil
}

func rootOrder(rel Rel) []plan.SortKey {
	for rel != nil {
		switch r := rel.(type) {
		case *OrderBy:
			return r.Keys
		case *Take:
			rel = r.Input
		default:
			return nil
		}
	}
	return nil
}

func (l *lowerer) spine(rel Rel) (plan.Rel, error) {
	switch r := rel.(type) {
	case *Extent:
		return l.extent(r.Entity, r.Binding, r.Filtered)
	case *Navigate:
		return l.extent(r.Target(), r.Binding, r.Filtered)
	case *Where:
		in, err := l.spine(r.Input)
		if err != nil {
			return nil, err
		}
		pred, err := l.resolve(r.Predicate)
		if err != nil {
			return nil, err
		}
		return &plan.Filter{Input: in, Predicate: pred}, nil
	case *OrderBy:
		in, err := l.spine(r.Input)
		if err != nil {
			return nil, err
		}
		keys, err := l.sortKeys(r.Keys)
		if err != nil {
			return nil, err
		}
		return &plan.Sort{Input: in, Keys: keys}, nil
	case *Take:
		in, err := l.spine(r.Input)
		if err != nil {
			return nil, err
		}
		return &plan.Limit{Input: in, Count: r.Count}, nil
	}
	return nil, domain.ErrNotImplemented("%T in a query spine", rel)
}

// extent scans the storage units of et, root first, inner-joined on the key.
func (l *lowerer) extent(et *model.EntityType, binding string, filtered bool) (plan.Rel, error) {
	sc := &scope{entity: et, columns: make(map[string]column)}
	var rel plan.Rel
	var first *plan.Scan
	for _, unit := range et.StorageChain() {
		scan := &plan.Scan{
			Entity:         unit,
			Table:          unit.TableName(),
			Binding:        fmt.Sprintf("t%d", l.next),
			FiltersApplied: filtered,
		}
		l.next++
		for _, p := range unit.StorageProperties() {
			typ, err := plan.TypeFor(p.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", unit.Name, p.Name, err)
			}
			scan.Columns = append(scan.Columns, plan.Column{Name: p.ColumnName(), Type: typ})
			if _, seen := sc.columns[p.Name]; !seen {
				sc.columns[p.Name] = column{binding: scan.Binding, name: p.ColumnName(), typ: typ}
			}
		}
		if rel == nil {
			rel, first = scan, scan
			continue
		}
		var on []plan.Expr
		for _, k := range et.Keys() {
			left, _ := first.Column(k.ColumnName())
			on = append(on, &plan.Comparison{
				Op:    plan.OpEq,
				Left:  &plan.ColumnRef{Binding: first.Binding, Column: left.Name, Type: left.Type},
				Right: &plan.ColumnRef{Binding: scan.Binding, Column: k.ColumnName(), Type: left.Type},
			})
		}
		rel = &plan.Join{Kind: plan.InnerJoin, Left: rel, Right: scan, Condition: plan.And(on...)}
	}
	if rel == nil {
		return nil, domain.ErrConfiguration("entity %q has no storage unit", et.Name)
	}
	l.scopes[binding] = sc
	return rel, nil
}

// derive re-points every scope stored under rel at rel's output binding, for
// when rel is rendered as a derived table.
func (l *lowerer) derive(rel plan.Rel) {
	inner := lo.SliceToMap(plan.Scans(rel), func(s *plan.Scan) (string, bool) { return s.Binding, true })
	out := plan.OutputBinding(rel)
	for _, sc := range l.scopes {
		for name, c := range sc.columns {
			if inner[c.binding] {
				c.binding = out
				sc.columns[name] = c
			}
		}
	}
}

func (l *lowerer) include(inc *Include) (plan.Rel, plan.JoinKind, plan.Expr, error) {
	nav := inc.Nav
	parent, ok := l.scopes[nav.Parent]
	if !ok {
		return nil, 0, nil, fmt.Errorf("include %s: unknown parent binding %q", nav.Navigation.Name, nav.Parent)
	}

	if el, ok := inc.Child.(*Element); ok {
		right, err := l.spine(el.Input)
		if err != nil {
			return nil, 0, nil, err
		}
		if ext := RootExtent(el.Input); ext != nil && ext.Binding != nav.Binding {
			l.scopes[nav.Binding] = l.scopes[ext.Binding]
		}
		l.derive(right)
		return right, plan.LeftLateralJoin, nil, nil
	}

	var preds []plan.Expr
	child := inc.Child
	for {
		w, ok := child.(*Where)
		if !ok {
			break
		}
		preds = append(preds, w.Predicate)
		child = w.Input
	}
	target, ok := child.(*Navigate)
	if !ok {
		return nil, 0, nil, domain.ErrNotImplemented("%T as an included navigation source", child)
	}
	right, err := l.extent(target.Target(), nav.Binding, target.Filtered)
	if err != nil {
		return nil, 0, nil, err
	}
	pairs, err := nav.Source.JoinPairs(nav.Navigation)
	if err != nil {
		return nil, 0, nil, err
	}
	on := make([]plan.Expr, 0, len(pairs)+len(preds))
	for _, pair := range pairs {
		from, ok := parent.columns[pair.From]
		if !ok {
			return nil, 0, nil, domain.ErrTranslation("", "navigation %s.%s: no column for %q", nav.Source.Name, nav.Navigation.Name, pair.From)
		}
		to, ok := l.scopes[nav.Binding].columns[pair.To]
		if !ok {
			return nil, 0, nil, domain.ErrTranslation("", "navigation %s.%s: no column for %q", nav.Source.Name, nav.Navigation.Name, pair.To)
		}
		on = append(on, &plan.Comparison{
			Op:    plan.OpEq,
			Left:  &plan.ColumnRef{Binding: from.binding, Column: from.name, Type: from.typ},
			Right: &plan.ColumnRef{Binding: to.binding, Column: to.name, Type: to.typ},
		})
	}
	for _, p := range preds {
		resolved, err := l.resolve(p)
		if err != nil {
			return nil, 0, nil, err
		}
		on = append(on, resolved)
	}
	return right, plan.LeftJoin, plan.And(on...), nil
}

// resolve maps conceptual column references (binding, property) onto store
// columns.
func (l *lowerer) resolve(e plan.Expr) (plan.Expr, error) {
	return plan.RewriteExpr(e, func(x plan.Expr) (plan.Expr, error) {
		ref, ok := x.(*plan.ColumnRef)
		if !ok {
			return x, nil
		}
		sc, ok := l.scopes[ref.Binding]
		if !ok {
			return nil, domain.ErrTranslation("", "unknown binding %q", ref.Binding)
		}
		c, ok := sc.columns[ref.Column]
		if !ok {
			return nil, domain.ErrTranslation("", "entity %q has no stored property %q", sc.entity.Name, ref.Column)
		}
		return &plan.ColumnRef{Binding: c.binding, Column: c.name, Type: c.typ}, nil
	})
}

func (l *lowerer) sortKeys(keys []plan.SortKey) ([]plan.SortKey, error) {
	out := make([]plan.SortKey, len(keys))
	for i, k := range keys {
		e, err := l.resolve(k.Expr)
		if err != nil {
			return nil, err
		}
		out[i] = plan.SortKey{Expr: e, Desc: k.Desc}
	}
	return out, nil
}
