package query

import (
	"fmt"
	"strings"

	"dynfilter/internal/compiler"
	"dynfilter/internal/domain"
	"dynfilter/model"
	"dynfilter/plan"
	"dynfilter/predicate"
)

// Builder assembles a conceptual query over one root entity type. The first
// error is kept and returned by Tree.
type Builder struct {
	model    *model.Model
	root     *Extent
	where    []plan.Expr
	order    []plan.SortKey
	take     int
	includes []*Navigate
	paths    map[string]*Navigate
	next     int
	err      error
}

// From starts a query over the extent of the named entity type.
func From(m *model.Model, entity string) *Builder {
	b := &Builder{model: m, paths: make(map[string]*Navigate)}
	et, ok := m.Entity(entity)
	if !ok {
		b.err = domain.ErrNotFound("entity %q not found", entity)
		return b
	}
	b.root = &Extent{Entity: et, Binding: b.binding()}
	return b
}

func (b *Builder) binding() string {
	name := fmt.Sprintf("e%d", b.next)
	b.next++
	return name
}

// Where restricts the root rows with a parameterless predicate over the root
// entity type.
func (b *Builder) Where(fn *predicate.Func) *Builder {
	if b.err != nil {
		return b
	}
	if len(fn.Params) > 0 {
		b.err = domain.ErrConfiguration("query predicates take no parameters, got %d", len(fn.Params))
		return b
	}
	if !b.root.Entity.AssignableTo(fn.Entity) {
		b.err = domain.ErrConfiguration("predicate over %q cannot be applied to %q", fn.Entity, b.root.Entity.Name)
		return b
	}
	if err := predicate.Validate(fn, b.model); err != nil {
		b.err = err
		return b
	}
	c := compiler.New(compiler.NewNames(""), compiler.Options{})
	expr, err := c.Compile("", fn, compiler.Binding{Name: b.root.Binding, Entity: b.root.Entity, Space: plan.Conceptual})
	if err != nil {
		b.err = err
		return b
	}
	b.where = append(b.where, expr)
	return b
}

// OrderBy sorts the root rows by a property.
func (b *Builder) OrderBy(property string, desc bool) *Builder {
	if b.err != nil {
		return b
	}
	p, ok := b.root.Entity.Property(property)
	if !ok {
		b.err = domain.ErrNotFound("entity %q has no property %q", b.root.Entity.Name, property)
		return b
	}
	typ, err := plan.TypeFor(p.Type)
	if err != nil {
		b.err = err
		return b
	}
	b.order = append(b.order, plan.SortKey{
		Expr: &plan.ColumnRef{Binding: b.root.Binding, Column: p.Name, Type: typ},
		Desc: desc,
	})
	return b
}

// Take limits the number of root rows.
func (b *Builder) Take(n int) *Builder {
	if b.err == nil && n <= 0 {
		b.err = domain.ErrConfiguration("take count must be positive, got %d", n)
	}
	b.take = n
	return b
}

// Include loads a navigation path such as "Orders.Lines". Every prefix of
// the path is included as well.
func (b *Builder) Include(path string) *Builder {
	if b.err != nil {
		return b
	}
	parentBinding, parent := b.root.Binding, b.root.Entity
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		key := strings.Join(segments[:i+1], ".")
		if nav, ok := b.paths[key]; ok {
			parentBinding, parent = nav.Binding, nav.Target()
			continue
		}
		n, ok := parent.Navigation(seg)
		if !ok {
			b.err = domain.ErrNotFound("entity %q has no navigation %q", parent.Name, seg)
			return b
		}
		if _, ok := b.model.Entity(n.Target); !ok {
			b.err = domain.ErrNotFound("navigation %s.%s: entity %q not found", parent.Name, seg, n.Target)
			return b
		}
		nav := &Navigate{Parent: parentBinding, Source: parent, Navigation: n, Binding: b.binding()}
		b.paths[key] = nav
		b.includes = append(b.includes, nav)
		parentBinding, parent = nav.Binding, nav.Target()
	}
	return b
}

// Tree returns the assembled query.
func (b *Builder) Tree() (*Tree, error) {
	if b.err != nil {
		return nil, b.err
	}
	var rel Rel = b.root
	if pred := plan.And(b.where...); pred != nil {
		rel = &Where{Input: rel, Predicate: pred}
	}
	if len(b.order) > 0 {
		rel = &OrderBy{Input: rel, Keys: b.order}
	}
	if b.take > 0 {
		rel = &Take{Input: rel, Count: b.take}
	}
	for _, nav := range b.includes {
		rel = &Include{Input: rel, Nav: nav, Child: nav}
	}
	return &Tree{Root: rel}, nil
}
