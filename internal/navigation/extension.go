// Package navigation applies dynamic filters to conceptual queries, where
// navigation accesses are still visible: the root extent and every included
// navigation get their own filter scope.
package navigation

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"dynfilter/filter"
	"dynfilter/internal/compiler"
	"dynfilter/internal/domain"
	"dynfilter/model"
	"dynfilter/plan"
	"dynfilter/query"
)

// Extension rewrites query.Tree values.
type Extension struct {
	registry *filter.Registry
	compiler *compiler.Compiler
	// firstRow reports whether the backend can reduce a filtered relation to
	// its first row inside a join (LATERAL ... LIMIT 1).
	firstRow bool
	logger   *slog.Logger
}

// New creates an extension.
func New(registry *filter.Registry, c *compiler.Compiler, firstRowReduction bool, logger *slog.Logger) *Extension {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extension{registry: registry, compiler: c, firstRow: firstRowReduction, logger: logger}
}

// applied is the set of filter names already applied on a traversal path.
type applied map[string]bool

func (a applied) with(names []string) applied {
	out := make(applied, len(a)+len(names))
	for k := range a {
		out[k] = true
	}
	for _, n := range names {
		out[n] = true
	}
	return out
}

// Rewrite filters the root extent with every applicable filter and each
// included navigation with the filters of its target, in place.
func (x *Extension) Rewrite(t *query.Tree) error {
	includes := lo.Reverse(query.Includes(t.Root))
	ext := query.RootExtent(t.Root)
	if ext == nil {
		return domain.ErrNotImplemented("query without a root extent")
	}

	cond, names, err := x.condition(ext.Entity, ext.Binding, x.registry.Lookup(ext.Entity))
	if err != nil {
		return err
	}
	ext.Filtered = true
	if cond != nil {
		t.Root = replaceExtent(t.Root, ext, &query.Where{Input: ext, Predicate: cond})
	}
	paths := map[string]applied{ext.Binding: applied{}.with(names)}

	for _, inc := range includes {
		done, err := x.include(inc, paths[inc.Nav.Parent])
		if err != nil {
			return err
		}
		paths[inc.Nav.Binding] = done
	}
	return nil
}

// include filters one navigation below the top level and returns the set of
// filters applied on the path through it.
func (x *Extension) include(inc *query.Include, onPath applied) (applied, error) {
	nav := inc.Nav
	target := nav.Target()
	defs := lo.Filter(x.registry.Lookup(target), func(d *filter.Definition, _ int) bool {
		switch {
		case !d.Options.ApplyToChildren:
			x.logger.Debug("child filter suppressed", "filter", d.Name, "navigation", nav.Navigation.Name)
			return false
		case !d.Options.ApplyRecursively && onPath[d.Name]:
			x.logger.Debug("recursive filter suppressed", "filter", d.Name, "navigation", nav.Navigation.Name)
			return false
		}
		return true
	})

	cond, names, err := x.condition(target, nav.Binding, defs)
	if err != nil {
		return nil, err
	}
	if cond == nil {
		nav.Filtered = true
		return onPath, nil
	}

	if nav.Navigation.Many {
		nav.Filtered = true
		inc.Child = &query.Where{Input: nav, Predicate: cond}
		return onPath.with(names), nil
	}

	if !x.firstRow {
		x.logger.Debug("first-row reduction unavailable, navigation left to storage filters",
			"navigation", nav.Navigation.Name, "target", target.Name)
		return onPath.with(names), nil
	}
	if nav.Navigation.FK == nil || len(nav.Navigation.FK.Pairs) == 0 {
		return nil, domain.ErrTranslation(names[0], "navigation %s.%s has no foreign-key constraint metadata",
			nav.Source.Name, nav.Navigation.Name)
	}
	join, err := joinCondition(nav, target)
	if err != nil {
		return nil, err
	}
	extent := &query.Extent{Entity: target, Binding: nav.Binding, Filtered: true}
	inc.Child = &query.Element{Input: &query.Take{
		Input: &query.Where{Input: extent, Predicate: plan.And(join, cond)},
		Count: 1,
	}}
	nav.Filtered = true
	return onPath.with(names), nil
}

// condition compiles defs against an entity in conceptual space and returns
// their conjunction with the names of the filters it contains.
func (x *Extension) condition(et *model.EntityType, binding string, defs []*filter.Definition) (plan.Expr, []string, error) {
	b := compiler.Binding{Name: binding, Entity: et, Space: plan.Conceptual}
	var frags []plan.Expr
	var names []string
	for _, def := range defs {
		frag, ok, err := x.compiler.Fragment(def, b)
		if err != nil {
			return nil, nil, fmt.Errorf("entity %q: %w", et.Name, err)
		}
		if !ok {
			x.logger.Debug("column filter skipped", "filter", def.Name, "column", def.Column, "entity", et.Name)
			continue
		}
		frags = append(frags, frag)
		names = append(names, def.Name)
	}
	return plan.And(frags...), names, nil
}

// joinCondition equates the target side of each foreign-key pair with the
// source side on the parent binding.
func joinCondition(nav *query.Navigate, target *model.EntityType) (plan.Expr, error) {
	var on []plan.Expr
	for _, pair := range nav.Navigation.FK.Pairs {
		from, ok := nav.Source.Property(pair.From)
		if !ok {
			return nil, domain.ErrTranslation("", "navigation %s.%s: %q has no property %q", nav.Source.Name, nav.Navigation.Name, nav.Source.Name, pair.From)
		}
		to, ok := target.Property(pair.To)
		if !ok {
			return nil, domain.ErrTranslation("", "navigation %s.%s: %q has no property %q", nav.Source.Name, nav.Navigation.Name, target.Name, pair.To)
		}
		fromType, err := plan.TypeFor(from.Type)
		if err != nil {
			return nil, err
		}
		toType, err := plan.TypeFor(to.Type)
		if err != nil {
			return nil, err
		}
		on = append(on, &plan.Comparison{
			Op:    plan.OpEq,
			Left:  &plan.ColumnRef{Binding: nav.Binding, Column: to.Name, Type: toType},
			Right: &plan.ColumnRef{Binding: nav.Parent, Column: from.Name, Type: fromType},
		})
	}
	return plan.And(on...), nil
}

// replaceExtent swaps ext for with on the spine of rel.
func replaceExtent(rel query.Rel, ext *query.Extent, with query.Rel) query.Rel {
	switch r := rel.(type) {
	case *query.Extent:
		if r == ext {
			return with
		}
	case *query.Where:
		r.Input = replaceExtent(r.Input, ext, with)
	case *query.OrderBy:
		r.Input = replaceExtent(r.Input, ext, with)
	case *query.Take:
		r.Input = replaceExtent(r.Input, ext, with)
	case *query.Include:
		r.Input = replaceExtent(r.Input, ext, with)
	}
	return rel
}
