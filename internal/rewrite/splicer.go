// Package rewrite splices dynamic filter conditions into store-level plans.
package rewrite

import (
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"dynfilter/filter"
	"dynfilter/internal/compiler"
	"dynfilter/model"
	"dynfilter/plan"
)

// Splicer attaches every applicable filter to every scan of a plan.
type Splicer struct {
	registry *filter.Registry
	compiler *compiler.Compiler
	logger   *slog.Logger
}

// New creates a splicer.
func New(registry *filter.Registry, c *compiler.Compiler, logger *slog.Logger) *Splicer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splicer{registry: registry, compiler: c, logger: logger}
}

// Rewrite walks tree once, depth first, and conjoins the filters of each
// scan's entity into a filter directly over that scan. An existing filter
// over the scan is extended rather than nested. Filters an ancestor storage
// unit in the same plan already covers are not applied again. In a per-type
// hierarchy, a fragment that reads columns of another storage unit is added
// to the condition of the join that combines the units.
func (s *Splicer) Rewrite(tree *plan.Tree) error {
	scans := plan.Scans(tree.Root)
	entities := lo.Uniq(lo.FilterMap(scans, func(sc *plan.Scan, _ int) (*model.EntityType, bool) {
		return sc.Entity, sc.Entity != nil
	}))
	root, err := s.rewriteRel(tree.Root, entities)
	if err != nil {
		return err
	}
	tree.Root = root
	return nil
}

// rewriteRel recursively traverses and rewrites relational nodes, wrapping
// scans with applicable filters in a Filter.
func (s *Splicer) rewriteRel(rel plan.Rel, entities []*model.EntityType) (plan.Rel, error) {
	switch r := rel.(type) {
	case nil:
		return nil, nil

	case *plan.Scan:
		cond, _, err := s.scanCondition(r, nil, entities)
		if err != nil {
			return nil, err
		}
		if cond == nil {
			return r, nil
		}
		return &plan.Filter{Input: r, Predicate: cond}, nil

	case *plan.Filter:
		if scan, ok := r.Input.(*plan.Scan); ok {
			cond, _, err := s.scanCondition(scan, nil, entities)
			if err != nil {
				return nil, err
			}
			r.Predicate = plan.And(r.Predicate, cond)
			return r, nil
		}
		in, err := s.rewriteRel(r.Input, entities)
		if err != nil {
			return nil, err
		}
		r.Input = in
		return r, nil

	case *plan.Project:
		in, err := s.rewriteRel(r.Input, entities)
		if err != nil {
			return nil, err
		}
		r.Input = in
		return r, nil

	case *plan.Limit:
		in, err := s.rewriteRel(r.Input, entities)
		if err != nil {
			return nil, err
		}
		r.Input = in
		return r, nil

	case *plan.Sort:
		in, err := s.rewriteRel(r.Input, entities)
		if err != nil {
			return nil, err
		}
		r.Input = in
		return r, nil

	case *plan.Join:
		if chain := chainScans(r); chain != nil {
			return s.rewriteChain(r, chain, entities)
		}
		left, err := s.rewriteRel(r.Left, entities)
		if err != nil {
			return nil, err
		}
		right, err := s.rewriteRel(r.Right, entities)
		if err != nil {
			return nil, err
		}
		r.Left = left
		r.Right = right
		return r, nil
	}
	return rel, nil
}

// rewriteChain filters the storage units of one per-type hierarchy. Local
// fragments wrap their scan; fragments spanning units join the condition of
// the outermost join of the chain.
func (s *Splicer) rewriteChain(top *plan.Join, chain []*plan.Scan, entities []*model.EntityType) (plan.Rel, error) {
	var spanning []plan.Expr
	var walk func(rel plan.Rel) (plan.Rel, error)
	walk = func(rel plan.Rel) (plan.Rel, error) {
		switch r := rel.(type) {
		case *plan.Scan:
			local, outer, err := s.scanCondition(r, chain, entities)
			if err != nil {
				return nil, err
			}
			spanning = append(spanning, outer...)
			if local == nil {
				return r, nil
			}
			return &plan.Filter{Input: r, Predicate: local}, nil
		case *plan.Join:
			left, err := walk(r.Left)
			if err != nil {
				return nil, err
			}
			right, err := walk(r.Right)
			if err != nil {
				return nil, err
			}
			r.Left, r.Right = left, right
		}
		return rel, nil
	}
	if _, err := walk(top); err != nil {
		return nil, err
	}
	if len(spanning) > 0 {
		top.Condition = plan.And(append([]plan.Expr{top.Condition}, spanning...)...)
	}
	return top, nil
}

// chainScans returns the scans of the inner-join chain lowering builds for
// a per-type hierarchy, root unit first, or nil when rel is not one.
func chainScans(rel plan.Rel) []*plan.Scan {
	j, ok := rel.(*plan.Join)
	if !ok || j.Kind != plan.InnerJoin {
		return nil
	}
	right, ok := j.Right.(*plan.Scan)
	if !ok || right.Entity == nil {
		return nil
	}
	var left []*plan.Scan
	switch l := j.Left.(type) {
	case *plan.Scan:
		left = []*plan.Scan{l}
	case *plan.Join:
		left = chainScans(l)
	}
	units := right.Entity.StorageChain()
	if len(left) == 0 || len(units) != len(left)+1 {
		return nil
	}
	for i, sc := range left {
		if sc.Entity != units[i] {
			return nil
		}
	}
	return append(left, right)
}

// scanCondition builds the conjunction of the filter fragments local to one
// scan, or nil when no filter applies. With a chain, fragments reading
// columns of the other units are returned separately.
func (s *Splicer) scanCondition(scan *plan.Scan, chain []*plan.Scan, entities []*model.EntityType) (plan.Expr, []plan.Expr, error) {
	if scan.FiltersApplied || scan.Entity == nil {
		return nil, nil, nil
	}
	claimed := s.registry.Claimed(scan.Entity, entities)
	binding := compiler.Binding{Name: scan.Binding, Entity: scan.Entity, Space: plan.Store, Scan: scan, Chain: chain}

	var local, spanning []plan.Expr
	for _, def := range s.registry.Lookup(scan.Entity) {
		if claimed[def.Name] {
			continue
		}
		frag, ok, err := s.compiler.Fragment(def, binding)
		if err != nil {
			return nil, nil, fmt.Errorf("table %q: %w", scan.Table, err)
		}
		if !ok {
			s.logger.Debug("column filter skipped", "filter", def.Name, "column", def.Column, "table", scan.Table)
			continue
		}
		if readsOtherBinding(frag, scan.Binding) {
			spanning = append(spanning, frag)
			continue
		}
		local = append(local, frag)
	}
	return plan.And(local...), spanning, nil
}

func readsOtherBinding(e plan.Expr, binding string) bool {
	other := false
	plan.WalkExpr(e, func(x plan.Expr) {
		if ref, ok := x.(*plan.ColumnRef); ok && ref.Binding != binding {
			other = true
		}
	})
	return other
}
