// Package query is the conceptual plan: entity extents, predicates over
// object-model members, and navigation accesses, before the entities are
// mapped onto their storage units. Lower turns a conceptual tree into a
// store-level plan.Tree.
package query

import (
	"dynfilter/model"
	"dynfilter/plan"
)

// Rel is a conceptual relational node.
type Rel interface{ queryRel() }

// Tree is a conceptual query.
type Tree struct {
	Root Rel
}

// DataSpace reports plan.Conceptual.
func (t *Tree) DataSpace() plan.DataSpace { return plan.Conceptual }

// Extent is the full set of rows of an entity type. Column references in
// predicates over the extent use Binding and property names.
type Extent struct {
	Entity  *model.EntityType
	Binding string
	// Filtered marks an extent whose dynamic filters were already decided
	// at this level; its storage scans are not filtered again.
	Filtered bool
}

// Where keeps the rows of Input satisfying Predicate.
type Where struct {
	Input     Rel
	Predicate plan.Expr
}

// OrderBy sorts Input.
type OrderBy struct {
	Input Rel
	Keys  []plan.SortKey
}

// Take keeps the first Count rows of Input.
type Take struct {
	Input Rel
	Count int
}

// Navigate is a navigation-property access: the related rows of the row
// bound to Parent.
type Navigate struct {
	Parent     string
	Source     *model.EntityType
	Navigation model.Navigation
	Binding    string
	Filtered   bool
}

// Target returns the entity type the navigation leads to.
func (n *Navigate) Target() *model.EntityType {
	return n.Source.Model().MustEntity(n.Navigation.Target)
}

// Element reduces Input to at most one row, the first one.
type Element struct {
	Input Rel
}

// Include attaches related rows to the rows of Input. Child produces the
// related rows: initially Nav itself, after rewriting a filtered source such
// as Where{Nav} or Element{Take{Where{Extent}}}.
type Include struct {
	Input Rel
	Nav   *Navigate
	Child Rel
}

func (*Extent) queryRel()   {}
func (*Where) queryRel()    {}
func (*OrderBy) queryRel()  {}
func (*Take) queryRel()     {}
func (*Navigate) queryRel() {}
func (*Element) queryRel()  {}
func (*Include) queryRel()  {}

// Includes returns the Include nodes of the spine of rel, outermost first.
func Includes(rel Rel) []*Include {
	var out []*Include
	for {
		inc, ok := rel.(*Include)
		if !ok {
			return out
		}
		out = append(out, inc)
		rel = inc.Input
	}
}

// RootExtent returns the extent the spine of rel is built on, or nil.
func RootExtent(rel Rel) *Extent {
	for rel != nil {
		switch r := rel.(type) {
		case *Extent:
			return r
		case *Where:
			rel = r.Input
		case *OrderBy:
			rel = r.Input
		case *Take:
			rel = r.Input
		case *Include:
			rel = r.Input
		case *Element:
			rel = r.Input
		default:
			return nil
		}
	}
	return nil
}

// Clone returns a copy of t that can be rewritten without affecting t.
// Expressions are shared; they are never modified in place.
func (t *Tree) Clone() *Tree {
	c := cloner{seen: make(map[Rel]Rel)}
	return &Tree{Root: c.rel(t.Root)}
}

type cloner struct {
	seen map[Rel]Rel
}

func (c cloner) rel(rel Rel) Rel {
	if rel == nil {
		return nil
	}
	if out, ok := c.seen[rel]; ok {
		return out
	}
	var out Rel
	switch r := rel.(type) {
	case *Extent:
		cp := *r
		out = &cp
	case *Navigate:
		cp := *r
		out = &cp
	case *Where:
		out = &Where{Input: c.rel(r.Input), Predicate: r.Predicate}
	case *OrderBy:
		out = &OrderBy{Input: c.rel(r.Input), Keys: r.Keys}
	case *Take:
		out = &Take{Input: c.rel(r.Input), Count: r.Count}
	case *Element:
		out = &Element{Input: c.rel(r.Input)}
	case *Include:
		out = &Include{Input: c.rel(r.Input), Nav: c.rel(r.Nav).(*Navigate), Child: c.rel(r.Child)}
	default:
		out = rel
	}
	c.seen[rel] = out
	return out
}
