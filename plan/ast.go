// Package plan is the store-level logical query plan the filter engine
// rewrites: relational operators over table scans and the scalar
// expressions they carry.
package plan

import (
	"fmt"

	"dynfilter/model"
)

// Node is the base interface for all plan nodes.
type Node interface {
	node()
}

// Expr is a marker interface for scalar expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Rel is a marker interface for relational operator nodes.
type Rel interface {
	Node
	relNode()
}

// DataSpace names which plan representation an expression is built for.
type DataSpace int

// Data spaces. Conceptual expressions reference properties by their object
// model name; store expressions reference columns.
const (
	Store DataSpace = iota
	Conceptual
)

func (s DataSpace) String() string {
	if s == Conceptual {
		return "conceptual"
	}
	return "store"
}

// Tree is a store-level plan ready for SQL lowering.
type Tree struct {
	Root Rel
}

// DataSpace reports Store.
func (*Tree) DataSpace() DataSpace { return Store }

// ---------------------------------------------------------------------------
// Relational operators
// ---------------------------------------------------------------------------

// Column is one column produced by a scan.
type Column struct {
	Name string
	Type Type
}

// Scan reads one table. FiltersApplied marks a scan whose filters have
// already been attached by the conceptual pass.
type Scan struct {
	Entity         *model.EntityType
	Table          string
	Binding        string
	Columns        []Column
	FiltersApplied bool
}

// HasColumn reports whether the scan produces the named column.
func (s *Scan) HasColumn(name string) bool {
	_, ok := s.Column(name)
	return ok
}

// Column returns the named column.
func (s *Scan) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Filter keeps the input rows for which Predicate is true.
type Filter struct {
	Input     Rel
	Predicate Expr
}

// ProjectColumn is one output column of a projection.
type ProjectColumn struct {
	Name string
	Expr Expr
}

// Project computes output columns from its input.
type Project struct {
	Input   Rel
	Columns []ProjectColumn
}

// JoinKind selects the join semantics.
type JoinKind int

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
	// LeftLateralJoin evaluates Right once per Left row with Left's
	// bindings in scope; rows without a match keep NULLs.
	LeftLateralJoin
)

func (k JoinKind) String() string {
	switch k {
	case InnerJoin:
		return "JOIN"
	case LeftJoin:
		return "LEFT JOIN"
	case LeftLateralJoin:
		return "LEFT JOIN LATERAL"
	default:
		return fmt.Sprintf("JoinKind(%d)", int(k))
	}
}

// Join combines two inputs.
type Join struct {
	Kind        JoinKind
	Left, Right Rel
	Condition   Expr // nil means TRUE
}

// Limit keeps at most Count rows.
type Limit struct {
	Input Rel
	Count int
}

// SortKey is one ORDER BY term.
type SortKey struct {
	Expr Expr
	Desc bool
}

// Sort orders its input.
type Sort struct {
	Input Rel
	Keys  []SortKey
}

func (*Scan) node()    {}
func (*Filter) node()  {}
func (*Project) node() {}
func (*Join) node()    {}
func (*Limit) node()   {}
func (*Sort) node()    {}

func (*Scan) relNode()    {}
func (*Filter) relNode()  {}
func (*Project) relNode() {}
func (*Join) relNode()    {}
func (*Limit) relNode()   {}
func (*Sort) relNode()    {}

// ---------------------------------------------------------------------------
// Scalar expressions
// ---------------------------------------------------------------------------

// ColumnRef references a column (store space) or property (conceptual
// space) of a binding.
type ColumnRef struct {
	Binding string
	Column  string
	Type    Type
}

// Param is a named query parameter. Collection parameters hold a list of
// Type values and are expanded when values are bound.
type Param struct {
	Name       string
	Type       Type
	Collection bool
}

// Constant is a literal. A nil Value is a typed NULL.
type Constant struct {
	Value any
	Type  Type
}

// CompareOp is a comparison operator.
type CompareOp int

// Comparison operators.
const (
	OpEq CompareOp = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
)

func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	default:
		return fmt.Sprintf("CompareOp(%d)", int(op))
	}
}

// Comparison compares two values.
type Comparison struct {
	Op          CompareOp
	Left, Right Expr
}

// LogicalOp is AND or OR.
type LogicalOp int

// Logical operators.
const (
	OpAnd LogicalOp = iota
	OpOr
)

func (op LogicalOp) String() string {
	if op == OpOr {
		return "OR"
	}
	return "AND"
}

// Logical combines two or more boolean operands.
type Logical struct {
	Op   LogicalOp
	Args []Expr
}

// Not negates a boolean expression.
type Not struct {
	Expr Expr
}

// IsNull tests for SQL NULL.
type IsNull struct {
	Expr Expr
}

// Cast converts a value to Type.
type Cast struct {
	Expr Expr
	Type Type
}

// LikeMode selects which end of the string a Like pattern is anchored to.
type LikeMode int

// Like modes.
const (
	LikePrefix LikeMode = iota
	LikeSuffix
	LikeSubstring
)

// Like is a string pattern test whose pattern is built from a value
// expression, so parameters stay bound rather than inlined.
type Like struct {
	Expr    Expr
	Pattern Expr
	Mode    LikeMode
}

func (*ColumnRef) node()  {}
func (*Param) node()      {}
func (*Constant) node()   {}
func (*Comparison) node() {}
func (*Logical) node()    {}
func (*Not) node()        {}
func (*IsNull) node()     {}
func (*Cast) node()       {}
func (*Like) node()       {}

func (*ColumnRef) exprNode()  {}
func (*Param) exprNode()      {}
func (*Constant) exprNode()   {}
func (*Comparison) exprNode() {}
func (*Logical) exprNode()    {}
func (*Not) exprNode()        {}
func (*IsNull) exprNode()     {}
func (*Cast) exprNode()       {}
func (*Like) exprNode()       {}

// And combines expressions with AND, flattening nested ANDs and dropping
// nils. It returns nil when nothing remains.
func And(exprs ...Expr) Expr {
	return combine(OpAnd, exprs)
}

// Or combines expressions with OR, flattening nested ORs and dropping nils.
func Or(exprs ...Expr) Expr {
	return combine(OpOr, exprs)
}

func combine(op LogicalOp, exprs []Expr) Expr {
	var args []Expr
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if l, ok := e.(*Logical); ok && l.Op == op {
			args = append(args, l.Args...)
			continue
		}
		args = append(args, e)
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	}
	return &Logical{Op: op, Args: args}
}

// TypeOf returns the result type of an expression.
func TypeOf(e Expr) Type {
	switch x := e.(type) {
	case *ColumnRef:
		return x.Type
	case *Param:
		return x.Type.AsNullable()
	case *Constant:
		return x.Type
	case *Cast:
		return x.Type
	case *Comparison, *Logical, *Not, *Like:
		return NullableBool
	case *IsNull:
		return Bool
	}
	return Type{}
}
