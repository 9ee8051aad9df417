// Package predicate is the abstract filter predicate language: a closed set of
// node kinds built through a typed API, validated when a filter is declared,
// and translated into plan expressions at query compilation.
package predicate

import (
	"fmt"
	"reflect"
)

// Node is the base interface for all predicate nodes.
type Node interface {
	node()
}

// BinaryOp is a binary operator.
type BinaryOp int

// Binary operators. Only comparisons and the two short-circuit logical
// operators are translatable; the arithmetic and bitwise operators exist so
// that a declaration using them fails with a named error.
const (
	OpEqual BinaryOp = iota
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpAndAlso
	OpOrElse
	OpAdd
	OpSubtract
	OpMultiply
	OpBitAnd
	OpBitOr
)

var binaryOpNames = map[BinaryOp]string{
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpAndAlso:      "&&",
	OpOrElse:       "||",
	OpAdd:          "+",
	OpSubtract:     "-",
	OpMultiply:     "*",
	OpBitAnd:       "&",
	OpBitOr:        "|",
}

func (op BinaryOp) String() string {
	if name, ok := binaryOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

// IsComparison reports whether op compares two values.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEqual && op <= OpLessEqual
}

// IsLogical reports whether op is && or ||.
func (op BinaryOp) IsLogical() bool {
	return op == OpAndAlso || op == OpOrElse
}

// UnaryOp is a unary operator.
type UnaryOp int

// Unary operators. OpNegate is not translatable.
const (
	OpNot UnaryOp = iota
	OpConvert
	OpNegate
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "!"
	case OpConvert:
		return "convert"
	case OpNegate:
		return "-"
	default:
		return fmt.Sprintf("UnaryOp(%d)", int(op))
	}
}

// Binary applies a binary operator.
type Binary struct {
	Op          BinaryOp
	Left, Right Node
}

// Unary applies a unary operator. To is the target type of OpConvert.
type Unary struct {
	Op      UnaryOp
	Operand Node
	To      reflect.Type
}

// Member reads a property. A nil Instance is the filtered entity itself;
// otherwise the member is read through another member (a navigation).
type Member struct {
	Instance Node
	Name     string
	Type     reflect.Type // resolved by Validate when nil
}

// Param is a free filter parameter.
type Param struct {
	Name string
	Type reflect.Type
}

// Constant is a literal value. A nil Value with a pointer Type is a typed null.
type Constant struct {
	Value any
	Type  reflect.Type
}

// Call invokes a method on Target.
type Call struct {
	Method string
	Target Node
	Args   []Node
}

// Conditional is a ternary expression. It is representable so that it can
// be rejected by name.
type Conditional struct {
	Test, Then, Else Node
}

func (*Binary) node()      {}
func (*Unary) node()       {}
func (*Member) node()      {}
func (*Param) node()       {}
func (*Constant) node()    {}
func (*Call) node()        {}
func (*Conditional) node() {}

// Func is a filter predicate: a boolean Body over an instance of Entity and
// the declared Params.
type Func struct {
	Entity string
	Params []*Param
	Body   Node
}

// Param returns the declared parameter with the given name.
func (f *Func) Param(name string) (*Param, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// ParamNames returns the declared parameter names in order.
func (f *Func) ParamNames() []string {
	names := make([]string, len(f.Params))
	for i, p := range f.Params {
		names[i] = p.Name
	}
	return names
}

// Walk calls fn for n and every node below it, depth first. Shared nodes are
// visited once per reference.
func Walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch x := n.(type) {
	case *Binary:
		Walk(x.Left, fn)
		Walk(x.Right, fn)
	case *Unary:
		Walk(x.Operand, fn)
	case *Member:
		Walk(x.Instance, fn)
	case *Call:
		Walk(x.Target, fn)
		for _, a := range x.Args {
			Walk(a, fn)
		}
	case *Conditional:
		Walk(x.Test, fn)
		Walk(x.Then, fn)
		Walk(x.Else, fn)
	}
}

// Kind names the node kind, for error messages.
func Kind(n Node) string {
	switch x := n.(type) {
	case *Binary:
		return "binary " + x.Op.String()
	case *Unary:
		return "unary " + x.Op.String()
	case *Member:
		return "member " + x.Name
	case *Param:
		return "parameter " + x.Name
	case *Constant:
		return "constant"
	case *Call:
		return "method call " + x.Method
	case *Conditional:
		return "conditional"
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%T", n)
	}
}
