package predicate

import "reflect"

// Method names understood by the string and collection translators.
const (
	MethodStartsWith = "StartsWith"
	MethodEndsWith   = "EndsWith"
	MethodContains   = "Contains"
)

// Lambda declares a predicate over entity with the given body and
// parameters.
func Lambda(entity string, body Node, params ...*Param) *Func {
	return &Func{Entity: entity, Params: params, Body: body}
}

// Field reads a property of the filtered entity.
func Field(name string) *Member {
	return &Member{Name: name}
}

// FieldOf reads a property through another member, e.g. a navigation.
func FieldOf(instance Node, name string) *Member {
	return &Member{Instance: instance, Name: name}
}

// NewParam declares a parameter of type T. Pointer types are nullable;
// slice types (other than []byte) are collection parameters.
func NewParam[T any](name string) *Param {
	return &Param{Name: name, Type: reflect.TypeFor[T]()}
}

// Const wraps a literal value.
func Const(v any) *Constant {
	return &Constant{Value: v, Type: reflect.TypeOf(v)}
}

// Null is a typed null of type T, which should be a pointer type.
func Null[T any]() *Constant {
	return &Constant{Type: reflect.TypeFor[T]()}
}

// Eq builds l == r.
func Eq(l, r Node) *Binary { return &Binary{Op: OpEqual, Left: l, Right: r} }

// Ne builds l != r.
func Ne(l, r Node) *Binary { return &Binary{Op: OpNotEqual, Left: l, Right: r} }

// Gt builds l > r.
func Gt(l, r Node) *Binary { return &Binary{Op: OpGreater, Left: l, Right: r} }

// Ge builds l >= r.
func Ge(l, r Node) *Binary { return &Binary{Op: OpGreaterEqual, Left: l, Right: r} }

// Lt builds l < r.
func Lt(l, r Node) *Binary { return &Binary{Op: OpLess, Left: l, Right: r} }

// Le builds l <= r.
func Le(l, r Node) *Binary { return &Binary{Op: OpLessEqual, Left: l, Right: r} }

// And folds the operands with &&.
func And(first Node, rest ...Node) Node {
	out := first
	for _, n := range rest {
		out = &Binary{Op: OpAndAlso, Left: out, Right: n}
	}
	return out
}

// Or folds the operands with ||.
func Or(first Node, rest ...Node) Node {
	out := first
	for _, n := range rest {
		out = &Binary{Op: OpOrElse, Left: out, Right: n}
	}
	return out
}

// BinaryOf builds an arbitrary binary node.
func BinaryOf(op BinaryOp, l, r Node) *Binary { return &Binary{Op: op, Left: l, Right: r} }

// Not builds !n.
func Not(n Node) *Unary { return &Unary{Op: OpNot, Operand: n} }

// Convert converts n to T.
func Convert[T any](n Node) *Unary {
	return &Unary{Op: OpConvert, Operand: n, To: reflect.TypeFor[T]()}
}

// StartsWith builds target.StartsWith(prefix) on strings.
func StartsWith(target, prefix Node) *Call {
	return &Call{Method: MethodStartsWith, Target: target, Args: []Node{prefix}}
}

// EndsWith builds target.EndsWith(suffix) on strings.
func EndsWith(target, suffix Node) *Call {
	return &Call{Method: MethodEndsWith, Target: target, Args: []Node{suffix}}
}

// Contains builds target.Contains(arg). On a string target it is a substring
// test; on a collection parameter it is a membership test.
func Contains(target, arg Node) *Call {
	return &Call{Method: MethodContains, Target: target, Args: []Node{arg}}
}

// In is membership of value in a collection parameter.
func In(value Node, collection *Param) *Call {
	return Contains(collection, value)
}

// Method builds an arbitrary method call.
func Method(target Node, name string, args ...Node) *Call {
	return &Call{Method: name, Target: target, Args: args}
}

// If builds test ? then : otherwise.
func If(test, then, otherwise Node) *Conditional {
	return &Conditional{Test: test, Then: then, Else: otherwise}
}
