package predicate

import (
	"reflect"

	"dynfilter/internal/domain"
	"dynfilter/plan"
)

// MemberResolver supplies member and navigation types while validating a
// predicate. *model.Model implements it.
type MemberResolver interface {
	MemberType(typeName, member string) (reflect.Type, bool)
	NavigationTarget(typeName, navigation string) (string, bool)
}

var boolType = reflect.TypeFor[bool]()

// Validate checks that fn is translatable: every node kind is supported,
// members resolve against fn.Entity, parameters are declared and named, and
// the body is boolean. Member types are filled in as a side effect.
//
// Construct errors are *domain.NotImplementedError; shape errors are
// *domain.ConfigurationError.
func Validate(fn *Func, resolver MemberResolver) error {
	if fn == nil || fn.Body == nil {
		return domain.ErrConfiguration("predicate has no body")
	}
	if fn.Entity == "" {
		return domain.ErrConfiguration("predicate has no entity parameter type")
	}

	declared := make(map[string]*Param, len(fn.Params))
	for _, p := range fn.Params {
		if p == nil || p.Name == "" {
			return domain.ErrConfiguration("predicate parameters must be named")
		}
		if _, dup := declared[p.Name]; dup {
			return domain.ErrConfiguration("duplicate predicate parameter %q", p.Name)
		}
		if err := checkParamType(p); err != nil {
			return err
		}
		declared[p.Name] = p
	}

	v := &validator{fn: fn, resolver: resolver, declared: declared}
	typ, err := v.check(fn.Body)
	if err != nil {
		return err
	}
	if !isBoolType(typ) {
		return domain.ErrConfiguration("predicate body must be boolean, got %s", typeString(typ))
	}
	return nil
}

type validator struct {
	fn       *Func
	resolver MemberResolver
	declared map[string]*Param
}

// check validates n and returns its Go type.
func (v *validator) check(n Node) (reflect.Type, error) {
	switch x := n.(type) {
	case *Binary:
		return v.checkBinary(x)
	case *Unary:
		return v.checkUnary(x)
	case *Member:
		return v.checkMember(x)
	case *Param:
		p, ok := v.declared[x.Name]
		if !ok {
			return nil, domain.ErrConfiguration("parameter %q is not declared", x.Name)
		}
		if x.Type == nil {
			x.Type = p.Type
		}
		return p.Type, nil
	case *Constant:
		return checkConstant(x)
	case *Call:
		return v.checkCall(x)
	case *Conditional:
		return nil, domain.ErrNotImplemented("conditional expression")
	case nil:
		return nil, domain.ErrConfiguration("predicate contains a nil node")
	default:
		return nil, domain.ErrNotImplemented("%s", Kind(n))
	}
}

func (v *validator) checkBinary(b *Binary) (reflect.Type, error) {
	if !b.Op.IsComparison() && !b.Op.IsLogical() {
		return nil, domain.ErrNotImplemented("binary operator %s", b.Op)
	}
	lt, err := v.check(b.Left)
	if err != nil {
		return nil, err
	}
	rt, err := v.check(b.Right)
	if err != nil {
		return nil, err
	}
	if b.Op.IsLogical() {
		if !isBoolType(lt) || !isBoolType(rt) {
			return nil, domain.ErrConfiguration("operator %s needs boolean operands", b.Op)
		}
		return boolType, nil
	}
	if isCollection(lt) || isCollection(rt) {
		return nil, domain.ErrConfiguration("collection parameters can only be used with Contains")
	}
	if !comparableOperands(b, lt, rt) {
		return nil, domain.ErrConfiguration("cannot compare %s with %s", typeString(lt), typeString(rt))
	}
	return boolType, nil
}

func (v *validator) checkUnary(u *Unary) (reflect.Type, error) {
	operand, err := v.check(u.Operand)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case OpNot:
		if !isBoolType(operand) {
			return nil, domain.ErrConfiguration("operator ! needs a boolean operand")
		}
		return boolType, nil
	case OpConvert:
		if u.To == nil {
			return nil, domain.ErrConfiguration("conversion has no target type")
		}
		if _, err := plan.TypeFor(u.To); err != nil {
			return nil, err
		}
		return u.To, nil
	default:
		return nil, domain.ErrNotImplemented("unary operator %s", u.Op)
	}
}

func (v *validator) checkMember(m *Member) (reflect.Type, error) {
	owner := v.fn.Entity
	if m.Instance != nil {
		inner, ok := m.Instance.(*Member)
		if !ok {
			return nil, domain.ErrNotImplemented("member access on %s", Kind(m.Instance))
		}
		target, err := v.navigationTarget(inner)
		if err != nil {
			return nil, err
		}
		owner = target
	}
	rt, ok := v.resolver.MemberType(owner, m.Name)
	if !ok {
		return nil, domain.ErrConfiguration("type %q has no member %q", owner, m.Name)
	}
	if m.Type != nil && m.Type != rt {
		return nil, domain.ErrConfiguration("member %q declared as %s but is %s", m.Name, typeString(m.Type), typeString(rt))
	}
	m.Type = rt
	return rt, nil
}

// navigationTarget resolves a member used as an instance to the entity it
// navigates to.
func (v *validator) navigationTarget(m *Member) (string, error) {
	owner := v.fn.Entity
	if m.Instance != nil {
		inner, ok := m.Instance.(*Member)
		if !ok {
			return "", domain.ErrNotImplemented("member access on %s", Kind(m.Instance))
		}
		target, err := v.navigationTarget(inner)
		if err != nil {
			return "", err
		}
		owner = target
	}
	target, ok := v.resolver.NavigationTarget(owner, m.Name)
	if !ok {
		return "", domain.ErrConfiguration("type %q has no navigation %q", owner, m.Name)
	}
	return target, nil
}

func (v *validator) checkCall(c *Call) (reflect.Type, error) {
	switch c.Method {
	case MethodStartsWith, MethodEndsWith, MethodContains:
	default:
		return nil, domain.ErrNotImplemented("method call %s", c.Method)
	}
	if len(c.Args) != 1 {
		return nil, domain.ErrConfiguration("%s takes one argument", c.Method)
	}
	target, err := v.check(c.Target)
	if err != nil {
		return nil, err
	}
	arg, err := v.check(c.Args[0])
	if err != nil {
		return nil, err
	}

	if isCollection(target) {
		if c.Method != MethodContains {
			return nil, domain.ErrNotImplemented("method call %s on a collection", c.Method)
		}
		if _, ok := c.Target.(*Param); !ok {
			return nil, domain.ErrNotImplemented("Contains on a collection %s", Kind(c.Target))
		}
		if !sameKind(target.Elem(), arg) {
			return nil, domain.ErrConfiguration("Contains element type %s does not match %s", typeString(target.Elem()), typeString(arg))
		}
		return boolType, nil
	}

	if !isStringType(target) || !isStringType(arg) {
		return nil, domain.ErrNotImplemented("method call %s on %s", c.Method, typeString(target))
	}
	return boolType, nil
}

func checkParamType(p *Param) error {
	if p.Type == nil {
		return domain.ErrConfiguration("parameter %q has no type", p.Name)
	}
	if isCollection(p.Type) {
		if _, err := plan.ElemTypeFor(p.Type); err != nil {
			return domain.ErrConfiguration("parameter %q: %v", p.Name, err)
		}
		return nil
	}
	if _, err := plan.TypeFor(p.Type); err != nil {
		return domain.ErrConfiguration("parameter %q: %v", p.Name, err)
	}
	return nil
}

func checkConstant(c *Constant) (reflect.Type, error) {
	typ := c.Type
	if typ == nil {
		typ = reflect.TypeOf(c.Value)
		c.Type = typ
	}
	if typ == nil {
		return nil, domain.ErrConfiguration("untyped null constant; use Null[T]")
	}
	if _, err := plan.TypeFor(typ); err != nil {
		return nil, err
	}
	return typ, nil
}

// TypeOf returns the Go type of a validated node.
func TypeOf(n Node) reflect.Type {
	switch x := n.(type) {
	case *Binary:
		return boolType
	case *Unary:
		if x.Op == OpConvert {
			return x.To
		}
		return boolType
	case *Member:
		return x.Type
	case *Param:
		return x.Type
	case *Constant:
		if x.Type != nil {
			return x.Type
		}
		return reflect.TypeOf(x.Value)
	case *Call:
		return boolType
	}
	return nil
}

// isCollection reports whether rt is a slice other than []byte.
func isCollection(rt reflect.Type) bool {
	return rt != nil && rt.Kind() == reflect.Slice && rt.Elem().Kind() != reflect.Uint8
}

func isBoolType(rt reflect.Type) bool {
	if rt == nil {
		return false
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Kind() == reflect.Bool
}

func isStringType(rt reflect.Type) bool {
	if rt == nil {
		return false
	}
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Kind() == reflect.String
}

// sameKind reports whether two Go types map to compatible plan kinds.
func sameKind(a, b reflect.Type) bool {
	at, err := plan.TypeFor(a)
	if err != nil {
		return false
	}
	bt, err := plan.TypeFor(b)
	if err != nil {
		return false
	}
	if at.Kind == bt.Kind {
		return true
	}
	return at.Kind.IsNumeric() && bt.Kind.IsNumeric()
}

func comparableOperands(b *Binary, lt, rt reflect.Type) bool {
	if isNullConstant(b.Left) || isNullConstant(b.Right) {
		return b.Op == OpEqual || b.Op == OpNotEqual
	}
	if !sameKind(lt, rt) {
		return false
	}
	if b.Op == OpEqual || b.Op == OpNotEqual {
		return true
	}
	kind, _ := plan.TypeFor(lt)
	return kind.Kind != plan.KindBool
}

func isNullConstant(n Node) bool {
	c, ok := n.(*Constant)
	return ok && c.Value == nil
}

func typeString(rt reflect.Type) string {
	if rt == nil {
		return "<nil>"
	}
	return rt.String()
}
