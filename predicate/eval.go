package predicate

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"dynfilter/internal/domain"
)

// truth is a SQL three-valued boolean.
type truth int

const (
	unknown truth = iota
	no
	yes
)

func truthOf(b bool) truth {
	if b {
		return yes
	}
	return no
}

// Eval evaluates fn against an in-memory row (property name to value) and
// resolved parameter values, with the same semantics as the translated
// filter: a comparison or membership test against a nil parameter is
// satisfied, comparisons with a null column are unknown, and an unknown
// result rejects the row.
func Eval(fn *Func, row map[string]any, params map[string]any) (bool, error) {
	e := &evaluator{row: row, params: params}
	t, err := e.truth(fn.Body)
	if err != nil {
		return false, err
	}
	return t == yes, nil
}

type evaluator struct {
	row    map[string]any
	params map[string]any
}

func (e *evaluator) truth(n Node) (truth, error) {
	switch x := n.(type) {
	case *Binary:
		if x.Op.IsLogical() {
			return e.logical(x)
		}
		return e.compare(x)
	case *Unary:
		if x.Op != OpNot {
			break
		}
		t, err := e.truth(x.Operand)
		if err != nil {
			return unknown, err
		}
		switch t {
		case yes:
			return no, nil
		case no:
			return yes, nil
		}
		return unknown, nil
	case *Call:
		return e.call(x)
	}
	v, err := e.value(n)
	if err != nil {
		return unknown, err
	}
	if v == nil {
		return unknown, nil
	}
	b, ok := v.(bool)
	if !ok {
		return unknown, fmt.Errorf("%s is not boolean", Kind(n))
	}
	return truthOf(b), nil
}

func (e *evaluator) logical(b *Binary) (truth, error) {
	l, err := e.truth(b.Left)
	if err != nil {
		return unknown, err
	}
	r, err := e.truth(b.Right)
	if err != nil {
		return unknown, err
	}
	if b.Op == OpAndAlso {
		switch {
		case l == no || r == no:
			return no, nil
		case l == yes && r == yes:
			return yes, nil
		}
		return unknown, nil
	}
	switch {
	case l == yes || r == yes:
		return yes, nil
	case l == no && r == no:
		return no, nil
	}
	return unknown, nil
}

func (e *evaluator) compare(b *Binary) (truth, error) {
	if !b.Op.IsComparison() {
		return unknown, domain.ErrNotImplemented("binary operator %s", b.Op)
	}
	if e.nilParam(b.Left) || e.nilParam(b.Right) {
		return yes, nil
	}
	if isNullConstant(b.Left) || isNullConstant(b.Right) {
		other := b.Left
		if isNullConstant(b.Left) {
			other = b.Right
		}
		v, err := e.value(other)
		if err != nil {
			return unknown, err
		}
		if b.Op == OpEqual {
			return truthOf(v == nil), nil
		}
		return truthOf(v != nil), nil
	}
	l, err := e.value(b.Left)
	if err != nil {
		return unknown, err
	}
	r, err := e.value(b.Right)
	if err != nil {
		return unknown, err
	}
	if l == nil || r == nil {
		return unknown, nil
	}
	c, err := compareValues(l, r)
	if err != nil {
		return unknown, err
	}
	switch b.Op {
	case OpEqual:
		return truthOf(c == 0), nil
	case OpNotEqual:
		return truthOf(c != 0), nil
	case OpGreater:
		return truthOf(c > 0), nil
	case OpGreaterEqual:
		return truthOf(c >= 0), nil
	case OpLess:
		return truthOf(c < 0), nil
	default:
		return truthOf(c <= 0), nil
	}
}

func (e *evaluator) call(c *Call) (truth, error) {
	if p, ok := c.Target.(*Param); ok && isCollection(p.Type) {
		list := e.params[p.Name]
		if list == nil {
			return yes, nil
		}
		rv := reflect.ValueOf(list)
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return yes, nil
		}
		v, err := e.value(c.Args[0])
		if err != nil {
			return unknown, err
		}
		if v == nil {
			return unknown, nil
		}
		for i := 0; i < rv.Len(); i++ {
			cmp, err := compareValues(v, rv.Index(i).Interface())
			if err != nil {
				return unknown, err
			}
			if cmp == 0 {
				return yes, nil
			}
		}
		return no, nil
	}

	if e.nilParam(c.Target) || e.nilParam(c.Args[0]) {
		return yes, nil
	}
	target, err := e.value(c.Target)
	if err != nil {
		return unknown, err
	}
	arg, err := e.value(c.Args[0])
	if err != nil {
		return unknown, err
	}
	if target == nil || arg == nil {
		return unknown, nil
	}
	s, ok1 := deref(target).(string)
	sub, ok2 := deref(arg).(string)
	if !ok1 || !ok2 {
		return unknown, domain.ErrNotImplemented("method call %s on %T", c.Method, target)
	}
	switch c.Method {
	case MethodStartsWith:
		return truthOf(strings.HasPrefix(s, sub)), nil
	case MethodEndsWith:
		return truthOf(strings.HasSuffix(s, sub)), nil
	case MethodContains:
		return truthOf(strings.Contains(s, sub)), nil
	}
	return unknown, domain.ErrNotImplemented("method call %s", c.Method)
}

func (e *evaluator) nilParam(n Node) bool {
	p, ok := n.(*Param)
	if !ok {
		return false
	}
	return deref(e.params[p.Name]) == nil
}

func (e *evaluator) value(n Node) (any, error) {
	switch x := n.(type) {
	case *Member:
		if x.Instance != nil {
			return nil, domain.ErrNotImplemented("nested member %s", x.Name)
		}
		return deref(e.row[x.Name]), nil
	case *Param:
		return deref(e.params[x.Name]), nil
	case *Constant:
		return deref(x.Value), nil
	case *Unary:
		if x.Op == OpNot {
			t, err := e.truth(x)
			if err != nil || t == unknown {
				return nil, err
			}
			return t == yes, nil
		}
		if x.Op != OpConvert {
			return nil, domain.ErrNotImplemented("unary operator %s", x.Op)
		}
		v, err := e.value(x.Operand)
		if err != nil || v == nil {
			return nil, err
		}
		return convertValue(v, x.To)
	case *Binary, *Call:
		t, err := e.truth(x)
		if err != nil || t == unknown {
			return nil, err
		}
		return t == yes, nil
	}
	return nil, domain.ErrNotImplemented("%s", Kind(n))
}

// deref unwraps pointers; a nil pointer becomes nil.
func deref(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func convertValue(v any, to reflect.Type) (any, error) {
	if to.Kind() == reflect.Pointer {
		to = to.Elem()
	}
	rv := reflect.ValueOf(v)
	if !rv.Type().ConvertibleTo(to) {
		return nil, fmt.Errorf("cannot convert %T to %s", v, to)
	}
	return rv.Convert(to).Interface(), nil
}

// compareValues orders two non-nil scalar values. Numbers of different
// widths compare by value.
func compareValues(a, b any) (int, error) {
	a, b = deref(a), deref(b)
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return strings.Compare(av, bv), nil
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		if av == bv {
			return 0, nil
		}
		if !av {
			return -1, nil
		}
		return 1, nil
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return av.Compare(bv), nil
	case uuid.UUID:
		bv, ok := b.(uuid.UUID)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return bytes.Compare(av[:], bv[:]), nil
	case []byte:
		bv, ok := b.([]byte)
		if !ok {
			return 0, fmt.Errorf("cannot compare %T with %T", a, b)
		}
		return bytes.Compare(av, bv), nil
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
