package predicate

import (
	"encoding/base64"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"dynfilter/internal/domain"
	"dynfilter/model"
)

// FuncDoc is a predicate as data. It is the unit stored in filter snapshots
// and is recompiled after loading.
type FuncDoc struct {
	Entity string     `yaml:"entity" msgpack:"entity"`
	Params []ParamDoc `yaml:"params,omitempty" msgpack:"params,omitempty"`
	Body   *Doc       `yaml:"body" msgpack:"body"`
}

// ParamDoc declares a predicate parameter by name and type name.
type ParamDoc struct {
	Name string `yaml:"name" msgpack:"name"`
	Type string `yaml:"type" msgpack:"type"`
}

// Doc kinds.
const (
	DocBinary   = "binary"
	DocUnary    = "unary"
	DocMember   = "member"
	DocParam    = "param"
	DocConstant = "const"
	DocCall     = "call"
)

// Doc is one predicate node as data. Args holds the operands in source
// order: left/right for binary nodes, the operand for unary nodes, the
// instance for a nested member, and target then arguments for calls.
type Doc struct {
	Kind  string `yaml:"kind" msgpack:"kind"`
	Op    string `yaml:"op,omitempty" msgpack:"op,omitempty"`
	Name  string `yaml:"name,omitempty" msgpack:"name,omitempty"`
	Type  string `yaml:"type,omitempty" msgpack:"type,omitempty"`
	Value any    `yaml:"value" msgpack:"value"`
	Args  []*Doc `yaml:"args,omitempty" msgpack:"args,omitempty"`
}

// ToDoc converts a predicate to its data form.
func ToDoc(fn *Func) (*FuncDoc, error) {
	out := &FuncDoc{Entity: fn.Entity}
	for _, p := range fn.Params {
		name := model.TypeName(p.Type)
		if name == "" {
			return nil, domain.ErrUnhandledType(typeString(p.Type))
		}
		out.Params = append(out.Params, ParamDoc{Name: p.Name, Type: name})
	}
	body, err := toDoc(fn.Body)
	if err != nil {
		return nil, err
	}
	out.Body = body
	return out, nil
}

func toDoc(n Node) (*Doc, error) {
	switch x := n.(type) {
	case *Binary:
		l, err := toDoc(x.Left)
		if err != nil {
			return nil, err
		}
		r, err := toDoc(x.Right)
		if err != nil {
			return nil, err
		}
		return &Doc{Kind: DocBinary, Op: x.Op.String(), Args: []*Doc{l, r}}, nil
	case *Unary:
		operand, err := toDoc(x.Operand)
		if err != nil {
			return nil, err
		}
		d := &Doc{Kind: DocUnary, Op: x.Op.String(), Args: []*Doc{operand}}
		if x.Op == OpConvert {
			d.Type = model.TypeName(x.To)
			if d.Type == "" {
				return nil, domain.ErrUnhandledType(typeString(x.To))
			}
		}
		return d, nil
	case *Member:
		d := &Doc{Kind: DocMember, Name: x.Name}
		if x.Instance != nil {
			inst, err := toDoc(x.Instance)
			if err != nil {
				return nil, err
			}
			d.Args = []*Doc{inst}
		}
		return d, nil
	case *Param:
		return &Doc{Kind: DocParam, Name: x.Name}, nil
	case *Constant:
		typ := x.Type
		if typ == nil {
			typ = reflect.TypeOf(x.Value)
		}
		name := model.TypeName(typ)
		if name == "" {
			return nil, domain.ErrUnhandledType(typeString(typ))
		}
		return &Doc{Kind: DocConstant, Type: name, Value: EncodeValue(deref(x.Value))}, nil
	case *Call:
		target, err := toDoc(x.Target)
		if err != nil {
			return nil, err
		}
		d := &Doc{Kind: DocCall, Name: x.Method, Args: []*Doc{target}}
		for _, a := range x.Args {
			ad, err := toDoc(a)
			if err != nil {
				return nil, err
			}
			d.Args = append(d.Args, ad)
		}
		return d, nil
	}
	return nil, domain.ErrNotImplemented("%s", Kind(n))
}

// EncodeValue maps a constant onto the value set both YAML and msgpack
// round-trip without loss.
func EncodeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return x.String()
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

// FromDoc rebuilds a predicate from its data form. The result still has to
// go through Validate before use.
func FromDoc(d *FuncDoc) (*Func, error) {
	if d == nil || d.Body == nil {
		return nil, domain.ErrConfiguration("predicate document has no body")
	}
	fn := &Func{Entity: d.Entity}
	for _, pd := range d.Params {
		rt, ok := model.TypeByName(pd.Type)
		if !ok {
			return nil, domain.ErrUnhandledType(pd.Type)
		}
		fn.Params = append(fn.Params, &Param{Name: pd.Name, Type: rt})
	}
	body, err := fromDoc(d.Body)
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

var (
	binaryOpsByName = func() map[string]BinaryOp {
		out := make(map[string]BinaryOp, len(binaryOpNames))
		for op, name := range binaryOpNames {
			out[name] = op
		}
		return out
	}()
	unaryOpsByName = map[string]UnaryOp{
		OpNot.String():     OpNot,
		OpConvert.String(): OpConvert,
		OpNegate.String():  OpNegate,
	}
)

func fromDoc(d *Doc) (Node, error) {
	if d == nil {
		return nil, domain.ErrConfiguration("predicate document contains an empty node")
	}
	args := make([]Node, len(d.Args))
	for i, a := range d.Args {
		n, err := fromDoc(a)
		if err != nil {
			return nil, err
		}
		args[i] = n
	}

	switch d.Kind {
	case DocBinary:
		op, ok := binaryOpsByName[d.Op]
		if !ok || len(args) != 2 {
			return nil, domain.ErrConfiguration("malformed binary node %q", d.Op)
		}
		return &Binary{Op: op, Left: args[0], Right: args[1]}, nil
	case DocUnary:
		op, ok := unaryOpsByName[d.Op]
		if !ok || len(args) != 1 {
			return nil, domain.ErrConfiguration("malformed unary node %q", d.Op)
		}
		u := &Unary{Op: op, Operand: args[0]}
		if op == OpConvert {
			rt, ok := model.TypeByName(d.Type)
			if !ok {
				return nil, domain.ErrUnhandledType(d.Type)
			}
			u.To = rt
		}
		return u, nil
	case DocMember:
		m := &Member{Name: d.Name}
		if len(args) > 0 {
			m.Instance = args[0]
		}
		return m, nil
	case DocParam:
		return &Param{Name: d.Name}, nil
	case DocConstant:
		rt, ok := model.TypeByName(d.Type)
		if !ok {
			return nil, domain.ErrUnhandledType(d.Type)
		}
		v, err := CoerceValue(d.Value, rt)
		if err != nil {
			return nil, err
		}
		return &Constant{Value: v, Type: rt}, nil
	case DocCall:
		if len(args) == 0 {
			return nil, domain.ErrConfiguration("call %q has no target", d.Name)
		}
		return &Call{Method: d.Name, Target: args[0], Args: args[1:]}, nil
	}
	return nil, domain.ErrNotImplemented("document node kind %q", d.Kind)
}

// CoerceValue coerces a decoded document value to rt. Pointer types yield a
// pointer to the coerced value, or nil.
func CoerceValue(v any, rt reflect.Type) (any, error) {
	if v == nil {
		if rt.Kind() != reflect.Pointer {
			return nil, domain.ErrConfiguration("null constant of non-nullable type %s", rt)
		}
		return nil, nil
	}
	if rt.Kind() == reflect.Pointer {
		inner, err := CoerceValue(v, rt.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(rt.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface(), nil
	}
	if isCollection(rt) {
		src := reflect.ValueOf(v)
		if src.Kind() != reflect.Slice {
			return nil, domain.ErrConfiguration("value %v (%T) is not a list", v, v)
		}
		out := reflect.MakeSlice(rt, 0, src.Len())
		for i := 0; i < src.Len(); i++ {
			elem, err := CoerceValue(src.Index(i).Interface(), rt.Elem())
			if err != nil {
				return nil, err
			}
			out = reflect.Append(out, reflect.ValueOf(elem))
		}
		return out.Interface(), nil
	}

	switch rt {
	case reflect.TypeFor[time.Time]():
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("decode time constant: %w", err)
			}
			return t, nil
		}
	case reflect.TypeFor[uuid.UUID]():
		if s, ok := v.(string); ok {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("decode uuid constant: %w", err)
			}
			return id, nil
		}
	case reflect.TypeFor[[]byte]():
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return nil, fmt.Errorf("decode bytes constant: %w", err)
			}
			return b, nil
		}
	}

	rv := reflect.ValueOf(v)
	if rv.Type() == rt {
		return v, nil
	}
	_, srcNumeric := toFloat(v)
	dstNumeric := rt.Kind() >= reflect.Int && rt.Kind() <= reflect.Float64
	if srcNumeric && dstNumeric && rv.Type().ConvertibleTo(rt) {
		return rv.Convert(rt).Interface(), nil
	}
	return nil, domain.ErrConfiguration("constant %v (%T) does not fit type %s", v, v, rt)
}
