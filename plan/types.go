package plan

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"dynfilter/internal/domain"
)

// Kind is a primitive plan-level value type.
type Kind int

// Primitive kinds understood by the plan and its SQL lowering.
const (
	KindUnknown Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBinary
	KindDateTime
	KindGuid
)

var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindBool:     "bool",
	KindInt8:     "int8",
	KindInt16:    "int16",
	KindInt32:    "int32",
	KindInt64:    "int64",
	KindUint8:    "uint8",
	KindUint16:   "uint16",
	KindUint32:   "uint32",
	KindUint64:   "uint64",
	KindFloat32:  "float32",
	KindFloat64:  "float64",
	KindString:   "string",
	KindBinary:   "binary",
	KindDateTime: "datetime",
	KindGuid:     "guid",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsNumeric reports whether k is an integer or floating-point kind.
func (k Kind) IsNumeric() bool {
	return k >= KindInt8 && k <= KindFloat64
}

// Type is a plan-level value type: a primitive kind plus a nullable facet.
type Type struct {
	Kind     Kind
	Nullable bool
}

func (t Type) String() string {
	if t.Nullable {
		return t.Kind.String() + "?"
	}
	return t.Kind.String()
}

// AsNullable returns t with the nullable facet set.
func (t Type) AsNullable() Type {
	t.Nullable = true
	return t
}

// Common types.
var (
	Bool         = Type{Kind: KindBool}
	NullableBool = Type{Kind: KindBool, Nullable: true}
	Int64        = Type{Kind: KindInt64}
	String       = Type{Kind: KindString}
)

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// TypeFor infers the plan type of a Go type. Pointer types unwrap to their
// element type and carry the nullable facet. Slices other than []byte are not
// scalar and are rejected; use ElemTypeFor for collection parameters.
func TypeFor(rt reflect.Type) (Type, error) {
	if rt == nil {
		return Type{}, domain.ErrUnhandledType("<nil>")
	}
	nullable := false
	if rt.Kind() == reflect.Pointer {
		nullable = true
		rt = rt.Elem()
	}
	kind, err := kindFor(rt)
	if err != nil {
		return Type{}, err
	}
	return Type{Kind: kind, Nullable: nullable}, nil
}

// ElemTypeFor infers the plan type of the elements of a collection type.
func ElemTypeFor(rt reflect.Type) (Type, error) {
	if rt == nil || (rt.Kind() != reflect.Slice && rt.Kind() != reflect.Array) {
		return Type{}, domain.ErrUnhandledType(typeName(rt))
	}
	return TypeFor(rt.Elem())
}

func kindFor(rt reflect.Type) (Kind, error) {
	switch rt {
	case timeType:
		return KindDateTime, nil
	case uuidType:
		return KindGuid, nil
	}
	switch rt.Kind() {
	case reflect.Bool:
		return KindBool, nil
	case reflect.Int8:
		return KindInt8, nil
	case reflect.Int16:
		return KindInt16, nil
	case reflect.Int32:
		return KindInt32, nil
	case reflect.Int, reflect.Int64:
		return KindInt64, nil
	case reflect.Uint8:
		return KindUint8, nil
	case reflect.Uint16:
		return KindUint16, nil
	case reflect.Uint32:
		return KindUint32, nil
	case reflect.Uint, reflect.Uint64:
		return KindUint64, nil
	case reflect.Float32:
		return KindFloat32, nil
	case reflect.Float64:
		return KindFloat64, nil
	case reflect.String:
		return KindString, nil
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return KindBinary, nil
		}
	}
	return KindUnknown, domain.ErrUnhandledType(typeName(rt))
}

func typeName(rt reflect.Type) string {
	if rt == nil {
		return "<nil>"
	}
	return rt.String()
}
