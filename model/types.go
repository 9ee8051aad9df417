package model

import (
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

var scalarTypes = map[string]reflect.Type{
	"bool":    reflect.TypeFor[bool](),
	"int":     reflect.TypeFor[int](),
	"int8":    reflect.TypeFor[int8](),
	"int16":   reflect.TypeFor[int16](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"uint":    reflect.TypeFor[uint](),
	"uint8":   reflect.TypeFor[uint8](),
	"uint16":  reflect.TypeFor[uint16](),
	"uint32":  reflect.TypeFor[uint32](),
	"uint64":  reflect.TypeFor[uint64](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
	"string":  reflect.TypeFor[string](),
	"bytes":   reflect.TypeFor[[]byte](),
	"time":    reflect.TypeFor[time.Time](),
	"uuid":    reflect.TypeFor[uuid.UUID](),
}

// TypeByName resolves a type name as used in model and filter documents.
// A leading "*" marks a nullable type, a leading "[]" a collection.
func TypeByName(name string) (reflect.Type, bool) {
	switch {
	case strings.HasPrefix(name, "[]") && name != "[]byte":
		elem, ok := TypeByName(strings.TrimPrefix(name, "[]"))
		if !ok {
			return nil, false
		}
		return reflect.SliceOf(elem), true
	case strings.HasPrefix(name, "*"):
		elem, ok := TypeByName(strings.TrimPrefix(name, "*"))
		if !ok {
			return nil, false
		}
		return reflect.PointerTo(elem), true
	case name == "[]byte":
		return scalarTypes["bytes"], true
	}
	rt, ok := scalarTypes[name]
	return rt, ok
}

// TypeName is the inverse of TypeByName. It returns "" for types outside
// the supported set.
func TypeName(rt reflect.Type) string {
	if rt == nil {
		return ""
	}
	for name, t := range scalarTypes {
		if t == rt {
			return name
		}
	}
	switch rt.Kind() {
	case reflect.Pointer:
		if elem := TypeName(rt.Elem()); elem != "" {
			return "*" + elem
		}
	case reflect.Slice:
		if elem := TypeName(rt.Elem()); elem != "" {
			return "[]" + elem
		}
	}
	return ""
}
