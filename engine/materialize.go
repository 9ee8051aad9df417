package engine

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"dynfilter/query"
)

// Record is one materialized entity: its property values converted to the
// model's Go types, and the records of its included navigations.
type Record struct {
	Entity      string               `json:"entity"`
	Fields      map[string]any       `json:"fields"`
	Collections map[string][]*Record `json:"collections,omitempty"`
	References  map[string]*Record   `json:"references,omitempty"`
}

// Get returns a property value.
func (r *Record) Get(property string) any { return r.Fields[property] }

// materializer folds the flat rows of an included query back into records.
// A record is identified by its key within its parent, so the row fan-out of
// several collection joins produces each child once.
type materializer struct {
	root  *query.Shape
	roots []*Record
	index map[*query.Shape]map[string]*Record
}

func newMaterializer(root *query.Shape) *materializer {
	return &materializer{root: root, index: make(map[*query.Shape]map[string]*Record)}
}

func (m *materializer) add(row []any) error {
	return m.visit(m.root, nil, "", row)
}

func (m *materializer) visit(s *query.Shape, parent *Record, parentID string, row []any) error {
	key, ok := keyOf(s, row)
	if !ok {
		// Left join without a match.
		return nil
	}
	id := parentID + "/" + key
	seen := m.index[s]
	if seen == nil {
		seen = make(map[string]*Record)
		m.index[s] = seen
	}
	rec, found := seen[id]
	if !found {
		var err error
		if rec, err = newRecord(s, row); err != nil {
			return err
		}
		seen[id] = rec
		switch {
		case parent == nil:
			m.roots = append(m.roots, rec)
		case s.Many:
			parent.Collections[s.Navigation] = append(parent.Collections[s.Navigation], rec)
		default:
			parent.References[s.Navigation] = rec
		}
	}
	for _, c := range s.Children {
		if err := m.visit(c, rec, id, row); err != nil {
			return err
		}
	}
	return nil
}

// keyOf renders the key columns of s in row; ok is false when they are all
// NULL.
func keyOf(s *query.Shape, row []any) (string, bool) {
	parts := lo.Map(s.Keys(), func(k string, _ int) any { return row[s.Columns[k]] })
	if lo.EveryBy(parts, func(v any) bool { return v == nil }) {
		return "", false
	}
	return fmt.Sprint(parts...), true
}

func newRecord(s *query.Shape, row []any) (*Record, error) {
	rec := &Record{
		Entity:      s.Entity.Name,
		Fields:      make(map[string]any, len(s.Order)),
		Collections: make(map[string][]*Record),
		References:  make(map[string]*Record),
	}
	for _, name := range s.Order {
		p, _ := s.Entity.Property(name)
		v, err := convert(row[s.Columns[name]], p.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.Entity.Name, name, err)
		}
		rec.Fields[name] = v
	}
	for _, c := range s.Children {
		if c.Many {
			rec.Collections[c.Navigation] = []*Record{}
		}
	}
	return rec, nil
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

// timeLayouts are the text forms drivers return timestamps in.
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// convert maps a driver value onto rt, the property's Go type. Drivers
// differ in what they return for booleans, timestamps and identifiers.
func convert(v any, rt reflect.Type) (any, error) {
	if v == nil || rt == nil {
		return v, nil
	}
	if rt.Kind() == reflect.Pointer {
		inner, err := convert(v, rt.Elem())
		if err != nil {
			return nil, err
		}
		p := reflect.New(rt.Elem())
		p.Elem().Set(reflect.ValueOf(inner))
		return p.Interface(), nil
	}

	rv := reflect.ValueOf(v)
	switch rt {
	case timeType:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case []byte:
			return parseTime(string(x))
		case string:
			return parseTime(x)
		}
	case uuidType:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(x)
		case []byte:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
			return uuid.ParseBytes(x)
		}
		if rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
			var u uuid.UUID
			reflect.Copy(reflect.ValueOf(u[:]), rv)
			return u, nil
		}
	}

	switch rt.Kind() {
	case reflect.Bool:
		switch {
		case rv.Kind() == reflect.Bool:
			return rv.Bool(), nil
		case rv.CanInt():
			return rv.Int() != 0, nil
		}
	case reflect.String:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	case reflect.Slice:
		if s, ok := v.(string); ok && rt.Elem().Kind() == reflect.Uint8 {
			return []byte(s), nil
		}
	}
	if rv.Type().ConvertibleTo(rt) && (rv.Kind() == reflect.String) == (rt.Kind() == reflect.String) {
		return rv.Convert(rt).Interface(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, rt)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
