package filter

import (
	"fmt"
	"os"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"dynfilter/internal/domain"
	"dynfilter/predicate"
)

// snapshotVersion is bumped whenever the document layout changes.
const snapshotVersion = 1

// Snapshot is the registry as data: what a model cache stores and what a
// filters file declares.
type Snapshot struct {
	Version int   `yaml:"version" msgpack:"version"`
	Filters []Doc `yaml:"filters" msgpack:"filters"`
}

// Doc is one definition as data. Closures are not representable, so
// definitions with a type selector cannot be encoded.
type Doc struct {
	Name             string             `yaml:"name" msgpack:"name"`
	Owner            string             `yaml:"owner" msgpack:"owner"`
	Column           string             `yaml:"column,omitempty" msgpack:"column,omitempty"`
	Predicate        *predicate.FuncDoc `yaml:"predicate,omitempty" msgpack:"predicate,omitempty"`
	ApplyToChildren  *bool              `yaml:"apply_to_children,omitempty" msgpack:"apply_to_children,omitempty"`
	ApplyRecursively *bool              `yaml:"apply_recursively,omitempty" msgpack:"apply_recursively,omitempty"`
	Defaults         map[string]any     `yaml:"defaults,omitempty" msgpack:"defaults,omitempty"`
}

// Snapshot captures every definition in registration order.
func (r *Registry) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{Version: snapshotVersion}
	for _, d := range r.All() {
		if d.Options.TypeSelector != nil {
			return nil, domain.ErrConfiguration("filter %q on %q has a type selector and cannot be serialized", d.Name, d.Owner)
		}
		doc := Doc{Name: d.Name, Owner: d.Owner, Column: d.Column}
		if !d.Options.ApplyToChildren {
			doc.ApplyToChildren = boolPtr(false)
		}
		if !d.Options.ApplyRecursively {
			doc.ApplyRecursively = boolPtr(false)
		}
		if d.Predicate != nil {
			fd, err := predicate.ToDoc(d.Predicate)
			if err != nil {
				return nil, fmt.Errorf("encode filter %q: %w", d.Name, err)
			}
			doc.Predicate = fd
		}
		if len(d.Options.Defaults) > 0 {
			doc.Defaults = make(map[string]any, len(d.Options.Defaults))
			for k, v := range d.Options.Defaults {
				doc.Defaults[k] = encodeDefault(v)
			}
		}
		snap.Filters = append(snap.Filters, doc)
	}
	return snap, nil
}

// Restore re-registers every definition of snap through the normal
// validation path. Registration stops at the first error.
func (r *Registry) Restore(snap *Snapshot) ([]*Definition, error) {
	if snap.Version != snapshotVersion {
		return nil, domain.ErrConfiguration("unsupported filter snapshot version %d", snap.Version)
	}
	var out []*Definition
	for _, doc := range snap.Filters {
		opts := []Option{}
		if doc.ApplyToChildren != nil && !*doc.ApplyToChildren {
			opts = append(opts, WithoutChildren())
		}
		if doc.ApplyRecursively != nil && !*doc.ApplyRecursively {
			opts = append(opts, NonRecursive())
		}

		var (
			def *Definition
			err error
		)
		switch {
		case doc.Predicate != nil && doc.Column != "":
			return out, domain.ErrConfiguration("filter %q: column and predicate are exclusive", doc.Name)
		case doc.Predicate != nil:
			fn, ferr := predicate.FromDoc(doc.Predicate)
			if ferr != nil {
				return out, fmt.Errorf("decode filter %q: %w", doc.Name, ferr)
			}
			defaults, derr := coerceDefaults(doc, fn)
			if derr != nil {
				return out, derr
			}
			for k, v := range defaults {
				opts = append(opts, WithDefault(k, v))
			}
			def, err = r.RegisterPredicate(doc.Name, doc.Owner, fn, opts...)
		default:
			for k, v := range doc.Defaults {
				opts = append(opts, WithDefault(k, v))
			}
			def, err = r.RegisterColumn(doc.Name, doc.Owner, doc.Column, opts...)
		}
		if err != nil {
			return out, err
		}
		out = append(out, def)
	}
	return out, nil
}

func coerceDefaults(doc Doc, fn *predicate.Func) (map[string]any, error) {
	out := make(map[string]any, len(doc.Defaults))
	for name, raw := range doc.Defaults {
		p, ok := fn.Param(name)
		if !ok {
			return nil, domain.ErrConfiguration("filter %q has no parameter %q", doc.Name, name)
		}
		v, err := predicate.CoerceValue(raw, p.Type)
		if err != nil {
			return nil, fmt.Errorf("filter %q default %q: %w", doc.Name, name, err)
		}
		out[name] = v
	}
	return out, nil
}

// encodeDefault converts a default value to a document value. Pointers are
// dereferenced and slices are encoded element by element.
func encodeDefault(v any) any {
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
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = encodeDefault(rv.Index(i).Interface())
		}
		return out
	}
	return predicate.EncodeValue(rv.Interface())
}

// EncodeYAML writes the registry as a YAML filters document.
func (r *Registry) EncodeYAML() ([]byte, error) {
	snap, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(snap)
}

// DecodeYAML parses a YAML filters document.
func DecodeYAML(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse filters document: %w", err)
	}
	if snap.Version == 0 {
		snap.Version = snapshotVersion
	}
	return &snap, nil
}

// EncodeBinary writes the registry as a msgpack model cache.
func (r *Registry) EncodeBinary() ([]byte, error) {
	snap, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(snap)
}

// DecodeBinary parses a msgpack model cache.
func DecodeBinary(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode model cache: %w", err)
	}
	return &snap, nil
}

// SaveCache writes the msgpack model cache to path.
func (r *Registry) SaveCache(path string) error {
	data, err := r.EncodeBinary()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write model cache: %w", err)
	}
	return nil
}

// LoadCache restores definitions from the msgpack model cache at path.
func (r *Registry) LoadCache(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model cache: %w", err)
	}
	snap, err := DecodeBinary(data)
	if err != nil {
		return nil, err
	}
	return r.Restore(snap)
}

func boolPtr(b bool) *bool { return &b }
