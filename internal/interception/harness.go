// Package interception hooks dynamic filtering into query execution: one
// hook rewrites a freshly built plan, the other binds filter parameters
// right before a command runs.
package interception

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"dynfilter/internal/compiler"
	"dynfilter/internal/domain"
	"dynfilter/internal/navigation"
	"dynfilter/internal/rewrite"
	"dynfilter/internal/sqlgen"
	"dynfilter/params"
	"dynfilter/plan"
	"dynfilter/query"
)

// Tree is a plan in either representation.
type Tree interface {
	DataSpace() plan.DataSpace
}

// Harness owns the two hooks.
type Harness struct {
	splicer   *rewrite.Splicer
	extension *navigation.Extension
	store     *params.Store
	names     *compiler.Names
	logger    *slog.Logger
}

// New creates a harness. extension may be nil, in which case conceptual
// trees pass through and are filtered after lowering.
func New(splicer *rewrite.Splicer, extension *navigation.Extension, store *params.Store, names *compiler.Names, logger *slog.Logger) *Harness {
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{splicer: splicer, extension: extension, store: store, names: names, logger: logger}
}

// PlanCreated rewrites a plan right after it is built, routing conceptual
// trees to the navigation extension and store trees to the scan splicer.
// The tree is rewritten in place and returned. Contexts marked with
// domain.WithoutFilters pass through unchanged.
func (h *Harness) PlanCreated(ctx context.Context, tree Tree) (Tree, error) {
	if domain.FiltersSkipped(ctx) {
		return tree, nil
	}
	switch tree.DataSpace() {
	case plan.Conceptual:
		t, ok := tree.(*query.Tree)
		if !ok {
			return nil, fmt.Errorf("conceptual plan of type %T", tree)
		}
		if h.extension == nil {
			return t, nil
		}
		if err := h.extension.Rewrite(t); err != nil {
			return nil, err
		}
		return t, nil
	case plan.Store:
		t, ok := tree.(*plan.Tree)
		if !ok {
			return nil, fmt.Errorf("store plan of type %T", tree)
		}
		if err := h.splicer.Rewrite(t); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown data space %v", tree.DataSpace())
}

// ParametersResolving binds every filter parameter of cmd for scope. It
// returns a per-execution copy of the command, with collection parameters
// expanded to IN lists, and the driver arguments.
//
// A filter's disabled sentinel binds NULL while the filter is enabled and
// TRUE while it is disabled. A parameter without a value binds NULL, which
// disables the clauses that use it. Parameters whose names do not decode
// to a filter parameter belong to the caller and are left unbound.
func (h *Harness) ParametersResolving(ctx context.Context, scope *params.Scope, cmd *sqlgen.Command) (*sqlgen.Command, []any, error) {
	out := cmd.Clone()
	values := make([]sqlgen.Value, 0, len(out.Params))
	for _, p := range out.Params {
		filterName, param, ok := h.names.Decode(p.Name)
		if !ok {
			continue
		}

		var v any
		if compiler.IsSentinel(param) {
			if !h.store.IsEnabled(scope, filterName) {
				v = true
			}
			values = append(values, sqlgen.Value{Name: p.Name, Value: v})
			continue
		}

		v, found, err := h.store.Resolve(ctx, scope, filterName, param)
		if err != nil {
			return nil, nil, fmt.Errorf("filter %q: %w", filterName, err)
		}
		if !found {
			h.logger.Debug("parameter unset", "filter", filterName, "param", param)
		}
		if p.Collection {
			v, err = h.expand(out, p, v)
			if err != nil {
				return nil, nil, fmt.Errorf("filter %q parameter %q: %w", filterName, param, err)
			}
		}
		values = append(values, sqlgen.Value{Name: p.Name, Value: v})
	}
	return out, out.Dialect.Args(values), nil
}

// expand patches the equality against a collection parameter in cmd into an
// IN list and returns the value to bind to the placeholder: the first
// element, the element type's zero value for an empty collection, or nil
// when the collection is absent.
func (h *Harness) expand(cmd *sqlgen.Command, p sqlgen.Parameter, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("collection value of type %T", v)
	}
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil, nil
	}

	if rv.Len() == 0 {
		cmd.Text = patchEquality(cmd.Text, p.Placeholder, "IN "+cmd.Dialect.EmptySet())
		h.logger.Debug("empty IN list", "param", p.Name)
		elem := rv.Type().Elem()
		if elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		return reflect.Zero(elem).Interface(), nil
	}

	items := []string{p.Placeholder}
	for i := 1; i < rv.Len(); i++ {
		lit, err := cmd.Dialect.Literal(rv.Index(i).Interface(), p.Type)
		if err != nil {
			return nil, err
		}
		items = append(items, lit)
	}
	cmd.Text = patchEquality(cmd.Text, p.Placeholder, "IN ("+strings.Join(items, ", ")+")")
	h.logger.Debug("IN list expanded", "param", p.Name, "items", rv.Len())
	return rv.Index(0).Interface(), nil
}

// patchEquality replaces every "= <placeholder>" in text with repl. A match
// must not continue into a longer name ("@p_1" does not match "@p_10").
func patchEquality(text, placeholder, repl string) string {
	needle := "= " + placeholder
	var b strings.Builder
	for {
		i := strings.Index(text, needle)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		end := i + len(needle)
		if end < len(text) && isNameByte(text[end]) {
			b.WriteString(text[:end])
			text = text[end:]
			continue
		}
		b.WriteString(text[:i])
		b.WriteString(repl)
		text = text[end:]
	}
}

func isNameByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
