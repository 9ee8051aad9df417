// Package filter holds dynamic filter definitions: named predicates or
// column-equality shortcuts declared against an entity type or interface,
// looked up per scanned entity at query compilation.
package filter

import (
	"strings"

	"dynfilter/model"
	"dynfilter/predicate"
)

// DisabledParam is the reserved parameter name of a filter's disabled
// sentinel. A non-null value at execution time satisfies the filter.
const DisabledParam = "$disabled"

// Options control where a filter applies.
type Options struct {
	// ApplyToChildren applies the filter to entities reached through
	// navigations, not only to the queried extent.
	ApplyToChildren bool
	// ApplyRecursively keeps applying the filter below a scope where it
	// was already applied on the same navigation path.
	ApplyRecursively bool
	// TypeSelector restricts the filter to the runtime types it returns
	// true for. Nil applies to every assignable type.
	TypeSelector func(*model.EntityType) bool
	// Defaults are initial global parameter values.
	Defaults map[string]any
}

// Option configures a definition at registration.
type Option func(*Options)

// DefaultOptions returns the options a filter gets when none are given.
func DefaultOptions() Options {
	return Options{ApplyToChildren: true, ApplyRecursively: true}
}

// WithoutChildren applies the filter only to the queried extent.
func WithoutChildren() Option {
	return func(o *Options) { o.ApplyToChildren = false }
}

// NonRecursive suppresses the filter below a scope where it was applied.
func NonRecursive() Option {
	return func(o *Options) { o.ApplyRecursively = false }
}

// WithTypeSelector restricts the filter to matching runtime types.
func WithTypeSelector(fn func(*model.EntityType) bool) Option {
	return func(o *Options) { o.TypeSelector = fn }
}

// WithDefault sets the initial global value of a parameter.
func WithDefault(param string, value any) Option {
	return func(o *Options) {
		if o.Defaults == nil {
			o.Defaults = make(map[string]any)
		}
		o.Defaults[param] = value
	}
}

// Definition is one registered filter. It is immutable after registration.
type Definition struct {
	Name      string
	Owner     string
	Column    string          // set for column-shortcut filters
	Predicate *predicate.Func // set for predicate filters
	Options   Options
}

// IsColumn reports whether the definition is a column-shortcut filter.
func (d *Definition) IsColumn() bool { return d.Predicate == nil }

// Params returns the filter's parameter names. A column-shortcut filter has
// one implicit parameter named after its column.
func (d *Definition) Params() []string {
	if d.IsColumn() {
		return []string{d.Column}
	}
	return d.Predicate.ParamNames()
}

// AppliesTo reports whether the definition applies to et.
func (d *Definition) AppliesTo(et *model.EntityType) bool {
	if !et.AssignableTo(d.Owner) {
		return false
	}
	return d.Options.TypeSelector == nil || d.Options.TypeSelector(et)
}

// NormalizeName strips the delimiter characters a filter name may not carry.
func NormalizeName(name string) string {
	return strings.NewReplacer("_", "", ".", "").Replace(strings.TrimSpace(name))
}
