package filter

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/lo"

	"dynfilter/internal/domain"
	"dynfilter/model"
	"dynfilter/predicate"
)

// Registry holds the filter definitions of one model and provides
// thread-safe lookup.
type Registry struct {
	mu     sync.RWMutex
	model  *model.Model
	defs   []*Definition
	logger *slog.Logger
}

// NewRegistry creates an empty registry over m.
func NewRegistry(m *model.Model, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{model: m, logger: logger}
}

// Model returns the model definitions are validated against.
func (r *Registry) Model() *model.Model { return r.model }

// RegisterPredicate declares a predicate filter on owner. fn.Entity must be
// owner or a type assignable to it; fn is validated against the model and
// unsupported constructs are rejected here.
func (r *Registry) RegisterPredicate(name, owner string, fn *predicate.Func, opts ...Option) (*Definition, error) {
	if fn == nil {
		return nil, domain.ErrConfiguration("filter %q: predicate is required", name)
	}
	def, err := r.newDefinition(name, owner, opts)
	if err != nil {
		return nil, err
	}
	if fn.Entity != owner {
		et, ok := r.model.Entity(fn.Entity)
		if !ok || !et.AssignableTo(owner) {
			return nil, domain.ErrConfiguration("filter %q: predicate over %q does not implement owner %q", def.Name, fn.Entity, owner)
		}
	}
	for _, p := range fn.Params {
		if p != nil && strings.HasPrefix(p.Name, "$") {
			return nil, domain.ErrConfiguration("filter %q: parameter name %q is reserved", def.Name, p.Name)
		}
	}
	if err := predicate.Validate(fn, r.model); err != nil {
		return nil, wrapValidation(def.Name, err)
	}
	def.Predicate = fn
	return r.add(def)
}

// RegisterColumn declares a column-shortcut filter: column = value, with one
// implicit parameter named after the column. The column is resolved per scan;
// scans without it are skipped.
func (r *Registry) RegisterColumn(name, owner, column string, opts ...Option) (*Definition, error) {
	def, err := r.newDefinition(name, owner, opts)
	if err != nil {
		return nil, err
	}
	if column == "" || strings.HasPrefix(column, "$") {
		return nil, domain.ErrConfiguration("filter %q: invalid column name %q", def.Name, column)
	}
	def.Column = column
	return r.add(def)
}

func (r *Registry) newDefinition(name, owner string, opts []Option) (*Definition, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		return nil, domain.ErrConfiguration("filter name %q is empty", name)
	}
	if !r.model.HasType(owner) {
		return nil, domain.ErrConfiguration("filter %q: unknown owner type %q", normalized, owner)
	}
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Definition{Name: normalized, Owner: owner, Options: o}, nil
}

func (r *Registry) add(def *Definition) (*Definition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.defs {
		if existing.Name == def.Name && existing.Owner == def.Owner {
			return nil, domain.ErrConfiguration("filter %q already registered on %q", def.Name, def.Owner)
		}
	}
	for param := range def.Options.Defaults {
		if !lo.Contains(def.Params(), param) {
			return nil, domain.ErrConfiguration("filter %q has no parameter %q", def.Name, param)
		}
	}
	r.defs = append(r.defs, def)
	r.logger.Info("filter registered", "filter", def.Name, "owner", def.Owner, "column", def.Column, "params", def.Params())
	return def, nil
}

// wrapValidation keeps construct errors as they are and labels the rest with
// the filter name.
func wrapValidation(name string, err error) error {
	switch e := err.(type) {
	case *domain.NotImplementedError, *domain.UnhandledTypeError:
		return err
	case *domain.ConfigurationError:
		return domain.ErrConfiguration("filter %q: %s", name, e.Message)
	}
	return domain.ErrConfiguration("filter %q: %v", name, err)
}

// Lookup returns every definition applicable to et in registration order:
// owners assignable from et whose type selector accepts it.
func (r *Registry) Lookup(et *model.EntityType) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.defs, func(d *Definition, _ int) bool {
		return d.AppliesTo(et)
	})
}

// Claimed returns the names of the filters applicable to et that an
// ancestor storage unit among candidates already covers. Those filters are
// applied to the ancestor's scan and must not be applied to et's own unit.
func (r *Registry) Claimed(et *model.EntityType, candidates []*model.EntityType) map[string]bool {
	ancestors := lo.Filter(candidates, func(c *model.EntityType, _ int) bool {
		return c != et && c.IsAncestorOf(et)
	})
	claimed := make(map[string]bool)
	if len(ancestors) == 0 {
		return claimed
	}
	for _, d := range r.Lookup(et) {
		if lo.ContainsBy(ancestors, d.AppliesTo) {
			claimed[d.Name] = true
		}
	}
	return claimed
}

// Definitions returns all definitions registered under name.
func (r *Registry) Definitions(name string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.defs, func(d *Definition, _ int) bool {
		return d.Name == NormalizeName(name)
	})
}

// Params returns the parameter names of the named filter across all its
// owners, in declaration order.
func (r *Registry) Params(name string) []string {
	var out []string
	for _, d := range r.Definitions(name) {
		out = append(out, d.Params()...)
	}
	return lo.Uniq(out)
}

// Names returns the distinct filter names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Uniq(lo.Map(r.defs, func(d *Definition, _ int) string { return d.Name }))
}

// All returns every definition in registration order.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Definition(nil), r.defs...)
}

// Reset removes every definition. It is meant for tests that swap models.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = nil
	r.logger.Info("filter registry reset")
}
