// Package model describes the entity metadata the filter engine consumes:
// entity types and interfaces, their properties and backing columns,
// inheritance layout, and navigation properties with foreign-key constraints.
package model

import (
	"fmt"
	"reflect"
	"sync"

	"dynfilter/internal/ddl"
	"dynfilter/internal/domain"
)

// Inheritance selects how a derived entity type is stored.
type Inheritance int

// Inheritance strategies.
const (
	// PerHierarchy stores the whole hierarchy in the root's table.
	PerHierarchy Inheritance = iota
	// PerType stores each type's own properties in its own table, joined
	// to the base table on the key.
	PerType
)

// Property is a scalar member of an entity type or interface.
type Property struct {
	Name   string       // object-model name
	Column string       // backing column; defaults to Name
	Type   reflect.Type // pointer types are nullable
	Key    bool
}

// ColumnName returns the column backing the property.
func (p Property) ColumnName() string {
	if p.Column != "" {
		return p.Column
	}
	return p.Name
}

// ColumnPair pairs a property of the declaring entity with a property of the
// navigation target. Both sides are property names.
type ColumnPair struct {
	From string
	To   string
}

// ForeignKey is the ordered list of column pairs joining a navigation's
// source entity to its target.
type ForeignKey struct {
	Pairs []ColumnPair
}

// Navigation is a relationship member of an entity type.
type Navigation struct {
	Name   string
	Target string      // target entity name
	Many   bool        // collection-valued when true
	FK     *ForeignKey // nil when no constraint metadata is available
}

// Interface is a shared contract that several entity types implement.
// Filters may be declared against an interface.
type Interface struct {
	Name       string
	Properties []Property
}

// EntityType describes one mapped entity.
type EntityType struct {
	Name        string
	Table       string // defaults to Name; ignored for PerHierarchy derived types
	Base        string
	Inheritance Inheritance
	Interfaces  []string
	Properties  []Property // declared on this type only
	Navigations []Navigation

	model *Model
}

// Model is the set of entity types and interfaces known to the engine.
// It is safe for concurrent reads after construction.
type Model struct {
	mu         sync.RWMutex
	entities   map[string]*EntityType
	interfaces map[string]*Interface
	order      []string
}

// New creates an empty model.
func New() *Model {
	return &Model{
		entities:   make(map[string]*EntityType),
		interfaces: make(map[string]*Interface),
	}
}

// AddInterface registers an interface.
func (m *Model) AddInterface(iface *Interface) error {
	if err := ddl.ValidateIdentifier(iface.Name); err != nil {
		return domain.ErrConfiguration("interface name %q: %v", iface.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.interfaces[iface.Name]; exists {
		return domain.ErrConfiguration("interface %q already registered", iface.Name)
	}
	if _, exists := m.entities[iface.Name]; exists {
		return domain.ErrConfiguration("interface %q collides with an entity type", iface.Name)
	}
	m.interfaces[iface.Name] = iface
	return nil
}

// AddEntity registers an entity type. Base types and interfaces must be
// registered first.
func (m *Model) AddEntity(et *EntityType) error {
	if err := ddl.ValidateIdentifier(et.Name); err != nil {
		return domain.ErrConfiguration("entity name %q: %v", et.Name, err)
	}
	seen := make(map[string]bool, len(et.Properties))
	for _, p := range et.Properties {
		if p.Type == nil {
			return domain.ErrConfiguration("entity %q: property %q has no type", et.Name, p.Name)
		}
		if seen[p.Name] {
			return domain.ErrConfiguration("entity %q: duplicate property %q", et.Name, p.Name)
		}
		seen[p.Name] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entities[et.Name]; exists {
		return domain.ErrConfiguration("entity %q already registered", et.Name)
	}
	if et.Base != "" {
		if _, ok := m.entities[et.Base]; !ok {
			return domain.ErrConfiguration("entity %q: unknown base type %q", et.Name, et.Base)
		}
	}
	for _, name := range et.Interfaces {
		if _, ok := m.interfaces[name]; !ok {
			return domain.ErrConfiguration("entity %q: unknown interface %q", et.Name, name)
		}
	}
	et.model = m
	m.entities[et.Name] = et
	m.order = append(m.order, et.Name)
	return nil
}

// Entity returns the named entity type.
func (m *Model) Entity(name string) (*EntityType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	et, ok := m.entities[name]
	return et, ok
}

// MustEntity returns the named entity type or panics. Intended for tests and
// static model setup.
func (m *Model) MustEntity(name string) *EntityType {
	et, ok := m.Entity(name)
	if !ok {
		panic(fmt.Sprintf("model: unknown entity %q", name))
	}
	return et
}

// Interface returns the named interface.
func (m *Model) Interface(name string) (*Interface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iface, ok := m.interfaces[name]
	return iface, ok
}

// Entities returns all entity types in registration order.
func (m *Model) Entities() []*EntityType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*EntityType, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.entities[name])
	}
	return out
}

// HasType reports whether name is a registered entity type or interface.
func (m *Model) HasType(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.entities[name]; ok {
		return true
	}
	_, ok := m.interfaces[name]
	return ok
}

// MemberType returns the type of the named property on an entity type or
// interface, including inherited properties.
func (m *Model) MemberType(typeName, member string) (reflect.Type, bool) {
	if et, ok := m.Entity(typeName); ok {
		p, ok := et.Property(member)
		if !ok {
			return nil, false
		}
		return p.Type, true
	}
	if iface, ok := m.Interface(typeName); ok {
		for _, p := range iface.Properties {
			if p.Name == member {
				return p.Type, true
			}
		}
	}
	return nil, false
}

// NavigationTarget returns the target entity of the named navigation on an
// entity type.
func (m *Model) NavigationTarget(typeName, navigation string) (string, bool) {
	et, ok := m.Entity(typeName)
	if !ok {
		return "", false
	}
	nav, ok := et.Navigation(navigation)
	if !ok {
		return "", false
	}
	return nav.Target, true
}

// AssignableTo reports whether values of the entity type can be used where
// owner is expected: owner is the entity itself, one of its ancestors, or an
// interface implemented by it or an ancestor.
func (et *EntityType) AssignableTo(owner string) bool {
	for t := et; t != nil; t = t.BaseType() {
		if t.Name == owner {
			return true
		}
		for _, iface := range t.Interfaces {
			if iface == owner {
				return true
			}
		}
	}
	return false
}

// BaseType returns the base entity type, or nil for a root type.
func (et *EntityType) BaseType() *EntityType {
	if et.Base == "" || et.model == nil {
		return nil
	}
	base, _ := et.model.Entity(et.Base)
	return base
}

// Ancestors returns the base chain, nearest first.
func (et *EntityType) Ancestors() []*EntityType {
	var out []*EntityType
	for t := et.BaseType(); t != nil; t = t.BaseType() {
		out = append(out, t)
	}
	return out
}

// IsAncestorOf reports whether et is a strict ancestor of other.
func (et *EntityType) IsAncestorOf(other *EntityType) bool {
	for t := other.BaseType(); t != nil; t = t.BaseType() {
		if t == et {
			return true
		}
	}
	return false
}

// Root returns the root of the hierarchy.
func (et *EntityType) Root() *EntityType {
	t := et
	for t.BaseType() != nil {
		t = t.BaseType()
	}
	return t
}

// Model returns the model the entity belongs to.
func (et *EntityType) Model() *Model { return et.model }

// OwnsTable reports whether the entity has its own storage unit.
func (et *EntityType) OwnsTable() bool {
	return et.Base == "" || et.Inheritance == PerType
}

// TableName returns the table backing the entity's own storage unit. For
// per-hierarchy derived types this is the table of the nearest ancestor
// that owns one.
func (et *EntityType) TableName() string {
	t := et
	for !t.OwnsTable() {
		t = t.BaseType()
	}
	if t.Table != "" {
		return t.Table
	}
	return t.Name
}

// Property looks up a property by name, searching the base chain.
func (et *EntityType) Property(name string) (Property, bool) {
	for t := et; t != nil; t = t.BaseType() {
		for _, p := range t.Properties {
			if p.Name == name {
				return p, true
			}
		}
	}
	return Property{}, false
}

// AllProperties returns the properties of the entity including inherited
// ones, root first.
func (et *EntityType) AllProperties() []Property {
	chain := append([]*EntityType{et}, et.Ancestors()...)
	var out []Property
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].Properties...)
	}
	return out
}

// Keys returns the key properties, searching the base chain.
func (et *EntityType) Keys() []Property {
	var out []Property
	for _, p := range et.AllProperties() {
		if p.Key {
			out = append(out, p)
		}
	}
	return out
}

// StorageProperties returns the properties stored in the entity's own
// storage unit. Per-type derived units hold the key plus their declared
// properties; root and per-hierarchy units hold every property of the
// hierarchy members that share them.
func (et *EntityType) StorageProperties() []Property {
	if et.Base != "" && et.Inheritance == PerType {
		out := append([]Property(nil), et.Keys()...)
		for _, p := range et.Properties {
			if !p.Key {
				out = append(out, p)
			}
		}
		return out
	}
	out := et.AllProperties()
	if et.model == nil {
		return out
	}
	// Per-hierarchy descendants store their columns in this table too.
	for _, other := range et.model.Entities() {
		if other == et || other.Inheritance != PerHierarchy || !et.IsAncestorOf(other) {
			continue
		}
		if other.TableName() != et.TableName() {
			continue
		}
		out = append(out, other.Properties...)
	}
	return out
}

// Navigation looks up a navigation property by name, searching the base chain.
func (et *EntityType) Navigation(name string) (Navigation, bool) {
	for t := et; t != nil; t = t.BaseType() {
		for _, n := range t.Navigations {
			if n.Name == name {
				return n, true
			}
		}
	}
	return Navigation{}, false
}

// StorageChain returns the entity types whose storage units must be joined
// to materialize et, root first. Per-hierarchy types collapse into the unit
// of their nearest table-owning ancestor.
func (et *EntityType) StorageChain() []*EntityType {
	var chain []*EntityType
	for t := et; t != nil; t = t.BaseType() {
		if t.OwnsTable() {
			chain = append([]*EntityType{t}, chain...)
		}
	}
	return chain
}

// JoinPairs returns the column pairs joining et to the target of nav. When
// the navigation carries no foreign-key metadata the pairs follow the naming
// convention: a reference navigation N joins N+key on et to the target key,
// a collection navigation joins the key of et to et.Name+key on the target.
func (et *EntityType) JoinPairs(nav Navigation) ([]ColumnPair, error) {
	if nav.FK != nil && len(nav.FK.Pairs) > 0 {
		return nav.FK.Pairs, nil
	}
	target, ok := et.model.Entity(nav.Target)
	if !ok {
		return nil, domain.ErrConfiguration("navigation %s.%s: unknown target %q", et.Name, nav.Name, nav.Target)
	}
	var pairs []ColumnPair
	if nav.Many {
		for _, k := range et.Keys() {
			fk := et.Root().Name + k.Name
			if _, ok := target.Property(fk); !ok {
				return nil, domain.ErrConfiguration("navigation %s.%s: no foreign key and no %s.%s", et.Name, nav.Name, target.Name, fk)
			}
			pairs = append(pairs, ColumnPair{From: k.Name, To: fk})
		}
	} else {
		for _, k := range target.Keys() {
			fk := nav.Name + k.Name
			if _, ok := et.Property(fk); !ok {
				return nil, domain.ErrConfiguration("navigation %s.%s: no foreign key and no %s.%s", et.Name, nav.Name, et.Name, fk)
			}
			pairs = append(pairs, ColumnPair{From: fk, To: k.Name})
		}
	}
	if len(pairs) == 0 {
		return nil, domain.ErrConfiguration("navigation %s.%s: no key to join on", et.Name, nav.Name)
	}
	return pairs, nil
}
