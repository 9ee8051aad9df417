// Package params is the two-tier parameter value store: global values and
// enabled flags that live for the engine's lifetime, overridden by
// session-scoped entries that are dropped when the session closes.
package params

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Producer computes a parameter value at resolution time.
type Producer func(ctx context.Context) (any, error)

type key struct {
	filter string
	param  string
}

// entry is a constant or a producer.
type entry struct {
	value    any
	producer Producer
}

func (e entry) resolve(ctx context.Context) (any, error) {
	if e.producer == nil {
		return e.value, nil
	}
	return e.producer(ctx)
}

// tier is one layer of values and enabled flags.
type tier struct {
	values  map[key]entry
	enabled map[string]bool
}

func newTier() *tier {
	return &tier{values: make(map[key]entry), enabled: make(map[string]bool)}
}

// Store holds parameter values and enabled flags for the global tier and
// every open session scope. All methods are safe for concurrent use; each
// mutation touches a single key.
type Store struct {
	mu       sync.RWMutex
	global   *tier
	sessions map[uuid.UUID]*tier
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{global: newTier(), sessions: make(map[uuid.UUID]*tier)}
}

// SetValue sets a global constant value.
func (s *Store) SetValue(filter, param string, v any) {
	s.set(nil, filter, param, entry{value: v})
}

// SetProducer sets a global value producer.
func (s *Store) SetProducer(filter, param string, fn Producer) {
	s.set(nil, filter, param, entry{producer: fn})
}

// SetEnabled sets the global enabled flag of a filter.
func (s *Store) SetEnabled(filter string, enabled bool) {
	s.setEnabled(nil, filter, enabled)
}

// ClearValue removes the global value of a parameter.
func (s *Store) ClearValue(filter, param string) {
	s.clear(nil, filter, param)
}

// Resolve returns the effective value of a parameter: the scope's entry if
// present, else the global one. ok is false when neither tier has a value.
// Producer errors are returned unchanged.
func (s *Store) Resolve(ctx context.Context, scope *Scope, filter, param string) (any, bool, error) {
	k := key{filter, param}
	s.mu.RLock()
	e, ok := s.lookup(scope, k)
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	// Producers run outside the lock; they may call back into the store.
	v, err := e.resolve(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("resolve %s.%s: %w", filter, param, err)
	}
	return v, true, nil
}

func (s *Store) lookup(scope *Scope, k key) (entry, bool) {
	if scope != nil {
		if t, ok := s.sessions[scope.id]; ok {
			if e, ok := t.values[k]; ok {
				return e, true
			}
		}
	}
	e, ok := s.global.values[k]
	return e, ok
}

// IsEnabled reports whether a filter is enabled for scope: the scope's flag
// if set, else the global flag, else true.
func (s *Store) IsEnabled(scope *Scope, filter string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if scope != nil {
		if t, ok := s.sessions[scope.id]; ok {
			if enabled, ok := t.enabled[filter]; ok {
				return enabled
			}
		}
	}
	if enabled, ok := s.global.enabled[filter]; ok {
		return enabled
	}
	return true
}

// NewScope opens a session scope. Its tier is created on first write.
func (s *Store) NewScope() *Scope {
	return &Scope{id: uuid.New(), store: s}
}

// ClearSession drops every entry of the session.
func (s *Store) ClearSession(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Sessions returns the number of sessions holding scoped entries.
func (s *Store) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Reset drops every global and scoped entry.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = newTier()
	s.sessions = make(map[uuid.UUID]*tier)
}

func (s *Store) set(scope *Scope, filter, param string, e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tierFor(scope).values[key{filter, param}] = e
}

func (s *Store) clear(scope *Scope, filter, param string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.global
	if scope != nil {
		var ok bool
		if t, ok = s.sessions[scope.id]; !ok {
			return
		}
	}
	delete(t.values, key{filter, param})
}

func (s *Store) setEnabled(scope *Scope, filter string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tierFor(scope).enabled[filter] = enabled
}

// tierFor returns the tier a write goes to, creating the session tier
// lazily. Callers hold the write lock.
func (s *Store) tierFor(scope *Scope) *tier {
	if scope == nil {
		return s.global
	}
	t, ok := s.sessions[scope.id]
	if !ok {
		t = newTier()
		s.sessions[scope.id] = t
	}
	return t
}
