package params

import (
	"sync"

	"github.com/google/uuid"
)

// Scope is the session tier of a Store. Writes after Close are ignored.
type Scope struct {
	id     uuid.UUID
	store  *Store
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// ID identifies the scope.
func (sc *Scope) ID() uuid.UUID { return sc.id }

// SetValue sets a session constant value.
func (sc *Scope) SetValue(filter, param string, v any) {
	sc.write(func() { sc.store.set(sc, filter, param, entry{value: v}) })
}

// SetProducer sets a session value producer.
func (sc *Scope) SetProducer(filter, param string, fn Producer) {
	sc.write(func() { sc.store.set(sc, filter, param, entry{producer: fn}) })
}

// SetEnabled sets the session enabled flag of a filter.
func (sc *Scope) SetEnabled(filter string, enabled bool) {
	sc.write(func() { sc.store.setEnabled(sc, filter, enabled) })
}

// ClearValue removes the session value of a parameter, exposing the
// global one again.
func (sc *Scope) ClearValue(filter, param string) {
	sc.write(func() { sc.store.clear(sc, filter, param) })
}

// Close removes the scope's entries from the store. It runs once.
func (sc *Scope) Close() {
	sc.once.Do(func() {
		sc.mu.Lock()
		sc.closed = true
		sc.mu.Unlock()
		sc.store.ClearSession(sc.id)
	})
}

// write runs fn unless the scope is closed. sc.mu is held across fn so a
// concurrent Close cannot clear the session between the check and the
// write.
func (sc *Scope) write(fn func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	fn()
}
