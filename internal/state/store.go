// Package state implements the centralized, validated, observable,
// persistable state store (L2). It owns every piece of mutable client state;
// every other component holds only handles sufficient to read snapshots or
// submit updates.
package state

import (
	"fmt"
	"sync"

	"github.com/cascade-irc/client/internal/events"
	"github.com/cascade-irc/client/internal/logger"
)

// Validator inspects a proposed new value against the current one and
// returns a non-nil error to reject the assignment.
type Validator func(old, new interface{}) error

// ChangeHandler observes a committed value change.
type ChangeHandler func(key string, old, new interface{})

type subscriberEntry struct {
	handler ChangeHandler
	async   bool
}

// Store is a typed key/value bag with per-key validation, per-key and global
// change notification, and JSON snapshot persistence.
//
// set executes: validator -> old-value snapshot -> assignment under an
// exclusive guard -> subscriber fan-out outside the guard. Handlers must not
// re-enter Set for the key they were invoked for; doing so is detected and
// rejected with a logged warning rather than deadlocking.
type Store struct {
	mu         sync.RWMutex
	values     map[string]interface{}
	validators map[string]Validator
	handlers   map[string][]subscriberEntry
	global     []subscriberEntry
	inFlight   map[string]bool

	bus *events.EventBus
}

// New creates an empty Store. bus may be nil if no event-bus mirroring of
// changes is desired.
func New(bus *events.EventBus) *Store {
	return &Store{
		values:     make(map[string]interface{}),
		validators: make(map[string]Validator),
		handlers:   make(map[string][]subscriberEntry),
		inFlight:   make(map[string]bool),
		bus:        bus,
	}
}

// RegisterValidator installs (or replaces) the validator for key.
func (s *Store) RegisterValidator(key string, v Validator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validators[key] = v
}

// Subscribe registers a synchronous change handler for key. Pass "*" to
// observe every key.
func (s *Store) Subscribe(key string, h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := subscriberEntry{handler: h}
	if key == "*" {
		s.global = append(s.global, entry)
		return
	}
	s.handlers[key] = append(s.handlers[key], entry)
}

// SubscribeAsync registers a change handler dispatched on its own goroutine,
// not awaited by Set.
func (s *Store) SubscribeAsync(key string, h ChangeHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := subscriberEntry{handler: h, async: true}
	if key == "*" {
		s.global = append(s.global, entry)
		return
	}
	s.handlers[key] = append(s.handlers[key], entry)
}

// Get returns the current value for key and whether it is set.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set validates and assigns newValue to key. On success it returns nil and
// all registered handlers for key (plus global handlers) have been invoked
// exactly once with (old, new) by the time Set returns for sync handlers;
// async handlers are merely scheduled. On validation failure it returns the
// validator's error, leaves the prior value untouched, and fires no handlers.
func (s *Store) Set(key string, newValue interface{}) error {
	s.mu.Lock()
	if s.inFlight[key] {
		s.mu.Unlock()
		logger.Log.Warn().Str("key", key).Msg("state: rejected re-entrant Set from within its own change handler")
		return fmt.Errorf("state: re-entrant set of key %q rejected", key)
	}

	validator := s.validators[key]
	oldValue := s.values[key]

	if validator != nil {
		if err := validator(oldValue, newValue); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	s.values[key] = newValue
	direct := append([]subscriberEntry(nil), s.handlers[key]...)
	global := append([]subscriberEntry(nil), s.global...)
	s.inFlight[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	for _, h := range direct {
		if h.async {
			continue
		}
		h.handler(key, oldValue, newValue)
	}
	for _, h := range global {
		if h.async {
			continue
		}
		h.handler(key, oldValue, newValue)
	}
	for _, h := range direct {
		if !h.async {
			continue
		}
		handler := h.handler
		go handler(key, oldValue, newValue)
	}
	for _, h := range global {
		if !h.async {
			continue
		}
		handler := h.handler
		go handler(key, oldValue, newValue)
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type:   events.EventMetadataUpdated,
			Data:   map[string]interface{}{"key": key, "old": oldValue, "new": newValue},
			Source: events.EventSourceState,
		})
	}

	return nil
}

// Delete removes key from the store, invoking handlers with new=nil.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	oldValue, existed := s.values[key]
	if !existed {
		s.mu.Unlock()
		return
	}
	delete(s.values, key)
	direct := append([]subscriberEntry(nil), s.handlers[key]...)
	global := append([]subscriberEntry(nil), s.global...)
	s.mu.Unlock()

	for _, h := range direct {
		if h.async {
			handler := h.handler
			go handler(key, oldValue, nil)
			continue
		}
		h.handler(key, oldValue, nil)
	}
	for _, h := range global {
		if h.async {
			handler := h.handler
			go handler(key, oldValue, nil)
			continue
		}
		h.handler(key, oldValue, nil)
	}
}

// Snapshot returns a shallow copy of every key/value currently stored.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
