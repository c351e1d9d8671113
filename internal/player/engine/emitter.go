// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package engine

import (
	"sync"
	"time"
)

// Emitter fans events out to subscribers. The zero value is ready to use.
type Emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[EventType]map[uint64]Handler
}

// On registers h for t and returns a function that removes it.
func (e *Emitter) On(t EventType, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[EventType]map[uint64]Handler)
	}
	if e.subs[t] == nil {
		e.subs[t] = make(map[uint64]Handler)
	}
	e.nextID++
	id := e.nextID
	e.subs[t][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs[t], id)
			e.mu.Unlock()
		})
	}
}

// Emit delivers ev to the handlers registered for its type. Handlers run
// on the caller's goroutine, outside the lock.
func (e *Emitter) Emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	e.mu.Lock()
	handlers := make([]Handler, 0, len(e.subs[ev.Type]))
	for _, h := range e.subs[ev.Type] {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Reset removes all subscribers.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}
