package eic

import (
	"fmt"
	"sync/atomic"
)

type entry struct {
	handler Handler
}

// Registry maps each line to at most one handler. Its capacity is fixed at
// construction; slots are swapped atomically so dispatch can look up one
// line while another is being registered.
type Registry struct {
	slots []atomic.Pointer[entry]
}

// NewRegistry returns an empty registry for lines [0, n).
func NewRegistry(n int) *Registry {
	return &Registry{slots: make([]atomic.Pointer[entry], n)}
}

// Len returns the number of lines the registry covers.
func (r *Registry) Len() int { return len(r.slots) }

// Register installs h for line. It fails if the line is out of range or
// already has a handler.
func (r *Registry) Register(line Line, h Handler) error {
	if int(line) >= len(r.slots) {
		return fmt.Errorf("register: %w", ErrLineOutOfRange)
	}
	if isNilHandler(h) {
		return fmt.Errorf("register: %w", ErrNilHandler)
	}
	if !r.slots[line].CompareAndSwap(nil, &entry{handler: h}) {
		return fmt.Errorf("register: %w", ErrAlreadyRegistered)
	}
	return nil
}

// isNilHandler reports whether h is empty, including a nil HandlerFunc
// wrapped in a non-nil interface.
func isNilHandler(h Handler) bool {
	if h == nil {
		return true
	}
	f, ok := h.(HandlerFunc)
	return ok && f == nil
}

// Unregister clears the handler for line. Clearing an empty slot is not an
// error.
func (r *Registry) Unregister(line Line) error {
	if int(line) >= len(r.slots) {
		return fmt.Errorf("unregister: %w", ErrLineOutOfRange)
	}
	r.slots[line].Store(nil)
	return nil
}

// Lookup returns the handler for line, or nil when none is installed.
func (r *Registry) Lookup(line Line) Handler {
	if int(line) >= len(r.slots) {
		return nil
	}
	if e := r.slots[line].Load(); e != nil {
		return e.handler
	}
	return nil
}
