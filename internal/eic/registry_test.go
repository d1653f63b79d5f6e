package eic

import (
	"errors"
	"sync"
	"testing"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(8)
	h := HandlerFunc(func(Line) {})

	if err := r.Register(3, h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if r.Lookup(3) == nil {
		t.Fatalf("Lookup(3) returned nil after Register")
	}
	if err := r.Register(3, h); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second Register = %v, want ErrAlreadyRegistered", err)
	}
	if err := r.Register(8, h); !errors.Is(err, ErrLineOutOfRange) {
		t.Fatalf("Register(8) = %v, want ErrLineOutOfRange", err)
	}
	if err := r.Register(4, nil); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("Register(nil) = %v, want ErrNilHandler", err)
	}
	if err := r.Register(4, HandlerFunc(nil)); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("Register(HandlerFunc(nil)) = %v, want ErrNilHandler", err)
	}
	if r.Lookup(4) != nil {
		t.Fatalf("nil HandlerFunc was stored")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(8)
	h := HandlerFunc(func(Line) {})

	if err := r.Unregister(2); err != nil {
		t.Fatalf("Unregister of empty slot: %v", err)
	}
	if err := r.Register(2, h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Unregister(2); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if r.Lookup(2) != nil {
		t.Fatalf("Lookup(2) non-nil after Unregister")
	}
	// The slot is free again.
	if err := r.Register(2, h); err != nil {
		t.Fatalf("Register after Unregister: %v", err)
	}
	if err := r.Unregister(9); !errors.Is(err, ErrLineOutOfRange) {
		t.Fatalf("Unregister(9) = %v, want ErrLineOutOfRange", err)
	}
}

func TestRegistryLookupOutOfRange(t *testing.T) {
	r := NewRegistry(1)
	if r.Lookup(1) != nil {
		t.Fatalf("Lookup past the end returned a handler")
	}
}

func TestRegistryConcurrentRegister(t *testing.T) {
	r := NewRegistry(1)
	const workers = 16

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Register(0, HandlerFunc(func(Line) {})) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d registrations succeeded, want exactly 1", wins)
	}
}
