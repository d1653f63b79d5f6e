package eic

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrLineOutOfRange    = errors.New("irq line out of range")
	ErrAlreadyRegistered = errors.New("handler already registered for irq line")
	ErrNilHandler        = errors.New("nil irq handler")
	ErrUnhandledIRQ      = errors.New("unhandled irq")
)

// FatalError describes a condition the interrupt core cannot continue from.
type FatalError struct {
	Op   string
	Line Line
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("eic: %s irq %d: %v", e.Op, e.Line, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// FatalFunc is invoked when the core must halt. If it returns, the calling
// operation returns immediately without touching any further state.
type FatalFunc func(err error)

// DefaultFatal logs the error and halts by panicking.
func DefaultFatal(err error) {
	slog.Error("interrupt controller halted", "error", err)
	panic(err)
}

// Policy decides how invalid requests from thread context are treated:
// out-of-range lines and registration over an occupied line.
type Policy int

const (
	// PolicyFatal reports invalid requests through the FatalFunc.
	PolicyFatal Policy = iota
	// PolicyIgnore logs invalid requests and drops them.
	PolicyIgnore
)

func (p Policy) String() string {
	switch p {
	case PolicyFatal:
		return "fatal"
	case PolicyIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration string into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fatal":
		return PolicyFatal, nil
	case "ignore":
		return PolicyIgnore, nil
	default:
		return 0, fmt.Errorf("eic: unknown policy %q", s)
	}
}
