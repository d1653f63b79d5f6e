// Package eic holds the contract shared by every interrupt controller
// backend: line numbering, handlers, the handler registry, the fatal-error
// path and per-line statistics.
package eic

// Line identifies a hardware interrupt source. Valid lines are [0, N) where
// N is fixed by the backend.
type Line uint32

// Handler services an interrupt line. Handlers run in trap context: they
// must not block and must return promptly.
type Handler interface {
	HandleIRQ(line Line)
}

// HandlerFunc adapts a function to the Handler interface. Any per-line
// context is captured by the closure.
type HandlerFunc func(line Line)

// HandleIRQ implements Handler. A nil HandlerFunc is refused at
// registration, so f is never nil here.
func (f HandlerFunc) HandleIRQ(line Line) {
	f(line)
}

// Controller is the registration contract every backend satisfies. None of
// the methods return errors: misuse is reported through the backend's
// FatalFunc.
type Controller interface {
	// Init performs one-time setup. It is not reentrant and must not be
	// called again without a full reset of the hardware.
	Init()

	RegisterIRQ(line Line, h Handler)
	UnregisterIRQ(line Line)
	EnableIRQ(line Line)
	DisableIRQ(line Line)

	// NumLines reports the fixed number of lines the backend serves.
	NumLines() int
}

// Dispatcher is implemented by backends that service a hardware trap. It is
// bound to the processor's interrupt vector and is not called by drivers.
type Dispatcher interface {
	Dispatch()
}
