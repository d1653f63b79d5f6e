// Package i8259 drives the legacy 8259A-compatible controller exposed by
// the virtual MIPS platform.
//
// The controller has a single read/write mask register in the disabled
// sense (a set bit masks the line) and no atomic set/clear aliases, so every
// mask update is a read-modify-write serialized by the kernel lock.
package i8259

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/eic/internal/eic"
	"github.com/tinyrange/eic/internal/regs"
	"github.com/tinyrange/eic/internal/trace"
)

const (
	// NumIRQs is the number of lines of the master controller.
	NumIRQs = 8

	// BaseAddress is the uncached KSEG1 view of the platform's ISA I/O
	// window at physical 0x14000000.
	BaseAddress uint64 = 0xB4000000

	regCommand = 0x20
	regMask    = 0x21
	// The status register is the read side of the command port.
	regStatus = regCommand

	// WindowOffset and WindowSize delimit the registers inside the I/O window.
	WindowOffset = regCommand
	WindowSize   = 2
)

const (
	icw1Init       = 0x11 // ICW1: start initialization, ICW4 follows
	icw2VectorBase = 0x00 // ICW2: IR0 mapped to vector 0
	icw3NoSlave    = 0x00 // ICW3: no cascaded secondary
	icw4NoAutoEOI  = 0x00 // ICW4: explicit EOI
	maskAll        = 0xff

	ocw3Poll        = 0x0C // poll mode: the next status read acknowledges
	ocw2SpecificEOI = 0x60 // specific EOI, line in the low three bits
)

// Option customises a Controller.
type Option func(*Controller)

// WithBase overrides the I/O window base address.
func WithBase(base uint64) Option {
	return func(c *Controller) { c.base = base }
}

// WithKernelLock sets the kernel critical section guarding the mask.
func WithKernelLock(l sync.Locker) Option {
	return func(c *Controller) {
		if l != nil {
			c.lock = l
		}
	}
}

// WithPolicy sets the invalid-request policy.
func WithPolicy(p eic.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithFatal sets the hook invoked when the controller must halt.
func WithFatal(fn eic.FatalFunc) Option {
	return func(c *Controller) { c.fatal = fn }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller is the emulated legacy backend.
type Controller struct {
	core *eic.Core
	base uint64

	command regs.Reg8
	imr     regs.Reg8
	status  regs.Reg8

	lock sync.Locker
	// mask mirrors the hardware IMR; a set bit disables the line.
	mask uint8

	policy eic.Policy
	fatal  eic.FatalFunc
	log    *slog.Logger
}

// New builds a controller accessing its registers through bus.
func New(bus regs.Bus, opts ...Option) (*Controller, error) {
	if bus == nil {
		return nil, fmt.Errorf("i8259: nil register bus")
	}
	c := &Controller{
		base: BaseAddress,
		lock: &sync.Mutex{},
		mask: maskAll,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.core = eic.NewCore("i8259", NumIRQs, c.policy, c.fatal, c.log)
	c.command = regs.NewReg8(bus, c.base+regCommand)
	c.imr = regs.NewReg8(bus, c.base+regMask)
	c.status = regs.NewReg8(bus, c.base+regStatus)
	return c, nil
}

// Init runs the ICW1-ICW4 sequence and leaves every line masked. No line is
// registered automatically.
func (c *Controller) Init() {
	c.command.Store(icw1Init)
	c.imr.Store(icw2VectorBase)
	c.imr.Store(icw3NoSlave)
	c.imr.Store(icw4NoAutoEOI)
	c.imr.Store(maskAll)

	c.lock.Lock()
	c.mask = maskAll
	c.imr.Store(c.mask)
	c.lock.Unlock()

	trace.Emit(trace.KindInit, 0, maskAll)
	c.core.Logger().Info("interrupt controller initialized", "base", fmt.Sprintf("0x%08x", c.base))
}

// RegisterIRQ installs h for line.
func (c *Controller) RegisterIRQ(line eic.Line, h eic.Handler) {
	c.core.Register(line, h)
}

// UnregisterIRQ removes the handler for line without masking it.
func (c *Controller) UnregisterIRQ(line eic.Line) {
	c.core.Unregister(line)
}

// EnableIRQ unmasks line.
func (c *Controller) EnableIRQ(line eic.Line) {
	if !c.core.Check("enable", line) {
		return
	}
	c.lock.Lock()
	c.mask &^= 1 << line
	c.imr.Store(c.mask)
	mask := c.mask
	c.lock.Unlock()
	trace.Emit(trace.KindEnable, uint32(line), uint32(mask))
}

// DisableIRQ masks line.
func (c *Controller) DisableIRQ(line eic.Line) {
	if !c.core.Check("disable", line) {
		return
	}
	c.lock.Lock()
	c.mask |= 1 << line
	c.imr.Store(c.mask)
	mask := c.mask
	c.lock.Unlock()
	trace.Emit(trace.KindDisable, uint32(line), uint32(mask))
}

// ack completes service of line: poll, one status read, specific EOI.
func (c *Controller) ack(line uint32) {
	c.command.Store(ocw3Poll)
	_ = c.status.Load()
	c.command.Store(ocw2SpecificEOI + uint8(line))
	trace.Emit(trace.KindAck, line, 0)
}

// Dispatch is the trap entry point. The highest pending unmasked line is
// acknowledged and serviced first until none remain.
func (c *Controller) Dispatch() {
	status := c.status.Load()
	c.lock.Lock()
	pending := uint32(status &^ c.mask)
	c.lock.Unlock()

	if pending == 0 {
		c.core.Spurious()
		return
	}
	for pending != 0 {
		i := eic.HighestLine(pending)
		c.ack(i)

		line := eic.Line(i)
		h, ok := c.core.Resolve(line)
		if !ok {
			return
		}
		c.core.Invoke(line, h)

		pending &^= 1 << i
	}
}

// NumLines implements eic.Controller.
func (c *Controller) NumLines() int { return NumIRQs }

// Enabled returns the enabled lines as a bitmask (set bit = enabled).
func (c *Controller) Enabled() uint8 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return ^c.mask
}

// Base returns the I/O window base address.
func (c *Controller) Base() uint64 { return c.base }

// Stats returns the dispatch counters.
func (c *Controller) Stats() *eic.Stats { return c.core.Stats() }

// Registry returns the handler table.
func (c *Controller) Registry() *eic.Registry { return c.core.Registry() }

var (
	_ eic.Controller = (*Controller)(nil)
	_ eic.Dispatcher = (*Controller)(nil)
)
