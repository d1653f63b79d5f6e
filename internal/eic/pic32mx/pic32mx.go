// Package pic32mx drives the native multi-bank vectored interrupt
// controller of the PIC32MX family.
//
// The controller groups its 75 lines into three 32-bit banks, each with a
// flag (IFS) and an enable (IEC) register. Every register is followed by
// CLR/SET/INV aliases, so enable and disable need no software lock: the
// alias write is a single atomic bus cycle and the in-memory mask is
// updated with atomic Or/And.
package pic32mx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/eic/internal/eic"
	"github.com/tinyrange/eic/internal/regs"
	"github.com/tinyrange/eic/internal/trace"
)

const (
	// NumIRQs is the number of interrupt lines the controller serves.
	NumIRQs = 75
	// NumBanks is the number of IFS/IEC register banks.
	NumBanks = 3
	// NumPriorityRegs is the number of IPC registers.
	NumPriorityRegs = 13

	// BaseAddress is the KSEG1 address of the interrupt controller.
	BaseAddress uint64 = 0xBF881000

	// CoreTimerIRQ is the line of the MIPS core timer.
	CoreTimerIRQ eic.Line = 0
)

// Register layout relative to the base address. Each entry is a PicReg.
const (
	regINTCON  = 0x00
	regINTSTAT = 0x10
	regIPTMR   = 0x20
	regIFS     = 0x30
	regIEC     = regIFS + NumBanks*regs.PicRegSize
	regIPC     = regIEC + NumBanks*regs.PicRegSize

	// WindowSize covers every register including the aliases of the last IPC.
	WindowSize = regIPC + NumPriorityRegs*regs.PicRegSize
)

const (
	intconMVEC = 1 << 12 // multi-vector mode
	intconSS0  = 1 << 16 // use the second shadow set for vectored interrupts

	// All groups get the same priority: clear IP/IS of the four groups in
	// each IPC, then set priority 1.
	ipcClearPattern = 0x1F1F1F1F
	ipcEqualPattern = 0x04040404

	// CP0 Status IPL field (IM bits in compatibility mode).
	statusIPLMask = 0x7f << 10
)

var ErrStatusRequired = errors.New("pic32mx: vectored or shadow mode requires a CP0 status register")

// StatusRegister is the CP0 Status register of the MIPS core.
type StatusRegister interface {
	Status() uint32
	SetStatus(value uint32)
}

// CoreTimer is the MIPS core timer that drives the kernel tick.
type CoreTimer interface {
	// Init programs the first compare value.
	Init()
	// Reset acknowledges the compare match and programs the next one.
	Reset()
}

// Option customises a Controller.
type Option func(*Controller)

// WithBase overrides the controller base address.
func WithBase(base uint64) Option {
	return func(c *Controller) { c.base = base }
}

// WithVectoredIRQ enables the single-vector EIC mode setup, which clears the
// IPL bits of the CP0 status register during Init.
func WithVectoredIRQ(status StatusRegister) Option {
	return func(c *Controller) {
		c.vectored = true
		if status != nil {
			c.status = status
		}
	}
}

// WithShadowGPR makes vectored interrupts use the second shadow register set.
// It implies the vectored setup of WithVectoredIRQ.
func WithShadowGPR(status StatusRegister) Option {
	return func(c *Controller) {
		c.shadow = true
		if status != nil {
			c.status = status
		}
	}
}

// WithCoreTimer installs the core timer and the kernel tick it drives.
func WithCoreTimer(timer CoreTimer, tick func()) Option {
	return func(c *Controller) {
		c.timer = timer
		c.tick = tick
	}
}

// WithKernelLock sets the lock held around the kernel tick.
func WithKernelLock(l sync.Locker) Option {
	return func(c *Controller) {
		if l != nil {
			c.kernel = l
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

// Controller is the PIC32MX backend.
type Controller struct {
	core *eic.Core
	base uint64

	intcon regs.PicReg
	ifs    [NumBanks]regs.PicReg
	iec    [NumBanks]regs.PicReg
	ipc    [NumPriorityRegs]regs.PicReg

	// In-memory copy of IEC, read by dispatch to filter IFS.
	mask [NumBanks]atomic.Uint32

	vectored bool
	shadow   bool
	status   StatusRegister
	timer    CoreTimer
	tick     func()
	kernel   sync.Locker

	policy eic.Policy
	fatal  eic.FatalFunc
	log    *slog.Logger
}

// New builds a controller accessing its registers through bus.
func New(bus regs.Bus, opts ...Option) (*Controller, error) {
	if bus == nil {
		return nil, fmt.Errorf("pic32mx: nil register bus")
	}
	c := &Controller{
		base:   BaseAddress,
		kernel: &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if (c.vectored || c.shadow) && c.status == nil {
		return nil, ErrStatusRequired
	}

	c.core = eic.NewCore("pic32mx", NumIRQs, c.policy, c.fatal, c.log)
	c.intcon = regs.NewPicReg(bus, c.base+regINTCON)
	for i := range c.ifs {
		c.ifs[i] = regs.NewPicReg(bus, c.base+regIFS+uint64(i)*regs.PicRegSize)
		c.iec[i] = regs.NewPicReg(bus, c.base+regIEC+uint64(i)*regs.PicRegSize)
	}
	for i := range c.ipc {
		c.ipc[i] = regs.NewPicReg(bus, c.base+regIPC+uint64(i)*regs.PicRegSize)
	}
	return c, nil
}

// Init puts the controller in single-vector mode with every line disabled
// and at equal priority, then registers and enables the core timer.
func (c *Controller) Init() {
	c.intcon.Clear(intconMVEC)
	if c.vectored || c.shadow {
		// EIC mode: the IPL field now holds the requested priority level.
		c.status.SetStatus(c.status.Status() &^ statusIPLMask)
		if c.shadow {
			c.intcon.Set(intconSS0)
		}
	}

	for i := range c.iec {
		c.mask[i].Store(0)
		c.iec[i].Clear(0xFFFFFFFF)
	}

	for _, ipc := range c.ipc {
		ipc.Clear(ipcClearPattern)
		ipc.Set(ipcEqualPattern)
	}

	if c.timer != nil {
		c.timer.Init()
	}
	c.RegisterIRQ(CoreTimerIRQ, eic.HandlerFunc(c.coreTimerISR))
	c.EnableIRQ(CoreTimerIRQ)

	trace.Emit(trace.KindInit, 0, 0)
	c.core.Logger().Info("interrupt controller initialized",
		"base", fmt.Sprintf("0x%08x", c.base),
		"vectored", c.vectored,
		"shadow", c.shadow)
}

func (c *Controller) coreTimerISR(eic.Line) {
	if c.timer != nil {
		c.timer.Reset()
	}
	c.kernel.Lock()
	if c.tick != nil {
		c.tick()
	}
	c.kernel.Unlock()
}

// RegisterIRQ installs h for line. The line stays disabled until EnableIRQ.
func (c *Controller) RegisterIRQ(line eic.Line, h eic.Handler) {
	c.core.Register(line, h)
}

// UnregisterIRQ removes the handler for line without disabling it.
func (c *Controller) UnregisterIRQ(line eic.Line) {
	c.core.Unregister(line)
}

func bankBit(line eic.Line) (int, uint32) {
	return int(line / 32), 1 << (line % 32)
}

// EnableIRQ allows line to interrupt.
func (c *Controller) EnableIRQ(line eic.Line) {
	if !c.core.Check("enable", line) {
		return
	}
	bank, bit := bankBit(line)
	mask := c.mask[bank].Or(bit) | bit
	c.iec[bank].Set(bit)
	trace.Emit(trace.KindEnable, uint32(line), mask)
}

// DisableIRQ stops line from interrupting.
func (c *Controller) DisableIRQ(line eic.Line) {
	if !c.core.Check("disable", line) {
		return
	}
	bank, bit := bankBit(line)
	mask := c.mask[bank].And(^bit) &^ bit
	c.iec[bank].Clear(bit)
	trace.Emit(trace.KindDisable, uint32(line), mask)
}

// AckIRQ clears the pending flag of line.
func (c *Controller) AckIRQ(line eic.Line) {
	if !c.core.Check("ack", line) {
		return
	}
	bank, bit := bankBit(line)
	c.ifs[bank].Clear(bit)
	trace.Emit(trace.KindAck, uint32(line), 0)
}

// Dispatch is the trap entry point. Banks are drained in ascending order;
// within a bank the highest pending line is serviced first. Each line is
// acknowledged before its handler runs.
func (c *Controller) Dispatch() {
	serviced := false
	for bank := range c.ifs {
		ifs := c.ifs[bank]
		pending := ifs.Load() & c.mask[bank].Load()

		for pending != 0 {
			i := eic.HighestLine(pending)
			line := eic.Line(i + uint32(bank)*32)

			h, ok := c.core.Resolve(line)
			if !ok {
				return
			}
			ifs.Clear(1 << i)
			trace.Emit(trace.KindAck, uint32(line), 0)
			c.core.Invoke(line, h)

			pending &^= 1 << i
			serviced = true
		}
	}
	if !serviced {
		c.core.Spurious()
	}
}

// NumLines implements eic.Controller.
func (c *Controller) NumLines() int { return NumIRQs }

// Masks returns the in-memory copy of the three enable registers.
func (c *Controller) Masks() [NumBanks]uint32 {
	var out [NumBanks]uint32
	for i := range c.mask {
		out[i] = c.mask[i].Load()
	}
	return out
}

// Base returns the register base address.
func (c *Controller) Base() uint64 { return c.base }

// Stats returns the dispatch counters.
func (c *Controller) Stats() *eic.Stats { return c.core.Stats() }

// Registry returns the handler table.
func (c *Controller) Registry() *eic.Registry { return c.core.Registry() }

var (
	_ eic.Controller = (*Controller)(nil)
	_ eic.Dispatcher = (*Controller)(nil)
)
