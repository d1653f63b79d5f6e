// Package board assembles simulated machines: the emulated interrupt
// hardware on a chipset bus, driven by the matching controller backend.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyrange/eic/internal/chipset"
	"github.com/tinyrange/eic/internal/config"
	"github.com/tinyrange/eic/internal/devices/pic32intc"
	"github.com/tinyrange/eic/internal/devices/pic8259"
	"github.com/tinyrange/eic/internal/eic"
	"github.com/tinyrange/eic/internal/eic/i8259"
	"github.com/tinyrange/eic/internal/eic/pic32mx"
)

// ResetStatus is the CP0 Status value of the simulated core at power-on:
// IPL bits set and interrupts enabled.
const ResetStatus = 0x7f<<10 | 1

// Backend is the controller surface a Machine drives.
type Backend interface {
	eic.Controller
	eic.Dispatcher

	Base() uint64
	Stats() *eic.Stats
	Registry() *eic.Registry
}

// Option customises a Machine.
type Option func(*options)

type options struct {
	log   *slog.Logger
	fatal eic.FatalFunc
}

// WithLogger sets the logger handed to the controller.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithFatal sets the hook for controller fatal errors and bus faults.
func WithFatal(fn eic.FatalFunc) Option {
	return func(o *options) { o.fatal = fn }
}

// Machine is a simulated CPU trap line wired to an interrupt controller.
type Machine struct {
	name    string
	chipset *chipset.Chipset
	ctrl    Backend
	lines   *chipset.LineSet

	// pic32mx only.
	timer *pic32intc.CoreTimer
	cp0   *pic32intc.CP0

	kernel sync.Mutex
	irq    atomic.Bool
	ticks  atomic.Uint64
	traps  atomic.Uint64
}

// New builds and initializes the machine described by cfg.
func New(cfg config.Config, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{fatal: eic.DefaultFatal, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		m   *Machine
		err error
	)
	switch cfg.Backend {
	case config.BackendPIC32MX:
		m, err = newPIC32MX(cfg, o)
	case config.BackendI8259:
		m, err = newI8259(cfg, o)
	default:
		return nil, fmt.Errorf("board: no backend selected")
	}
	if err != nil {
		return nil, err
	}

	for _, d := range cfg.Devices {
		if int(d.Line) >= m.ctrl.NumLines() {
			return nil, fmt.Errorf("board: device %q: line %d: %w", d.Name, d.Line, eic.ErrLineOutOfRange)
		}
	}

	if err := m.chipset.Start(); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	m.ctrl.Init()
	return m, nil
}

func newPIC32MX(cfg config.Config, o options) (*Machine, error) {
	base := cfg.Base
	if base == 0 {
		base = pic32mx.BaseAddress
	}

	m := &Machine{name: config.BackendPIC32MX}
	intc := pic32intc.New(base)
	intc.SetOutput(chipset.LineInterruptFromFunc(m.setIRQ))
	m.lines = chipset.NewLineSet(intc)
	m.timer = pic32intc.NewCoreTimer(cfg.TimerCounts(), intc)
	m.cp0 = pic32intc.NewCP0(ResetStatus)

	b := chipset.NewBuilder().WithFaultHandler(chipset.FaultFunc(o.fatal))
	if err := b.RegisterDevice("intc", intc); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	if err := b.RegisterDevice("coretimer", m.timer.Device()); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	cs, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	m.chipset = cs

	copts := []pic32mx.Option{
		pic32mx.WithBase(base),
		pic32mx.WithCoreTimer(m.timer, m.tick),
		pic32mx.WithKernelLock(&m.kernel),
		pic32mx.WithPolicy(cfg.PolicyValue()),
		pic32mx.WithFatal(o.fatal),
		pic32mx.WithLogger(o.log),
	}
	if cfg.VectoredIRQ {
		copts = append(copts, pic32mx.WithVectoredIRQ(m.cp0))
	}
	if cfg.ShadowGPR {
		copts = append(copts, pic32mx.WithShadowGPR(m.cp0))
	}
	ctrl, err := pic32mx.New(cs, copts...)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	m.ctrl = ctrl
	return m, nil
}

func newI8259(cfg config.Config, o options) (*Machine, error) {
	base := cfg.Base
	if base == 0 {
		base = i8259.BaseAddress
	}

	var level byte
	for _, d := range cfg.Devices {
		if d.Level && d.Line < i8259.NumIRQs {
			level |= 1 << d.Line
		}
	}

	m := &Machine{name: config.BackendI8259}
	pic := pic8259.New(base, pic8259.WithLevelTriggered(level))
	pic.SetReadyLine(chipset.LineInterruptFromFunc(m.setIRQ))
	m.lines = chipset.NewLineSet(pic)
	pic.SetEOIHook(m.lines.BroadcastEOI)

	b := chipset.NewBuilder().WithFaultHandler(chipset.FaultFunc(o.fatal))
	if err := b.RegisterDevice("pic", pic); err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	cs, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	m.chipset = cs

	ctrl, err := i8259.New(cs,
		i8259.WithBase(base),
		i8259.WithKernelLock(&m.kernel),
		i8259.WithPolicy(cfg.PolicyValue()),
		i8259.WithFatal(o.fatal),
		i8259.WithLogger(o.log),
	)
	if err != nil {
		return nil, fmt.Errorf("board: %w", err)
	}
	m.ctrl = ctrl
	return m, nil
}

func (m *Machine) setIRQ(level bool) { m.irq.Store(level) }

func (m *Machine) tick() { m.ticks.Add(1) }

// Name returns the backend name.
func (m *Machine) Name() string { return m.name }

// Controller returns the interrupt controller driver.
func (m *Machine) Controller() Backend { return m.ctrl }

// Chipset returns the simulated bus.
func (m *Machine) Chipset() *chipset.Chipset { return m.chipset }

// KernelLock returns the lock the controller treats as the kernel critical
// section.
func (m *Machine) KernelLock() sync.Locker { return &m.kernel }

// CP0 returns the simulated Status register, or nil on boards without one.
func (m *Machine) CP0() *pic32intc.CP0 { return m.cp0 }

// Line returns the interrupt line a peripheral drives for irq.
func (m *Machine) Line(irq uint8) chipset.LineInterrupt { return m.lines.AllocateLine(irq) }

// Raise drives irq high.
func (m *Machine) Raise(irq uint8) { m.Line(irq).SetLevel(true) }

// Lower drives irq low.
func (m *Machine) Lower(irq uint8) { m.Line(irq).SetLevel(false) }

// OnEOI registers fn to run when software signals end of interrupt for irq.
// Only controllers with an explicit EOI command produce these.
func (m *Machine) OnEOI(irq uint8, fn func()) { m.lines.RegisterEOICallback(irq, fn) }

// Pending reports whether the controller is requesting a trap.
func (m *Machine) Pending() bool { return m.irq.Load() }

// Trap enters the controller's dispatch routine if its output is asserted
// and reports whether it did.
func (m *Machine) Trap() bool {
	if !m.irq.Load() {
		return false
	}
	m.traps.Add(1)
	m.ctrl.Dispatch()
	return true
}

// Step advances the core timer by n counts. It is a no-op on boards without
// a core timer.
func (m *Machine) Step(n uint32) {
	if m.timer != nil {
		m.timer.Advance(n)
	}
}

// Poll runs one poll cycle of every polled device.
func (m *Machine) Poll(ctx context.Context) error {
	return m.chipset.Poll(ctx)
}

// Ticks returns the number of kernel ticks delivered by the core timer.
func (m *Machine) Ticks() uint64 { return m.ticks.Load() }

// Traps returns the number of trap entries.
func (m *Machine) Traps() uint64 { return m.traps.Load() }

// TimerFired returns how many times the core timer has raised its line.
func (m *Machine) TimerFired() uint64 {
	if m.timer == nil {
		return 0
	}
	return m.timer.Fired()
}

// Close stops the machine's devices.
func (m *Machine) Close() error {
	return m.chipset.Stop()
}
