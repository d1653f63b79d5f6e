// Package pic8259 emulates a single (uncascaded) 8259A programmable
// interrupt controller behind a byte-wide MMIO window, as exposed by the
// virtual MIPS platform's ISA I/O space.
package pic8259

import (
	"fmt"
	"sync"

	"github.com/tinyrange/eic/internal/chipset"
)

const (
	// CommandOffset and DataOffset locate the two ports inside the I/O window.
	CommandOffset = 0x20
	DataOffset    = 0x21

	picIRQMask = 0x7
)

// picStats tracks statistics for a PIC.
type picStats struct {
	polls      uint64
	emptyPolls uint64
	eois       uint64
	perIRQ     [8]uint64
}

// EOIHook is notified when software issues an end-of-interrupt for a line.
type EOIHook func(line uint8)

// PIC is a memory-mapped 8259A.
type PIC struct {
	mu    sync.Mutex
	ready chipset.LineInterrupt

	base uint64

	initStage initStage
	single    bool
	needICW4  bool
	autoEOI   bool
	icw2      byte
	imr       byte
	readISR   bool
	pollNext  bool
	isr       byte
	elcr      byte
	lines     byte
	lineLow   byte

	eoiHook EOIHook
	stats   picStats
}

// Option customises a PIC.
type Option func(*PIC)

// WithLevelTriggered marks the lines in mask as level triggered. Other lines
// are edge triggered.
func WithLevelTriggered(mask byte) Option {
	return func(p *PIC) { p.elcr = mask }
}

// New returns a PIC whose I/O window starts at base.
func New(base uint64, opts ...Option) *PIC {
	p := &PIC{
		base:  base,
		ready: chipset.LineInterruptDetached(),
	}
	p.reset(false)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PIC) reset(preserveLines bool) {
	lines := byte(0)
	if preserveLines {
		lines = p.lines
	}
	p.initStage = initUninitialized
	p.single = false
	p.needICW4 = false
	p.autoEOI = false
	p.icw2 = 0
	p.imr = 0
	p.readISR = false
	p.pollNext = false
	p.isr = 0
	p.lines = lines
	p.lineLow = 0xff
}

// SetReadyLine sets the interrupt line used for the INT output.
func (p *PIC) SetReadyLine(line chipset.LineInterrupt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == nil {
		p.ready = chipset.LineInterruptDetached()
	} else {
		p.ready = line
	}
	p.syncOutputLocked()
}

// SetEOIHook installs a hook invoked on every specific or non-specific EOI.
func (p *PIC) SetEOIHook(hook EOIHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eoiHook = hook
}

// SetIRQ implements chipset.InterruptSink.
func (p *PIC) SetIRQ(line uint8, level bool) {
	if line >= 8 {
		return
	}
	p.mu.Lock()
	p.setIRQ(line, level)
	p.syncOutputLocked()
	p.mu.Unlock()
}

func (p *PIC) syncOutputLocked() {
	p.ready.SetLevel(p.interruptPending())
}

// Pending reports whether INT is asserted.
func (p *PIC) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interruptPending()
}

func (p *PIC) port(addr uint64, size int) (uint64, error) {
	if size != 1 {
		return 0, fmt.Errorf("pic: invalid access size %d", size)
	}
	if addr < p.base {
		return 0, fmt.Errorf("pic: invalid address 0x%x", addr)
	}
	off := addr - p.base
	if off != CommandOffset && off != DataOffset {
		return 0, fmt.Errorf("pic: invalid address 0x%x", addr)
	}
	return off, nil
}

// ReadMMIO implements chipset.MmioHandler.
func (p *PIC) ReadMMIO(addr uint64, data []byte) error {
	off, err := p.port(addr, len(data))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch off {
	case CommandOffset:
		data[0] = p.readCommand()
	case DataOffset:
		data[0] = p.imr
	}
	p.syncOutputLocked()
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (p *PIC) WriteMMIO(addr uint64, data []byte) error {
	off, err := p.port(addr, len(data))
	if err != nil {
		return err
	}
	p.mu.Lock()
	var eoi []uint8
	switch off {
	case CommandOffset:
		eoi = p.writeCommand(data[0])
	case DataOffset:
		p.writeData(data[0])
	}
	p.syncOutputLocked()
	hook := p.eoiHook
	p.mu.Unlock()

	if hook != nil {
		for _, line := range eoi {
			hook(line)
		}
	}
	return nil
}

// IMR returns the mask register.
func (p *PIC) IMR() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.imr
}

// ISR returns the in-service register.
func (p *PIC) ISR() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isr
}

// IRR returns the interrupt request register.
func (p *PIC) IRR() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irr()
}

// Initialized reports whether the ICW sequence has completed.
func (p *PIC) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initStage == initInitialized
}

// VectorBase returns the ICW2 vector base.
func (p *PIC) VectorBase() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.icw2
}

// EOIs returns the number of EOI commands received.
func (p *PIC) EOIs() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.eois
}

// Polls returns the number of poll acknowledgements and how many of them
// found nothing to acknowledge.
func (p *PIC) Polls() (total, empty uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.polls, p.stats.emptyPolls
}

// Start implements chipset.ChangeDeviceState.
func (p *PIC) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState.
func (p *PIC) Stop() error { return nil }

// Reset implements chipset.ChangeDeviceState. Input levels and ELCR survive.
func (p *PIC) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset(true)
	p.stats = picStats{}
	p.syncOutputLocked()
	return nil
}

// SupportsMmio implements chipset.ChipsetDevice.
func (p *PIC) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []chipset.MMIORegion{{Address: p.base + CommandOffset, Size: 2}},
		Handler: p,
	}
}

// SupportsPollDevice implements chipset.ChipsetDevice.
func (p *PIC) SupportsPollDevice() *chipset.PollDevice { return nil }

func (p *PIC) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("PIC(stage=%d imr=0x%02x irr=0x%02x isr=0x%02x)", p.initStage, p.imr, p.irr(), p.isr)
}

func (p *PIC) irr() byte {
	return p.lines & (p.elcr | p.lineLow)
}

func (p *PIC) setIRQ(line uint8, high bool) {
	bit := byte(1 << line)
	if high {
		p.lines |= bit
	} else {
		p.lines &^= bit
		p.lineLow |= bit
	}
}

// readyVec returns the requests that may interrupt: unmasked and of higher
// priority (lower number) than anything in service.
func (p *PIC) readyVec() byte {
	highestISR := lowestSetBit(p.isr)
	higherNotISR := highestISR - 1
	return (p.irr() &^ p.imr) & higherNotISR
}

func (p *PIC) interruptPending() bool {
	return p.initStage == initInitialized && p.readyVec() != 0
}

// acknowledge moves the highest priority request into service.
func (p *PIC) acknowledge() (byte, bool) {
	vec := p.readyVec()
	if vec == 0 {
		return 0, false
	}
	bit := lowestSetBit(vec)
	line := byte(0)
	for bit>>line != 1 {
		line++
	}
	p.lineLow &^= bit
	if !p.autoEOI {
		p.isr |= bit
	}
	p.stats.perIRQ[line]++
	return line, true
}

func (p *PIC) readCommand() byte {
	if p.pollNext {
		p.pollNext = false
		p.stats.polls++
		line, ok := p.acknowledge()
		if !ok {
			p.stats.emptyPolls++
			return 0
		}
		return 1<<7 | line
	}
	if p.readISR {
		return p.isr
	}
	return p.irr()
}

func (p *PIC) writeCommand(value byte) []uint8 {
	const (
		initBit    = 0x10
		commandBit = 0x08
	)

	if value&initBit != 0 {
		p.reset(true)
		p.single = value&0x02 != 0
		p.needICW4 = value&0x01 != 0
		p.initStage = initExpectingICW2
		return nil
	}

	if p.initStage != initInitialized {
		// OCWs delivered before init completes are ignored.
		return nil
	}

	if value&commandBit == 0 {
		ocw := ocw2(value)
		if !ocw.EOI() {
			// Priority rotation commands are not modelled.
			return nil
		}
		var line byte
		if ocw.SL() {
			line = ocw.Level()
		} else {
			bit := lowestSetBit(p.isr)
			if bit == 0 {
				return nil
			}
			for bit>>line != 1 {
				line++
			}
		}
		p.isr &^= 1 << line
		p.stats.eois++
		return []uint8{line}
	}

	ocw := ocw3(value)
	if ocw.poll() {
		p.pollNext = true
	}
	if ocw.rr() {
		p.readISR = ocw.ris()
	}
	return nil
}

func (p *PIC) writeData(value byte) {
	switch p.initStage {
	case initUninitialized, initInitialized:
		p.imr = value
	case initExpectingICW2:
		p.icw2 = value &^ picIRQMask
		switch {
		case !p.single:
			p.initStage = initExpectingICW3
		case p.needICW4:
			p.initStage = initExpectingICW4
		default:
			p.initStage = initInitialized
		}
	case initExpectingICW3:
		// Cascade wiring; a lone master accepts any value.
		if p.needICW4 {
			p.initStage = initExpectingICW4
		} else {
			p.initStage = initInitialized
		}
	case initExpectingICW4:
		p.autoEOI = value&0x02 != 0
		p.initStage = initInitialized
	}
}

type initStage int

const (
	initUninitialized initStage = iota
	initExpectingICW2
	initExpectingICW3
	initExpectingICW4
	initInitialized
)

type ocw2 byte

type ocw3 byte

func (o ocw2) Level() byte { return byte(o) & picIRQMask }
func (o ocw2) SL() bool    { return byte(o)&0x40 != 0 }
func (o ocw2) EOI() bool   { return byte(o)&0x20 != 0 }

func (o ocw3) rr() bool   { return byte(o)&0x02 != 0 }
func (o ocw3) ris() bool  { return byte(o)&0x01 != 0 }
func (o ocw3) poll() bool { return byte(o)&0x04 != 0 }

func lowestSetBit(b byte) byte {
	return b & byte(-int8(b))
}

var (
	_ chipset.ChipsetDevice = (*PIC)(nil)
	_ chipset.InterruptSink = (*PIC)(nil)
)
