// Package pic32intc emulates the PIC32MX interrupt controller, the MIPS
// core timer and the CP0 Status register at register level.
package pic32intc

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/tinyrange/eic/internal/chipset"
)

const (
	// BaseAddress is where the controller decodes on the real part (KSEG1).
	BaseAddress uint64 = 0xBF881000

	numBanks        = 3
	numPriorityRegs = 13
	numLines        = 75

	regStride = 0x10

	// Register index inside the window: INTCON, INTSTAT, IPTMR, IFS0-2,
	// IEC0-2, IPC0-12.
	idxINTCON  = 0
	idxINTSTAT = 1
	idxIPTMR   = 2
	idxIFS     = 3
	idxIEC     = idxIFS + numBanks
	idxIPC     = idxIEC + numBanks
	numRegs    = idxIPC + numPriorityRegs

	// WindowSize is the size of the decoded register window.
	WindowSize = numRegs * regStride

	aliasCLR = 0x4
	aliasSET = 0x8
	aliasINV = 0xC
)

// Bank 2 only implements lines 64..74.
var bankValid = [numBanks]uint32{0xFFFFFFFF, 0xFFFFFFFF, 1<<(numLines-64) - 1}

type intcStats struct {
	raised   [numLines]uint64
	cleared  uint64
	accesses uint64
}

// Controller emulates the interrupt controller. Peripherals raise lines with
// SetIRQ; the flag stays latched until software clears it. The CPU interrupt
// request (Output) is asserted while any flag is set in an enabled line.
type Controller struct {
	mu sync.Mutex

	base uint64
	regs [numRegs]uint32

	out   chipset.LineInterrupt
	level bool

	stats intcStats
}

// New returns a controller decoding at base with every register zero.
func New(base uint64) *Controller {
	return &Controller{
		base: base,
		out:  chipset.LineInterruptDetached(),
	}
}

// SetOutput wires the CPU interrupt request line.
func (c *Controller) SetOutput(line chipset.LineInterrupt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if line == nil {
		line = chipset.LineInterruptDetached()
	}
	c.out = line
	c.level = false
	c.syncOutputLocked()
}

// SetIRQ implements chipset.InterruptSink. A high level latches the line's
// flag; a low level is ignored.
func (c *Controller) SetIRQ(line uint8, level bool) {
	if int(line) >= numLines || !level {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[idxIFS+int(line/32)] |= 1 << (line % 32)
	c.stats.raised[line]++
	c.syncOutputLocked()
}

func (c *Controller) syncOutputLocked() {
	asserted := false
	for b := 0; b < numBanks; b++ {
		if c.regs[idxIFS+b]&c.regs[idxIEC+b] != 0 {
			asserted = true
			break
		}
	}
	if asserted != c.level {
		c.level = asserted
		c.out.SetLevel(asserted)
	}
}

// Pending reports whether the CPU interrupt request is asserted.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

func (c *Controller) decode(addr uint64, size int) (idx int, alias uint64, err error) {
	if size != 4 {
		return 0, 0, fmt.Errorf("pic32intc: invalid access size %d", size)
	}
	if addr < c.base || addr-c.base >= WindowSize || addr&3 != 0 {
		return 0, 0, fmt.Errorf("pic32intc: invalid address 0x%x", addr)
	}
	off := addr - c.base
	return int(off / regStride), off % regStride, nil
}

// ReadMMIO implements chipset.MmioHandler. The CLR/SET/INV aliases are
// write-only and read as zero.
func (c *Controller) ReadMMIO(addr uint64, data []byte) error {
	idx, alias, err := c.decode(addr, len(data))
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.accesses++
	var v uint32
	if alias == 0 {
		v = c.regs[idx]
	}
	data[0], data[1], data[2], data[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return nil
}

// WriteMMIO implements chipset.MmioHandler.
func (c *Controller) WriteMMIO(addr uint64, data []byte) error {
	idx, alias, err := c.decode(addr, len(data))
	if err != nil {
		return err
	}
	v := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.accesses++

	if idx == idxINTSTAT {
		// Read-only.
		return nil
	}
	old := c.regs[idx]
	var next uint32
	switch alias {
	case 0:
		next = v
	case aliasCLR:
		next = old &^ v
	case aliasSET:
		next = old | v
	case aliasINV:
		next = old ^ v
	}
	if idx >= idxIFS && idx < idxIPC {
		next &= bankValid[(idx-idxIFS)%numBanks]
	}
	if idx >= idxIFS && idx < idxIEC {
		c.stats.cleared += uint64(bits.OnesCount32(old &^ next))
	}
	c.regs[idx] = next
	c.syncOutputLocked()
	return nil
}

// INTCON returns the control register.
func (c *Controller) INTCON() uint32 { return c.reg(idxINTCON) }

// IFS returns the flag register of bank.
func (c *Controller) IFS(bank int) uint32 { return c.reg(idxIFS + bank) }

// IEC returns the enable register of bank.
func (c *Controller) IEC(bank int) uint32 { return c.reg(idxIEC + bank) }

// IPC returns priority register n.
func (c *Controller) IPC(n int) uint32 { return c.reg(idxIPC + n) }

func (c *Controller) reg(idx int) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[idx]
}

// Raised returns how many times line has been raised.
func (c *Controller) Raised(line int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.raised[line]
}

// Cleared returns how many flags software has cleared.
func (c *Controller) Cleared() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.cleared
}

// Start implements chipset.ChangeDeviceState.
func (c *Controller) Start() error { return nil }

// Stop implements chipset.ChangeDeviceState.
func (c *Controller) Stop() error { return nil }

// Reset implements chipset.ChangeDeviceState. Registers return to their
// power-on value of zero.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs = [numRegs]uint32{}
	c.stats = intcStats{}
	c.syncOutputLocked()
	return nil
}

// SupportsMmio implements chipset.ChipsetDevice.
func (c *Controller) SupportsMmio() *chipset.MmioIntercept {
	return &chipset.MmioIntercept{
		Regions: []chipset.MMIORegion{{Address: c.base, Size: WindowSize}},
		Handler: c,
	}
}

// SupportsPollDevice implements chipset.ChipsetDevice.
func (c *Controller) SupportsPollDevice() *chipset.PollDevice { return nil }

func (c *Controller) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("PIC32INTC(intcon=0x%08x ifs=%08x/%08x/%08x iec=%08x/%08x/%08x)",
		c.regs[idxINTCON],
		c.regs[idxIFS], c.regs[idxIFS+1], c.regs[idxIFS+2],
		c.regs[idxIEC], c.regs[idxIEC+1], c.regs[idxIEC+2])
}

var (
	_ chipset.ChipsetDevice = (*Controller)(nil)
	_ chipset.InterruptSink = (*Controller)(nil)
)
