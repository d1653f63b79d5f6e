package chipset

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/tinyrange/eic/internal/regs"
)

// FaultFunc is called when a register access through the Bus interface
// cannot be served. Bus accesses have no error return, like real loads and
// stores, so a fault is the only way to surface a bad address.
type FaultFunc func(err error)

func defaultFault(err error) {
	panic(err)
}

type namedDevice struct {
	name string
	dev  ChipsetDevice
}

// Chipset is the bus a controller driver talks to in simulation. It routes
// register accesses to the device models and drives their lifecycle.
type Chipset struct {
	// Sorted by name.
	devices []namedDevice
	// Sorted by address, non-overlapping.
	mmio  []mmioBinding
	polls []PollHandler
	fault FaultFunc
}

func (c *Chipset) each(op string, fn func(ChipsetDevice) error) error {
	for _, d := range c.devices {
		if err := fn(d.dev); err != nil {
			return fmt.Errorf("chipset: %s device %q: %w", op, d.name, err)
		}
	}
	return nil
}

// Start activates all registered devices in name order.
func (c *Chipset) Start() error {
	return c.each("start", ChipsetDevice.Start)
}

// Stop deactivates all registered devices.
func (c *Chipset) Stop() error {
	return c.each("stop", ChipsetDevice.Stop)
}

// Reset returns all registered devices to their power-on state.
func (c *Chipset) Reset() error {
	return c.each("reset", ChipsetDevice.Reset)
}

// HandleMMIO routes an access to the region containing all of it.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	end := addr + uint64(len(data))
	if end < addr {
		return fmt.Errorf("chipset: MMIO access overflow at 0x%016x", addr)
	}

	// First region ending past addr.
	i := sort.Search(len(c.mmio), func(i int) bool {
		r := c.mmio[i].region
		return r.Address+r.Size > addr
	})
	if i < len(c.mmio) {
		b := c.mmio[i]
		if addr >= b.region.Address && end <= b.region.Address+b.region.Size {
			if isWrite {
				return b.handler.WriteMMIO(addr, data)
			}
			return b.handler.ReadMMIO(addr, data)
		}
	}
	return fmt.Errorf("chipset: no handler for MMIO address 0x%016x size %d", addr, len(data))
}

// Poll runs every poll-capable device once, in registration order.
func (c *Chipset) Poll(ctx context.Context) error {
	for _, handler := range c.polls {
		if err := handler.Poll(ctx); err != nil {
			return fmt.Errorf("chipset: poll: %w", err)
		}
	}
	return nil
}

// Read32 implements regs.Bus. Registers are little-endian.
func (c *Chipset) Read32(addr uint64) uint32 {
	var buf [4]byte
	if err := c.HandleMMIO(addr, buf[:], false); err != nil {
		c.fault(err)
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Write32 implements regs.Bus.
func (c *Chipset) Write32(addr uint64, value uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	if err := c.HandleMMIO(addr, buf[:], true); err != nil {
		c.fault(err)
	}
}

// Read8 implements regs.Bus.
func (c *Chipset) Read8(addr uint64) uint8 {
	var buf [1]byte
	if err := c.HandleMMIO(addr, buf[:], false); err != nil {
		c.fault(err)
		return 0
	}
	return buf[0]
}

// Write8 implements regs.Bus.
func (c *Chipset) Write8(addr uint64, value uint8) {
	if err := c.HandleMMIO(addr, []byte{value}, true); err != nil {
		c.fault(err)
	}
}

var _ regs.Bus = (*Chipset)(nil)
