// Package regs provides typed accessors for memory-mapped controller
// registers. Drivers never dereference addresses directly: every access goes
// through a Bus, which is either a mapped physical window or an emulated
// chipset.
package regs

import "errors"

// ErrUnsupported is returned when physical register windows cannot be
// mapped on this platform.
var ErrUnsupported = errors.New("regs: physical register windows unsupported on this platform")

// KSEG1Phys returns the physical address behind a MIPS KSEG1 (uncached)
// address.
func KSEG1Phys(addr uint64) uint64 { return addr & 0x1FFFFFFF }

// Bus performs single, uncached register accesses. Implementations must not
// merge, reorder or elide accesses: reads of status registers and writes to
// command registers have side effects.
type Bus interface {
	Read32(addr uint64) uint32
	Write32(addr uint64, value uint32)
	Read8(addr uint64) uint8
	Write8(addr uint64, value uint8)
}

// Reg32 is a 32-bit register at a fixed address.
type Reg32 struct {
	bus  Bus
	addr uint64
}

func NewReg32(bus Bus, addr uint64) Reg32 { return Reg32{bus: bus, addr: addr} }

func (r Reg32) Addr() uint64       { return r.addr }
func (r Reg32) Load() uint32       { return r.bus.Read32(r.addr) }
func (r Reg32) Store(value uint32) { r.bus.Write32(r.addr, value) }

// Reg8 is an 8-bit register at a fixed address.
type Reg8 struct {
	bus  Bus
	addr uint64
}

func NewReg8(bus Bus, addr uint64) Reg8 { return Reg8{bus: bus, addr: addr} }

func (r Reg8) Addr() uint64      { return r.addr }
func (r Reg8) Load() uint8       { return r.bus.Read8(r.addr) }
func (r Reg8) Store(value uint8) { r.bus.Write8(r.addr, value) }

// Offsets of the write-only aliases that follow every PicReg.
const (
	PicRegCLR = 0x4
	PicRegSET = 0x8
	PicRegINV = 0xC

	// PicRegSize is the stride between consecutive PicRegs.
	PicRegSize = 0x10
)

// PicReg is a 32-bit register followed by CLR, SET and INV aliases. Writing
// ones to an alias clears, sets or toggles exactly those bits in one bus
// cycle, so updates through the aliases need no read-modify-write.
type PicReg struct {
	bus  Bus
	addr uint64
}

func NewPicReg(bus Bus, addr uint64) PicReg { return PicReg{bus: bus, addr: addr} }

func (r PicReg) Addr() uint64       { return r.addr }
func (r PicReg) Load() uint32       { return r.bus.Read32(r.addr) }
func (r PicReg) Store(value uint32) { r.bus.Write32(r.addr, value) }
func (r PicReg) Clear(mask uint32)  { r.bus.Write32(r.addr+PicRegCLR, mask) }
func (r PicReg) Set(mask uint32)    { r.bus.Write32(r.addr+PicRegSET, mask) }
func (r PicReg) Invert(mask uint32) { r.bus.Write32(r.addr+PicRegINV, mask) }
