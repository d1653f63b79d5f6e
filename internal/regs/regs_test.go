package regs

import (
	"reflect"
	"testing"
)

// memBus is a flat register file. Reads of unwritten addresses return zero.
type memBus struct {
	m map[uint64]uint32
}

func newMemBus() *memBus { return &memBus{m: make(map[uint64]uint32)} }

func (b *memBus) Read32(addr uint64) uint32     { return b.m[addr] }
func (b *memBus) Write32(addr uint64, v uint32) { b.m[addr] = v }
func (b *memBus) Read8(addr uint64) uint8       { return uint8(b.m[addr]) }
func (b *memBus) Write8(addr uint64, v uint8)   { b.m[addr] = uint32(v) }

func TestPicRegAliases(t *testing.T) {
	rec := NewRecorder(nil)
	r := NewPicReg(rec, 0xBF881060)

	r.Store(0x11)
	r.Clear(0x1)
	r.Set(0x2)
	r.Invert(0x4)
	r.Load()

	want := []Access{
		{Op: OpWrite, Addr: 0xBF881060, Value: 0x11, Width: 4},
		{Op: OpWrite, Addr: 0xBF881064, Value: 0x1, Width: 4},
		{Op: OpWrite, Addr: 0xBF881068, Value: 0x2, Width: 4},
		{Op: OpWrite, Addr: 0xBF88106C, Value: 0x4, Width: 4},
		{Op: OpRead, Addr: 0xBF881060, Value: 0, Width: 4},
	}
	if got := rec.Accesses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("accesses:\n got %v\nwant %v", got, want)
	}
}

func TestReg8(t *testing.T) {
	bus := newMemBus()
	rec := NewRecorder(bus)
	r := NewReg8(rec, 0xB4000021)

	r.Store(0xfe)
	if got := r.Load(); got != 0xfe {
		t.Fatalf("Load = 0x%02x, want 0xfe", got)
	}
	if r.Addr() != 0xB4000021 {
		t.Fatalf("Addr = 0x%x", r.Addr())
	}
	got := rec.Accesses()
	if len(got) != 2 || got[0].Width != 1 || got[1].Op != OpRead || got[1].Value != 0xfe {
		t.Fatalf("accesses = %v", got)
	}
}

func TestReg32(t *testing.T) {
	bus := newMemBus()
	r := NewReg32(bus, 0x1000)
	r.Store(0xdeadbeef)
	if got := r.Load(); got != 0xdeadbeef {
		t.Fatalf("Load = 0x%08x", got)
	}
}

func TestRecorderReset(t *testing.T) {
	rec := NewRecorder(nil)
	rec.Write32(0x10, 1)
	snapshot := rec.Accesses()
	rec.Reset()
	if len(rec.Accesses()) != 0 {
		t.Fatalf("log not empty after Reset")
	}
	if len(snapshot) != 1 {
		t.Fatalf("Accesses did not return a copy")
	}
}

func TestAccessString(t *testing.T) {
	a := Access{Op: OpWrite, Addr: 0xB4000020, Value: 0x65, Width: 1}
	if got, want := a.String(), "write8 0xb4000020 = 0x65"; got != want {
		t.Fatalf("String = %q, want %q", got, want)
	}
}
