//go:build linux

package regs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Window is a physical register window mapped into the process, typically
// from /dev/mem or a UIO node.
type Window struct {
	// Bus address of mem[0].
	base uint64
	mem  []byte
}

// OpenWindow maps size bytes of device starting at offset phys and serves
// them at bus addresses [addr, addr+size). The mapping itself starts at phys
// rounded down to a page boundary.
func OpenWindow(device string, phys, addr, size uint64) (*Window, error) {
	if size == 0 {
		return nil, fmt.Errorf("regs: window at 0x%x has zero size", phys)
	}
	f, err := os.OpenFile(device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("regs: open %s: %w", device, err)
	}
	defer f.Close()

	page := uint64(unix.Getpagesize())
	start := phys &^ (page - 1)
	length := (phys - start + size + page - 1) &^ (page - 1)

	mem, err := unix.Mmap(int(f.Fd()), int64(start), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("regs: mmap 0x%x+0x%x: %w", start, length, err)
	}
	return &Window{base: addr - (phys - start), mem: mem}, nil
}

// Close unmaps the window.
func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	return err
}

func (w *Window) ptr(addr uint64, width uint64) unsafe.Pointer {
	off := addr - w.base
	if addr < w.base || off+width > uint64(len(w.mem)) {
		panic(fmt.Sprintf("regs: access 0x%x outside window 0x%x+0x%x", addr, w.base, len(w.mem)))
	}
	return unsafe.Pointer(&w.mem[off])
}

//go:noinline
func (w *Window) Read32(addr uint64) uint32 {
	return atomic.LoadUint32((*uint32)(w.ptr(addr, 4)))
}

//go:noinline
func (w *Window) Write32(addr uint64, value uint32) {
	atomic.StoreUint32((*uint32)(w.ptr(addr, 4)), value)
}

//go:noinline
func (w *Window) Read8(addr uint64) uint8 {
	return *(*uint8)(w.ptr(addr, 1))
}

//go:noinline
func (w *Window) Write8(addr uint64, value uint8) {
	*(*uint8)(w.ptr(addr, 1)) = value
}

var _ Bus = (*Window)(nil)
