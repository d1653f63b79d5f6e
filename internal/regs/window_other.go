//go:build !linux

package regs

type Window struct{}

func OpenWindow(device string, phys, addr, size uint64) (*Window, error) {
	return nil, ErrUnsupported
}

func (w *Window) Close() error                     { return nil }
func (w *Window) Read32(addr uint64) uint32         { return 0 }
func (w *Window) Write32(addr uint64, value uint32) {}
func (w *Window) Read8(addr uint64) uint8           { return 0 }
func (w *Window) Write8(addr uint64, value uint8)   {}
