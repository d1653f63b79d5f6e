//go:build linux

package regs

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func newBackingFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatalf("write backing file: %v", err)
	}
	return path
}

func TestWindowReadWrite(t *testing.T) {
	page := unix.Getpagesize()
	path := newBackingFile(t, 2*page)

	const addr = 0xB4000020
	phys := uint64(page) + 0x20
	w, err := OpenWindow(path, phys, addr, 2)
	if err != nil {
		t.Fatalf("OpenWindow: %v", err)
	}

	w.Write8(addr+1, 0x5a)
	if got := w.Read8(addr + 1); got != 0x5a {
		t.Fatalf("Read8 = 0x%02x, want 0x5a", got)
	}
	// The window covers the whole page, so aligned 32-bit accesses around
	// the registers are reachable too.
	w.Write32(addr-0x20, 0xdeadbeef)
	if got := w.Read32(addr - 0x20); got != 0xdeadbeef {
		t.Fatalf("Read32 = 0x%08x", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backing file: %v", err)
	}
	if data[page+0x21] != 0x5a {
		t.Fatalf("byte write not visible at physical offset 0x%x", page+0x21)
	}
	if data[page] != 0xef || data[page+3] != 0xde {
		t.Fatalf("word write not visible in little-endian order: % x", data[page:page+4])
	}
}

func TestWindowOutOfRangePanics(t *testing.T) {
	path := newBackingFile(t, unix.Getpagesize())
	w, err := OpenWindow(path, 0, 0x1000, 4)
	if err != nil {
		t.Fatalf("OpenWindow: %v", err)
	}
	defer w.Close()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for access below the window")
		}
	}()
	w.Read32(0x0)
}

func TestOpenWindowErrors(t *testing.T) {
	if _, err := OpenWindow(filepath.Join(t.TempDir(), "missing"), 0, 0, 4); err == nil {
		t.Fatalf("OpenWindow of missing device succeeded")
	}
	if _, err := OpenWindow(newBackingFile(t, 16), 0, 0, 0); err == nil {
		t.Fatalf("OpenWindow with zero size succeeded")
	}
}

func TestKSEG1Phys(t *testing.T) {
	if got := KSEG1Phys(0xBF881000); got != 0x1F881000 {
		t.Fatalf("KSEG1Phys = 0x%x", got)
	}
}
