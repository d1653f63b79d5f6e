//go:build linux

package board

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/eic/internal/config"
)

func TestAttachWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mem")
	if err := os.WriteFile(path, make([]byte, 1<<16), 0o600); err != nil {
		t.Fatalf("write backing file: %v", err)
	}

	cfg := config.Default("")
	// KSEG1 base of physical address zero, so the registers land at the
	// start of the backing file.
	cfg.Base = 0xA0000000
	c, closer, err := Attach(path, cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	c.Init()
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backing file: %v", err)
	}
	written := false
	for _, b := range data[:0x200] {
		if b != 0 {
			written = true
			break
		}
	}
	if !written {
		t.Fatalf("Init did not reach the mapped registers")
	}
}

func TestAttachRejectsOtherBackend(t *testing.T) {
	other := config.BackendPIC32MX
	if Name == config.BackendPIC32MX {
		other = config.BackendI8259
	}
	if _, _, err := Attach(os.DevNull, config.Default(other)); err == nil {
		t.Fatalf("Attach(%q) succeeded on a %s build", other, Name)
	}
}
