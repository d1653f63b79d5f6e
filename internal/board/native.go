package board

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/tinyrange/eic/internal/config"
	"github.com/tinyrange/eic/internal/eic"
	"github.com/tinyrange/eic/internal/regs"
)

// Simulate builds a machine around the backend selected at build time. An
// empty cfg.Backend selects it; naming any other backend is an error.
func Simulate(cfg config.Config, opts ...Option) (*Machine, error) {
	if cfg.Backend == "" {
		cfg.Backend = Name
	}
	if cfg.Backend != Name {
		return nil, fmt.Errorf("board: backend %q is not built in (built for %q)", cfg.Backend, Name)
	}
	return New(cfg, opts...)
}

// Native returns the machine's controller as the build-selected concrete
// type.
func Native(m *Machine) (*Controller, bool) {
	c, ok := m.ctrl.(*Controller)
	return c, ok
}

// Attach maps the controller's registers from device (usually /dev/mem)
// and returns the build-selected driver bound to them. The driver is not
// initialized. Closing the returned io.Closer unmaps the registers.
func Attach(device string, cfg config.Config, opts ...Option) (*Controller, io.Closer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Backend != "" && cfg.Backend != Name {
		return nil, nil, fmt.Errorf("board: backend %q is not built in (built for %q)", cfg.Backend, Name)
	}
	o := options{fatal: eic.DefaultFatal, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	base, start := nativeWindow(cfg.Base)
	win, err := regs.OpenWindow(device, regs.KSEG1Phys(start), start, nativeWindowSize)
	if err != nil {
		return nil, nil, fmt.Errorf("board: %w", err)
	}
	c, err := newNative(win, base, cfg, o)
	if err != nil {
		win.Close()
		return nil, nil, err
	}
	return c, win, nil
}
