//go:build pic32mx

package board

import (
	"fmt"

	"github.com/tinyrange/eic/internal/config"
	"github.com/tinyrange/eic/internal/eic/pic32mx"
	"github.com/tinyrange/eic/internal/regs"
)

// Controller is the backend this binary is built for.
type Controller = pic32mx.Controller

// Name is the backend this binary is built for.
const Name = config.BackendPIC32MX

func nativeWindow(base uint64) (uint64, uint64) {
	if base == 0 {
		base = pic32mx.BaseAddress
	}
	return base, base
}

func newNative(bus regs.Bus, base uint64, cfg config.Config, o options) (*Controller, error) {
	if cfg.VectoredIRQ || cfg.ShadowGPR {
		// CP0 is not reachable through a register window.
		return nil, fmt.Errorf("board: vectored_irq and shadow_gpr need the CP0 status register")
	}
	return pic32mx.New(bus,
		pic32mx.WithBase(base),
		pic32mx.WithPolicy(cfg.PolicyValue()),
		pic32mx.WithFatal(o.fatal),
		pic32mx.WithLogger(o.log),
	)
}

const nativeWindowSize = pic32mx.WindowSize
