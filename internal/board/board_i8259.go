//go:build !pic32mx

package board

import (
	"github.com/tinyrange/eic/internal/config"
	"github.com/tinyrange/eic/internal/eic/i8259"
	"github.com/tinyrange/eic/internal/regs"
)

// Controller is the backend this binary is built for.
type Controller = i8259.Controller

// Name is the backend this binary is built for.
const Name = config.BackendI8259

func nativeWindow(base uint64) (uint64, uint64) {
	if base == 0 {
		base = i8259.BaseAddress
	}
	return base, base + i8259.WindowOffset
}

func newNative(bus regs.Bus, base uint64, cfg config.Config, o options) (*Controller, error) {
	return i8259.New(bus,
		i8259.WithBase(base),
		i8259.WithPolicy(cfg.PolicyValue()),
		i8259.WithFatal(o.fatal),
		i8259.WithLogger(o.log),
	)
}

const nativeWindowSize = i8259.WindowSize
