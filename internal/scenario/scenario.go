// Package scenario drives a simulated board from a Lua script.
//
// A script sees these globals:
//
//	raise(line)  lower(line)  pulse(line)
//	enable(line) disable(line)
//	on_irq(line, fn)   -- registers fn(line) as the line's handler
//	trap()             -- runs the trap entry point, returns true if taken
//	step(n)            -- advances the core timer by n counts
//	poll()             -- runs the board's poll devices
//	dispatched(line)   spurious()   ticks()   traps()
//	log(msg)
//
// Script errors, including failed assert calls, are returned from Run.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	lua "github.com/yuin/gopher-lua"

	"github.com/tinyrange/eic/internal/board"
	"github.com/tinyrange/eic/internal/eic"
)

// Runner binds a board to a fresh Lua state per script.
type Runner struct {
	m   *board.Machine
	log *slog.Logger

	ctx context.Context
	L   *lua.LState
	// Set from the handler path, reported once the script call unwinds.
	err error
}

// New returns a Runner for m. A nil logger uses slog.Default.
func New(m *board.Machine, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{m: m, log: log}
}

// RunFile runs the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	return r.Run(ctx, path, string(src))
}

// Run executes src. name is used in error messages.
func (r *Runner) Run(ctx context.Context, name, src string) error {
	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	r.ctx, r.L, r.err = ctx, L, nil
	defer func() { r.L = nil }()

	for fname, fn := range map[string]lua.LGFunction{
		"raise":      r.raise,
		"lower":      r.lower,
		"pulse":      r.pulse,
		"enable":     r.enable,
		"disable":    r.disable,
		"on_irq":     r.onIRQ,
		"trap":       r.trap,
		"step":       r.step,
		"poll":       r.poll,
		"dispatched": r.dispatched,
		"spurious":   r.spurious,
		"ticks":      r.ticks,
		"traps":      r.traps,
		"log":        r.logf,
	} {
		L.SetGlobal(fname, L.NewFunction(fn))
	}

	fn, err := L.LoadString(src)
	if err != nil {
		return fmt.Errorf("scenario: load %s: %w", name, err)
	}
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("scenario: %s: %w", name, err)
	}
	if r.err != nil {
		return fmt.Errorf("scenario: %s: %w", name, r.err)
	}
	return nil
}

func (r *Runner) checkLine(L *lua.LState, n int) uint8 {
	v := L.CheckInt(n)
	if v < 0 || v >= r.m.Controller().NumLines() {
		L.ArgError(n, fmt.Sprintf("line %d out of range [0, %d)", v, r.m.Controller().NumLines()))
	}
	return uint8(v)
}

func (r *Runner) raise(L *lua.LState) int {
	r.m.Raise(r.checkLine(L, 1))
	return 0
}

func (r *Runner) lower(L *lua.LState) int {
	r.m.Lower(r.checkLine(L, 1))
	return 0
}

func (r *Runner) pulse(L *lua.LState) int {
	r.m.Line(r.checkLine(L, 1)).PulseInterrupt()
	return 0
}

// enable and disable pass the line through unchecked so scripts can
// exercise the controller's invalid-line policy.
func (r *Runner) enable(L *lua.LState) int {
	r.m.Controller().EnableIRQ(eic.Line(L.CheckInt(1)))
	return 0
}

func (r *Runner) disable(L *lua.LState) int {
	r.m.Controller().DisableIRQ(eic.Line(L.CheckInt(1)))
	return 0
}

func (r *Runner) onIRQ(L *lua.LState) int {
	line := r.checkLine(L, 1)
	fn := L.CheckFunction(2)
	r.m.Controller().RegisterIRQ(eic.Line(line), eic.HandlerFunc(func(l eic.Line) {
		if r.L == nil || r.err != nil {
			return
		}
		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LNumber(l)); err != nil {
			r.err = fmt.Errorf("irq %d handler: %w", l, err)
		}
	}))
	return 0
}

func (r *Runner) trap(L *lua.LState) int {
	taken := r.m.Trap()
	if r.err != nil {
		L.RaiseError("%v", r.err)
	}
	L.Push(lua.LBool(taken))
	return 1
}

func (r *Runner) step(L *lua.LState) int {
	n := L.CheckInt(1)
	if n < 0 {
		L.ArgError(1, "negative step")
	}
	r.m.Step(uint32(n))
	return 0
}

func (r *Runner) poll(L *lua.LState) int {
	if err := r.m.Poll(r.ctx); err != nil {
		L.RaiseError("poll: %v", err)
	}
	return 0
}

func (r *Runner) dispatched(L *lua.LState) int {
	line := r.checkLine(L, 1)
	L.Push(lua.LNumber(r.m.Controller().Stats().Dispatched(eic.Line(line))))
	return 1
}

func (r *Runner) spurious(L *lua.LState) int {
	L.Push(lua.LNumber(r.m.Controller().Stats().Spurious()))
	return 1
}

func (r *Runner) ticks(L *lua.LState) int {
	L.Push(lua.LNumber(r.m.Ticks()))
	return 1
}

func (r *Runner) traps(L *lua.LState) int {
	L.Push(lua.LNumber(r.m.Traps()))
	return 1
}

func (r *Runner) logf(L *lua.LState) int {
	r.log.Info(L.CheckString(1), "source", "script")
	return 0
}
