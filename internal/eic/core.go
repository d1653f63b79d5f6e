package eic

import (
	"errors"
	"log/slog"
	"math/bits"
	"sync/atomic"

	"github.com/tinyrange/eic/internal/trace"
)

// HighestLine returns the bit index of the most significant set bit of a
// non-zero pending word. Among simultaneously pending lines the highest
// index is always serviced first.
func HighestLine(pending uint32) uint32 {
	return uint32(bits.Len32(pending)) - 1
}

// Stats counts serviced interrupts. Counters are atomic and updating them
// never allocates.
type Stats struct {
	perLine  []atomic.Uint64
	spurious atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	PerLine  []uint64
	Spurious uint64
}

// Total returns the number of handler invocations across all lines.
func (s StatsSnapshot) Total() uint64 {
	var n uint64
	for _, v := range s.PerLine {
		n += v
	}
	return n
}

// Dispatched returns the number of times line has been serviced.
func (s *Stats) Dispatched(line Line) uint64 {
	if int(line) >= len(s.perLine) {
		return 0
	}
	return s.perLine[line].Load()
}

// Spurious returns the number of traps that found nothing pending.
func (s *Stats) Spurious() uint64 { return s.spurious.Load() }

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		PerLine:  make([]uint64, len(s.perLine)),
		Spurious: s.spurious.Load(),
	}
	for i := range s.perLine {
		snap.PerLine[i] = s.perLine[i].Load()
	}
	return snap
}

// Core bundles the backend-independent parts of a controller: the
// registry, line validation under the configured Policy, the fatal path and
// statistics. Each backend owns one and adds its register handling.
type Core struct {
	name     string
	registry *Registry
	stats    Stats
	policy   Policy
	fatal    FatalFunc
	log      *slog.Logger
}

// NewCore builds a Core for lines [0, n).
func NewCore(name string, n int, policy Policy, fatal FatalFunc, log *slog.Logger) *Core {
	if fatal == nil {
		fatal = DefaultFatal
	}
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		name:     name,
		registry: NewRegistry(n),
		stats:    Stats{perLine: make([]atomic.Uint64, n)},
		policy:   policy,
		fatal:    fatal,
		log:      log.With("controller", name),
	}
}

// Name returns the backend name used in logs.
func (c *Core) Name() string { return c.name }

// NumLines returns the number of lines served.
func (c *Core) NumLines() int { return c.registry.Len() }

// Registry exposes the handler table.
func (c *Core) Registry() *Registry { return c.registry }

// Stats exposes the dispatch counters.
func (c *Core) Stats() *Stats { return &c.stats }

// Policy returns the invalid-request policy in force.
func (c *Core) Policy() Policy { return c.policy }

// Logger returns the controller's logger.
func (c *Core) Logger() *slog.Logger { return c.log }

// Fail reports an unrecoverable condition through the fatal hook.
func (c *Core) Fail(op string, line Line, err error) {
	trace.Emit(trace.KindFatal, uint32(line), 0)
	c.fatal(&FatalError{Op: op, Line: line, Err: err})
}

// reject applies the policy to an invalid request.
func (c *Core) reject(op string, line Line, err error) {
	if c.policy == PolicyIgnore {
		c.log.Warn("ignoring invalid irq request", "op", op, "irq", line, "error", err)
		return
	}
	c.Fail(op, line, err)
}

// Check validates line for op. It returns false when the caller must not
// proceed, after the policy has been applied.
func (c *Core) Check(op string, line Line) bool {
	if int(line) < c.registry.Len() {
		return true
	}
	c.reject(op, line, ErrLineOutOfRange)
	return false
}

// Register validates and stores a handler. Hardware state is untouched.
func (c *Core) Register(line Line, h Handler) {
	if err := c.registry.Register(line, h); err != nil {
		c.reject("register", line, errors.Unwrap(err))
		return
	}
	trace.Emit(trace.KindRegister, uint32(line), 0)
}

// Unregister clears a handler. Hardware state is untouched: the caller
// disables the line separately if needed.
func (c *Core) Unregister(line Line) {
	if err := c.registry.Unregister(line); err != nil {
		c.reject("unregister", line, errors.Unwrap(err))
		return
	}
	trace.Emit(trace.KindUnregister, uint32(line), 0)
}

// Resolve returns the handler for a pending line. A missing handler is fatal
// regardless of policy; Resolve then returns false and the dispatch loop
// must stop at this line.
func (c *Core) Resolve(line Line) (Handler, bool) {
	h := c.registry.Lookup(line)
	if h == nil {
		c.Fail("dispatch", line, ErrUnhandledIRQ)
		return nil, false
	}
	return h, true
}

// Invoke runs h for an acknowledged line.
func (c *Core) Invoke(line Line, h Handler) {
	c.stats.perLine[line].Add(1)
	trace.Emit(trace.KindDispatch, uint32(line), 0)
	h.HandleIRQ(line)
}

// Spurious records a trap that found nothing to service.
func (c *Core) Spurious() {
	c.stats.spurious.Add(1)
	trace.Emit(trace.KindSpurious, 0, 0)
}
