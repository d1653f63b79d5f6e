package regs

import (
	"fmt"
	"sync"
)

type Op uint8

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Access is one bus cycle observed by a Recorder.
type Access struct {
	Op    Op
	Addr  uint64
	Value uint32
	Width int
}

func (a Access) String() string {
	return fmt.Sprintf("%s%d 0x%08x = 0x%x", a.Op, a.Width*8, a.Addr, a.Value)
}

// Recorder forwards accesses to an inner Bus and keeps a log of them.
type Recorder struct {
	mu    sync.Mutex
	inner Bus
	log   []Access
}

// NewRecorder wraps inner. A nil inner bus reads as zero and drops writes.
func NewRecorder(inner Bus) *Recorder {
	return &Recorder{inner: inner}
}

func (r *Recorder) add(a Access) {
	r.mu.Lock()
	r.log = append(r.log, a)
	r.mu.Unlock()
}

func (r *Recorder) Read32(addr uint64) uint32 {
	var v uint32
	if r.inner != nil {
		v = r.inner.Read32(addr)
	}
	r.add(Access{Op: OpRead, Addr: addr, Value: v, Width: 4})
	return v
}

func (r *Recorder) Write32(addr uint64, value uint32) {
	r.add(Access{Op: OpWrite, Addr: addr, Value: value, Width: 4})
	if r.inner != nil {
		r.inner.Write32(addr, value)
	}
}

func (r *Recorder) Read8(addr uint64) uint8 {
	var v uint8
	if r.inner != nil {
		v = r.inner.Read8(addr)
	}
	r.add(Access{Op: OpRead, Addr: addr, Value: uint32(v), Width: 1})
	return v
}

func (r *Recorder) Write8(addr uint64, value uint8) {
	r.add(Access{Op: OpWrite, Addr: addr, Value: uint32(value), Width: 1})
	if r.inner != nil {
		r.inner.Write8(addr, value)
	}
}

// Accesses returns a copy of the log.
func (r *Recorder) Accesses() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Access(nil), r.log...)
}

// Reset empties the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.log = r.log[:0]
	r.mu.Unlock()
}

var _ Bus = (*Recorder)(nil)
