// Package trace is a process-wide binary event log for the interrupt core.
//
// Every record is a fixed 16 byte little-endian entry:
//   - 2 bytes kind
//   - 2 bytes irq line
//   - 4 bytes value (register value, bank mask or error code)
//   - 8 bytes timestamp (nanoseconds since epoch)
//
// Writers reserve space by atomically advancing the file offset, so
// recording never takes a lock and is safe from trap context. When no log
// is open every call is a no-op.
package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const recordSize = 16

type Kind uint16

const (
	KindInvalid Kind = iota
	KindInit
	KindRegister
	KindUnregister
	KindEnable
	KindDisable
	KindAck
	KindDispatch
	KindSpurious
	KindFatal
)

var kindNames = [...]string{
	KindInvalid:    "invalid",
	KindInit:       "init",
	KindRegister:   "register",
	KindUnregister: "unregister",
	KindEnable:     "enable",
	KindDisable:    "disable",
	KindAck:        "ack",
	KindDispatch:   "dispatch",
	KindSpurious:   "spurious",
	KindFatal:      "fatal",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if k != int(KindInvalid) && name == s {
			return Kind(k), nil
		}
	}
	return KindInvalid, fmt.Errorf("trace: unknown record kind %q", s)
}

// Record is one decoded trace entry.
type Record struct {
	Time  time.Time
	Kind  Kind
	Line  uint16
	Value uint32
}

func (r Record) String() string {
	return fmt.Sprintf("%s %-10s irq=%-3d value=0x%08x", r.Time.Format(time.RFC3339Nano), r.Kind, r.Line, r.Value)
}

type Writer interface {
	io.WriterAt
	io.Closer
}

type writer struct {
	w Writer
}

var (
	fh     atomic.Pointer[writer]
	offset atomic.Uint64
)

// OpenFile starts tracing into filename, truncating any previous log.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Open starts tracing into w. The error is a warning: a previously open
// writer was replaced and may have lost in-flight records.
func Open(w Writer) error {
	offset.Store(0)
	if fh.Swap(&writer{w: w}) != nil {
		return fmt.Errorf("trace: already open, discarded old writer")
	}
	return nil
}

// Close stops tracing and closes the current writer.
func Close() error {
	old := fh.Swap(nil)
	offset.Store(0)
	if old != nil {
		return old.w.Close()
	}
	return nil
}

// Enabled reports whether a trace log is open.
func Enabled() bool { return fh.Load() != nil }

func encode(kind Kind, line uint16, value uint32, ts int64) [recordSize]byte {
	var rec [recordSize]byte
	binary.LittleEndian.PutUint16(rec[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(rec[2:4], line)
	binary.LittleEndian.PutUint32(rec[4:8], value)
	binary.LittleEndian.PutUint64(rec[8:16], uint64(ts))
	return rec
}

func decode(rec []byte) Record {
	return Record{
		Kind:  Kind(binary.LittleEndian.Uint16(rec[0:2])),
		Line:  binary.LittleEndian.Uint16(rec[2:4]),
		Value: binary.LittleEndian.Uint32(rec[4:8]),
		Time:  time.Unix(0, int64(binary.LittleEndian.Uint64(rec[8:16]))),
	}
}

// Emit appends one record to the open log.
func Emit(kind Kind, line uint32, value uint32) {
	w := fh.Load()
	if w == nil {
		return
	}
	rec := encode(kind, uint16(line), value, time.Now().UnixNano())
	off := offset.Add(recordSize) - recordSize
	if _, err := w.w.WriteAt(rec[:], int64(off)); err != nil {
		panic(err)
	}
}

// Memory is an in-memory trace sink.
type Memory struct {
	data sync.Map
	size atomic.Int64
}

// OpenMemory starts tracing into a fresh in-memory buffer.
func OpenMemory() (*Memory, error) {
	m := &Memory{}
	if err := Open(m); err != nil {
		return m, err
	}
	return m, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.data.Store(off, append([]byte(nil), p...))
	end := off + int64(len(p))
	for {
		cur := m.size.Load()
		if cur >= end || m.size.CompareAndSwap(cur, end) {
			break
		}
	}
	return len(p), nil
}

func (m *Memory) Close() error { return nil }

// Bytes flattens the buffer in offset order.
func (m *Memory) Bytes() []byte {
	out := make([]byte, m.size.Load())
	m.data.Range(func(key, value any) bool {
		copy(out[key.(int64):], value.([]byte))
		return true
	})
	return out
}

// WriteTo copies the buffer to w at the offsets it was recorded with.
func (m *Memory) WriteTo(w io.WriterAt) (int64, error) {
	var err error
	m.data.Range(func(key, value any) bool {
		_, err = w.WriteAt(value.([]byte), key.(int64))
		return err == nil
	})
	return m.size.Load(), err
}
