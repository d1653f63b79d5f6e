package trace

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

var errStop = errors.New("stop")

// Reader iterates over a trace log in the order records were reserved.
type Reader struct {
	r    io.ReaderAt
	size int64
}

// NewReader reads size bytes of records from r.
func NewReader(r io.ReaderAt, size int64) (*Reader, error) {
	if size%recordSize != 0 {
		return nil, fmt.Errorf("trace: truncated log (%d bytes)", size)
	}
	return &Reader{r: r, size: size}, nil
}

// NewReaderFromBytes reads a log held in memory.
func NewReaderFromBytes(b []byte) (*Reader, error) {
	return NewReader(bytes.NewReader(b), int64(len(b)))
}

// NewReaderFromFile opens filename as a trace log.
func NewReaderFromFile(filename string) (*Reader, io.Closer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	r, err := NewReader(f, info.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

// Len returns the number of records in the log.
func (r *Reader) Len() int { return int(r.size / recordSize) }

// Each calls fn for every record. Records with KindInvalid are holes left by
// writers that reserved space but never filled it and are skipped.
func (r *Reader) Each(fn func(rec Record) error) error {
	var buf [recordSize]byte
	for off := int64(0); off < r.size; off += recordSize {
		if _, err := r.r.ReadAt(buf[:], off); err != nil {
			return fmt.Errorf("trace: read record at %d: %w", off, err)
		}
		rec := decode(buf[:])
		if rec.Kind == KindInvalid {
			continue
		}
		if err := fn(rec); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Count returns the number of records of the given kind.
func (r *Reader) Count(kind Kind) (int, error) {
	n := 0
	err := r.Each(func(rec Record) error {
		if rec.Kind == kind {
			n++
		}
		return nil
	})
	return n, err
}

// First returns the first record matching pred.
func (r *Reader) First(pred func(Record) bool) (Record, bool, error) {
	var found Record
	ok := false
	err := r.Each(func(rec Record) error {
		if pred(rec) {
			found, ok = rec, true
			return errStop
		}
		return nil
	})
	return found, ok, err
}
