package chipset

import "sync"

// LineSet holds the levels peripherals drive into an interrupt controller
// and the end-of-interrupt callbacks that let level sources resample.
// Only level changes reach the sink, so a source must drop its line before
// raising it again.
type LineSet struct {
	mu   sync.Mutex
	sink InterruptSink

	// One bit per line.
	levels [4]uint64
	eoi    [256][]func()
}

// NewLineSet builds a LineSet that forwards level changes to sink.
func NewLineSet(sink InterruptSink) *LineSet {
	if sink == nil {
		sink = InterruptSinkFunc(func(uint8, bool) {})
	}
	return &LineSet{sink: sink}
}

// AllocateLine returns the handle a peripheral drives irq through. Handles
// for the same irq share its level.
func (l *LineSet) AllocateLine(irq uint8) LineInterrupt {
	return lineHandle{owner: l, irq: irq}
}

// Level reports the last level driven on irq.
func (l *LineSet) Level(irq uint8) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.levels[irq/64]&(1<<(irq%64)) != 0
}

// RegisterEOICallback adds fn to the callbacks run when the controller
// signals end of interrupt for line.
func (l *LineSet) RegisterEOICallback(line uint8, fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eoi[line] = append(l.eoi[line], fn)
}

// BroadcastEOI runs the callbacks registered for line. It is safe to call
// from a controller's EOI hook; callbacks may drive lines again.
func (l *LineSet) BroadcastEOI(line uint8) {
	l.mu.Lock()
	callbacks := l.eoi[line]
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (l *LineSet) setLevel(irq uint8, high bool) {
	word, bit := irq/64, uint64(1)<<(irq%64)

	l.mu.Lock()
	old := l.levels[word]
	if high {
		l.levels[word] |= bit
	} else {
		l.levels[word] &^= bit
	}
	changed := old != l.levels[word]
	l.mu.Unlock()

	if changed {
		l.sink.SetIRQ(irq, high)
	}
}

type lineHandle struct {
	owner *LineSet
	irq   uint8
}

func (h lineHandle) SetLevel(high bool) { h.owner.setLevel(h.irq, high) }

// PulseInterrupt raises and drops the line. Controllers that latch edges
// (PIC32 IFS) keep the request; the 8259 model only sees it while high.
func (h lineHandle) PulseInterrupt() {
	h.owner.setLevel(h.irq, true)
	h.owner.setLevel(h.irq, false)
}
