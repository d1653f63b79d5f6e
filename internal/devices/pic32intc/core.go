package pic32intc

import (
	"context"
	"sync"

	"github.com/tinyrange/eic/internal/chipset"
)

// CoreTimerIRQ is the controller line wired to the core timer.
const CoreTimerIRQ = 0

// CP0 models the MIPS coprocessor 0 Status register.
type CP0 struct {
	mu     sync.Mutex
	status uint32
}

// NewCP0 returns a Status register holding the given reset value.
func NewCP0(reset uint32) *CP0 {
	return &CP0{status: reset}
}

func (c *CP0) Status() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *CP0) SetStatus(value uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = value
}

// CoreTimer models the MIPS Count/Compare pair. Count advances once per
// Poll; when it reaches Compare the timer raises its interrupt line once and
// stays quiet until software rearms it with Reset.
type CoreTimer struct {
	mu sync.Mutex

	period  uint32
	count   uint32
	compare uint32
	armed   bool
	fired   uint64

	irq chipset.InterruptSink
}

// NewCoreTimer returns a timer that fires every period counts on irq.
func NewCoreTimer(period uint32, irq chipset.InterruptSink) *CoreTimer {
	if period == 0 {
		period = 1
	}
	if irq == nil {
		irq = chipset.InterruptSinkFunc(nil)
	}
	return &CoreTimer{period: period, irq: irq}
}

// Init programs the first compare value.
func (t *CoreTimer) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.compare = t.count + t.period
	t.armed = true
}

// Reset acknowledges the match and programs the next compare value.
func (t *CoreTimer) Reset() {
	t.Init()
}

// Advance moves Count forward by n.
func (t *CoreTimer) Advance(n uint32) {
	t.mu.Lock()
	fire := false
	for i := uint32(0); i < n; i++ {
		t.count++
		if t.armed && t.count == t.compare {
			t.armed = false
			t.fired++
			fire = true
		}
	}
	t.mu.Unlock()
	if fire {
		t.irq.SetIRQ(CoreTimerIRQ, true)
		t.irq.SetIRQ(CoreTimerIRQ, false)
	}
}

// Fired returns how many compare matches have raised the interrupt.
func (t *CoreTimer) Fired() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Poll implements chipset.PollHandler.
func (t *CoreTimer) Poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Advance(1)
	return nil
}

// Device adapts the timer for registration with a chipset. The chipset
// polls it to advance Count and resets it to power-on state.
func (t *CoreTimer) Device() chipset.ChipsetDevice { return timerDevice{t} }

type timerDevice struct{ t *CoreTimer }

func (d timerDevice) Start() error { return nil }
func (d timerDevice) Stop() error  { return nil }

func (d timerDevice) Reset() error {
	d.t.mu.Lock()
	defer d.t.mu.Unlock()
	d.t.count, d.t.compare, d.t.armed, d.t.fired = 0, 0, false, 0
	return nil
}

// The timer is a coprocessor register pair, not memory mapped.
func (d timerDevice) SupportsMmio() *chipset.MmioIntercept { return nil }

func (d timerDevice) SupportsPollDevice() *chipset.PollDevice {
	return &chipset.PollDevice{Handler: d.t}
}
