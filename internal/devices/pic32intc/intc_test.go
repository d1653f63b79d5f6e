package pic32intc

import (
	"context"
	"testing"
)

type testReadySink struct {
	level bool
}

func (s *testReadySink) SetLevel(level bool) { s.level = level }
func (s *testReadySink) PulseInterrupt()     {}

const (
	offIFS0 = idxIFS * regStride
	offIFS1 = (idxIFS + 1) * regStride
	offIFS2 = (idxIFS + 2) * regStride
	offIEC0 = idxIEC * regStride
	offIEC1 = (idxIEC + 1) * regStride
	offIPC0 = idxIPC * regStride
)

func newController(t *testing.T) (*Controller, *testReadySink) {
	t.Helper()
	sink := &testReadySink{}
	c := New(BaseAddress)
	c.SetOutput(sink)
	return c, sink
}

func write32(t *testing.T, c *Controller, off uint64, v uint32) {
	t.Helper()
	data := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	if err := c.WriteMMIO(BaseAddress+off, data); err != nil {
		t.Fatalf("write to +0x%x failed: %v", off, err)
	}
}

func read32(t *testing.T, c *Controller, off uint64) uint32 {
	t.Helper()
	var b [4]byte
	if err := c.ReadMMIO(BaseAddress+off, b[:]); err != nil {
		t.Fatalf("read from +0x%x failed: %v", off, err)
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestAliases(t *testing.T) {
	c, _ := newController(t)

	write32(t, c, offIPC0, 0x1F1F1F1F)
	write32(t, c, offIPC0+aliasCLR, 0x0000001F)
	if got := c.IPC(0); got != 0x1F1F1F00 {
		t.Fatalf("IPC0 after CLR = 0x%08x", got)
	}
	write32(t, c, offIPC0+aliasSET, 0x04040404)
	if got := c.IPC(0); got != 0x1F1F1F04 {
		t.Fatalf("IPC0 after SET = 0x%08x", got)
	}
	write32(t, c, offIPC0+aliasINV, 0xFFFFFFFF)
	if got := c.IPC(0); got != 0xE0E0E0FB {
		t.Fatalf("IPC0 after INV = 0x%08x", got)
	}
	if got := read32(t, c, offIPC0+aliasSET); got != 0 {
		t.Fatalf("SET alias read = 0x%08x, want 0", got)
	}
	if got := read32(t, c, offIPC0); got != 0xE0E0E0FB {
		t.Fatalf("IPC0 read = 0x%08x", got)
	}
}

func TestOutputFollowsEnabledFlags(t *testing.T) {
	c, sink := newController(t)

	c.SetIRQ(37, true)
	if c.IFS(1) != 1<<5 {
		t.Fatalf("IFS1 = 0x%08x, want bit 5", c.IFS(1))
	}
	if sink.level {
		t.Fatalf("output asserted for a disabled line")
	}

	write32(t, c, offIEC1+aliasSET, 1<<5)
	if !sink.level {
		t.Fatalf("output not asserted after enabling line 37")
	}

	// The flag stays latched after the source drops.
	c.SetIRQ(37, false)
	if !sink.level {
		t.Fatalf("output dropped when the source was lowered")
	}

	write32(t, c, offIFS1+aliasCLR, 1<<5)
	if sink.level {
		t.Fatalf("output still asserted after clearing the flag")
	}
	if c.Cleared() != 1 {
		t.Fatalf("Cleared = %d, want 1", c.Cleared())
	}
	if c.Raised(37) != 1 {
		t.Fatalf("Raised(37) = %d, want 1", c.Raised(37))
	}
}

func TestBankTwoIsPartial(t *testing.T) {
	c, _ := newController(t)
	write32(t, c, offIFS2+aliasSET, 0xFFFFFFFF)
	if got := c.IFS(2); got != 0x7FF {
		t.Fatalf("IFS2 = 0x%08x, want only lines 64..74", got)
	}
	c.SetIRQ(75, true)
	if got := c.IFS(2); got != 0x7FF {
		t.Fatalf("line 75 latched: IFS2 = 0x%08x", got)
	}
}

func TestINTSTATReadOnly(t *testing.T) {
	c, _ := newController(t)
	write32(t, c, idxINTSTAT*regStride, 0x1234)
	if got := read32(t, c, idxINTSTAT*regStride); got != 0 {
		t.Fatalf("INTSTAT = 0x%08x, want 0", got)
	}
}

func TestRejectsBadAccess(t *testing.T) {
	c, _ := newController(t)
	if err := c.ReadMMIO(BaseAddress+offIFS0, make([]byte, 1)); err == nil {
		t.Fatalf("expected error for byte access")
	}
	if err := c.ReadMMIO(BaseAddress+WindowSize, make([]byte, 4)); err == nil {
		t.Fatalf("expected error past the window")
	}
	if err := c.WriteMMIO(BaseAddress+offIEC0+2, make([]byte, 4)); err == nil {
		t.Fatalf("expected error for unaligned access")
	}
}

func TestResetClearsRegisters(t *testing.T) {
	c, sink := newController(t)
	write32(t, c, offIEC0, 1)
	c.SetIRQ(0, true)
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if c.IFS(0) != 0 || c.IEC(0) != 0 {
		t.Fatalf("registers not cleared: %s", c)
	}
	if sink.level {
		t.Fatalf("output asserted after reset")
	}
}

func TestCoreTimer(t *testing.T) {
	c, sink := newController(t)
	write32(t, c, offIEC0, 1)

	timer := NewCoreTimer(10, c)
	timer.Advance(20)
	if timer.Fired() != 0 {
		t.Fatalf("timer fired before Init")
	}

	timer.Init()
	timer.Advance(9)
	if sink.level {
		t.Fatalf("timer fired early")
	}
	timer.Advance(1)
	if !sink.level || timer.Fired() != 1 {
		t.Fatalf("timer did not fire at compare")
	}

	// Without a Reset the timer stays quiet.
	write32(t, c, offIFS0+aliasCLR, 1)
	timer.Advance(100)
	if sink.level {
		t.Fatalf("timer fired without being rearmed")
	}

	timer.Reset()
	for i := 0; i < 10; i++ {
		if err := timer.Poll(context.Background()); err != nil {
			t.Fatalf("Poll: %v", err)
		}
	}
	if timer.Fired() != 2 {
		t.Fatalf("Fired = %d, want 2", timer.Fired())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := timer.Poll(ctx); err == nil {
		t.Fatalf("Poll with cancelled context succeeded")
	}
}

func TestCoreTimerDevice(t *testing.T) {
	timer := NewCoreTimer(1, nil)
	dev := timer.Device()
	if dev.SupportsMmio() != nil {
		t.Fatalf("core timer should not be memory mapped")
	}
	poll := dev.SupportsPollDevice()
	if poll == nil || poll.Handler != timer {
		t.Fatalf("core timer device does not poll the timer")
	}
	timer.Init()
	timer.Advance(1)
	if err := dev.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if timer.Fired() != 0 {
		t.Fatalf("Fired = %d after reset", timer.Fired())
	}
}

func TestCP0(t *testing.T) {
	cp0 := NewCP0(0x1C01)
	cp0.SetStatus(cp0.Status() &^ 0x1C00)
	if cp0.Status() != 1 {
		t.Fatalf("Status = 0x%x, want 0x1", cp0.Status())
	}
}
