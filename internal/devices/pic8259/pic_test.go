package pic8259

import "testing"

const testBase = 0xB4000000

type testReadySink struct {
	level bool
}

func (s *testReadySink) SetLevel(level bool) { s.level = level }
func (s *testReadySink) PulseInterrupt()     {}

func TestPICInitialization(t *testing.T) {
	pic, sink := initializedPIC(t)

	if !pic.Initialized() {
		t.Fatalf("PIC not initialized, stage=%v", pic.initStage)
	}
	if pic.IMR() != 0xff {
		t.Fatalf("unexpected IMR 0x%02x after init", pic.IMR())
	}
	if pic.VectorBase() != 0 {
		t.Fatalf("unexpected vector base 0x%02x", pic.VectorBase())
	}
	if sink.level {
		t.Fatalf("ready line unexpectedly high after initialization")
	}
}

func TestPICSingleModeSkipsICW3(t *testing.T) {
	pic := New(testBase)
	write(t, pic, CommandOffset, 0x13) // single, ICW4 needed
	write(t, pic, DataOffset, 0x20)
	write(t, pic, DataOffset, 0x02) // ICW4 with AEOI
	if !pic.Initialized() {
		t.Fatalf("PIC not initialized after ICW1, ICW2, ICW4")
	}
	if pic.VectorBase() != 0x20 {
		t.Fatalf("unexpected vector base 0x%02x", pic.VectorBase())
	}
	if !pic.autoEOI {
		t.Fatalf("auto EOI not latched from ICW4")
	}
}

func TestPICPollAcknowledge(t *testing.T) {
	pic, sink := initializedPIC(t)
	write(t, pic, DataOffset, ^byte(1<<5))

	pic.SetIRQ(5, true)
	if !sink.level {
		t.Fatalf("ready line not asserted for IRQ 5")
	}
	if got := read(t, pic, CommandOffset); got != 1<<5 {
		t.Fatalf("IRR read = 0x%02x, want 0x20", got)
	}

	write(t, pic, CommandOffset, 0x0C)
	if got := read(t, pic, CommandOffset); got != 0x85 {
		t.Fatalf("poll read = 0x%02x, want 0x85", got)
	}
	if pic.ISR() != 1<<5 {
		t.Fatalf("ISR = 0x%02x after poll, want 0x20", pic.ISR())
	}
	if sink.level {
		t.Fatalf("ready line still asserted while IRQ 5 in service")
	}

	pic.SetIRQ(5, false)
	write(t, pic, CommandOffset, 0x65)
	if pic.ISR() != 0 {
		t.Fatalf("ISR = 0x%02x after specific EOI", pic.ISR())
	}
	if pic.EOIs() != 1 {
		t.Fatalf("EOIs = %d, want 1", pic.EOIs())
	}
}

func TestPICPollEmpty(t *testing.T) {
	pic, _ := initializedPIC(t)
	write(t, pic, CommandOffset, 0x0C)
	if got := read(t, pic, CommandOffset); got != 0 {
		t.Fatalf("poll read with nothing pending = 0x%02x, want 0", got)
	}
	total, empty := pic.Polls()
	if total != 1 || empty != 1 {
		t.Fatalf("polls = %d/%d, want 1/1", total, empty)
	}
}

func TestPICMaskedLineDoesNotInterrupt(t *testing.T) {
	pic, sink := initializedPIC(t)
	pic.SetIRQ(3, true)
	if sink.level {
		t.Fatalf("ready line asserted for masked IRQ 3")
	}
	write(t, pic, DataOffset, ^byte(1<<3))
	if !sink.level {
		t.Fatalf("ready line not asserted after unmasking IRQ 3")
	}
}

func TestPICPriority(t *testing.T) {
	pic, _ := initializedPIC(t)
	write(t, pic, DataOffset, 0x00)
	pic.SetIRQ(6, true)
	pic.SetIRQ(2, true)

	write(t, pic, CommandOffset, 0x0C)
	if got := read(t, pic, CommandOffset); got != 0x82 {
		t.Fatalf("poll read = 0x%02x, want IRQ 2 first", got)
	}
	// IRQ 6 is lower priority than IRQ 2, which is in service.
	write(t, pic, CommandOffset, 0x0C)
	if got := read(t, pic, CommandOffset); got != 0 {
		t.Fatalf("poll read = 0x%02x while IRQ 2 in service, want 0", got)
	}
	write(t, pic, CommandOffset, 0x20) // non-specific EOI
	write(t, pic, CommandOffset, 0x0C)
	if got := read(t, pic, CommandOffset); got != 0x86 {
		t.Fatalf("poll read = 0x%02x, want IRQ 6", got)
	}
}

func TestPICReadISR(t *testing.T) {
	pic, _ := initializedPIC(t)
	write(t, pic, DataOffset, 0x00)
	pic.SetIRQ(1, true)
	write(t, pic, CommandOffset, 0x0C)
	read(t, pic, CommandOffset)

	write(t, pic, CommandOffset, 0x0B) // OCW3: read ISR
	if got := read(t, pic, CommandOffset); got != 1<<1 {
		t.Fatalf("ISR read = 0x%02x, want 0x02", got)
	}
	write(t, pic, CommandOffset, 0x0A) // OCW3: read IRR
	if got := read(t, pic, CommandOffset); got != 0 {
		t.Fatalf("IRR read = 0x%02x, edge latch should be consumed", got)
	}
}

func TestPICLevelTriggered(t *testing.T) {
	pic := New(testBase, WithLevelTriggered(1<<4))
	sink := &testReadySink{}
	pic.SetReadyLine(sink)
	programPIC(t, pic)
	write(t, pic, DataOffset, 0x00)

	pic.SetIRQ(4, true)
	write(t, pic, CommandOffset, 0x0C)
	read(t, pic, CommandOffset)
	write(t, pic, CommandOffset, 0x64)
	if !sink.level {
		t.Fatalf("level-triggered line not reasserted after EOI")
	}
}

func TestPICEOIHook(t *testing.T) {
	pic, _ := initializedPIC(t)
	var got []uint8
	pic.SetEOIHook(func(line uint8) { got = append(got, line) })
	write(t, pic, CommandOffset, 0x63)
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("EOI hook saw %v, want [3]", got)
	}
}

func TestPICRejectsWideAccess(t *testing.T) {
	pic := New(testBase)
	if err := pic.WriteMMIO(testBase+CommandOffset, []byte{0, 0}); err == nil {
		t.Fatalf("expected error for 16-bit access")
	}
	if err := pic.ReadMMIO(testBase+0x22, []byte{0}); err == nil {
		t.Fatalf("expected error for address outside the controller")
	}
}

func TestPICResetPreservesLines(t *testing.T) {
	pic, _ := initializedPIC(t)
	pic.SetIRQ(7, true)
	if err := pic.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if pic.Initialized() {
		t.Fatalf("PIC still initialized after reset")
	}
	if pic.lines&(1<<7) == 0 {
		t.Fatalf("input level lost across reset")
	}
}

func initializedPIC(t *testing.T) (*PIC, *testReadySink) {
	sink := &testReadySink{}
	pic := New(testBase)
	pic.SetReadyLine(sink)
	programPIC(t, pic)
	return pic, sink
}

func programPIC(t *testing.T, pic *PIC) {
	writes := []struct {
		off  uint64
		data byte
	}{
		{CommandOffset, 0x11},
		{DataOffset, 0x00},
		{DataOffset, 0x00},
		{DataOffset, 0x00},
		{DataOffset, 0xff},
	}
	for _, w := range writes {
		write(t, pic, w.off, w.data)
	}
}

func write(t *testing.T, pic *PIC, off uint64, v byte) {
	t.Helper()
	if err := pic.WriteMMIO(testBase+off, []byte{v}); err != nil {
		t.Fatalf("write to +0x%x failed: %v", off, err)
	}
}

func read(t *testing.T, pic *PIC, off uint64) byte {
	t.Helper()
	var b [1]byte
	if err := pic.ReadMMIO(testBase+off, b[:]); err != nil {
		t.Fatalf("read from +0x%x failed: %v", off, err)
	}
	return b[0]
}
