package chipset

import (
	"errors"
	"fmt"
	"sort"
)

var errNilBuilder = errors.New("chipset: builder is nil")

type mmioBinding struct {
	region  MMIORegion
	handler MmioHandler
}

// Builder collects devices and their register regions before creating a
// Chipset.
type Builder struct {
	devices map[string]ChipsetDevice
	mmio    []mmioBinding
	polls   []PollHandler
	fault   FaultFunc
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{devices: make(map[string]ChipsetDevice)}
}

// RegisterDevice adds dev under name, mapping its MMIO regions and poll
// handler.
func (b *Builder) RegisterDevice(name string, dev ChipsetDevice) error {
	switch {
	case b == nil:
		return errNilBuilder
	case name == "":
		return fmt.Errorf("chipset: device name is empty")
	case dev == nil:
		return fmt.Errorf("chipset: device %q is nil", name)
	}
	if _, exists := b.devices[name]; exists {
		return fmt.Errorf("chipset: device %q already registered", name)
	}

	if intercept := dev.SupportsMmio(); intercept != nil {
		if intercept.Handler == nil {
			return fmt.Errorf("chipset: device %q has MMIO regions but no handler", name)
		}
		for _, region := range intercept.Regions {
			if err := b.WithMmioRegion(region.Address, region.Size, intercept.Handler); err != nil {
				return fmt.Errorf("chipset: device %q: %w", name, err)
			}
		}
	}

	if poll := dev.SupportsPollDevice(); poll != nil {
		if poll.Handler == nil {
			return fmt.Errorf("chipset: device %q has a nil poll handler", name)
		}
		b.polls = append(b.polls, poll.Handler)
	}

	b.devices[name] = dev
	return nil
}

// WithMmioRegion maps [base, base+size) to handler.
func (b *Builder) WithMmioRegion(base, size uint64, handler MmioHandler) error {
	if handler == nil {
		return fmt.Errorf("MMIO handler for region 0x%x size 0x%x is nil", base, size)
	}
	if size == 0 {
		return fmt.Errorf("MMIO region at 0x%x has zero size", base)
	}
	if base+size < base {
		return fmt.Errorf("MMIO region at 0x%x size 0x%x overflows", base, size)
	}
	for _, existing := range b.mmio {
		r := existing.region
		if base < r.Address+r.Size && r.Address < base+size {
			return fmt.Errorf("MMIO region 0x%x-0x%x overlaps 0x%x-0x%x",
				base, base+size-1, r.Address, r.Address+r.Size-1)
		}
	}

	b.mmio = append(b.mmio, mmioBinding{
		region:  MMIORegion{Address: base, Size: size},
		handler: handler,
	})
	return nil
}

// WithFaultHandler sets the hook invoked when a Bus access fails.
func (b *Builder) WithFaultHandler(fn FaultFunc) *Builder {
	b.fault = fn
	return b
}

// Build freezes the layout into a Chipset. The builder may be reused.
func (b *Builder) Build() (*Chipset, error) {
	if b == nil {
		return nil, errNilBuilder
	}

	cs := &Chipset{
		devices: make([]namedDevice, 0, len(b.devices)),
		mmio:    append([]mmioBinding(nil), b.mmio...),
		polls:   append([]PollHandler(nil), b.polls...),
		fault:   b.fault,
	}
	if cs.fault == nil {
		cs.fault = defaultFault
	}
	for name, dev := range b.devices {
		cs.devices = append(cs.devices, namedDevice{name: name, dev: dev})
	}
	sort.Slice(cs.devices, func(i, j int) bool { return cs.devices[i].name < cs.devices[j].name })
	sort.Slice(cs.mmio, func(i, j int) bool { return cs.mmio[i].region.Address < cs.mmio[j].region.Address })
	return cs, nil
}
