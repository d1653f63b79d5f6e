// Package config loads the YAML board description used by the simulator.
package config

import (
	"fmt"
	"math"
	"math/bits"
	"os"
	"time"

	"github.com/tinyrange/eic/internal/eic"
	"gopkg.in/yaml.v3"
)

const (
	BackendPIC32MX = "pic32mx"
	BackendI8259   = "i8259"

	DefaultTickPeriod = time.Millisecond
	DefaultTimerHz    = 1_000_000
)

// Config describes one simulated board.
type Config struct {
	// Backend selects the interrupt controller. Empty means the backend the
	// binary was built for.
	Backend string `yaml:"backend,omitempty"`
	// Base overrides the controller base address. Zero keeps the backend's
	// default.
	Base   uint64 `yaml:"base,omitempty"`
	Policy string `yaml:"policy,omitempty"`

	VectoredIRQ bool `yaml:"vectored_irq,omitempty"`
	ShadowGPR   bool `yaml:"shadow_gpr,omitempty"`

	TickPeriod time.Duration `yaml:"tick_period,omitempty"`
	TimerHz    uint64        `yaml:"timer_hz,omitempty"`

	Devices []Device `yaml:"devices,omitempty"`
}

// Device is a peripheral wired to one controller line.
type Device struct {
	Name string `yaml:"name"`
	Line uint32 `yaml:"line"`
	// Level keeps the line asserted until the handler lowers it. Otherwise
	// the device pulses the line.
	Level bool `yaml:"level,omitempty"`
}

// Default returns the configuration used when no board file is given.
func Default(backend string) Config {
	c := Config{Backend: backend}
	c.normalize()
	return c
}

func (c *Config) normalize() {
	if c.Policy == "" {
		c.Policy = eic.PolicyFatal.String()
	}
	if c.TickPeriod == 0 {
		c.TickPeriod = DefaultTickPeriod
	}
	if c.TimerHz == 0 {
		c.TimerHz = DefaultTimerHz
	}
}

// Validate reports the first inconsistency in c.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendPIC32MX, BackendI8259:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if _, err := eic.ParsePolicy(c.Policy); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Backend == BackendI8259 && (c.VectoredIRQ || c.ShadowGPR) {
		return fmt.Errorf("config: vectored_irq and shadow_gpr require backend %q", BackendPIC32MX)
	}
	if c.TickPeriod < 0 {
		return fmt.Errorf("config: negative tick_period %s", c.TickPeriod)
	}
	seen := make(map[string]bool, len(c.Devices))
	lines := make(map[uint32]string, len(c.Devices))
	for _, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("config: device on line %d has no name", d.Line)
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate device %q", d.Name)
		}
		seen[d.Name] = true
		if other, ok := lines[d.Line]; ok {
			return fmt.Errorf("config: devices %q and %q share line %d", other, d.Name, d.Line)
		}
		lines[d.Line] = d.Name
	}
	return nil
}

// PolicyValue returns the parsed invalid-request policy.
func (c Config) PolicyValue() eic.Policy {
	p, err := eic.ParsePolicy(c.Policy)
	if err != nil {
		return eic.PolicyFatal
	}
	return p
}

// TimerCounts returns the number of core timer counts per tick.
func (c Config) TimerCounts() uint32 {
	hi, lo := bits.Mul64(uint64(c.TickPeriod), c.TimerHz)
	if hi >= uint64(time.Second) {
		return math.MaxUint32
	}
	n, _ := bits.Div64(hi, lo, uint64(time.Second))
	switch {
	case n == 0:
		return 1
	case n > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(n)
}

// Parse decodes and validates a board description.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads a board description from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Write stores c as YAML at path.
func Write(path string, c Config) error {
	c.normalize()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: close %s: %w", path, err)
	}
	return nil
}
