package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/eic/internal/board"
	"github.com/tinyrange/eic/internal/config"
	"github.com/tinyrange/eic/internal/eic"
	"github.com/tinyrange/eic/internal/scenario"
	"github.com/tinyrange/eic/internal/trace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "eicsim: %v\n", err)
		os.Exit(1)
	}
}

// defaultDevices populates a board that declares no peripherals.
var defaultDevices = map[string][]config.Device{
	config.BackendPIC32MX: {
		{Name: "uart1", Line: 40},
		{Name: "spi2", Line: 3},
		{Name: "i2c1", Line: 70},
	},
	config.BackendI8259: {
		{Name: "kbd", Line: 1},
		{Name: "com1", Line: 4},
		{Name: "ide", Line: 6, Level: true},
	},
}

func run() error {
	configPath := flag.String("config", "", "Board description (YAML)")
	policy := flag.String("policy", "", "Override the invalid-request policy (fatal, ignore)")
	traps := flag.Int("traps", 1000, "Number of simulation steps")
	step := flag.Uint("step", 100, "Core timer counts per step")
	rate := flag.Float64("rate", 0.5, "Probability a peripheral raises its line each step")
	seed := flag.Uint64("seed", 1, "Random seed")
	traceFile := flag.String("trace", "", "Write a binary trace to file")
	dump := flag.String("dump", "", "Print a binary trace file and exit")
	kind := flag.String("kind", "", "With -dump, only print records of this kind")
	script := flag.String("script", "", "Drive the board from a Lua script instead of random traffic")
	attach := flag.String("attach", "", "Initialize the real controller through this memory device (e.g. /dev/mem) and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Drive the %s interrupt controller against emulated hardware.\n\n", board.Name)
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -traps 10000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config board.yaml -trace irq.bin\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -script nested.lua\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -dump irq.bin -kind fatal\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -attach /dev/mem -config board.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	if *dump != "" {
		return dumpTrace(os.Stdout, *dump, *kind)
	}

	cfg := config.Default("")
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *policy != "" {
		cfg.Policy = *policy
	}
	if cfg.Backend == "" {
		cfg.Backend = board.Name
	}

	if *attach != "" {
		return attachNative(*attach, cfg)
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = defaultDevices[cfg.Backend]
	}

	if *traceFile != "" {
		if err := trace.OpenFile(*traceFile); err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer trace.Close()
	}

	var halted error
	m, err := board.Simulate(cfg,
		board.WithLogger(slog.Default()),
		board.WithFatal(func(err error) { halted = err }),
	)
	if err != nil {
		return err
	}
	defer m.Close()

	slog.Info("Board ready",
		"backend", m.Name(),
		"base", fmt.Sprintf("0x%08x", m.Controller().Base()),
		"lines", m.Controller().NumLines(),
		"devices", len(cfg.Devices))

	ctx := context.Background()

	if *script != "" {
		if err := scenario.New(m, slog.Default()).RunFile(ctx, *script); err != nil {
			return err
		}
		if halted != nil {
			return fmt.Errorf("controller halted: %w", halted)
		}
		tty := term.IsTerminal(int(os.Stdout.Fd()))
		return writeSummary(os.Stdout, tty, summarize(m, nil))
	}

	devs := attachDevices(m, cfg.Devices)
	rng := rand.New(rand.NewPCG(*seed, *seed))

	bar := progressbar.Default(int64(*traps), "dispatching")
	defer bar.Close()

	for range *traps {
		m.Step(uint32(*step))
		if err := m.Poll(ctx); err != nil {
			return err
		}
		if len(devs) > 0 && rng.Float64() < *rate {
			devs[rng.IntN(len(devs))].raise()
		}
		m.Trap()
		bar.Add(1)

		if halted != nil {
			return fmt.Errorf("controller halted: %w", halted)
		}
	}

	tty := term.IsTerminal(int(os.Stdout.Fd()))
	return writeSummary(os.Stdout, tty, summarize(m, devs))
}

// attachNative runs the controller's init sequence against real registers.
func attachNative(device string, cfg config.Config) error {
	c, closer, err := board.Attach(device, cfg, board.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	defer closer.Close()

	c.Init()
	slog.Info("Controller initialized",
		"backend", board.Name,
		"device", device,
		"base", fmt.Sprintf("0x%08x", c.Base()),
		"lines", c.NumLines())
	return nil
}

// device is a simulated peripheral. It raises its line on demand and drops
// it once its handler has run.
type device struct {
	cfg    config.Device
	m      *board.Machine
	raised uint64
	served uint64
	eois   uint64
}

func (d *device) raise() {
	d.raised++
	d.m.Raise(uint8(d.cfg.Line))
}

func (d *device) HandleIRQ(line eic.Line) {
	d.served++
	d.m.Lower(uint8(line))
}

func attachDevices(m *board.Machine, cfgs []config.Device) []*device {
	var out []*device
	for _, c := range cfgs {
		d := &device{cfg: c, m: m}
		line := eic.Line(c.Line)
		m.Controller().RegisterIRQ(line, d)
		m.Controller().EnableIRQ(line)
		m.OnEOI(uint8(c.Line), func() { d.eois++ })
		slog.Debug("Attached device", "name", c.Name, "irq", c.Line, "level", c.Level)
		out = append(out, d)
	}
	return out
}
