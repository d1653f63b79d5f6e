package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/eic/internal/board"
)

const (
	sgrBold  = "\x1b[1m"
	sgrRed   = "\x1b[31m"
	sgrReset = "\x1b[0m"
)

type deviceRow struct {
	Name       string
	Line       uint32
	Raised     uint64
	Dispatched uint64
	EOIs       uint64
}

type summary struct {
	Backend  string
	Traps    uint64
	Ticks    uint64
	Spurious uint64
	Total    uint64
	Devices  []deviceRow
}

func summarize(m *board.Machine, devs []*device) summary {
	stats := m.Controller().Stats().Snapshot()
	s := summary{
		Backend:  m.Name(),
		Traps:    m.Traps(),
		Ticks:    m.Ticks(),
		Spurious: stats.Spurious,
		Total:    stats.Total(),
	}
	for _, d := range devs {
		s.Devices = append(s.Devices, deviceRow{
			Name:       d.cfg.Name,
			Line:       d.cfg.Line,
			Raised:     d.raised,
			Dispatched: stats.PerLine[d.cfg.Line],
			EOIs:       d.eois,
		})
	}
	return s
}

// writeSummary prints the per-device table. Escape sequences are stripped
// unless w is a terminal.
func writeSummary(w io.Writer, tty bool, s summary) error {
	rows := [][]string{{
		sgrBold + "DEVICE" + sgrReset,
		sgrBold + "IRQ" + sgrReset,
		sgrBold + "RAISED" + sgrReset,
		sgrBold + "DISPATCHED" + sgrReset,
		sgrBold + "EOI" + sgrReset,
	}}
	for _, d := range s.Devices {
		dispatched := fmt.Sprint(d.Dispatched)
		if d.Dispatched < d.Raised {
			// Some requests were coalesced or lost.
			dispatched = sgrRed + dispatched + sgrReset
		}
		rows = append(rows, []string{
			d.Name,
			fmt.Sprint(d.Line),
			fmt.Sprint(d.Raised),
			dispatched,
			fmt.Sprint(d.EOIs),
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%sbackend%s %s  traps %d  ticks %d  spurious %d  handled %d\n",
		sgrBold, sgrReset, s.Backend, s.Traps, s.Ticks, s.Spurious, s.Total)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)))
			}
		}
		b.WriteByte('\n')
	}

	out := b.String()
	if !tty {
		out = ansi.Strip(out)
	}
	_, err := io.WriteString(w, out)
	return err
}
