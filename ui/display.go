package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// TerminalDisplay draws each spectrum as an in-place summary line: peak
// pixel, peak position in the display unit, peak value and the axis range.
type TerminalDisplay struct {
	mu    sync.Mutex
	w     io.Writer
	label func() string
	n     uint64
}

// NewTerminalDisplay writes to w (os.Stdout when nil). label, when set,
// returns the unit suffix for converted values.
func NewTerminalDisplay(w io.Writer, label func() string) *TerminalDisplay {
	if w == nil {
		w = os.Stdout
	}
	if label == nil {
		label = func() string { return "" }
	}
	return &TerminalDisplay{w: w, label: label}
}

// RenderSpectrum implements acquisition.Display.
func (d *TerminalDisplay) RenderSpectrum(s spectrum.Spectrum, convert calibration.Converter, b acquisition.PlotBounds) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.n++
	idx, val := s.Peak()
	unit := d.label()
	fmt.Fprintf(d.w, "\r\033[96m[%06d] peak [%04d] %10.2f %-4s %4d  axis %.2f..%.2f %s\033[0m    ",
		d.n, idx, convert(idx), unit, val, b.XMin, b.XMax, unit)
}

// RenderMessage implements acquisition.Display.
func (d *TerminalDisplay) RenderMessage(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.w, "\n\033[92m%s\033[0m\n", text)
}
