// Package file persists instrument configuration, exports spectra and
// appends debug frame logs.
package file

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/calibration"
	models "github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/spectrum"
	ui "github.com/CK6170/ccdscope-go/ui"
)

// PersistParameters overwrites the JSON file at path with parameters, e.g.
// after the acquisition settings were edited from the web UI.
func PersistParameters(path string, parameters *models.PARAMETERS) error {
	data, err := json.MarshalIndent(parameters, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal parameters: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("file: write %s: %w", path, err)
	}
	return nil
}

// SpectrumCSV writes one "pixel,x,value" row per pixel, with a header row
// naming the unit of x. A nil convert writes the pixel index as x.
func SpectrumCSV(w io.Writer, s spectrum.Spectrum, unit models.Unit, convert calibration.Converter) error {
	if convert == nil {
		convert = func(p int) float64 { return float64(p) }
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"pixel", unit.Label(), "value"}); err != nil {
		return err
	}
	row := make([]string, 3)
	for i, v := range s {
		row[0] = strconv.Itoa(i)
		row[1] = strconv.FormatFloat(convert(i), 'f', 4, 64)
		row[2] = strconv.Itoa(int(v))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// AppendToFile appends content + newline to file, creating it if it does not
// exist. Failures are reported as warnings; a debug log never stops a scan.
func AppendToFile(file, content string) {
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		ui.Warningf("Warning: failed to open file for append: %v\n", err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content + "\n"); err != nil {
		ui.Warningf("Warning: failed to write to file: %v\n", err)
	}
}

// FrameLog is an acquisition.Display that appends every rendered spectrum
// to a text file in the spectrum.ToStrings layout. It backs the DEBUG
// option.
type FrameLog struct {
	Path   string
	Stride int
	n      int
}

// RenderSpectrum implements acquisition.Display.
func (l *FrameLog) RenderSpectrum(s spectrum.Spectrum, _ calibration.Converter, _ acquisition.PlotBounds) {
	l.n++
	AppendToFile(l.Path, s.ToStrings(fmt.Sprintf("frame %d", l.n), max(l.Stride, 1)))
}

// RenderMessage implements acquisition.Display.
func (l *FrameLog) RenderMessage(text string) {
	AppendToFile(l.Path, "# "+text)
}
