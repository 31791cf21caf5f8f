package acquisition

import (
	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/protocol"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// PlotBounds is the data window a display should show.
type PlotBounds struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

// Display renders spectra and status text. The core supplies values only.
type Display interface {
	RenderSpectrum(s spectrum.Spectrum, convert calibration.Converter, bounds PlotBounds)
	RenderMessage(text string)
}

// Transport ships spectra to a remote receiver. Publish is fire-and-forget:
// the core does not know whether anybody is listening.
type Transport interface {
	Publish(marker [4]byte, s spectrum.Spectrum)
}

// Bus is the controller exchange used by the machine. *serial.Controller and
// *serial.Device implement it.
type Bus interface {
	Rebuild(p protocol.AcquisitionParameters) protocol.AcquisitionParameters
	Params() protocol.AcquisitionParameters
	Prime() error
	SwapFrame(dst spectrum.Spectrum) error
	ReadFrame(dst spectrum.Spectrum) error
}

// Shutter is implemented by buses that can block the light path. The
// machine closes it for DarkCapture.
type Shutter interface {
	SetShutter(closed bool)
}

type nopDisplay struct{}

func (nopDisplay) RenderSpectrum(spectrum.Spectrum, calibration.Converter, PlotBounds) {}
func (nopDisplay) RenderMessage(string)                                                {}

type nopTransport struct{}

func (nopTransport) Publish([4]byte, spectrum.Spectrum) {}

// Displays fans a frame out to several displays (terminal and web).
type Displays []Display

// RenderSpectrum implements Display.
func (d Displays) RenderSpectrum(s spectrum.Spectrum, convert calibration.Converter, bounds PlotBounds) {
	for _, x := range d {
		x.RenderSpectrum(s, convert, bounds)
	}
}

// RenderMessage implements Display.
func (d Displays) RenderMessage(text string) {
	for _, x := range d {
		x.RenderMessage(text)
	}
}
