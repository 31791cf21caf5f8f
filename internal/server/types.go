package server

import (
	"time"

	"github.com/CK6170/ccdscope-go/acquisition"
	serialpkg "github.com/CK6170/ccdscope-go/serial"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// APIError is the canonical error envelope returned by JSON endpoints.
// The frontend expects the `error` field and will surface it to the user.
type APIError struct {
	Error string `json:"error"`
}

// HealthResponse is returned by /api/health to confirm the server is running.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is the machine snapshot plus transport state.
type StatusResponse struct {
	acquisition.Status
	Receiver bool   `json:"receiver"`
	Sent     uint64 `json:"sent"`
	Dropped  uint64 `json:"dropped"`
}

// ModeRequest selects a scan mode ("CONTINUOUS", "SINGLE", "DARK").
type ModeRequest struct {
	Mode string `json:"mode"`
}

// UnitRequest selects the display unit ("PIXEL", "WAVELENGTH", "RAMANSHIFT").
type UnitRequest struct {
	Unit string `json:"unit"`
}

// PortsResponse lists UART candidates for LINK.PORT.
type PortsResponse struct {
	Ports []serialpkg.PortInfo `json:"ports"`
}

// SpectrumEvent is the "spectrum" display event.
type SpectrumEvent struct {
	Frame     uint64                 `json:"frame"`
	PeakPixel int                    `json:"peakPixel"`
	PeakX     float64                `json:"peakX"`
	PeakValue uint16                 `json:"peakValue"`
	Unit      string                 `json:"unit"`
	Bounds    acquisition.PlotBounds `json:"bounds"`
	Values    spectrum.Spectrum      `json:"values"`
}

// MessageEvent is the "message" display event.
type MessageEvent struct {
	Text string `json:"text"`
}
