// Package models defines the JSON-serialized configuration structures shared
// between the terminal front end and the web server.
//
// These types mirror the shape of `ccdscope.json`.
package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Unit identifies the spectral axis used for display.
type Unit int

const (
	PIXEL Unit = iota
	WAVELENGTH
	RAMANSHIFT
)

// String implements fmt.Stringer.
func (u Unit) String() string {
	switch u {
	case PIXEL:
		return "PIXEL"
	case WAVELENGTH:
		return "WAVELENGTH"
	case RAMANSHIFT:
		return "RAMANSHIFT"
	default:
		return fmt.Sprintf("Unit(%d)", int(u))
	}
}

// Label returns the axis label shown next to converted values.
func (u Unit) Label() string {
	switch u {
	case WAVELENGTH:
		return "nm"
	case RAMANSHIFT:
		return "cm-1"
	default:
		return "px"
	}
}

// Next cycles PIXEL -> WAVELENGTH -> RAMANSHIFT -> PIXEL.
func (u Unit) Next() Unit {
	return (u + 1) % 3
}

// ParseUnit accepts the String() form, case-insensitive.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "PIXEL", "PX":
		return PIXEL, nil
	case "WAVELENGTH", "NM":
		return WAVELENGTH, nil
	case "RAMANSHIFT", "RAMAN", "WAVENUMBER":
		return RAMANSHIFT, nil
	}
	return PIXEL, fmt.Errorf("unknown unit %q", s)
}

// MarshalJSON writes the unit as its name.
func (u Unit) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

// UnmarshalJSON accepts either the name or the numeric value.
func (u *Unit) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := ParseUnit(s)
		if err != nil {
			return err
		}
		*u = v
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*u = Unit(n)
	return nil
}

// Link kinds.
const (
	LinkSPI  = "spi"
	LinkUART = "uart"
	LinkSim  = "sim"
)

// Ready source kinds.
const (
	ReadyGPIO  = "gpio"
	ReadyTimer = "timer"
)

// PARAMETERS is the primary configuration model.
type PARAMETERS struct {
	LINK        *LINK        `json:"LINK"`
	READY       *READY       `json:"READY,omitempty"`
	ACQUISITION *ACQUISITION `json:"ACQUISITION"`
	CALIBRATION *CALIBRATION `json:"CALIBRATION"`
	// EXCITATION is the laser wavelength in nm used for Raman shift.
	EXCITATION float64 `json:"EXCITATION"`
	UNIT       Unit    `json:"UNIT"`
	POLLMS     int     `json:"POLLMS,omitempty"`
	DEBUG      bool    `json:"DEBUG"`
}

// LINK selects and configures the bus to the timing controller.
//
// PORT is the spidev name ("/dev/spidev0.0", "SPI0.0", "") for spi, or the
// serial device for uart.
type LINK struct {
	KIND     string `json:"KIND"`
	PORT     string `json:"PORT"`
	BAUDRATE int    `json:"BAUDRATE,omitempty"`
	SPEEDHZ  int64  `json:"SPEEDHZ,omitempty"`
}

// READY selects the data-ready signal source.
type READY struct {
	KIND string `json:"KIND"`
	CHIP string `json:"CHIP,omitempty"`
	LINE int    `json:"LINE,omitempty"`
}

// ACQUISITION holds the controller timing parameters in master clock ticks.
type ACQUISITION struct {
	SH           uint32 `json:"SH"`
	ICG          uint32 `json:"ICG"`
	INTEGRATIONS uint16 `json:"INTEGRATIONS"`
}

// CALIBRATION holds the pixel/wavelength reference points.
type CALIBRATION struct {
	POINTS []POINT `json:"POINTS"`
}

// POINT pairs a pixel index with its known wavelength in nm.
type POINT struct {
	PIXEL      float64 `json:"PIXEL"`
	WAVELENGTH float64 `json:"WAVELENGTH"`
}

// Default returns the configuration used when a section is missing.
func Default() *PARAMETERS {
	return &PARAMETERS{
		LINK:        &LINK{KIND: LinkSim},
		READY:       &READY{KIND: ReadyTimer},
		ACQUISITION: &ACQUISITION{SH: 40, ICG: 32000, INTEGRATIONS: 1},
		CALIBRATION: &CALIBRATION{POINTS: []POINT{
			{PIXEL: 500, WAVELENGTH: 435.83},
			{PIXEL: 3200, WAVELENGTH: 696.54},
		}},
		EXCITATION: 532,
		UNIT:       PIXEL,
		POLLMS:     1,
	}
}

// Load reads a config file and fills missing sections from Default.
func Load(path string) (*PARAMETERS, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode parses raw JSON and fills missing sections from Default.
func Decode(raw []byte) (*PARAMETERS, error) {
	var p PARAMETERS
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	d := Default()
	if p.LINK == nil {
		p.LINK = d.LINK
	}
	if p.LINK.KIND == "" {
		p.LINK.KIND = LinkSPI
	}
	if p.READY == nil {
		p.READY = d.READY
	}
	if p.ACQUISITION == nil {
		p.ACQUISITION = d.ACQUISITION
	}
	if p.CALIBRATION == nil || len(p.CALIBRATION.POINTS) == 0 {
		p.CALIBRATION = d.CALIBRATION
	}
	if len(p.CALIBRATION.POINTS) < 2 {
		return nil, fmt.Errorf("CALIBRATION needs at least two POINTS")
	}
	if p.EXCITATION <= 0 {
		p.EXCITATION = d.EXCITATION
	}
	if p.POLLMS <= 0 {
		p.POLLMS = d.POLLMS
	}
	return &p, nil
}
