package acquisition

import (
	"fmt"
	"strings"

	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/protocol"
)

// Mode is the acquisition state.
type Mode int

const (
	// Idle is the menu/settings state. No scan cycle is active.
	Idle Mode = iota
	// ContinuousScan repeats wait, decode, correct, publish, re-request.
	ContinuousScan
	// SingleScan runs one cycle per explicit request.
	SingleScan
	// DarkCapture runs one cycle and shows the raw frame uncorrected.
	DarkCapture
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "IDLE"
	case ContinuousScan:
		return "CONTINUOUS"
	case SingleScan:
		return "SINGLE"
	case DarkCapture:
		return "DARK"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Scanning reports whether the mode consumes ready events.
func (m Mode) Scanning() bool {
	return m == ContinuousScan || m == SingleScan || m == DarkCapture
}

// ParseMode accepts the String() form, case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IDLE":
		return Idle, nil
	case "CONTINUOUS":
		return ContinuousScan, nil
	case "SINGLE":
		return SingleScan, nil
	case "DARK":
		return DarkCapture, nil
	}
	return Idle, fmt.Errorf("acquisition: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Gesture is an operator input. The concrete types below are the only
// implementations.
type Gesture interface {
	gesture()
}

type (
	// Select enters a scan mode from Idle.
	Select struct{ Mode Mode }
	// Exit leaves the current scan mode.
	Exit struct{}
	// LongPress is reserved for the input layer; the core ignores it.
	LongPress struct{}
	// RequestScan re-arms SingleScan (or DarkCapture) for one more cycle.
	RequestScan struct{}
	// CaptureDark snapshots the DarkCapture result as the dark spectrum.
	CaptureDark struct{}
	// SetParams edits the acquisition parameters. Idle only.
	SetParams struct{ Params protocol.AcquisitionParameters }
	// SetUnit changes the display unit. Idle only.
	SetUnit struct{ Unit models.Unit }
)

func (Select) gesture()      {}
func (Exit) gesture()        {}
func (LongPress) gesture()   {}
func (RequestScan) gesture() {}
func (CaptureDark) gesture() {}
func (SetParams) gesture()   {}
func (SetUnit) gesture()     {}
