package serial

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a UART bridge candidate for LINK.PORT. VID and PID
// identify the USB-CDC bridge in front of the controller; they are empty
// when the port was found by name only.
type PortInfo struct {
	Name    string `json:"name"`
	VID     string `json:"vid,omitempty"`
	PID     string `json:"pid,omitempty"`
	Serial  string `json:"serial,omitempty"`
	Product string `json:"product,omitempty"`
}

// ListPorts returns the USB serial ports sorted by name. Without USB
// details from the OS it falls back to the usual device names.
func ListPorts() []PortInfo {
	if details, err := enumerator.GetDetailedPortsList(); err == nil {
		if ports := usbPorts(details); len(ports) > 0 {
			return ports
		}
	}
	switch runtime.GOOS {
	case "windows":
		return nil
	case "darwin":
		return globPorts("/dev/cu.usbserial*", "/dev/cu.usbmodem*")
	default:
		return globPorts("/dev/ttyUSB*", "/dev/ttyACM*", "/dev/serial/by-id/*")
	}
}

// usbPorts keeps the USB entries of details, one per name.
func usbPorts(details []*enumerator.PortDetails) []PortInfo {
	byName := make(map[string]PortInfo, len(details))
	for _, d := range details {
		if d == nil || !d.IsUSB || d.Name == "" {
			continue
		}
		byName[d.Name] = PortInfo{
			Name:    d.Name,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		}
	}
	return sortedPorts(byName)
}

func globPorts(patterns ...string) []PortInfo {
	byName := map[string]PortInfo{}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		for _, m := range matches {
			// the node can vanish between Glob and Stat on unplug
			if _, err := os.Stat(m); err == nil {
				byName[m] = PortInfo{Name: m}
			}
		}
	}
	return sortedPorts(byName)
}

func sortedPorts(byName map[string]PortInfo) []PortInfo {
	out := make([]PortInfo, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
