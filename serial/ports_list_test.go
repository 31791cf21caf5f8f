package serial

import (
	"os"
	"path/filepath"
	"testing"

	"go.bug.st/serial/enumerator"
)

func TestUSBPortsFiltersAndSorts(t *testing.T) {
	details := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		nil,
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6015", SerialNumber: "CCD42"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2e8a", PID: "000a", Product: "Pico"},
		{Name: "", IsUSB: true},
	}
	got := usbPorts(details)
	if len(got) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Name != "/dev/ttyACM0" || got[0].Product != "Pico" {
		t.Errorf("first %+v", got[0])
	}
	want := PortInfo{Name: "/dev/ttyUSB1", VID: "0403", PID: "6015", Serial: "CCD42"}
	if got[1] != want {
		t.Errorf("second %+v, want %+v", got[1], want)
	}
}

func TestGlobPorts(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"ttyUSB1", "ttyUSB0", "other"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	got := globPorts(filepath.Join(dir, "ttyUSB*"), filepath.Join(dir, "ttyUSB0"))
	if len(got) != 2 || got[0].Name != filepath.Join(dir, "ttyUSB0") || got[0].VID != "" {
		t.Errorf("got %+v", got)
	}
}
