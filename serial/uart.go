package serial

import (
	"errors"
	"fmt"
	"io"
	"time"

	goserial "github.com/tarm/serial"

	"github.com/CK6170/ccdscope-go/protocol"
)

// DefaultBaud is used when LINK.BAUDRATE is unset.
const DefaultBaud = 921600

// UARTLink speaks to a controller behind a UART bridge. The bridge echoes one
// response frame of equal length for every frame written, so an exchange is
// a write followed by a bounded read.
type UARTLink struct {
	port    io.ReadWriteCloser
	timeout time.Duration
}

// OpenUART opens name at baud, 8N1.
func OpenUART(name string, baud int) (*UARTLink, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	config := &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: time.Millisecond * 50,
	}
	port, err := goserial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", name, err)
	}
	// 10 bits per byte on the wire, both directions, plus slack for the bridge.
	wire := time.Duration(2*10*protocol.PacketSize) * time.Second / time.Duration(baud)
	return &UARTLink{port: port, timeout: wire + 500*time.Millisecond}, nil
}

// Transfer writes tx and reads exactly len(rx) bytes before the deadline.
func (l *UARTLink) Transfer(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("serial: uart tx %d != rx %d", len(tx), len(rx))
	}
	if _, err := l.port.Write(tx); err != nil {
		return fmt.Errorf("serial: write %d bytes: %w", len(tx), err)
	}
	return readFull(l.port, rx, l.timeout)
}

// Close closes the port.
func (l *UARTLink) Close() error { return l.port.Close() }

// readFull treats io.EOF as "nothing yet": tarm returns it when the read
// timeout expires with no bytes.
func readFull(sp io.Reader, dst []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	got := 0
	for got < len(dst) && time.Now().Before(deadline) {
		n, err := sp.Read(dst[got:])
		got += n
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("serial: read after %d bytes: %w", got, err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if got < len(dst) {
		return fmt.Errorf("serial: read timeout after %d of %d bytes", got, len(dst))
	}
	return nil
}
