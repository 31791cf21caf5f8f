package serial

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSPIHz is the bus clock used when the configuration leaves SPEEDHZ
// unset. The controller samples on the rising edge with the clock idle high.
const DefaultSPIHz = 2_000_000

// SPILink drives the controller over spidev in mode 3, 8-bit words.
type SPILink struct {
	port  spi.PortCloser
	conn  spi.Conn
	chunk int
	pkts  []spi.Packet
}

// OpenSPI opens port ("" selects the first registered bus) at speedHz.
func OpenSPI(port string, speedHz int64) (*SPILink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("serial: periph init: %w", err)
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("serial: open spi %q: %w", port, err)
	}
	if speedHz <= 0 {
		speedHz = DefaultSPIHz
	}
	freq := physic.Frequency(speedHz) * physic.Hertz
	if err := p.LimitSpeed(freq); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: limit speed: %w", err)
	}
	c, err := p.Connect(freq, spi.Mode3, 8)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("serial: connect spi: %w", err)
	}
	chunk := 4096
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		chunk = l.MaxTxSize()
	}
	return &SPILink{port: p, conn: c, chunk: chunk}, nil
}

// Transfer clocks tx out and rx in with chip-select held across the whole
// frame. Frames larger than the driver's transfer limit are split into
// packets that keep CS asserted between them.
func (l *SPILink) Transfer(tx, rx []byte) error {
	if len(tx) != len(rx) {
		return fmt.Errorf("serial: spi tx %d != rx %d", len(tx), len(rx))
	}
	if len(tx) <= l.chunk {
		return l.conn.Tx(tx, rx)
	}
	l.pkts = l.pkts[:0]
	for off := 0; off < len(tx); off += l.chunk {
		end := min(off+l.chunk, len(tx))
		l.pkts = append(l.pkts, spi.Packet{
			W:      tx[off:end],
			R:      rx[off:end],
			KeepCS: end < len(tx),
		})
	}
	return l.conn.TxPackets(l.pkts)
}

// Close releases the spidev handle.
func (l *SPILink) Close() error {
	return l.port.Close()
}
