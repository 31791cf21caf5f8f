// Package protocol builds the command frame sent to the sensor-timing
// controller and decodes the raw intensity frame it returns.
//
// Both frames are PacketSize bytes so a single full-duplex exchange carries
// one of each.
//
// Command frame layout:
//
//	[0..1]   magic "ER"
//	[2..5]   SH period, big-endian u32
//	[6..9]   ICG period, big-endian u32
//	[10]     mode (constant ModeRead)
//	[11..12] integration count, big-endian u16
//	[13..]   zero
//
// Response frame layout: PixelCount samples, low byte then high byte, each
// holding the ADC count of well depletion.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// PixelCount is the number of detector elements.
	PixelCount = 3694
	// PacketSize is the size of every bus exchange in bytes.
	PacketSize = 2 * PixelCount
	// ADCFullScale is the controller ADC full-scale count (12 bit).
	ADCFullScale = 4095

	// MinSHPeriod is the shortest safe SH period in master clock ticks.
	MinSHPeriod = 20
	// MinICGPeriod is the shortest safe ICG period; the full readout must fit.
	MinICGPeriod = 14776
	// MasterClockHz is the controller timing clock.
	MasterClockHz = 2_000_000

	// ModeRead is the only mode the controller knows today.
	ModeRead byte = 1

	magic0 = 'E'
	magic1 = 'R'

	offSH      = 2
	offICG     = 6
	offMode    = 10
	offInteg   = 11
	headerSize = 13
)

// StartMarker prefixes every spectrum handed to the transport sink.
var StartMarker = [4]byte{0xAA, 0xBB, 0xCC, 0xDD}

var (
	// ErrFrameSize is returned when a frame is not PacketSize bytes.
	ErrFrameSize = errors.New("protocol: frame size mismatch")
	// ErrBadMagic is returned when a command frame lacks the "ER" header.
	ErrBadMagic = errors.New("protocol: bad command magic")
)

// AcquisitionParameters are the controller timing settings.
type AcquisitionParameters struct {
	SHPeriod     uint32 `json:"sh"`
	ICGPeriod    uint32 `json:"icg"`
	Integrations uint16 `json:"integrations"`
}

// Clamp raises periods below the hardware minimums to the minimum. A zero
// integration count becomes 1. Values are never rejected.
func (p AcquisitionParameters) Clamp() AcquisitionParameters {
	if p.SHPeriod < MinSHPeriod {
		p.SHPeriod = MinSHPeriod
	}
	if p.ICGPeriod < MinICGPeriod {
		p.ICGPeriod = MinICGPeriod
	}
	if p.Integrations == 0 {
		p.Integrations = 1
	}
	return p
}

// IntegrationTime is the exposure per readout (SH period at the master clock).
func (p AcquisitionParameters) IntegrationTime() time.Duration {
	return time.Duration(uint64(p.SHPeriod) * uint64(time.Second) / MasterClockHz)
}

// FramePeriod is the time the controller needs to produce one frame.
func (p AcquisitionParameters) FramePeriod() time.Duration {
	n := uint64(p.Integrations)
	if n == 0 {
		n = 1
	}
	return time.Duration(uint64(p.ICGPeriod) * n * uint64(time.Second) / MasterClockHz)
}

// EncodeCommand writes the command frame for p into dst, which must be
// PacketSize bytes. Bytes past the header are zeroed.
func EncodeCommand(dst []byte, p AcquisitionParameters) error {
	if len(dst) != PacketSize {
		return fmt.Errorf("%w: command %d bytes", ErrFrameSize, len(dst))
	}
	clear(dst)
	dst[0] = magic0
	dst[1] = magic1
	binary.BigEndian.PutUint32(dst[offSH:], p.SHPeriod)
	binary.BigEndian.PutUint32(dst[offICG:], p.ICGPeriod)
	dst[offMode] = ModeRead
	binary.BigEndian.PutUint16(dst[offInteg:], p.Integrations)
	return nil
}

// NewCommand allocates and encodes a command frame.
func NewCommand(p AcquisitionParameters) []byte {
	b := make([]byte, PacketSize)
	_ = EncodeCommand(b, p)
	return b
}

// DecodeCommand reads the header fields back from a command frame.
func DecodeCommand(frame []byte) (AcquisitionParameters, byte, error) {
	if len(frame) != PacketSize {
		return AcquisitionParameters{}, 0, fmt.Errorf("%w: command %d bytes", ErrFrameSize, len(frame))
	}
	if frame[0] != magic0 || frame[1] != magic1 {
		return AcquisitionParameters{}, 0, ErrBadMagic
	}
	return AcquisitionParameters{
		SHPeriod:     binary.BigEndian.Uint32(frame[offSH:]),
		ICGPeriod:    binary.BigEndian.Uint32(frame[offICG:]),
		Integrations: binary.BigEndian.Uint16(frame[offInteg:]),
	}, frame[offMode], nil
}

// IsCommand reports whether frame carries a command header.
func IsCommand(frame []byte) bool {
	return len(frame) >= headerSize && frame[0] == magic0 && frame[1] == magic1
}

// IdleFrame returns an all-zero frame. The controller ignores it, so it is
// used to clock out a response without requesting a new acquisition.
func IdleFrame() []byte {
	return make([]byte, PacketSize)
}

// DecodeFrame converts a raw response into signal levels in dst. Each sample
// is ADCFullScale minus the reported count; counts above full scale decode to
// 0. Only the structural size is validated.
func DecodeFrame(dst []uint16, raw []byte) error {
	if len(raw) != PacketSize {
		return fmt.Errorf("%w: response %d bytes", ErrFrameSize, len(raw))
	}
	if len(dst) != PixelCount {
		return fmt.Errorf("%w: spectrum %d samples", ErrFrameSize, len(dst))
	}
	for i := range dst {
		count := binary.LittleEndian.Uint16(raw[2*i:])
		if count >= ADCFullScale {
			dst[i] = 0
			continue
		}
		dst[i] = ADCFullScale - count
	}
	return nil
}

// EncodeFrame is the inverse of DecodeFrame: it writes the depletion counts
// for the given signal levels. Used by the controller emulator.
func EncodeFrame(dst []byte, signal []uint16) error {
	if len(dst) != PacketSize || len(signal) != PixelCount {
		return ErrFrameSize
	}
	for i, s := range signal {
		if s > ADCFullScale {
			s = ADCFullScale
		}
		binary.LittleEndian.PutUint16(dst[2*i:], ADCFullScale-s)
	}
	return nil
}
