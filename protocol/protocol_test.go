package protocol

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestCommandRoundTrip(t *testing.T) {
	p := AcquisitionParameters{SHPeriod: 40, ICGPeriod: 32000, Integrations: 1}
	frame := NewCommand(p)
	if len(frame) != PacketSize {
		t.Fatalf("len = %d", len(frame))
	}
	got, mode, err := DecodeCommand(frame)
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Errorf("decoded %+v, want %+v", got, p)
	}
	if mode != ModeRead {
		t.Errorf("mode = %d", mode)
	}
	if string(frame[:2]) != "ER" {
		t.Errorf("magic = %q", frame[:2])
	}
	if binary.BigEndian.Uint32(frame[2:6]) != 40 || binary.BigEndian.Uint32(frame[6:10]) != 32000 {
		t.Errorf("header bytes % x", frame[:13])
	}
	for i := 13; i < len(frame); i++ {
		if frame[i] != 0 {
			t.Fatalf("byte %d = %#x, want zero fill", i, frame[i])
		}
	}
}

func TestEncodeCommandClearsBuffer(t *testing.T) {
	buf := make([]byte, PacketSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	if err := EncodeCommand(buf, AcquisitionParameters{SHPeriod: 20, ICGPeriod: 14776, Integrations: 3}); err != nil {
		t.Fatal(err)
	}
	if buf[100] != 0 || buf[PacketSize-1] != 0 {
		t.Error("tail not zeroed")
	}
	if err := EncodeCommand(make([]byte, 10), AcquisitionParameters{}); !errors.Is(err, ErrFrameSize) {
		t.Errorf("short buffer err = %v", err)
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	if _, _, err := DecodeCommand(IdleFrame()); !errors.Is(err, ErrBadMagic) {
		t.Errorf("idle frame err = %v", err)
	}
	if _, _, err := DecodeCommand([]byte("ER")); !errors.Is(err, ErrFrameSize) {
		t.Errorf("short frame err = %v", err)
	}
	if IsCommand(IdleFrame()) {
		t.Error("idle frame reported as command")
	}
}

func TestDecodeInversion(t *testing.T) {
	raw := make([]byte, PacketSize)
	// pixel 0: count 0, pixel 1: full scale, pixel 2: 0x0123, pixel 3: above full scale
	binary.LittleEndian.PutUint16(raw[0:], 0)
	binary.LittleEndian.PutUint16(raw[2:], ADCFullScale)
	binary.LittleEndian.PutUint16(raw[4:], 0x0123)
	binary.LittleEndian.PutUint16(raw[6:], 0xFFFF)
	dst := make([]uint16, PixelCount)
	if err := DecodeFrame(dst, raw); err != nil {
		t.Fatal(err)
	}
	if dst[0] != ADCFullScale {
		t.Errorf("count 0 -> %d, want %d", dst[0], ADCFullScale)
	}
	if dst[1] != 0 {
		t.Errorf("count full scale -> %d, want 0", dst[1])
	}
	if dst[2] != ADCFullScale-0x0123 {
		t.Errorf("count 0x123 -> %d", dst[2])
	}
	if dst[3] != 0 {
		t.Errorf("overrange -> %d, want 0", dst[3])
	}
	if raw[4] != 0x23 || raw[5] != 0x01 {
		t.Errorf("wire order: % x", raw[4:6])
	}
}

func TestDecodeFrameSize(t *testing.T) {
	dst := make([]uint16, PixelCount)
	if err := DecodeFrame(dst, make([]byte, PacketSize-1)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("err = %v", err)
	}
	if err := DecodeFrame(dst[:10], make([]byte, PacketSize)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("err = %v", err)
	}
}

func TestEncodeFrameInverse(t *testing.T) {
	sig := make([]uint16, PixelCount)
	for i := range sig {
		sig[i] = uint16(i % (ADCFullScale + 1))
	}
	raw := make([]byte, PacketSize)
	if err := EncodeFrame(raw, sig); err != nil {
		t.Fatal(err)
	}
	got := make([]uint16, PixelCount)
	if err := DecodeFrame(got, raw); err != nil {
		t.Fatal(err)
	}
	for i := range sig {
		if got[i] != sig[i] {
			t.Fatalf("pixel %d: %d != %d", i, got[i], sig[i])
		}
	}
}

func TestClamp(t *testing.T) {
	cases := []struct {
		in, want AcquisitionParameters
	}{
		{AcquisitionParameters{0, 0, 0}, AcquisitionParameters{MinSHPeriod, MinICGPeriod, 1}},
		{AcquisitionParameters{19, 14775, 2}, AcquisitionParameters{MinSHPeriod, MinICGPeriod, 2}},
		{AcquisitionParameters{40, 32000, 5}, AcquisitionParameters{40, 32000, 5}},
	}
	for _, tc := range cases {
		if got := tc.in.Clamp(); got != tc.want {
			t.Errorf("Clamp(%+v) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
}

func TestFramePeriod(t *testing.T) {
	p := AcquisitionParameters{SHPeriod: 40, ICGPeriod: 32000, Integrations: 2}
	if got := p.FramePeriod(); got != 32*time.Millisecond {
		t.Errorf("FramePeriod = %v", got)
	}
	if got := p.IntegrationTime(); got != 20*time.Microsecond {
		t.Errorf("IntegrationTime = %v", got)
	}
}
