// Package spectrum holds the per-pixel intensity vector and the dark
// correction engine.
//
// Correction is pure: it reads the raw and dark vectors supplied by the caller
// and writes the result into a caller-owned buffer. No I/O happens here.
package spectrum

import (
	"fmt"
	"strings"

	"github.com/CK6170/ccdscope-go/protocol"
)

const SpectrumLine = "------------------------------------------------------------------"

// Spectrum is one intensity sample per detector element.
type Spectrum []uint16

// New allocates a zeroed spectrum of protocol.PixelCount samples.
func New() Spectrum {
	return make(Spectrum, protocol.PixelCount)
}

// Clone returns an independent copy of s, or nil when s is nil.
func (s Spectrum) Clone() Spectrum {
	if s == nil {
		return nil
	}
	out := make(Spectrum, len(s))
	copy(out, s)
	return out
}

// CaptureDark snapshots raw as the new dark spectrum. The result never
// aliases raw, so later exchanges that overwrite raw leave it untouched.
func CaptureDark(raw Spectrum) Spectrum {
	return raw.Clone()
}

// Correct writes raw minus dark into dst, clamping at zero pixel-wise. With a
// nil dark spectrum dst becomes a copy of raw. dst may alias raw.
//
// The caller must ensure raw, dst and (when present) dark share a length.
func Correct(dst, raw, dark Spectrum) {
	if dark == nil {
		copy(dst, raw)
		return
	}
	for i, r := range raw {
		if d := dark[i]; r > d {
			dst[i] = r - d
		} else {
			dst[i] = 0
		}
	}
}

// Peak returns the index and value of the largest sample. Ties keep the
// lowest index.
func (s Spectrum) Peak() (int, uint16) {
	idx, max := 0, uint16(0)
	for i, v := range s {
		if v > max {
			idx, max = i, v
		}
	}
	return idx, max
}

// Min returns the smallest sample, or 0 for an empty spectrum.
func (s Spectrum) Min() uint16 {
	if len(s) == 0 {
		return 0
	}
	min := s[0]
	for _, v := range s[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// ToStrings formats the spectrum for display/logging, one pixel per line
// every stride pixels.
func (s Spectrum) ToStrings(title string, stride int) string {
	if stride <= 0 {
		stride = 1
	}
	sb := &strings.Builder{}
	sb.WriteString(SpectrumLine + "\n")
	sb.WriteString(title + "\n")
	for i := 0; i < len(s); i += stride {
		fmt.Fprintf(sb, "[%04d] %6d\n", i, s[i])
	}
	sb.WriteString(SpectrumLine)
	return sb.String()
}

// Print prints a trimmed view of a spectrum for debugging.
//
// When debug is true, output is colored (ANSI) to visually distinguish debug
// output.
func Print(s Spectrum, title string, debug bool) {
	if debug {
		fmt.Print("\033[33m")
	}
	fmt.Println(SpectrumLine)
	fmt.Println(title, " (", len(s), ")")
	max := len(s)
	if max > 24 {
		max = 24
	}
	for i := 0; i < max; i++ {
		fmt.Printf("[%04d] %6d\n", i, s[i])
	}
	if len(s) > max {
		fmt.Println("...")
	}
	fmt.Println(SpectrumLine)
	if debug {
		fmt.Print("\033[0m")
	}
}
