// Package calibration maps detector pixel indices to physical spectral units.
//
// Coefficients are derived once at startup from reference points (pixel,
// wavelength) and are immutable afterwards. Everything here is pure: no I/O,
// no state beyond the coefficients themselves.
package calibration

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/CK6170/ccdscope-go/models"
)

var (
	// ErrSamePixel is returned when the reference pixels coincide, which would
	// make the slope undefined. This is a startup configuration error.
	ErrSamePixel = errors.New("calibration: reference pixels must differ")
	// ErrBelowExcitation is returned by WavenumberChecked when the wavelength
	// is not longer than the excitation wavelength.
	ErrBelowExcitation = errors.New("calibration: wavelength at or below excitation")
)

// Point is a calibration reference: a pixel index and its wavelength in nm.
type Point struct {
	Pixel      float64
	Wavelength float64
}

// Coefficients is the linear pixel -> wavelength model.
type Coefficients struct {
	Slope     float64
	Intercept float64
}

// New derives coefficients from exactly two reference points.
func New(p1, p2 Point) (Coefficients, error) {
	if p1.Pixel == p2.Pixel {
		return Coefficients{}, ErrSamePixel
	}
	slope := (p2.Wavelength - p1.Wavelength) / (p2.Pixel - p1.Pixel)
	return Coefficients{
		Slope:     slope,
		Intercept: p1.Wavelength - slope*p1.Pixel,
	}, nil
}

// Fit derives coefficients from two or more points. Two points use the exact
// two-point form; more points use an ordinary least-squares line.
func Fit(points ...Point) (Coefficients, error) {
	switch {
	case len(points) < 2:
		return Coefficients{}, fmt.Errorf("calibration: need at least 2 points, got %d", len(points))
	case len(points) == 2:
		return New(points[0], points[1])
	}
	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.Pixel
		y[i] = p.Wavelength
	}
	if floats.Min(x) == floats.Max(x) {
		return Coefficients{}, ErrSamePixel
	}
	intercept, slope := stat.LinearRegression(x, y, nil, false)
	return Coefficients{Slope: slope, Intercept: intercept}, nil
}

// FromModel builds coefficients from the CALIBRATION config section.
func FromModel(c *models.CALIBRATION) (Coefficients, error) {
	if c == nil {
		return Coefficients{}, fmt.Errorf("calibration: missing CALIBRATION")
	}
	pts := make([]Point, len(c.POINTS))
	for i, p := range c.POINTS {
		pts[i] = Point{Pixel: p.PIXEL, Wavelength: p.WAVELENGTH}
	}
	return Fit(pts...)
}

// PixelToWavelength returns the wavelength in nm for a (possibly fractional)
// pixel index. It extrapolates outside the calibrated range.
func (c Coefficients) PixelToWavelength(pixel float64) float64 {
	return c.Slope*pixel + c.Intercept
}

// WavelengthToWavenumber returns the Raman shift in cm-1 relative to the
// excitation wavelength (both in nm). For wavelengths at or below the
// excitation it returns 0.
func WavelengthToWavenumber(wavelength, excitation float64) float64 {
	if wavelength <= excitation {
		return 0
	}
	return (1/excitation - 1/wavelength) * 1e7
}

// WavenumberChecked is WavelengthToWavenumber with the degenerate case
// reported as ErrBelowExcitation instead of 0.
func WavenumberChecked(wavelength, excitation float64) (float64, error) {
	if wavelength <= excitation {
		return 0, ErrBelowExcitation
	}
	return WavelengthToWavenumber(wavelength, excitation), nil
}

// Converter maps a pixel index to a display value.
type Converter func(pixel int) float64

// Model bundles the coefficients with the excitation wavelength so a single
// value can serve every display unit.
type Model struct {
	Coefficients
	Excitation float64
}

// ToDisplayUnit converts a pixel index into the given unit.
func (m Model) ToDisplayUnit(pixel int, unit models.Unit) float64 {
	switch unit {
	case models.WAVELENGTH:
		return m.PixelToWavelength(float64(pixel))
	case models.RAMANSHIFT:
		return WavelengthToWavenumber(m.PixelToWavelength(float64(pixel)), m.Excitation)
	default:
		return float64(pixel)
	}
}

// Converter returns ToDisplayUnit bound to unit.
func (m Model) Converter(unit models.Unit) Converter {
	return func(pixel int) float64 { return m.ToDisplayUnit(pixel, unit) }
}

// Axis returns the display-unit value of every pixel in [0, n).
func (m Model) Axis(unit models.Unit, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = m.ToDisplayUnit(i, unit)
	}
	return out
}

// Span returns the minimum and maximum of the axis for n pixels.
func (m Model) Span(unit models.Unit, n int) (lo, hi float64) {
	if n <= 0 {
		return 0, 0
	}
	axis := m.Axis(unit, n)
	return floats.Min(axis), floats.Max(axis)
}
