package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/spectrum"
)

func TestKeyGesture(t *testing.T) {
	st := acquisition.Status{Unit: models.WAVELENGTH}
	cases := []struct {
		key  rune
		want acquisition.Gesture
	}{
		{'c', acquisition.Select{Mode: acquisition.ContinuousScan}},
		{'S', acquisition.Select{Mode: acquisition.SingleScan}},
		{'d', acquisition.Select{Mode: acquisition.DarkCapture}},
		{' ', acquisition.RequestScan{}},
		{'k', acquisition.CaptureDark{}},
		{'u', acquisition.SetUnit{Unit: models.RAMANSHIFT}},
		{'l', acquisition.LongPress{}},
		{'x', acquisition.Exit{}},
		{27, acquisition.Exit{}},
	}
	for _, c := range cases {
		got, ok := KeyGesture(c.key, st)
		if !ok || got != c.want {
			t.Errorf("KeyGesture(%q) = %#v, %v", c.key, got, ok)
		}
	}
	for _, k := range []rune{'q', 'Q', 'z', '1'} {
		if _, ok := KeyGesture(k, st); ok {
			t.Errorf("key %q should be unbound", k)
		}
	}
}

func TestTerminalDisplay(t *testing.T) {
	var buf bytes.Buffer
	d := NewTerminalDisplay(&buf, func() string { return "nm" })
	s := spectrum.Spectrum{1, 50, 3}
	d.RenderSpectrum(s, func(p int) float64 { return 400 + float64(p) }, acquisition.PlotBounds{XMin: 400, XMax: 402})
	out := buf.String()
	if !strings.HasPrefix(out, "\r") || !strings.Contains(out, "[0001]") || !strings.Contains(out, "401.00 nm") {
		t.Errorf("summary line %q", out)
	}
	buf.Reset()
	d.RenderMessage("SINGLE")
	if !strings.Contains(buf.String(), "SINGLE") {
		t.Errorf("message %q", buf.String())
	}
}

func TestColorHelpers(t *testing.T) {
	var buf bytes.Buffer
	old := Out
	Out = &buf
	defer func() { Out = old }()

	Debugf(false, "hidden")
	if buf.Len() != 0 {
		t.Fatal("disabled debug printed")
	}
	Greenf("ok %d", 1)
	Warningf("warn")
	if !strings.Contains(buf.String(), "ok 1") || !strings.Contains(buf.String(), "warn") {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	n, err := NewRedWriter(&buf).Write([]byte("boom"))
	if err != nil || n != 4 || !strings.Contains(buf.String(), "\033[31mboom") {
		t.Errorf("RedWriter: n=%d err=%v out=%q", n, err, buf.String())
	}
}
