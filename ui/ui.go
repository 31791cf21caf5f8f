// Package ui holds the terminal front end: ANSI colour helpers, the raw
// keyboard reader and a Display that draws a one-line spectrum summary.
package ui

import (
	"fmt"
	"io"
	"os"
)

// Out is where the colour helpers print. Tests may swap it.
var Out io.Writer = os.Stdout

// RedWriter wraps an io.Writer and emits red-colored output. It is the
// log output for errors.
type RedWriter struct{ w io.Writer }

func (r RedWriter) Write(p []byte) (int, error) {
	out := append([]byte("\033[31m"), p...)
	out = append(out, []byte("\033[0m")...)
	if _, err := r.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// NewRedWriter returns a RedWriter wrapping the provided io.Writer.
func NewRedWriter(w io.Writer) RedWriter { return RedWriter{w: w} }

func colorf(code, format string, a ...interface{}) {
	fmt.Fprint(Out, code)
	fmt.Fprintf(Out, format, a...)
	fmt.Fprint(Out, "\033[0m")
}

// Debugf prints a yellow debug message when enabled is true.
func Debugf(enabled bool, format string, a ...interface{}) {
	if enabled {
		colorf("\033[33m", "[DEBUG] "+format, a...)
	}
}

// Greenf prints a light green message.
func Greenf(format string, a ...interface{}) {
	colorf("\033[92m", format, a...)
}

// Warningf prints a bright yellow/orange warning.
func Warningf(format string, a ...interface{}) {
	colorf("\033[93m", format, a...)
}

// ClearScreen clears the terminal screen.
func ClearScreen() {
	fmt.Fprint(Out, "\033[2J\033[1;1H")
}
