// Package dataready hands the controller's "frame ready" signal from an
// asynchronous source to the cooperative poll loop.
//
// The handoff is a one-slot mailbox with coalescing: any number of Set calls
// before a TestAndClear count as one ready event. Only presence matters, so
// no per-event data is carried.
package dataready

import "sync/atomic"

// Flag is a single-producer/single-consumer ready flag.
//
// Set runs in the signal context (GPIO edge handler, timer goroutine) and
// must stay non-blocking and allocation-free. TestAndClear runs in the poll
// loop.
type Flag struct {
	ready atomic.Bool

	pulses    atomic.Uint64
	coalesced atomic.Uint64
}

// Set raises the flag.
func (f *Flag) Set() {
	f.pulses.Add(1)
	if f.ready.Swap(true) {
		f.coalesced.Add(1)
	}
}

// TestAndClear atomically reads and lowers the flag.
func (f *Flag) TestAndClear() bool {
	return f.ready.Swap(false)
}

// Clear lowers the flag without consuming it, e.g. on mode entry so a stale
// pulse from a previous scan is not treated as fresh data.
func (f *Flag) Clear() {
	f.ready.Store(false)
}

// Pending reports the flag without clearing it.
func (f *Flag) Pending() bool {
	return f.ready.Load()
}

// Pulses is the number of Set calls seen.
func (f *Flag) Pulses() uint64 { return f.pulses.Load() }

// Coalesced is the number of Set calls that landed on an already raised flag,
// i.e. acquisition cycles the poll loop never saw.
func (f *Flag) Coalesced() uint64 { return f.coalesced.Load() }

// Source drives a Flag from some external signal.
type Source interface {
	Close() error
}
