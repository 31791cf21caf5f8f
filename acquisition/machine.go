// Package acquisition runs the spectrometer's poll loop: it owns the
// acquisition mode, reacts to operator gestures and consumes ready events
// from the controller.
//
// All state is mutated by the goroutine calling Step (normally via Run).
// Other goroutines talk to the machine through Post/Submit and read it
// through Status, Latest and Dark.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/dataready"
	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/protocol"
	"github.com/CK6170/ccdscope-go/spectrum"
)

var (
	// ErrBusy rejects gestures that are only valid in Idle.
	ErrBusy = errors.New("acquisition: not idle")
	// ErrWrongMode rejects gestures that do not apply to the current mode.
	ErrWrongMode = errors.New("acquisition: gesture not valid in this mode")
	// ErrInFlight rejects a scan request while one is outstanding.
	ErrInFlight = errors.New("acquisition: scan in flight")
	// ErrNoResult rejects CaptureDark before a frame has been shown.
	ErrNoResult = errors.New("acquisition: no scan result yet")
	// ErrQueueFull is returned when the gesture queue is full.
	ErrQueueFull = errors.New("acquisition: gesture queue full")
)

// DefaultPollInterval is the sleep between poll iterations in Run.
const DefaultPollInterval = time.Millisecond

// Session is the explicit context the machine works in. It replaces global
// settings: only the poll loop mutates it, and only while Idle.
type Session struct {
	Params      protocol.AcquisitionParameters `json:"params"`
	Unit        models.Unit                    `json:"unit"`
	Calibration calibration.Model              `json:"-"`
}

// Status is a point-in-time snapshot for other goroutines.
type Status struct {
	Mode        Mode                           `json:"mode"`
	Waiting     bool                           `json:"waiting"`
	ExitPending bool                           `json:"exitPending"`
	HasResult   bool                           `json:"hasResult"`
	HasDark     bool                           `json:"hasDark"`
	Params      protocol.AcquisitionParameters `json:"params"`
	Unit        models.Unit                    `json:"unit"`
	Frames      uint64                         `json:"frames"`
	Errors      uint64                         `json:"errors"`
	Pulses      uint64                         `json:"pulses"`
	Coalesced   uint64                         `json:"coalesced"`
	LastError   string                         `json:"lastError,omitempty"`
}

type envelope struct {
	g    Gesture
	done chan error
}

// Machine is the acquisition state machine.
type Machine struct {
	bus       Bus
	ready     *dataready.Flag
	display   Display
	transport Transport
	logger    *log.Logger
	poll      time.Duration
	gestures  chan envelope

	// poll-loop state
	session     Session
	mode        Mode
	waiting     bool
	exitPending bool
	hasResult   bool
	raw         spectrum.Spectrum
	corrected   spectrum.Spectrum
	dark        spectrum.Spectrum

	mu        sync.RWMutex
	status    Status
	latest    spectrum.Spectrum
	darkCopy  spectrum.Spectrum
	frames    uint64
	errors    uint64
	lastError string
}

// Option configures a Machine.
type Option func(*Machine)

// WithDisplay sets the display sink.
func WithDisplay(d Display) Option { return func(m *Machine) { m.display = d } }

// WithTransport sets the transport sink.
func WithTransport(t Transport) Option { return func(m *Machine) { m.transport = t } }

// WithCalibration sets the pixel-to-unit model.
func WithCalibration(c calibration.Model) Option {
	return func(m *Machine) { m.session.Calibration = c }
}

// WithUnit sets the initial display unit.
func WithUnit(u models.Unit) Option { return func(m *Machine) { m.session.Unit = u } }

// WithLogger routes bus errors to l. The default discards them.
func WithLogger(l *log.Logger) Option { return func(m *Machine) { m.logger = l } }

// WithPollInterval sets the sleep between iterations in Run.
func WithPollInterval(d time.Duration) Option { return func(m *Machine) { m.poll = d } }

// WithQueue sets the gesture queue depth.
func WithQueue(n int) Option {
	return func(m *Machine) { m.gestures = make(chan envelope, max(n, 1)) }
}

// NewMachine returns an Idle machine driving bus. The session parameters are
// taken from the bus's current command frame.
func NewMachine(bus Bus, ready *dataready.Flag, opts ...Option) *Machine {
	m := &Machine{
		bus:       bus,
		ready:     ready,
		display:   nopDisplay{},
		transport: nopTransport{},
		logger:    log.New(io.Discard, "", 0),
		poll:      DefaultPollInterval,
		gestures:  make(chan envelope, 16),
		raw:       spectrum.New(),
		corrected: spectrum.New(),
	}
	m.session.Params = bus.Params()
	for _, o := range opts {
		o(m)
	}
	m.publishStatus()
	return m
}

// Post queues g without waiting. It returns ErrQueueFull when the queue is
// full; the gesture is dropped.
func (m *Machine) Post(g Gesture) error {
	select {
	case m.gestures <- envelope{g: g}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Submit queues g and waits until the poll loop has applied it. It returns
// the gesture's outcome (ErrBusy and friends). Submit needs Run.
func (m *Machine) Submit(ctx context.Context, g Gesture) error {
	e := envelope{g: g, done: make(chan error, 1)}
	select {
	case m.gestures <- e:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run polls until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	for {
		m.Step()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

// Step is one poll iteration: apply a deferred exit, apply queued gestures,
// then service a ready event if the mode is scanning.
func (m *Machine) Step() {
	if m.exitPending && !m.waiting {
		m.leave()
	}
	for drained := false; !drained; {
		select {
		case e := <-m.gestures:
			err := m.apply(e.g)
			if e.done != nil {
				m.publishStatus()
				e.done <- err
			}
		default:
			drained = true
		}
	}
	if m.mode.Scanning() && m.ready.TestAndClear() {
		switch m.mode {
		case ContinuousScan:
			m.continuous()
		case SingleScan:
			m.single()
		case DarkCapture:
			m.darkCycle()
		}
	}
	m.publishStatus()
}

func (m *Machine) apply(g Gesture) error {
	switch g := g.(type) {
	case Select:
		if m.mode != Idle {
			return ErrBusy
		}
		if !g.Mode.Scanning() {
			return fmt.Errorf("acquisition: cannot select %s", g.Mode)
		}
		m.enter(g.Mode)
	case Exit:
		switch m.mode {
		case Idle:
		case SingleScan:
			if m.waiting && !m.exitPending {
				m.exitPending = true
				return nil
			}
			m.leave()
		default:
			m.leave()
		}
	case LongPress:
	case RequestScan:
		if m.mode != SingleScan && m.mode != DarkCapture {
			return ErrWrongMode
		}
		if m.waiting {
			return ErrInFlight
		}
		m.ready.Clear()
		if err := m.prime(); err != nil {
			return err
		}
		m.waiting = true
	case CaptureDark:
		if m.mode != DarkCapture {
			return ErrWrongMode
		}
		if !m.hasResult {
			return ErrNoResult
		}
		m.dark = spectrum.CaptureDark(m.raw)
		m.mu.Lock()
		m.darkCopy = m.dark.Clone()
		m.mu.Unlock()
		m.display.RenderMessage("dark spectrum captured")
		m.leave()
	case SetParams:
		if m.mode != Idle {
			return ErrBusy
		}
		m.session.Params = m.bus.Rebuild(g.Params)
	case SetUnit:
		if m.mode != Idle {
			return ErrBusy
		}
		m.session.Unit = g.Unit
	default:
		return fmt.Errorf("acquisition: unknown gesture %T", g)
	}
	return nil
}

// enter runs the entering action of a scan mode: rebuild the command frame,
// prime the controller, and arm the latch for one-shot modes. The latch is
// only armed when the prime went out; otherwise RequestScan retries.
func (m *Machine) enter(mode Mode) {
	m.mode = mode
	m.exitPending = false
	m.hasResult = false
	m.shutter(mode == DarkCapture)
	m.session.Params = m.bus.Rebuild(m.session.Params)
	m.ready.Clear()
	m.display.RenderMessage(mode.String())
	if err := m.prime(); err != nil {
		return
	}
	m.waiting = mode == SingleScan || mode == DarkCapture
}

func (m *Machine) leave() {
	if m.mode == DarkCapture {
		m.shutter(false)
	}
	m.mode = Idle
	m.waiting = false
	m.exitPending = false
	m.hasResult = false
	m.display.RenderMessage(Idle.String())
}

func (m *Machine) shutter(closed bool) {
	if s, ok := m.bus.(Shutter); ok {
		s.SetShutter(closed)
	}
}

func (m *Machine) prime() error {
	err := m.bus.Prime()
	if err != nil {
		m.fail(err)
	}
	return err
}

func (m *Machine) continuous() {
	if err := m.bus.SwapFrame(m.raw); err != nil {
		m.fail(err)
		return
	}
	spectrum.Correct(m.corrected, m.raw, m.dark)
	m.publish(m.corrected)
}

func (m *Machine) single() {
	if !m.waiting {
		return
	}
	m.waiting = false
	if err := m.bus.ReadFrame(m.raw); err != nil {
		m.fail(err)
		return
	}
	spectrum.Correct(m.corrected, m.raw, m.dark)
	m.publish(m.corrected)
}

func (m *Machine) darkCycle() {
	if !m.waiting {
		return
	}
	m.waiting = false
	if err := m.bus.ReadFrame(m.raw); err != nil {
		m.fail(err)
		return
	}
	m.hasResult = true
	m.publish(m.raw)
}

func (m *Machine) publish(s spectrum.Spectrum) {
	convert := m.session.Calibration.Converter(m.session.Unit)
	m.display.RenderSpectrum(s, convert, m.bounds(s))
	m.transport.Publish(protocol.StartMarker, s)
	m.mu.Lock()
	if len(m.latest) != len(s) {
		m.latest = make(spectrum.Spectrum, len(s))
	}
	copy(m.latest, s)
	m.frames++
	m.mu.Unlock()
}

func (m *Machine) bounds(s spectrum.Spectrum) PlotBounds {
	lo, hi := m.session.Calibration.Span(m.session.Unit, len(s))
	_, peak := s.Peak()
	return PlotBounds{XMin: lo, XMax: hi, YMin: 0, YMax: float64(max(peak, 1))}
}

// fail records a bus error. The stale spectrum stays on display.
func (m *Machine) fail(err error) {
	m.logger.Printf("%s: %v", m.mode, err)
	m.mu.Lock()
	m.errors++
	m.lastError = err.Error()
	m.mu.Unlock()
	m.display.RenderMessage(err.Error())
}

func (m *Machine) publishStatus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = Status{
		Mode:        m.mode,
		Waiting:     m.waiting,
		ExitPending: m.exitPending,
		HasResult:   m.hasResult,
		HasDark:     m.dark != nil,
		Params:      m.session.Params,
		Unit:        m.session.Unit,
		Frames:      m.frames,
		Errors:      m.errors,
		Pulses:      m.ready.Pulses(),
		Coalesced:   m.ready.Coalesced(),
		LastError:   m.lastError,
	}
}

// Status returns the snapshot taken at the end of the last Step.
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Latest returns a copy of the last published spectrum, or nil.
func (m *Machine) Latest() spectrum.Spectrum {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest.Clone()
}

// Dark returns a copy of the stored dark spectrum, or nil.
func (m *Machine) Dark() spectrum.Spectrum {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.darkCopy.Clone()
}

// Calibration returns the calibration model in use.
func (m *Machine) Calibration() calibration.Model {
	return m.session.Calibration
}
