package serial

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/CK6170/ccdscope-go/dataready"
	"github.com/CK6170/ccdscope-go/protocol"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// ErrClosed is returned by Transfer on a closed link.
var ErrClosed = errors.New("serial: link closed")

// SimOptions configures a SimLink.
type SimOptions struct {
	// Noise is the standard deviation of the read noise in counts.
	Noise float64
	// Ready is raised once a commanded frame is complete.
	Ready *dataready.Flag
	// Delay between a command and its ready pulse. Zero raises Ready before
	// Transfer returns.
	Delay time.Duration
	Seed  uint64
}

type line struct {
	pixel, width, amp float64
}

// Neon-like emission lines at the reference exposure (SH 40, one
// integration).
var simLines = []line{
	{pixel: 500, width: 6, amp: 1400},
	{pixel: 1210, width: 5, amp: 600},
	{pixel: 1850, width: 8, amp: 2600},
	{pixel: 2700, width: 5, amp: 900},
	{pixel: 3200, width: 6, amp: 1700},
}

// SimLink emulates the controller: each command frame produces a synthetic
// frame that is shifted out on the following exchange. It is also the ready
// source for its own frames.
type SimLink struct {
	mu      sync.Mutex
	opts    SimOptions
	noise   distuv.Normal
	pending []byte
	signal  spectrum.Spectrum
	timer   *time.Timer
	light   bool
	closed  bool
	fail    error

	commands  uint64
	transfers uint64
	last      protocol.AcquisitionParameters
}

// NewSimLink returns a lit emulator with a dark (all zero signal) frame
// pending.
func NewSimLink(opts SimOptions) *SimLink {
	s := &SimLink{
		opts:    opts,
		noise:   distuv.Normal{Mu: 0, Sigma: opts.Noise, Src: rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)},
		pending: make([]byte, protocol.PacketSize),
		signal:  spectrum.New(),
		light:   true,
	}
	_ = protocol.EncodeFrame(s.pending, s.signal)
	return s
}

// Transfer returns the pending frame and, when tx is a read command,
// synthesizes the next one.
func (s *SimLink) Transfer(tx, rx []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.transfers++
	if s.fail != nil {
		err := s.fail
		s.fail = nil
		return err
	}
	copy(rx, s.pending)
	if !protocol.IsCommand(tx) {
		return nil
	}
	p, mode, err := protocol.DecodeCommand(tx)
	if err != nil || mode != protocol.ModeRead {
		return nil
	}
	s.commands++
	s.last = p
	s.synthesize(p)
	_ = protocol.EncodeFrame(s.pending, s.signal)
	s.scheduleReady()
	return nil
}

func (s *SimLink) synthesize(p protocol.AcquisitionParameters) {
	scale := float64(p.SHPeriod) / 40 * float64(max(p.Integrations, 1))
	for i := range s.signal {
		x := float64(i)
		// fixed-pattern offset plus dark current
		v := 20 + 8*math.Sin(x/37) + 0.5*scale
		if s.light {
			for _, l := range simLines {
				d := (x - l.pixel) / l.width
				if d > -6 && d < 6 {
					v += scale * l.amp * math.Exp(-0.5*d*d)
				}
			}
		}
		if s.opts.Noise > 0 {
			v += s.noise.Rand()
		}
		switch {
		case v < 0:
			v = 0
		case v > protocol.ADCFullScale:
			v = protocol.ADCFullScale
		}
		s.signal[i] = uint16(math.Round(v))
	}
}

func (s *SimLink) scheduleReady() {
	if s.opts.Ready == nil {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.opts.Delay <= 0 {
		s.opts.Ready.Set()
		return
	}
	s.timer = time.AfterFunc(s.opts.Delay, s.opts.Ready.Set)
}

// SetPeriod changes the command-to-ready delay.
func (s *SimLink) SetPeriod(d time.Duration) {
	s.mu.Lock()
	s.opts.Delay = d
	s.mu.Unlock()
}

// SetShutter closes or opens the emulated light path. Frames commanded
// while it is closed carry only offset and dark current.
func (s *SimLink) SetShutter(closed bool) {
	s.mu.Lock()
	s.light = !closed
	s.mu.Unlock()
}

// FailNext makes the next Transfer return err without touching rx.
func (s *SimLink) FailNext(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Commands is the number of read commands received.
func (s *SimLink) Commands() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands
}

// Transfers is the number of exchanges, including failed ones.
func (s *SimLink) Transfers() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers
}

// LastCommand returns the parameters of the latest read command.
func (s *SimLink) LastCommand() protocol.AcquisitionParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Signal returns a copy of the signal of the pending frame.
func (s *SimLink) Signal() spectrum.Spectrum {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signal.Clone()
}

// Close stops any scheduled ready pulse.
func (s *SimLink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.closed = true
	return nil
}
