// Package serial moves frames between the host and the sensor-timing
// controller.
//
// A Link performs one full-duplex exchange per Transfer call (chip-select
// asserted, both buffers clocked, chip-select released). The Controller sits
// on top of a Link and owns the command and response buffers.
package serial

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/CK6170/ccdscope-go/dataready"
	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/protocol"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// Link is a synchronous full-duplex bus to the controller.
type Link interface {
	// Transfer sends tx and fills rx in the same exchange. len(tx) == len(rx).
	Transfer(tx, rx []byte) error
	Close() error
}

// Controller is the exchange half of the bus codec. It is owned by a single
// goroutine (the acquisition poll loop); the command frame is never rebuilt
// while a Transfer is in flight because both happen on that goroutine.
type Controller struct {
	link   Link
	params protocol.AcquisitionParameters
	cmd    []byte
	idle   []byte
	rx     []byte

	exchanges atomic.Uint64
	failures  atomic.Uint64
}

// NewController wraps link and builds the initial command frame from p.
func NewController(link Link, p protocol.AcquisitionParameters) *Controller {
	c := &Controller{
		link: link,
		cmd:  make([]byte, protocol.PacketSize),
		idle: protocol.IdleFrame(),
		rx:   make([]byte, protocol.PacketSize),
	}
	c.Rebuild(p)
	return c
}

// Rebuild clamps p and re-encodes the command frame. It returns the
// parameters actually encoded.
func (c *Controller) Rebuild(p protocol.AcquisitionParameters) protocol.AcquisitionParameters {
	p = p.Clamp()
	c.params = p
	_ = protocol.EncodeCommand(c.cmd, p)
	return p
}

// Params returns the parameters of the current command frame.
func (c *Controller) Params() protocol.AcquisitionParameters { return c.params }

// Prime transmits the command frame without using the response. It starts the
// pipeline before any frame exists.
func (c *Controller) Prime() error {
	return c.exchange(c.cmd)
}

// SwapFrame receives the current frame into dst and transmits the next
// command in the same exchange. On error dst is left untouched.
func (c *Controller) SwapFrame(dst spectrum.Spectrum) error {
	if err := c.exchange(c.cmd); err != nil {
		return err
	}
	return protocol.DecodeFrame(dst, c.rx)
}

// ReadFrame receives the current frame into dst while transmitting an idle
// frame, so no new acquisition is requested. On error dst is left untouched.
func (c *Controller) ReadFrame(dst spectrum.Spectrum) error {
	if err := c.exchange(c.idle); err != nil {
		return err
	}
	return protocol.DecodeFrame(dst, c.rx)
}

func (c *Controller) exchange(tx []byte) error {
	c.exchanges.Add(1)
	if err := c.link.Transfer(tx, c.rx); err != nil {
		c.failures.Add(1)
		return fmt.Errorf("serial: exchange: %w", err)
	}
	return nil
}

type shutter interface {
	SetShutter(closed bool)
}

// SetShutter forwards to links that can block the light path. Other links
// ignore it and rely on the operator covering the slit.
func (c *Controller) SetShutter(closed bool) {
	if s, ok := c.link.(shutter); ok {
		s.SetShutter(closed)
	}
}

// Exchanges is the number of bus exchanges attempted.
func (c *Controller) Exchanges() uint64 { return c.exchanges.Load() }

// Failures is the number of exchanges that returned an error.
func (c *Controller) Failures() uint64 { return c.failures.Load() }

// Device bundles the controller with the ready source that belongs to its
// link.
type Device struct {
	*Controller
	Ready  *dataready.Flag
	Source dataready.Source
	link   Link
}

// Close releases the ready source and the link.
func (d *Device) Close() error {
	var err error
	if d.Source != nil {
		err = multierr.Append(err, d.Source.Close())
	}
	if d.link != nil {
		err = multierr.Append(err, d.link.Close())
	}
	return err
}

// Open builds the link and ready source described by p.
func Open(p *models.PARAMETERS) (*Device, error) {
	if p == nil || p.LINK == nil {
		return nil, fmt.Errorf("serial: missing LINK")
	}
	acq := ParamsFromModel(p.ACQUISITION)
	flag := &dataready.Flag{}
	var (
		link Link
		err  error
	)
	switch p.LINK.KIND {
	case models.LinkSPI, "":
		link, err = OpenSPI(p.LINK.PORT, p.LINK.SPEEDHZ)
	case models.LinkUART:
		link, err = OpenUART(p.LINK.PORT, p.LINK.BAUDRATE)
	case models.LinkSim:
		sim := NewSimLink(SimOptions{Noise: 4, Ready: flag, Delay: acq.Clamp().FramePeriod()})
		return &Device{
			Controller: NewController(sim, acq),
			Ready:      flag,
			Source:     sim,
		}, nil
	default:
		return nil, fmt.Errorf("serial: unknown LINK.KIND %q", p.LINK.KIND)
	}
	if err != nil {
		return nil, err
	}
	src, err := dataready.Open(p.READY, acq.Clamp().FramePeriod(), flag)
	if err != nil {
		return nil, multierr.Append(err, link.Close())
	}
	return &Device{
		Controller: NewController(link, acq),
		Ready:      flag,
		Source:     src,
		link:       link,
	}, nil
}

// ParamsFromModel converts the ACQUISITION section.
func ParamsFromModel(a *models.ACQUISITION) protocol.AcquisitionParameters {
	if a == nil {
		a = models.Default().ACQUISITION
	}
	return protocol.AcquisitionParameters{
		SHPeriod:     a.SH,
		ICGPeriod:    a.ICG,
		Integrations: a.INTEGRATIONS,
	}
}

type retimer interface {
	SetPeriod(d time.Duration)
}

type restarter interface {
	Restart()
}

// Prime sends the command frame and re-phases a timer-driven ready source
// so its next tick marks the end of this frame.
func (d *Device) Prime() error {
	if err := d.Controller.Prime(); err != nil {
		return err
	}
	if r, ok := d.Source.(restarter); ok {
		r.Restart()
	}
	return nil
}

// Rebuild re-encodes the command frame and retimes a timer-driven ready
// source to the new frame period.
func (d *Device) Rebuild(p protocol.AcquisitionParameters) protocol.AcquisitionParameters {
	p = d.Controller.Rebuild(p)
	if r, ok := d.Source.(retimer); ok {
		r.SetPeriod(p.FramePeriod())
	}
	return p
}
