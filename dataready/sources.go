package dataready

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warthog618/gpiod"

	"github.com/CK6170/ccdscope-go/models"
)

// GPIOSource raises the flag on each rising edge of the controller's ready
// line. The gpiod event handler is the signal context: it only calls Set.
type GPIOSource struct {
	line *gpiod.Line
}

// NewGPIOSource requests offset on chip ("gpiochip0") as a rising-edge input.
func NewGPIOSource(chip string, offset int, flag *Flag) (*GPIOSource, error) {
	handler := func(gpiod.LineEvent) {
		flag.Set()
	}
	l, err := gpiod.RequestLine(chip, offset,
		gpiod.WithConsumer("ccdscope-ready"),
		gpiod.WithRisingEdge,
		gpiod.WithEventHandler(handler))
	if err != nil {
		return nil, fmt.Errorf("dataready: request %s line %d: %w", chip, offset, err)
	}
	return &GPIOSource{line: l}, nil
}

// Close releases the line.
func (s *GPIOSource) Close() error {
	return s.line.Close()
}

// TimerSource raises the flag every period. It stands in for a ready line on
// links that have none (UART bridge, simulation).
type TimerSource struct {
	cancel  context.CancelFunc
	done    chan struct{}
	restart chan chan struct{}

	mu     sync.Mutex
	period time.Duration
	reset  chan struct{}
}

// NewTimerSource starts a timer goroutine that sets flag every period.
func NewTimerSource(period time.Duration, flag *Flag) *TimerSource {
	if period <= 0 {
		period = time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &TimerSource{
		cancel:  cancel,
		done:    make(chan struct{}),
		restart: make(chan chan struct{}),
		period:  period,
		reset:   make(chan struct{}, 1),
	}
	go func() {
		defer close(s.done)
		timer := time.NewTimer(s.Period())
		defer timer.Stop()
		rearm := func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Period())
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.reset:
				rearm()
			case ack := <-s.restart:
				rearm()
				flag.Clear()
				close(ack)
			case <-timer.C:
				flag.Set()
				timer.Reset(s.Period())
			}
		}
	}()
	return s
}

// Period returns the current period.
func (s *TimerSource) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// SetPeriod changes the period, e.g. after new acquisition parameters.
func (s *TimerSource) SetPeriod(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.period = d
	s.mu.Unlock()
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Restart aligns the period with a command that was just sent: the next
// tick comes one full period from now and a tick of the old phase that
// has not been consumed is dropped. It returns once the timer is re-armed.
func (s *TimerSource) Restart() {
	ack := make(chan struct{})
	select {
	case s.restart <- ack:
		<-ack
	case <-s.done:
	}
}

// Close stops the goroutine and waits for it.
func (s *TimerSource) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Open builds the source described by cfg. period seeds a TimerSource.
func Open(cfg *models.READY, period time.Duration, flag *Flag) (Source, error) {
	if cfg == nil {
		return NewTimerSource(period, flag), nil
	}
	switch cfg.KIND {
	case models.ReadyGPIO:
		chip := cfg.CHIP
		if chip == "" {
			chip = "gpiochip0"
		}
		return NewGPIOSource(chip, cfg.LINE, flag)
	case models.ReadyTimer, "":
		return NewTimerSource(period, flag), nil
	}
	return nil, fmt.Errorf("dataready: unknown READY.KIND %q", cfg.KIND)
}
