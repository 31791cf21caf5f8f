package dataready

import (
	"sync"
	"testing"
	"time"

	"github.com/CK6170/ccdscope-go/models"
)

func TestFlagSetClear(t *testing.T) {
	var f Flag
	if f.TestAndClear() {
		t.Fatal("fresh flag is set")
	}
	f.Set()
	if !f.Pending() {
		t.Fatal("not pending after Set")
	}
	if !f.TestAndClear() {
		t.Fatal("TestAndClear missed Set")
	}
	if f.TestAndClear() {
		t.Fatal("flag consumed twice")
	}
}

func TestFlagCoalesces(t *testing.T) {
	var f Flag
	for i := 0; i < 5; i++ {
		f.Set()
	}
	if !f.TestAndClear() {
		t.Fatal("missed ready")
	}
	if f.TestAndClear() {
		t.Fatal("pulses were counted, not coalesced")
	}
	if f.Pulses() != 5 || f.Coalesced() != 4 {
		t.Errorf("pulses=%d coalesced=%d", f.Pulses(), f.Coalesced())
	}
}

func TestFlagClear(t *testing.T) {
	var f Flag
	f.Set()
	f.Clear()
	if f.TestAndClear() {
		t.Fatal("Clear did not drop pending pulse")
	}
}

func TestFlagConcurrent(t *testing.T) {
	var f Flag
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			f.Set()
		}
	}()
	seen := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.TestAndClear() {
			seen++
		}
		if f.Pulses() == n && !f.Pending() {
			break
		}
	}
	wg.Wait()
	if f.TestAndClear() {
		seen++
	}
	if seen == 0 || uint64(seen)+f.Coalesced() != n {
		t.Errorf("seen=%d coalesced=%d pulses=%d", seen, f.Coalesced(), f.Pulses())
	}
}

func TestTimerSource(t *testing.T) {
	var f Flag
	s := NewTimerSource(2*time.Millisecond, &f)
	defer s.Close()
	deadline := time.Now().Add(time.Second)
	for !f.TestAndClear() {
		if time.Now().After(deadline) {
			t.Fatal("timer never fired")
		}
		time.Sleep(time.Millisecond)
	}
	s.SetPeriod(time.Hour)
	if s.Period() != time.Hour {
		t.Errorf("Period = %v", s.Period())
	}
}

func TestTimerSourceRestart(t *testing.T) {
	var f Flag
	s := NewTimerSource(200*time.Millisecond, &f)
	time.Sleep(150 * time.Millisecond)
	f.Set()
	s.Restart()
	if f.Pending() {
		t.Fatal("restart kept a tick of the old phase")
	}
	time.Sleep(100 * time.Millisecond)
	if f.Pending() {
		t.Fatal("ticked on the old phase")
	}
	deadline := time.Now().Add(time.Second)
	for !f.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("timer never fired after restart")
		}
		time.Sleep(time.Millisecond)
	}
	_ = s.Close()
	s.Restart()
}

func TestOpenTimerDefault(t *testing.T) {
	var f Flag
	src, err := Open(&models.READY{KIND: models.ReadyTimer}, time.Hour, &f)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*TimerSource); !ok {
		t.Errorf("got %T", src)
	}
	_ = src.Close()
	if _, err := Open(&models.READY{KIND: "bogus"}, time.Hour, &f); err == nil {
		t.Error("unknown kind accepted")
	}
}
