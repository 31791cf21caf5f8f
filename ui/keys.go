package ui

import (
	"sync"
	"unicode"

	"github.com/eiannone/keyboard"

	"github.com/CK6170/ccdscope-go/acquisition"
)

// One reader goroutine feeds a buffered channel shared by every caller, so
// the keyboard is opened once for the life of the process.
var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel of single keys read without Enter. ESC is
// delivered as 27, space as ' ' and Ctrl-C as Quit. When the terminal cannot
// be put in raw mode the channel never emits.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				var r rune
				switch key {
				case 0:
					r = char
				case keyboard.KeyEsc:
					r = 27
				case keyboard.KeySpace:
					r = ' '
				case keyboard.KeyCtrlC:
					r = Quit
				default:
					continue
				}
				// drop keys nobody is reading
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

// DrainKeys consumes any immediately available keys so a keystroke typed
// during startup does not trigger a mode change.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// Quit is returned by KeyGesture for the quit key.
const Quit = 'Q'

// KeyGesture maps a key to the gesture it stands for, given the machine's
// current status. It returns ok == false for unbound keys and for Quit.
//
//	C continuous   S single   D dark   <space> scan   K capture dark
//	U cycle unit   L long press   X / <ESC> exit
func KeyGesture(k rune, st acquisition.Status) (acquisition.Gesture, bool) {
	switch unicode.ToUpper(k) {
	case 'C':
		return acquisition.Select{Mode: acquisition.ContinuousScan}, true
	case 'S':
		return acquisition.Select{Mode: acquisition.SingleScan}, true
	case 'D':
		return acquisition.Select{Mode: acquisition.DarkCapture}, true
	case ' ':
		return acquisition.RequestScan{}, true
	case 'K':
		return acquisition.CaptureDark{}, true
	case 'U':
		return acquisition.SetUnit{Unit: st.Unit.Next()}, true
	case 'L':
		return acquisition.LongPress{}, true
	case 'X', 27:
		return acquisition.Exit{}, true
	}
	return nil, false
}
