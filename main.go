// Command ccdscope runs the spectrometer from a terminal: a one-line live
// spectrum summary and single-key mode control.
//
// Usage:
//
//	ccdscope [-sim] [ccdscope.json]
//	ccdscope -v
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"
	"unicode"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/file"
	"github.com/CK6170/ccdscope-go/models"
	serialpkg "github.com/CK6170/ccdscope-go/serial"
	"github.com/CK6170/ccdscope-go/ui"
)

// App version variables. Set these at build time with -ldflags if desired.
var (
	AppVersion = "dev"
	AppBuild   = "local"
)

const help = "C continuous  S single  D dark  <space> scan  K capture dark  U unit  X/<ESC> exit  Q quit\n"

func main() {
	sim := false
	configPath := ""
	for _, a := range os.Args[1:] {
		switch a {
		case "--version", "-v":
			fmt.Printf("%s\n", strings.TrimSpace(fmt.Sprintf("%s [build %s]", AppVersion, AppBuild)))
			return
		case "--sim", "-sim":
			sim = true
		default:
			if !strings.HasPrefix(a, "-") && configPath == "" {
				configPath = a
			}
		}
	}
	if configPath == "" && !sim {
		log.Fatal("Usage: ccdscope [-sim] <ccdscope.json>")
	}

	// Route the standard logger output through our package-scope redWriter
	log.SetFlags(0)
	log.SetOutput(ui.NewRedWriter(os.Stderr))

	params := models.Default()
	if configPath != "" {
		p, err := models.Load(configPath)
		if err != nil {
			log.Fatalf("Cannot load %s: %v", configPath, err)
		}
		params = p
	}
	if sim {
		params.LINK.KIND = models.LinkSim
	}
	ui.Debugf(params.DEBUG, "ccdscope starting with config: %q link=%s\n", configPath, params.LINK.KIND)

	coef, err := calibration.FromModel(params.CALIBRATION)
	if err != nil {
		log.Fatalf("Calibration: %v", err)
	}
	dev, err := serialpkg.Open(params)
	if err != nil {
		log.Fatalf("Cannot open %s link: %v", params.LINK.KIND, err)
	}
	defer func() { _ = dev.Close() }()

	var m *acquisition.Machine
	displays := acquisition.Displays{
		ui.NewTerminalDisplay(os.Stdout, func() string { return m.Status().Unit.Label() }),
	}
	if params.DEBUG {
		displays = append(displays, &file.FrameLog{Path: "ccdscope_frames.log", Stride: 16})
	}
	m = acquisition.NewMachine(dev, dev.Ready,
		acquisition.WithDisplay(displays),
		acquisition.WithCalibration(calibration.Model{Coefficients: coef, Excitation: params.EXCITATION}),
		acquisition.WithUnit(params.UNIT),
		acquisition.WithLogger(log.Default()),
		acquisition.WithPollInterval(time.Duration(max(params.POLLMS, 1))*time.Millisecond))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	ui.ClearScreen()
	ui.Greenf("ccdscope version: %s [build %s]\n", AppVersion, AppBuild)
	ui.Greenf("--------------------------------------------\n")
	ui.Greenf(help)

	ui.DrainKeys()
	keys := ui.StartKeyEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case k, ok := <-keys:
			if !ok {
				return
			}
			if unicode.ToUpper(k) == ui.Quit {
				fmt.Println()
				return
			}
			g, ok := ui.KeyGesture(k, m.Status())
			if !ok {
				continue
			}
			if err := m.Submit(ctx, g); err != nil {
				ui.Warningf("\n%v\n", err)
				continue
			}
			if u, isUnit := g.(acquisition.SetUnit); isUnit && configPath != "" {
				params.UNIT = u.Unit
				if err := file.PersistParameters(configPath, params); err != nil {
					ui.Warningf("\n%v\n", err)
				}
			}
		}
	}
}
