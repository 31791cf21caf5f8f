// Command ccdscope-server runs the acquisition loop and serves the web UI,
// the JSON API and the WebSocket streams.
//
// Settings are layered: built-in defaults, then the JSON config file
// (-c/--config-file, default ccdscope-server.json), then CCDSCOPE_* env
// variables, then --key=value flags.
//
//	addr        TCP address to listen on (default 127.0.0.1:8080)
//	web         web root containing index.html; empty serves the API only
//	open        open the UI in the default browser at startup
//	instrument  instrument config (LINK, READY, ACQUISITION, CALIBRATION...)
//	sim         replace the configured link with the built-in emulator
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
	"github.com/warthog618/config/pflag"
	"go.uber.org/multierr"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/file"
	"github.com/CK6170/ccdscope-go/internal/server"
	"github.com/CK6170/ccdscope-go/models"
	serialpkg "github.com/CK6170/ccdscope-go/serial"
)

func main() {
	cfg := loadConfig()
	addr := cfg.MustGet("addr").String()
	web := cfg.MustGet("web").String()
	instrument := cfg.MustGet("instrument").String()
	sim := cfg.MustGet("sim").Bool()

	params, err := models.Load(instrument)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && sim:
		log.Printf("WARN: %s not found, using defaults", instrument)
		params = models.Default()
		instrument = ""
	default:
		log.Fatalf("Failed to load %s: %v", instrument, err)
	}
	if sim {
		params.LINK.KIND = models.LinkSim
	}

	coef, err := calibration.FromModel(params.CALIBRATION)
	if err != nil {
		log.Fatalf("Calibration: %v", err)
	}
	dev, err := serialpkg.Open(params)
	if err != nil {
		log.Fatalf("Failed to open %s link: %v", params.LINK.KIND, err)
	}

	var m *acquisition.Machine
	hub := server.NewWSHub(func() string { return m.Status().Unit.Label() })
	stream := &server.SpectrumStream{}
	displays := acquisition.Displays{hub}
	if params.DEBUG {
		displays = append(displays, &file.FrameLog{Path: "ccdscope_frames.log", Stride: 16})
	}
	m = acquisition.NewMachine(dev, dev.Ready,
		acquisition.WithDisplay(displays),
		acquisition.WithTransport(stream),
		acquisition.WithCalibration(calibration.Model{Coefficients: coef, Excitation: params.EXCITATION}),
		acquisition.WithUnit(params.UNIT),
		acquisition.WithLogger(log.Default()),
		acquisition.WithPollInterval(time.Duration(max(params.POLLMS, 1))*time.Millisecond))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = m.Run(ctx)
	}()

	webDir := ""
	if web != "" {
		// Resolve the web directory so FileServer behavior does not depend on
		// the working directory.
		if abs, err := filepath.Abs(web); err == nil {
			if st, err := os.Stat(abs); err == nil && st.IsDir() {
				webDir = abs
			} else {
				log.Printf("WARN: web directory %s not found, serving the API only", abs)
			}
		}
	}
	s := server.New(webDir, m, server.NewParamStore(instrument, params), hub, stream)

	// Bind early so we fail fast if the port is in use.
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}
	uiURL := makeUIURL(addr)
	log.Printf("Serving on http://%s (link=%s)", addr, params.LINK.KIND)
	log.Printf("UI:        %s", uiURL)
	if cfg.MustGet("open").Bool() && webDir != "" {
		if err := openBrowser(uiURL); err != nil {
			log.Printf("WARN: failed to open browser: %v", err)
		}
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	stop()
	<-loopDone
	if err = multierr.Append(err, dev.Close()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	defaultConfig := map[string]interface{}{
		"addr":       "127.0.0.1:8080",
		"web":        "./web",
		"open":       false,
		"instrument": "ccdscope.json",
		"sim":        false,
	}
	def := dict.New(dict.WithMap(defaultConfig))
	flags := []pflag.Flag{
		{Short: 'c', Name: "config-file"},
	}
	cfg := config.New(
		pflag.New(pflag.WithFlags(flags)),
		env.New(env.WithEnvPrefix("CCDSCOPE_")),
		config.WithDefault(def))
	cfg.Append(
		blob.NewConfigFile(cfg, "config.file", "ccdscope-server.json", json.NewDecoder()))
	cfg = cfg.GetConfig("", config.WithMust)
	return cfg
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
//
// If the server is bound to 0.0.0.0 / ::, the returned URL uses 127.0.0.1
// because wildcard addresses are not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser starts the OS default browser on url without waiting for it.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
