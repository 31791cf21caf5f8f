// Package server exposes the acquisition machine over HTTP: a JSON API for
// gestures and settings, a display event stream and the binary spectrum
// transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/file"
	"github.com/CK6170/ccdscope-go/models"
	serialpkg "github.com/CK6170/ccdscope-go/serial"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// submitTimeout bounds how long a request waits for the poll loop.
const submitTimeout = 2 * time.Second

type Server struct {
	mux *http.ServeMux

	m      *acquisition.Machine
	store  *ParamStore
	hub    *WSHub
	stream *SpectrumStream

	ports func() []serialpkg.PortInfo
}

// New builds the HTTP surface for m. hub and stream must be the display and
// transport sinks m was built with. webDir may be empty to serve the API
// only.
func New(webDir string, m *acquisition.Machine, store *ParamStore, hub *WSHub, stream *SpectrumStream) *Server {
	s := &Server{
		mux:    http.NewServeMux(),
		m:      m,
		store:  store,
		hub:    hub,
		stream: stream,
		ports:  serialpkg.ListPorts,
	}

	// API
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/mode", s.handleMode)
	s.mux.HandleFunc("/api/exit", s.gesture(acquisition.Exit{}))
	s.mux.HandleFunc("/api/scan", s.gesture(acquisition.RequestScan{}))
	s.mux.HandleFunc("/api/dark/capture", s.gesture(acquisition.CaptureDark{}))
	s.mux.HandleFunc("/api/params", s.handleParams)
	s.mux.HandleFunc("/api/unit", s.handleUnit)
	s.mux.HandleFunc("/api/download", s.handleDownload)
	s.mux.HandleFunc("/api/ports", s.handlePorts)

	// WS
	s.mux.HandleFunc("/ws/display", s.handleWSDisplay)
	s.mux.HandleFunc("/ws/spectrum", s.handleWSSpectrum)

	if webDir != "" {
		fs := http.FileServer(http.Dir(webDir))
		s.mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Avoid stale UI/assets after updates.
			p := r.URL.Path
			if p == "/" || strings.HasSuffix(p, ".html") || strings.HasSuffix(p, ".js") || strings.HasSuffix(p, ".css") {
				w.Header().Set("Cache-Control", "no-store")
			}
			fs.ServeHTTP(w, r)
		}))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// submit hands g to the poll loop and maps the outcome to an HTTP status.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, g acquisition.Gesture) bool {
	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()
	err := s.m.Submit(ctx, g)
	if err == nil {
		return true
	}
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, acquisition.ErrBusy),
		errors.Is(err, acquisition.ErrWrongMode),
		errors.Is(err, acquisition.ErrInFlight),
		errors.Is(err, acquisition.ErrNoResult):
		code = http.StatusConflict
	case errors.Is(err, acquisition.ErrQueueFull):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	s.writeJSON(w, code, APIError{Error: err.Error()})
	return false
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:   s.m.Status(),
		Receiver: s.stream.Connected(),
		Sent:     s.stream.sent.Load(),
		Dropped:  s.stream.dropped.Load(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, HealthResponse{OK: true, Timestamp: time.Now()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, s.status())
}

// gesture returns a POST handler for a body-less gesture.
func (s *Server) gesture(g acquisition.Gesture) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if s.submit(w, r, g) {
			s.writeJSON(w, 200, s.status())
		}
	}
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ModeRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	mode, err := acquisition.ParseMode(req.Mode)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if mode == acquisition.Idle {
		s.gesture(acquisition.Exit{})(w, r)
		return
	}
	if s.submit(w, r, acquisition.Select{Mode: mode}) {
		s.writeJSON(w, 200, s.status())
	}
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, 200, s.m.Status().Params)
	case http.MethodPost:
		p := s.m.Status().Params
		if err := s.readJSON(r, &p); err != nil {
			s.writeJSON(w, 400, APIError{Error: err.Error()})
			return
		}
		if !s.submit(w, r, acquisition.SetParams{Params: p}) {
			return
		}
		got := s.m.Status().Params
		if err := s.store.SetAcquisition(got); err != nil {
			s.writeJSON(w, 500, APIError{Error: err.Error()})
			return
		}
		s.writeJSON(w, 200, got)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req UnitRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	u, err := models.ParseUnit(req.Unit)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if !s.submit(w, r, acquisition.SetUnit{Unit: u}) {
		return
	}
	if err := s.store.SetUnit(u); err != nil {
		s.writeJSON(w, 500, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, s.status())
}

// handleDownload exports the latest published spectrum or the stored dark
// spectrum as CSV in the current display unit.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	what := r.URL.Query().Get("what")
	var sp spectrum.Spectrum
	switch what {
	case "", "latest":
		what = "latest"
		sp = s.m.Latest()
	case "dark":
		sp = s.m.Dark()
	default:
		s.writeJSON(w, 400, APIError{Error: "what must be latest or dark"})
		return
	}
	if sp == nil {
		s.writeJSON(w, 404, APIError{Error: "no " + what + " spectrum"})
		return
	}
	unit := s.m.Status().Unit
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+what+`.csv"`)
	_ = file.SpectrumCSV(w, sp, unit, s.m.Calibration().Converter(unit))
}

func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	ports := s.ports()
	if ports == nil {
		ports = []serialpkg.PortInfo{}
	}
	s.writeJSON(w, 200, PortsResponse{Ports: ports})
}
