package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/dataready"
	"github.com/CK6170/ccdscope-go/models"
	"github.com/CK6170/ccdscope-go/protocol"
	serialpkg "github.com/CK6170/ccdscope-go/serial"
)

type fixture struct {
	ts     *httptest.Server
	srv    *Server
	m      *acquisition.Machine
	sim    *serialpkg.SimLink
	flag   *dataready.Flag
	store  *ParamStore
	stream *SpectrumStream
}

// newFixture runs a machine on an emulated controller that only signals
// ready when the test raises the flag.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{flag: &dataready.Flag{}, stream: &SpectrumStream{}}
	f.sim = serialpkg.NewSimLink(serialpkg.SimOptions{})
	ctrl := serialpkg.NewController(f.sim, protocol.AcquisitionParameters{SHPeriod: 40, ICGPeriod: 32000, Integrations: 1})
	hub := NewWSHub(nil)
	coef, err := calibration.FromModel(models.Default().CALIBRATION)
	if err != nil {
		t.Fatal(err)
	}
	f.m = acquisition.NewMachine(ctrl, f.flag,
		acquisition.WithDisplay(hub),
		acquisition.WithTransport(f.stream),
		acquisition.WithCalibration(calibration.Model{Coefficients: coef, Excitation: 532}))
	ctx, cancel := context.WithCancel(context.Background())
	go f.m.Run(ctx)

	path := filepath.Join(t.TempDir(), "ccdscope.json")
	f.store = NewParamStore(path, models.Default())
	f.srv = New("", f.m, f.store, hub, f.stream)
	f.srv.ports = func() []serialpkg.PortInfo {
		return []serialpkg.PortInfo{{Name: "/dev/ttyUSB0", VID: "0403", PID: "6015"}}
	}
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(func() {
		f.ts.Close()
		cancel()
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	resp, err := http.Post(f.ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t)
	if resp := f.get(t, "/api/health"); resp.StatusCode != 200 {
		t.Fatalf("health %d", resp.StatusCode)
	}
	var st StatusResponse
	if err := json.NewDecoder(f.get(t, "/api/status").Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Mode != acquisition.Idle || st.Receiver {
		t.Errorf("status %+v", st)
	}
}

func TestModeAndConflicts(t *testing.T) {
	f := newFixture(t)
	if resp := f.post(t, "/api/mode", ModeRequest{Mode: "continuous"}); resp.StatusCode != 200 {
		t.Fatalf("mode %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/params", protocol.AcquisitionParameters{SHPeriod: 80}); resp.StatusCode != http.StatusConflict {
		t.Errorf("params while scanning: %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/mode", ModeRequest{Mode: "single"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("select while scanning: %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/dark/capture", nil); resp.StatusCode != http.StatusConflict {
		t.Errorf("capture outside dark: %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/exit", nil); resp.StatusCode != 200 {
		t.Errorf("exit %d", resp.StatusCode)
	}
	if resp := f.post(t, "/api/mode", ModeRequest{Mode: "warp"}); resp.StatusCode != 400 {
		t.Errorf("bogus mode %d", resp.StatusCode)
	}
	if f.m.Status().Mode != acquisition.Idle {
		t.Errorf("mode %s", f.m.Status().Mode)
	}
}

func TestParamsClampedAndPersisted(t *testing.T) {
	f := newFixture(t)
	resp := f.post(t, "/api/params", map[string]int{"sh": 5, "icg": 50000, "integrations": 2})
	if resp.StatusCode != 200 {
		t.Fatalf("params %d", resp.StatusCode)
	}
	var got protocol.AcquisitionParameters
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	want := protocol.AcquisitionParameters{SHPeriod: protocol.MinSHPeriod, ICGPeriod: 50000, Integrations: 2}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	loaded, err := models.Load(f.store.path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ACQUISITION.SH != protocol.MinSHPeriod || loaded.ACQUISITION.INTEGRATIONS != 2 {
		t.Errorf("persisted %+v", loaded.ACQUISITION)
	}

	if resp := f.post(t, "/api/unit", UnitRequest{Unit: "nm"}); resp.StatusCode != 200 {
		t.Fatalf("unit %d", resp.StatusCode)
	}
	if f.m.Status().Unit != models.WAVELENGTH || f.store.Get().UNIT != models.WAVELENGTH {
		t.Error("unit not applied")
	}
}

func TestSpectrumTransport(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/spectrum")
	waitFor(t, "receiver", f.stream.Connected)

	if resp := f.post(t, "/api/mode", ModeRequest{Mode: "SINGLE"}); resp.StatusCode != 200 {
		t.Fatalf("mode %d", resp.StatusCode)
	}
	f.flag.Set()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if kind != websocket.BinaryMessage || len(msg) != 4+protocol.PacketSize {
		t.Fatalf("kind %d len %d", kind, len(msg))
	}
	if !bytes.Equal(msg[:4], protocol.StartMarker[:]) {
		t.Errorf("marker % X", msg[:4])
	}
	want := f.sim.Signal()
	for _, i := range []int{0, 500, 1850, protocol.PixelCount - 1} {
		if v := binary.LittleEndian.Uint16(msg[4+2*i:]); v != want[i] {
			t.Errorf("pixel %d: %d, want %d", i, v, want[i])
		}
	}

	// a second receiver replaces the first
	f.dial(t, "/ws/spectrum")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("first receiver still open")
	}
}

func TestDisplayEvents(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/display")
	waitFor(t, "display client", func() bool { return f.srv.hub.Len() == 1 })

	if resp := f.post(t, "/api/mode", ModeRequest{Mode: "DARK"}); resp.StatusCode != 200 {
		t.Fatalf("mode %d", resp.StatusCode)
	}
	f.flag.Set()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var raw struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&raw); err != nil {
			t.Fatal(err)
		}
		if raw.Type != "spectrum" {
			continue
		}
		var ev SpectrumEvent
		if err := json.Unmarshal(raw.Data, &ev); err != nil {
			t.Fatal(err)
		}
		if len(ev.Values) != protocol.PixelCount || ev.Bounds.YMax != float64(ev.PeakValue) {
			t.Errorf("event frame=%d values=%d bounds=%+v", ev.Frame, len(ev.Values), ev.Bounds)
		}
		break
	}
}

func TestDisplayMessage(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, "/ws/display")
	waitFor(t, "display client", func() bool { return f.srv.hub.Len() == 1 })

	f.srv.hub.RenderMessage("dark spectrum captured")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string       `json:"type"`
		Data MessageEvent `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "message" || msg.Data.Text != "dark spectrum captured" {
		t.Errorf("got %+v", msg)
	}
}

func TestDownloadCSV(t *testing.T) {
	f := newFixture(t)
	if resp := f.get(t, "/api/download?what=dark"); resp.StatusCode != 404 {
		t.Errorf("dark before capture: %d", resp.StatusCode)
	}
	if resp := f.get(t, "/api/download?what=bogus"); resp.StatusCode != 400 {
		t.Errorf("bogus: %d", resp.StatusCode)
	}

	f.post(t, "/api/mode", ModeRequest{Mode: "DARK"})
	f.flag.Set()
	waitFor(t, "dark result", func() bool { return f.m.Status().HasResult })
	if resp := f.post(t, "/api/dark/capture", nil); resp.StatusCode != 200 {
		t.Fatalf("capture %d", resp.StatusCode)
	}

	resp := f.get(t, "/api/download?what=dark")
	if resp.StatusCode != 200 || resp.Header.Get("Content-Type") != "text/csv" {
		t.Fatalf("download %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != protocol.PixelCount+1 || rows[0][1] != "px" {
		t.Errorf("rows=%d header=%v", len(rows), rows[0])
	}
}

func TestPorts(t *testing.T) {
	f := newFixture(t)
	var pr PortsResponse
	if err := json.NewDecoder(f.get(t, "/api/ports").Body).Decode(&pr); err != nil {
		t.Fatal(err)
	}
	if len(pr.Ports) != 1 || pr.Ports[0].Name != "/dev/ttyUSB0" || pr.Ports[0].VID != "0403" {
		t.Errorf("ports %v", pr.Ports)
	}
}

func TestEncodeSpectrum(t *testing.T) {
	b := EncodeSpectrum(nil, protocol.StartMarker, []uint16{0x0102, 0xFFFF})
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x02, 0x01, 0xFF, 0xFF}
	if !bytes.Equal(b, want) {
		t.Errorf("got % X", b)
	}
}

func TestPublishWithoutReceiverDrops(t *testing.T) {
	var s SpectrumStream
	s.Publish(protocol.StartMarker, []uint16{1})
	if s.dropped.Load() != 1 || s.sent.Load() != 0 {
		t.Errorf("dropped=%d sent=%d", s.dropped.Load(), s.sent.Load())
	}
}
