package server

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CK6170/ccdscope-go/acquisition"
	"github.com/CK6170/ccdscope-go/calibration"
	"github.com/CK6170/ccdscope-go/spectrum"
)

// writeWait bounds every websocket write so a stalled browser cannot hold
// up the poll loop.
const writeWait = 200 * time.Millisecond

// WSMessage is the minimal event envelope sent over WebSocket.
//
// The frontend switches on `type` and treats `data` as an arbitrary JSON object.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// WSClient wraps a websocket connection with a per-connection write mutex.
// Gorilla WebSocket requires that writes are not concurrent on the same Conn.
type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Send writes a message as JSON to this client.
func (c *WSClient) Send(msg WSMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *WSClient) write(kind int, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, b)
}

// WSHub broadcasts display events to every connected browser. It is the
// web side of acquisition.Display.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	label   func() string
	frame   atomic.Uint64
}

// NewWSHub constructs an empty hub. label, when set, names the unit of the
// converted peak position.
func NewWSHub(label func() string) *WSHub {
	if label == nil {
		label = func() string { return "" }
	}
	return &WSHub{clients: make(map[*WSClient]struct{}), label: label}
}

// Add registers a connection with the hub and returns the WSClient wrapper.
func (h *WSHub) Add(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Remove unregisters a client and closes its connection.
func (h *WSHub) Remove(c *WSClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len is the number of connected clients.
func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes msg once and sends it to all connected clients. Write failures are
// ignored; the client's read loop notices the disconnect and removes it.
func (h *WSHub) Broadcast(msg WSMessage) {
	b, _ := json.Marshal(msg)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.write(websocket.TextMessage, b)
	}
}

// RenderSpectrum implements acquisition.Display.
func (h *WSHub) RenderSpectrum(s spectrum.Spectrum, convert calibration.Converter, b acquisition.PlotBounds) {
	n := h.frame.Add(1)
	if h.Len() == 0 {
		return
	}
	idx, val := s.Peak()
	h.Broadcast(WSMessage{Type: "spectrum", Data: SpectrumEvent{
		Frame:     n,
		PeakPixel: idx,
		PeakX:     convert(idx),
		PeakValue: val,
		Unit:      h.label(),
		Bounds:    b,
		Values:    s,
	}})
}

// RenderMessage implements acquisition.Display. Messages are rare, so each
// client encodes its own copy.
func (h *WSHub) RenderMessage(text string) {
	msg := WSMessage{Type: "message", Data: MessageEvent{Text: text}}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.Send(msg)
	}
}

// SpectrumStream is the transport sink: it forwards every published
// spectrum to at most one receiver as a binary message
// START_MARKER || samples (u16 little-endian). A new receiver replaces the
// previous one.
type SpectrumStream struct {
	mu     sync.Mutex
	client *WSClient
	buf    []byte

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Attach makes conn the receiver, closing any previous one.
func (s *SpectrumStream) Attach(conn *websocket.Conn) *WSClient {
	c := &WSClient{conn: conn}
	s.mu.Lock()
	old := s.client
	s.client = c
	s.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return c
}

// Detach drops c if it is still the receiver and closes it.
func (s *SpectrumStream) Detach(c *WSClient) {
	s.mu.Lock()
	if s.client == c {
		s.client = nil
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}

// Connected reports whether a receiver is attached.
func (s *SpectrumStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// Publish implements acquisition.Transport. Without a receiver the frame is
// dropped.
func (s *SpectrumStream) Publish(marker [4]byte, sp spectrum.Spectrum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.dropped.Add(1)
		return
	}
	s.buf = EncodeSpectrum(s.buf[:0], marker, sp)
	if err := s.client.write(websocket.BinaryMessage, s.buf); err != nil {
		s.dropped.Add(1)
		_ = s.client.conn.Close()
		s.client = nil
		return
	}
	s.sent.Add(1)
}

// EncodeSpectrum appends the transport encoding of sp to dst.
func EncodeSpectrum(dst []byte, marker [4]byte, sp spectrum.Spectrum) []byte {
	dst = append(dst, marker[:]...)
	for _, v := range sp {
		dst = binary.LittleEndian.AppendUint16(dst, v)
	}
	return dst
}
