package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader upgrades HTTP requests to WebSockets.
//
// CheckOrigin allows every origin: the server is meant for the instrument's
// local network and should be restricted if it is exposed further.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 << 10,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWSDisplay streams display events (spectra and status text).
func (s *Server) handleWSDisplay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.hub.Add(conn)
	// The read loop only detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.Remove(client)
			return
		}
	}
}

// handleWSSpectrum attaches the single spectrum receiver.
func (s *Server) handleWSSpectrum(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := s.stream.Attach(conn)
	s.hub.RenderMessage("receiver connected")
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.stream.Detach(client)
			s.hub.RenderMessage("receiver disconnected")
			return
		}
	}
}
