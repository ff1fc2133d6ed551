package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"video-compare/internal/logging"
	"video-compare/internal/metrics"
	"video-compare/internal/playback"
)

const (
	wsWriteWait = 10 * time.Second
	// wsPongWait bounds how long the connection stays open without any
	// message from the client.
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts clients without an Origin header, pages served by this
// host and pages served from loopback addresses.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return isLoopback(u.Hostname())
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// EventMessage is one message sent over the events WebSocket. Exactly one of
// Event and State is set, matching Type.
type EventMessage struct {
	Type  string               `json:"type"` // "event", "state" or "pong"
	Event *playback.ErrorEvent `json:"event,omitempty"`
	State *StateView           `json:"state,omitempty"`
	Data  json.RawMessage      `json:"data,omitempty"`
}

// Events streams error events and periodic state updates for a session over
// a WebSocket. Clients may send {"type":"ping"} and receive a pong.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.Events()
	defer cancel()

	metrics.StreamClients.WithLabelValues("websocket").Inc()
	defer metrics.StreamClients.WithLabelValues("websocket").Dec()

	logging.Debug("WebSocket connected: session=%s", s.ID())

	pongs := make(chan json.RawMessage, 4)
	readDone := make(chan struct{})
	go readLoop(conn, pongs, readDone)

	interval := h.opts.StateInterval
	if interval <= 0 {
		interval = DefaultOptions().StateInterval
	}
	stateTicker := time.NewTicker(interval)
	defer stateTicker.Stop()
	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()

	send := func(msg EventMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			logging.Debug("WebSocket write error: session=%s: %v", s.ID(), err)
			return false
		}
		return true
	}

	st := newStateView(s.State())
	if !send(EventMessage{Type: "state", State: &st}) {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Session closed.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
					time.Now().Add(wsWriteWait))
				return
			}
			if !send(EventMessage{Type: "event", Event: &ev}) {
				return
			}
		case <-stateTicker.C:
			st := newStateView(s.State())
			if !send(EventMessage{Type: "state", State: &st}) {
				return
			}
		case data := <-pongs:
			if !send(EventMessage{Type: "pong", Data: data}) {
				return
			}
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-readDone:
			logging.Debug("WebSocket disconnected: session=%s", s.ID())
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readLoop consumes client messages until the connection fails. Ping
// requests are handed to the writer through pongs.
func readLoop(conn *websocket.Conn, pongs chan<- json.RawMessage, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if messageType != websocket.TextMessage {
			continue
		}

		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data,omitempty"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Debug("Invalid WebSocket message: %v", err)
			continue
		}
		if msg.Type == "ping" {
			select {
			case pongs <- msg.Data:
			default:
			}
		}
	}
}
