package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshops-sim/internal/telemetry"
)

const (
	clientBuffer = 256
	pingPeriod   = 30 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is one frame sent to websocket clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans telemetry out to websocket clients. It implements the simulator
// writer interfaces so it can sit in a MultiWriter.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	log     *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{clients: make(map[*client]bool), log: log}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues msg for every client. Clients that cannot keep up are
// dropped.
func (h *Hub) broadcast(typ string, data any) error {
	msg, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			h.log.Warn("dropping slow websocket client", "remote", c.conn.RemoteAddr().String())
		}
	}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams frames until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.log.Info("websocket client connected", "remote", r.RemoteAddr)

	// reader: only needed to notice the close
	go func() {
		defer func() {
			h.remove(c)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case msg, ok := <-c.send:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if !ok {
					_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

// Write implements sim.TelemetryWriter.
func (h *Hub) Write(row telemetry.UnitRow) error { return h.broadcast("unit", row) }

// WriteBatch sends one frame for the whole batch.
func (h *Hub) WriteBatch(rows []telemetry.UnitRow) error { return h.broadcast("units", rows) }

// WriteMessage implements sim.MessageWriter.
func (h *Hub) WriteMessage(m telemetry.MessageRow) error { return h.broadcast("message", m) }

// WriteMeshEvent implements sim.MeshEventWriter.
func (h *Hub) WriteMeshEvent(e telemetry.MeshEventRow) error { return h.broadcast("mesh_event", e) }

// WriteState implements sim.StateWriter.
func (h *Hub) WriteState(s telemetry.TopologyStateRow) error { return h.broadcast("state", s) }

// Close disconnects every client.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	return nil
}
