package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/roadsense/internal/engine"
	"github.com/banshee-data/roadsense/internal/monitoring"
	"github.com/banshee-data/roadsense/internal/vehicle"
)

const (
	writeWait       = 2 * time.Second
	clientQueueSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Update is one message on the live stream.
type Update struct {
	Type string `json:"type"` // "tick" or "alert"
	Data any    `json:"data"`
}

type client struct {
	send chan []byte
}

// Hub fans engine output out to websocket clients. It is both an alert sink
// and a tick observer for engine.Runner. Slow clients miss messages rather
// than stall the tick loop.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	// EveryN forwards one tick in N; alerts are always forwarded.
	EveryN int
	ticks  int
}

// NewHub creates a hub forwarding every tick.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{}), EveryN: 1}
}

func (h *Hub) register() *client {
	c := &client{send: make(chan []byte, clientQueueSize)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		monitoring.Logf("hub: failed to encode %s update: %v", u.Type, err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
		}
	}
}

// Emit forwards an alert to every client.
func (h *Hub) Emit(a vehicle.Alert) {
	h.broadcast(Update{Type: "alert", Data: a})
}

// ObserveTick forwards the self-state and active peers of a tick.
func (h *Hub) ObserveTick(res engine.TickResult) {
	h.mu.Lock()
	h.ticks++
	skip := h.EveryN > 1 && h.ticks%h.EveryN != 0
	h.mu.Unlock()
	if skip {
		return
	}
	h.broadcast(Update{Type: "tick", Data: newStateView(res)})
}

// serve upgrades the request and streams updates until the client goes
// away. The first message is the current snapshot when initial is set.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, initial *Update) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := h.register()
	defer h.unregister(c)

	if initial != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(initial); err != nil {
			return
		}
	}

	// the read loop only detects the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
