package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/sightline/internal/monitoring"
	"github.com/banshee-data/sightline/internal/vision"
)

// Hub fans notification events out to connected websocket clients. A
// slow client is disconnected rather than allowed to back up the
// broadcast loop.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan vision.NotificationEvent

	upgrader websocket.Upgrader
}

// perClientBuffer is how many events a client may fall behind before
// it is dropped.
const perClientBuffer = 32

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan vision.NotificationEvent),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast delivers ev to every connected client without blocking.
func (h *Hub) Broadcast(ev vision.NotificationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Client isn't keeping up; cut it loose.
			delete(h.clients, conn)
			close(ch)
			conn.Close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and streams notification events as
// JSON until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade: %v", err)
		return
	}

	ch := make(chan vision.NotificationEvent, perClientBuffer)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			h.remove(conn)
			return
		}
	}
}

// remove detaches conn if it is still registered.
func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	ch, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
	conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
		conn.Close()
	}
}
