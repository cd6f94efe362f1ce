package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wattscope/wattscope/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool {
		// The dashboard is served from arbitrary local origins.
		return true
	},
}

// Hub fans stored readings out to connected websocket clients. A
// client that fails a write is dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	// Serialises broadcasts; gorilla connections allow one writer at a
	// time and ingestion may deliver from several goroutines.
	writeMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// handleWS upgrades the connection and registers the client. Inbound
// frames are read and discarded to process control messages.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.add(conn)

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

// BroadcastReading sends one stored reading to every client.
func (h *Hub) BroadcastReading(reading *store.Reading) {
	payload := map[string]interface{}{
		"device_id":   reading.DeviceID,
		"observed_at": reading.ObservedAt,
		"total_in":    reading.TotalIn,
		"power_w":     nullable(reading.PowerW.Valid, reading.PowerW.Float64),
		"voltage":     nullable(reading.Voltage.Valid, reading.Voltage.Float64),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reading for broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range clients {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			h.remove(c)
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for c := range h.clients {
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}
