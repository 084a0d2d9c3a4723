// Package viewer fans call events from Kafka out to browser websockets.
package viewer

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event is what browsers receive: the routing fields every call event
// carries, plus the original payload.
type Event struct {
	Topic     string          `json:"topic"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	CallID    string          `json:"callId"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode extracts the routing fields from a published call event.
func Decode(topic string, value []byte) (Event, error) {
	var head struct {
		EventType string `json:"eventType"`
		SessionID string `json:"sessionId"`
		CallID    string `json:"callId"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return Event{}, err
	}
	return Event{
		Topic:     topic,
		EventType: head.EventType,
		SessionID: head.SessionID,
		CallID:    head.CallID,
		Payload:   append(json.RawMessage(nil), value...),
	}, nil
}

const writeTimeout = 5 * time.Second

// Hub manages WebSocket connections
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("clients", n).Msg("Viewer connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().Int("clients", n).Msg("Viewer disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteJSON(event); err != nil {
					h.logger.Warn().Err(err).Msg("Viewer write failed")
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues an event for every connected viewer. It drops the event
// when the hub is backed up.
func (h *Hub) Publish(ev Event) bool {
	select {
	case h.broadcast <- ev:
		return true
	default:
		return false
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dev
	},
}

// ServeWS upgrades a browser connection and registers it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	h.register <- conn

	// Keep connection alive, handle disconnects
	go func() {
		defer func() {
			h.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
