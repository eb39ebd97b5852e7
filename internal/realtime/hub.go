package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"mercato/internal/transfers/saga"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SagaEvent is the frame pushed to websocket clients on every saga change.
type SagaEvent struct {
	Type         string `json:"type"`
	SagaID       string `json:"sagaId"`
	State        string `json:"state"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Hub manages WebSocket clients and broadcasts saga transitions to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	done        chan struct{}
	mu          sync.Mutex
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewHub constructs a Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte, 64),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "realtime-hub").Logger(),
	}
}

// Run processes register/unregister/broadcast events until ctx ends, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.mu.Lock()
		for conn := range h.connections {
			conn.Close()
			delete(h.connections, conn)
		}
		h.mu.Unlock()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// SagaChanged queues a saga_state frame. It drops the frame when the
// broadcast buffer is full so slow clients never hold up the coordinator.
func (h *Hub) SagaChanged(ctx context.Context, record saga.Record) {
	msg, err := json.Marshal(SagaEvent{
		Type:         "saga_state",
		SagaID:       record.SagaID,
		State:        string(record.State),
		ErrorMessage: record.ErrorMessage,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("saga_id", record.SagaID).Msg("marshal saga event")
		return
	}
	select {
	case h.Broadcast <- msg:
	case <-h.done:
	case <-ctx.Done():
	default:
		h.logger.Warn().Str("saga_id", record.SagaID).Msg("saga event dropped")
	}
}

// ServeHTTP upgrades the request and registers the connection. Incoming
// frames are discarded; a read error unregisters the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	select {
	case h.Register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.Unregister <- conn:
				case <-h.done:
				}
				return
			}
		}
	}()
}
