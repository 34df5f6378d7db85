package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NielsdaWheelz/marginalia/core/highlight"
	"github.com/NielsdaWheelz/marginalia/internal/logging"
)

// Highlight event types pushed to connected clients. A client that renders
// a fragment re-runs its render pass when any of these arrive for it.
const (
	EventHighlightCreated = "highlight_created"
	EventHighlightUpdated = "highlight_updated"
	EventHighlightDeleted = "highlight_deleted"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HighlightMessage is one highlight change event.
type HighlightMessage struct {
	Type       string          `json:"type"`
	FragmentID string          `json:"fragment_id"`
	Highlight  *highlight.Span `json:"highlight,omitempty"`
	Timestamp  string          `json:"timestamp"`
}

// Client represents a WebSocket client connection. A non-empty fragment
// restricts delivery to events on that fragment.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	fragment string
}

// envelope pairs a serialized message with its fragment id so the hub can
// filter per-client without re-parsing.
type envelope struct {
	fragmentID string
	data       []byte
}

// Hub maintains active WebSocket connections and broadcasts highlight
// change events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run starts the hub's main loop to handle client registration and
// broadcasting.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logging.WebSocketEvent("client_connected", len(h.clients))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logging.WebSocketEvent("client_disconnected", len(h.clients))

		case env := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.fragment != "" && client.fragment != env.fragmentID {
					continue
				}
				select {
				case client.send <- env.data:
				default:
					// Client channel full, disconnect
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// BroadcastHighlight pushes one highlight change event to every client
// watching the span's fragment.
func (h *Hub) BroadcastHighlight(eventType string, span *highlight.Span) {
	msg := HighlightMessage{
		Type:       eventType,
		FragmentID: span.FragmentID,
		Highlight:  span,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("failed to marshal highlight event", "error", err)
		return
	}
	logging.HighlightEvent(eventType, span.ID, span.FragmentID, span.OwnerID)

	select {
	case h.broadcast <- envelope{fragmentID: span.FragmentID, data: data}:
	default:
		logging.Warn("broadcast channel full, dropping event", "type", eventType)
	}
}

// readPump reads messages from the WebSocket connection. Clients only
// listen; inbound payloads are drained and discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("websocket unexpected close", "error", err)
			}
			break
		}
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Flush any additional queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket and registers
// clients. An optional ?fragment= query parameter restricts the stream to
// one fragment's events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		fragment: r.URL.Query().Get("fragment"),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}
