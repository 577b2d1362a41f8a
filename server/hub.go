package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"comfygallery/logger"
)

// wsEvent is the envelope pushed to gallery clients.
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans events out to every connected websocket client. Writes are
// serialized per connection; a failed write drops the client.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex // gorilla allows one concurrent writer per conn
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The widget is served from the host UI's origin, which is
			// not necessarily ours.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
	}
}

// Serve upgrades the request and keeps the connection registered until
// the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &wsClient{id: uuid.New().String(), conn: conn}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	logger.Debug("ws: client connected", "client", client.id)

	// Drain the read side to detect disconnects; the gallery protocol
	// is push only.
	go func() {
		defer h.drop(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; ok {
		delete(h.clients, client.id)
		_ = client.conn.Close()
	}
	h.mu.Unlock()
	logger.Debug("ws: client disconnected", "client", client.id)
}

// Broadcast sends one event to every connected client.
func (h *Hub) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(wsEvent{Type: eventType, Data: data})
	if err != nil {
		logger.Warn("ws: cannot encode event", "type", eventType, "error", err)
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.mu.Unlock()
		if err != nil {
			h.drop(c)
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()
}
