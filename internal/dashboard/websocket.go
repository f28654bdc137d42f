package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Message represents a WS message.
type Message struct {
	Type  string `json:"type"`
	Level string `json:"level,omitempty"`
	Msg   string `json:"msg,omitempty"`
	Time  string `json:"time,omitempty"`

	Attrs map[string]string `json:"attrs,omitempty"`

	// Batch progress
	Batch   string `json:"batch,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Size    int    `json:"size,omitempty"`
	Index   *int   `json:"index,omitempty"`
	Bytes   int    `json:"bytes,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    int    `json:"done,omitempty"`
	Failed  int    `json:"failed,omitempty"`
	Skipped int    `json:"skipped,omitempty"`
}

// Client represents a connected WS client.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages WS clients and broadcasts.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	sticky     []byte // last batch summary, replayed to new clients
	done       chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop. It returns when ctx is done, closing every
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			sticky := h.sticky
			n := len(h.clients)
			h.mu.Unlock()
			if sticky != nil {
				select {
				case client.send <- sticky:
				default:
				}
			}
			slog.Debug("ws client registered", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			slog.Debug("ws client unregistered", "clients", n)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						close(c.send)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast sends a message to all clients. If the hub's queue is full the
// message is dropped so workers never stall on the dashboard.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		// slog here would recurse through BroadcastHandler
		return
	}
	h.enqueue(data)
}

// BroadcastSticky caches the message and broadcasts it. Late-joining clients receive the cached copy.
func (h *Hub) BroadcastSticky(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.sticky = data
	h.mu.Unlock()
	h.enqueue(data)
}

// Sticky returns the cached sticky message, or nil.
func (h *Hub) Sticky() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sticky
}

// join registers c, reporting false if the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) enqueue(data []byte) {
	select {
	case h.broadcast <- data:
	default:
	}
}

// leave unregisters c unless the hub has already stopped.
func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// readPump decodes client messages and hands them to handle until the
// connection drops. Pongs extend the read deadline.
func (c *Client) readPump(handle func(*Client, Message)) {
	defer c.conn.Close()
	defer c.leave()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxMessageSize)
	_ = extend("")
	c.conn.SetPongHandler(extend)

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case err == nil:
			handle(c, msg)
		case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
			slog.Warn("ws bad client message", "error", err)
		default:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("ws read error", "error", err)
			}
			return
		}
	}
}

// writePump sends each queued message as its own text frame and pings on
// an interval. A closed send channel ends the connection.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, nil)
				return
			}
			err = write(websocket.TextMessage, data)
		case <-ping.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}
