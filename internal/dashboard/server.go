// Package dashboard serves live batch progress and logs over a websocket,
// plus health and Prometheus endpoints.
package dashboard

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles the dashboard HTTP and WS endpoints.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	metrics  http.Handler

	mu        sync.Mutex
	interrupt func()
}

// NewServer creates a dashboard server. metrics serves /metrics; nil uses
// the default Prometheus registry.
func NewServer(hub *Hub, metrics http.Handler) *Server {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	return &Server{
		hub:     hub,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// non-browser clients
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return u.Host == r.Host
			},
		},
	}
}

// OnInterrupt sets the callback run when a client sends an "interrupt"
// message. Pass nil to ignore interrupts.
func (s *Server) OnInterrupt(fn func()) {
	s.mu.Lock()
	s.interrupt = fn
	s.mu.Unlock()
}

// Handler returns the HTTP handler for the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})

	mux.Handle("/metrics", s.metrics)

	// current batch summary, or 204 when idle
	mux.HandleFunc("/api/batch", func(w http.ResponseWriter, r *http.Request) {
		data := s.hub.Sticky()
		if data == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("/ws", s.handleWS)

	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade", "error", err)
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(s.handleMessage)
}

func (s *Server) handleMessage(_ *Client, msg Message) {
	switch msg.Type {
	case "interrupt":
		s.mu.Lock()
		fn := s.interrupt
		s.mu.Unlock()
		if fn == nil {
			slog.Info("interrupt requested but no interruptible batch is running")
			return
		}
		slog.Info("interrupt requested from dashboard")
		fn()
		s.hub.Broadcast(Message{Type: "interrupt_ack"})
	}
}
