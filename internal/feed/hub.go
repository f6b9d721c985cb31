// Package feed broadcasts factor store events to WebSocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"factor-lab/internal/engine"
	"factor-lab/internal/observability"
)

// Options configures a Hub.
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int           // per-client outbound queue
	PingPeriod      time.Duration // must be less than PongWait
	PongWait        time.Duration
	WriteWait       time.Duration
	Logger          *log.Logger
}

func (o *Options) defaults() {
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Hub fans store events out to connected clients. It implements
// engine.Notifier.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

var _ engine.Notifier = (*Hub)(nil)

// NewHub creates a hub. Call Run to start dispatching.
func NewHub(opts Options) *Hub {
	opts.defaults()
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run dispatches registrations and broadcasts until ctx is cancelled, then
// closes every client. Run must be called at most once.
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
			observability.UpdateFeedClients(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			observability.UpdateFeedClients(n)
			h.opts.Logger.Printf("client connected: %s (%d total)", c.remote, n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.UpdateFeedClients(n)
			h.opts.Logger.Printf("client disconnected: %s (%d total)", c.remote, n)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer
					delete(h.clients, c)
					close(c.send)
					h.opts.Logger.Printf("dropping slow client: %s", c.remote)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.UpdateFeedClients(n)
			observability.RecordFeedBroadcast()
		}
	}
}

// Notify queues a store event for broadcast. It never blocks the caller;
// events are dropped when the broadcast queue is full.
func (h *Hub) Notify(ev engine.StoreEvent) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.opts.Logger.Printf("marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.opts.Logger.Printf("broadcast queue full, dropping event for %s", ev.Factor)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Printf("upgrade failed: %v", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBuffer),
		remote: conn.RemoteAddr().String(),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
