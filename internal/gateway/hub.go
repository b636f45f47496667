package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	clientQueueSize = 32
)

// client pairs a connection with its outbound queue. All writes to the
// connection, payloads and pings alike, happen on its writePump goroutine;
// the websocket library allows only one concurrent writer per connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// shut is safe to call from any goroutine and any number of times.
func (c *client) shut() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans envelopes out to connected websocket consumers. It implements
// Sink, so the publisher stays transport-agnostic.
type Hub struct {
	upgrader websocket.Upgrader

	pingPeriod time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pingPeriod: pingPeriod,
		clients:    make(map[*client]struct{}),
	}
}

// Handler upgrades an HTTP request to a websocket subscription.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		c := &client{
			conn: conn,
			send: make(chan []byte, clientQueueSize),
			done: make(chan struct{}),
		}
		h.mu.Lock()
		h.clients[c] = struct{}{}
		count := len(h.clients)
		h.mu.Unlock()
		log.Info().Str("remote", r.RemoteAddr).Int("clients", count).Msg("consumer connected")

		go h.writePump(c)
		go h.readPump(c)
	}
}

// Send queues the envelope for every consumer. A consumer whose queue is full
// is dropped; the message still reaches the others.
func (h *Hub) Send(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.RLock()
	conns := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		select {
		case c.send <- payload:
		case <-c.done:
		default:
			log.Warn().Msg("dropping slow consumer")
			h.drop(c)
		}
	}
	return nil
}

// ClientCount reports the number of connected consumers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all consumers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.shut()
		delete(h.clients, c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.shut()
}

// writePump is the connection's sole writer. It drains the client queue and
// interleaves keepalive pings; any write error retires the consumer.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()
	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards inbound frames; the feed is one-way but the read side is
// required to process control messages.
func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
