package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/talgya/commutersim/internal/engine"
)

// Message types sent on the stream.
const (
	MessageStatus   = "status"
	MessageReset    = "reset"
	MessageDay      = "day"
	MessageFinished = "finished"
)

const writeWait = 10 * time.Second

// Envelope is one message on the stream.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans simulation output out to websocket subscribers. It implements
// engine.Reporter; a slow subscriber is dropped rather than blocking a step.
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	count      atomic.Int32

	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHub creates a hub. Call Run to start delivering messages.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    map[*client]bool{},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		log:        logger,
	}
}

// Run delivers messages until ctx is cancelled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.log.Warn("stream client too slow, dropping", "client", c.id)
					h.drop(c)
				}
			}
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
		h.count.Add(-1)
	}
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and subscribes the connection. hello, if not
// nil, is sent as a status message before any broadcast.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, hello any) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}
	if hello != nil {
		if msg, err := encode(MessageStatus, hello); err == nil {
			c.send <- msg
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	h.log.Info("stream client connected", "client", c.id, "remote", r.RemoteAddr)

	go c.writer()
	go c.reader(h)
}

// reader discards inbound frames; it exists to notice the peer going away.
func (c *client) reader(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writer() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func encode(kind string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Data: payload})
}

func (h *Hub) announce(kind string, data any) {
	msg, err := encode(kind, data)
	if err != nil {
		h.log.Error("encode stream message", "type", kind, "error", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("stream backlog full, message dropped", "type", kind)
	}
}

// SimulationReset broadcasts the reset.
func (h *Hub) SimulationReset(ev engine.ResetEvent) {
	h.announce(MessageReset, ev)
}

// DayCompleted broadcasts the day's report.
func (h *Hub) DayCompleted(d engine.DayReport) {
	h.announce(MessageDay, d)
}

// RunFinished broadcasts the summary with the full history.
func (h *Hub) RunFinished(s engine.RunSummary) {
	h.announce(MessageFinished, s)
}
