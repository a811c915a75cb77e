package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/WachasWps/AI-Avatar-Chat/internal/metrics"
)

const (
	sendQueue  = 128
	readLimit  = 64 << 10
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Outbound message types.
const (
	TypeFrame = "frame"
	TypeEvent = "event"
	TypeError = "error"
	TypeHello = "hello"
)

// Inbound message types.
const (
	TypeSpeak    = "speak"
	TypeStop     = "stop"
	TypeEnded    = "ended"
	TypePosition = "position"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Utterance string          `json:"utterance,omitempty"`
	Index     *int            `json:"index,omitempty"`
	Position  *float64        `json:"position,omitempty"`
	Error     string          `json:"error,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans frames and bus events out to connected renderers. A client that
// cannot keep up loses messages rather than stalling the engine.
type Hub struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(logger zerolog.Logger, m *metrics.Metrics, writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Hub{
		logger:  logger.With().Str("component", "ws-hub").Logger(),
		metrics: m,
		timeout: writeTimeout,
		clients: make(map[string]*client),
	}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendQueue),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
	h.logger.Info().Str("client", c.id).Int("clients", n).Msg("Renderer connected")
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
	h.logger.Info().Str("client", c.id).Int("clients", n).Msg("Renderer disconnected")
}

// Clients returns the number of connected renderers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends typ with payload to every client.
func (h *Hub) Broadcast(typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", typ).Msg("Failed to encode broadcast")
		return
	}
	data, err := json.Marshal(Message{Type: typ, Payload: raw})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		h.enqueue(c, typ, data)
	}
}

func (h *Hub) sendTo(c *client, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; ok {
		h.enqueue(c, msg.Type, data)
	}
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *client, typ string, data []byte) {
	select {
	case c.send <- data:
		h.count("outbound", typ)
	default:
		h.count("dropped", typ)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.timeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug().Err(err).Str("client", c.id).Msg("Write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.timeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) count(direction, typ string) {
	if h.metrics != nil {
		h.metrics.WSMessages.WithLabelValues(direction, typ).Inc()
	}
}
