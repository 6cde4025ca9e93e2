// Package events streams plugin engine events to websocket clients.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/peas/pkg/plugin"
)

const (
	writeWait   = 10 * time.Second
	sendBacklog = 64
)

// Message is one frame sent to clients.
type Message struct {
	Type      string         `json:"type"`
	Event     string         `json:"event,omitempty"`
	ClientID  string         `json:"client_id,omitempty"`
	Seq       int64          `json:"seq,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Stream is an http.Handler that upgrades requests to websockets and
// broadcasts every event it is given to all connected clients. Clients
// that fall behind are disconnected.
type Stream struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	seq      uint64

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

// NewStream creates an event stream.
func NewStream(logger zerolog.Logger) *Stream {
	return &Stream{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger.With().Str("component", "event-stream").Logger(),
		clients: make(map[string]*client),
	}
}

// Attach broadcasts the engine's load and unload events. The returned
// function detaches the stream.
func (s *Stream) Attach(engine *plugin.Engine) func() {
	return engine.Subscribe(func(ev plugin.Event) {
		s.Broadcast(string(ev.Type), map[string]any{
			"module":  ev.Plugin.ModuleName(),
			"name":    ev.Plugin.Name(),
			"version": ev.Plugin.Version(),
			"loader":  ev.Plugin.LoaderID(),
		})
	})
}

// Broadcast queues an event for every connected client. It never blocks.
func (s *Stream) Broadcast(event string, data map[string]any) {
	msg := Message{
		Type:      "event",
		Event:     event,
		Seq:       int64(atomic.AddUint64(&s.seq, 1)),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("Failed to marshal event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.clients {
		select {
		case c.send <- payload:
		default:
			s.logger.Warn().Str("clientId", id).Str("event", event).Msg("Client too slow, disconnecting")
			delete(s.clients, id)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	id, err := gonanoid.New()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate client id")
		conn.Close()
		return
	}
	c := &client{id: id, conn: conn, send: make(chan []byte, sendBacklog)}

	// The greeting is queued before registration so it is always first.
	hello, _ := json.Marshal(Message{Type: "hello", ClientID: id, Timestamp: time.Now().UnixMilli()})
	c.send <- hello

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[id] = c
	s.mu.Unlock()

	s.logger.Info().Str("clientId", id).Str("ip", r.RemoteAddr).Msg("Client connected")

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop discards client frames and notices disconnects.
func (s *Stream) readLoop(c *client) {
	defer func() {
		s.remove(c)
		s.logger.Info().Str("clientId", c.id).Msg("Client disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", c.id).Msg("WebSocket error")
			}
			return
		}
	}
}

func (s *Stream) writeLoop(c *client) {
	defer c.conn.Close()

	for payload := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.logger.Debug().Err(err).Str("clientId", c.id).Msg("Failed to write event")
			s.remove(c)
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
}

func (s *Stream) remove(c *client) {
	s.mu.Lock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()
	c.close()
}

// Close disconnects every client and refuses new ones.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, c := range s.clients {
		delete(s.clients, id)
		c.close()
	}
}
