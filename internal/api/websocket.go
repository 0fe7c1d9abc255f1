package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/manager"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// WSChannelAll subscribes a client to every event type.
const WSChannelAll = "*"

// wsSendBufferSize is the per-client outbound queue length.
const wsSendBufferSize = 256

// WSMessage is the envelope of every frame the server writes.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
// Channels are event types such as "device.data", or "*".
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is a frame read from a client.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// wsClient is one connected event stream.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	cfg  config.WebSocketConfig

	mu     sync.Mutex
	send   chan []byte
	closed bool
	filter eventFilter
}

func (s *Server) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}
}

// handleWebSocket upgrades the request to an event stream.
//
// The optional "events" query parameter is a comma-separated list of event
// types to start with. Without it the client receives every event.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	names := []string{WSChannelAll}
	if v := r.URL.Query().Get("events"); v != "" {
		names = splitChannels(v)
	}
	types, err := parseEventTypes(names)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:    s.hub,
		conn:   conn,
		cfg:    s.wsCfg,
		send:   make(chan []byte, wsSendBufferSize),
		filter: eventFilter{types: make(map[manager.EventType]struct{})},
	}
	c.filter.add(types)

	s.hub.add(c)
	go c.writePump()
	go c.readPump()
}

func splitChannels(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// enqueue queues data for the write pump. It reports false when the client
// is closed or its buffer is full.
func (c *wsClient) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close ends the write pump. Safe to call more than once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) wants(t manager.EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter.match(t)
}

func (c *wsClient) pingInterval() time.Duration {
	return time.Duration(c.cfg.PingInterval) * time.Second
}

func (c *wsClient) pongWait() time.Duration {
	return time.Duration(c.cfg.PongTimeout) * time.Second
}

// readPump handles client requests until the connection fails.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pingInterval() + c.pongWait()))
	}

	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts as alive.
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend()
		c.handle(data)
	}
}

// writePump drains the send queue and pings the client.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.pingInterval())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(messageType int, data []byte) error {
		//nolint:errcheck // write errors are reported by WriteMessage
		c.conn.SetWriteDeadline(time.Now().Add(c.pongWait()))
		return c.conn.WriteMessage(messageType, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // connection is closing
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch req.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateFilter(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, map[string]string{"message": "unknown message type: " + req.Type})
	}
}

func (c *wsClient) updateFilter(req wsRequest) {
	var sub WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
		c.reply(req.ID, WSTypeError, map[string]string{"message": "invalid " + req.Type + " payload"})
		return
	}
	types, err := parseEventTypes(sub.Channels)
	if err != nil {
		c.reply(req.ID, WSTypeError, map[string]string{"message": err.Error()})
		return
	}

	key := "subscribed"
	c.mu.Lock()
	if req.Type == WSTypeSubscribe {
		c.filter.add(types)
	} else {
		c.filter.remove(types)
		key = "unsubscribed"
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket filter updated", "request", req.Type, "channels", sub.Channels)
	c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
}

func (c *wsClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}
