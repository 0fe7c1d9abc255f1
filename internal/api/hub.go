package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/manager"
)

// eventTypes are the values accepted in subscriptions, plus WSChannelAll.
var eventTypes = map[manager.EventType]struct{}{
	manager.EventDeviceData:         {},
	manager.EventDeviceAck:          {},
	manager.EventCommandSent:        {},
	manager.EventCommandPending:     {},
	manager.EventCommandUnconfirmed: {},
	manager.EventConnectionState:    {},
}

// eventFilter is the set of event types a client receives.
type eventFilter struct {
	all   bool
	types map[manager.EventType]struct{}
}

// parseEventTypes validates names from a query string or subscribe message.
func parseEventTypes(names []string) ([]manager.EventType, error) {
	out := make([]manager.EventType, 0, len(names))
	for _, name := range names {
		t := manager.EventType(name)
		if name != WSChannelAll {
			if _, ok := eventTypes[t]; !ok {
				return nil, fmt.Errorf("unknown event type: %s", name)
			}
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *eventFilter) add(types []manager.EventType) {
	for _, t := range types {
		if t == WSChannelAll {
			f.all = true
			continue
		}
		f.types[t] = struct{}{}
	}
}

func (f *eventFilter) remove(types []manager.EventType) {
	for _, t := range types {
		if t == WSChannelAll {
			f.all = false
			continue
		}
		delete(f.types, t)
	}
}

func (f *eventFilter) match(t manager.EventType) bool {
	if f.all {
		return true
	}
	_, ok := f.types[t]
	return ok
}

// Hub fans manager events out to connected WebSocket clients. A client
// whose send buffer is full misses the event; the relay never blocks.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
		c.conn.Close()
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Publish sends e to every client whose filter matches its type.
func (h *Hub) Publish(e manager.Event) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: string(e.Type),
		Timestamp: e.At.UTC().Format(time.RFC3339Nano),
		Payload:   e,
	})
	if err != nil {
		h.logger.Error("failed to encode event", "type", e.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := 0
	for c := range h.clients {
		if !c.wants(e.Type) {
			continue
		}
		if c.enqueue(data) {
			h.delivered.Add(1)
			recipients++
		} else {
			h.dropped.Add(1)
		}
	}
	if recipients > 0 {
		h.logger.Debug("event relayed", "type", e.Type, "device_id", e.DeviceID, "recipients", recipients)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Delivered returns the number of events queued to clients.
func (h *Hub) Delivered() uint64 {
	return h.delivered.Load()
}

// Dropped returns the number of events lost to full client buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
