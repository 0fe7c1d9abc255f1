package manager

import (
	"sync"
	"time"
)

// EventType names a notification delivered to subscribers.
type EventType string

// Event types.
const (
	EventDeviceData         EventType = "device.data"
	EventDeviceAck          EventType = "device.ack"
	EventCommandSent        EventType = "command.sent"
	EventCommandPending     EventType = "command.pending"
	EventCommandUnconfirmed EventType = "command.unconfirmed"
	EventConnectionState    EventType = "connection.state"
)

// defaultSubscriberBuffer is used when Subscribe is given a non-positive size.
const defaultSubscriberBuffer = 64

// Event is an asynchronous notification for the presentation layer.
// Unsolicited is set on a connection.state event for a drop nobody asked for.
type Event struct {
	Type        EventType `json:"type"`
	DeviceID    string    `json:"device,omitempty"`
	Payload     string    `json:"payload,omitempty"`
	State       string    `json:"state,omitempty"`
	Error       string    `json:"error,omitempty"`
	Unsolicited bool      `json:"unsolicited,omitempty"`
	At          time.Time `json:"at"`
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

// hub fans events out to subscribers without ever blocking the sender.
type hub struct {
	mu      sync.RWMutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	dropped func()
}

func newHub(dropped func()) *hub {
	return &hub{subs: make(map[int]*subscriber), dropped: dropped}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = sub

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subs[id]; ok {
			delete(h.subs, id)
			s.once.Do(func() { close(s.ch) })
		}
	}
}

// publish delivers e to every subscriber with room for it. Full
// subscribers miss the event.
func (h *hub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			h.dropped()
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}
