// Package router maps inbound MQTT messages back to the device that sent them.
package router

import (
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// Kind is the meaning of an inbound message.
type Kind int

const (
	// KindTelemetry is a reading published on a device's data topic.
	KindTelemetry Kind = iota
	// KindAck is a command acknowledgment published on a device's ack topic.
	KindAck
)

// String returns "telemetry" or "ack".
func (k Kind) String() string {
	if k == KindAck {
		return "ack"
	}
	return "telemetry"
}

// Routed is an inbound message attributed to a known device.
type Routed struct {
	DeviceID   string
	Kind       Kind
	Topic      string
	Payload    string
	ReceivedAt time.Time
	Duplicate  bool
}

// Logger is the logging interface used by the Router.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Router resolves topics with exact string matching against the registry.
// It is safe for concurrent use.
type Router struct {
	registry *device.Registry
	logger   Logger
	dropped  atomic.Uint64
}

// New creates a Router over registry.
func New(registry *device.Registry) *Router {
	return &Router{registry: registry, logger: noopLogger{}}
}

// SetLogger sets the logger that receives drop diagnostics.
func (r *Router) SetLogger(logger Logger) {
	r.logger = logger
}

// Route classifies msg. Messages on topics no device owns are dropped:
// ok is false, the drop is counted and logged at debug level, and nothing
// else happens.
func (r *Router) Route(msg mqtt.Message) (Routed, bool) {
	routed := Routed{
		Topic:      msg.Topic,
		Payload:    string(msg.Payload),
		ReceivedAt: msg.ReceivedAt,
		Duplicate:  msg.Duplicate,
	}

	if d, ok := r.registry.ResolveByInboundTopic(msg.Topic); ok {
		routed.DeviceID = d.ID
		routed.Kind = KindTelemetry
		return routed, true
	}
	if d, ok := r.registry.ResolveByAckTopic(msg.Topic); ok {
		routed.DeviceID = d.ID
		routed.Kind = KindAck
		return routed, true
	}

	r.dropped.Add(1)
	r.logger.Debug("dropping message on unknown topic",
		"topic", msg.Topic,
		"bytes", len(msg.Payload),
	)
	return Routed{}, false
}

// Dropped returns the number of messages dropped since start.
func (r *Router) Dropped() uint64 {
	return r.dropped.Load()
}
