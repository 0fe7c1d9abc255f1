package device

import (
	"fmt"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// Registry is the fixed set of known devices.
//
// It is built once at startup and never modified, so lookups need no
// locking. All lookups report "not found" with a false result instead of
// an error; unknown topics are noise, not failures.
type Registry struct {
	order     []string
	byID      map[string]Device
	byInbound map[string]string
	byAck     map[string]string
}

// NewRegistry validates devices and indexes their topics.
func NewRegistry(devices []Device) (*Registry, error) {
	r := &Registry{
		order:     make([]string, 0, len(devices)),
		byID:      make(map[string]Device, len(devices)),
		byInbound: make(map[string]string, len(devices)),
		byAck:     make(map[string]string, len(devices)),
	}

	claimed := make(map[string]string)
	claim := func(topic, owner string) error {
		if topic == "" {
			return nil
		}
		if prev, ok := claimed[topic]; ok {
			return fmt.Errorf("%w: %s used by %s and %s", ErrTopicConflict, topic, prev, owner)
		}
		claimed[topic] = owner
		return nil
	}

	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, d.ID)
		}
		for _, topic := range []string{d.InboundTopic, d.OutboundTopic, d.AckTopic} {
			if err := claim(topic, d.ID); err != nil {
				return nil, err
			}
		}

		r.order = append(r.order, d.ID)
		r.byID[d.ID] = d
		r.byInbound[d.InboundTopic] = d.ID
		if d.AckTopic != "" {
			r.byAck[d.AckTopic] = d.ID
		}
	}

	return r, nil
}

// FromConfig builds the registry from the devices section, deriving any
// topic left empty from the namespace.
func FromConfig(cfg config.DevicesConfig) (*Registry, error) {
	topics := Topics{Namespace: cfg.Namespace}
	devices := make([]Device, 0, len(cfg.List))
	for _, dc := range cfg.List {
		d := Device{
			ID:            dc.ID,
			InboundTopic:  dc.InboundTopic,
			OutboundTopic: dc.OutboundTopic,
			AckTopic:      dc.AckTopic,
		}
		if d.InboundTopic == "" {
			d.InboundTopic = topics.Data(d.ID)
		}
		if d.OutboundTopic == "" {
			d.OutboundTopic = topics.Command(d.ID)
		}
		if d.AckTopic == "" && cfg.Acks {
			d.AckTopic = topics.Ack(d.ID)
		}
		devices = append(devices, d)
	}
	return NewRegistry(devices)
}

// ResolveByInboundTopic returns the device whose telemetry topic is exactly topic.
func (r *Registry) ResolveByInboundTopic(topic string) (Device, bool) {
	id, ok := r.byInbound[topic]
	if !ok {
		return Device{}, false
	}
	return r.byID[id], true
}

// ResolveByAckTopic returns the device whose acknowledgment topic is exactly topic.
func (r *Registry) ResolveByAckTopic(topic string) (Device, bool) {
	id, ok := r.byAck[topic]
	if !ok {
		return Device{}, false
	}
	return r.byID[id], true
}

// OutboundTopicFor returns the command topic of a device.
func (r *Registry) OutboundTopicFor(id string) (string, bool) {
	d, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return d.OutboundTopic, true
}

// Get returns a device by ID.
func (r *Registry) Get(id string) (Device, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Has reports whether id is a known device.
func (r *Registry) Has(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// List returns all devices in configuration order.
func (r *Registry) List() []Device {
	devices := make([]Device, 0, len(r.order))
	for _, id := range r.order {
		devices = append(devices, r.byID[id])
	}
	return devices
}

// IDs returns all device IDs in configuration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.order)
}

// SubscriptionTopics returns every topic the controller must subscribe to:
// each device's inbound topic followed by its ack topic, if any.
func (r *Registry) SubscriptionTopics() []string {
	topics := make([]string, 0, len(r.order)*2)
	for _, id := range r.order {
		d := r.byID[id]
		topics = append(topics, d.InboundTopic)
		if d.AckTopic != "" {
			topics = append(topics, d.AckTopic)
		}
	}
	return topics
}
