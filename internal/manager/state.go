package manager

import "time"

// CommandState tracks a command after the broker accepted it.
type CommandState string

const (
	// CommandPending means the publish left the client but the broker has
	// not completed the QoS 2 flow yet.
	CommandPending CommandState = "pending"
	// CommandTransmitted means the broker acknowledged the publish.
	CommandTransmitted CommandState = "transmitted"
	// CommandUnconfirmed means a pending command was never acknowledged by
	// the broker.
	CommandUnconfirmed CommandState = "unconfirmed"
	// CommandAcknowledged means the device published an acknowledgment.
	// Only seen when device acknowledgments are enabled.
	CommandAcknowledged CommandState = "acknowledged"
)

// CommandRecord is the last command sent to a device.
type CommandRecord struct {
	Value   int          `json:"value"`
	Payload string       `json:"payload"`
	SentAt  time.Time    `json:"sent_at"`
	Status  CommandState `json:"status"`
	AckedAt *time.Time   `json:"acked_at,omitempty"`
	AckBody string       `json:"ack,omitempty"`
}

// DeviceStatus is a point-in-time view of one device.
type DeviceStatus struct {
	ID            string         `json:"id"`
	InboundTopic  string         `json:"inbound_topic"`
	OutboundTopic string         `json:"outbound_topic"`
	AckTopic      string         `json:"ack_topic,omitempty"`
	LastValue     *string        `json:"last_value"`
	LastValueAt   *time.Time     `json:"last_value_at,omitempty"`
	LogCount      int            `json:"log_count"`
	LogPath       string         `json:"log_path,omitempty"`
	LastCommand   *CommandRecord `json:"last_command,omitempty"`
}

// Stats are counters since the manager was created.
type Stats struct {
	Routed        uint64 `json:"routed"`
	Dropped       uint64 `json:"dropped"`
	EventDrops    uint64 `json:"event_drops"`
	AuditFailures uint64 `json:"audit_failures"`
	Subscribers   int    `json:"subscribers"`
	Connects      uint64 `json:"connects"`
	Disconnects   uint64 `json:"disconnects"`
	StateDrops    uint64 `json:"state_drops"`
}

// deviceState is mutated only by the receive loop, except lastCommand
// which Send also writes. Guarded by Manager.stateMu.
type deviceState struct {
	lastValue   string
	hasValue    bool
	lastAt      time.Time
	lastCommand *CommandRecord
}
