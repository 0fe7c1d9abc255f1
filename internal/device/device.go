package device

import (
	"fmt"
	"strings"
)

// Device is one remote endpoint and the topics it owns.
// Devices are immutable once the Registry is built.
type Device struct {
	ID string `json:"id"`

	// InboundTopic carries telemetry from the device.
	InboundTopic string `json:"inbound_topic"`

	// OutboundTopic carries commands to the device.
	OutboundTopic string `json:"outbound_topic"`

	// AckTopic carries command acknowledgments. Empty when disabled.
	AckTopic string `json:"ack_topic,omitempty"`
}

// Validate checks the device for missing fields and wildcard topics.
func (d Device) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if strings.ContainsAny(d.ID, "/+#") {
		return fmt.Errorf("%w: id %q contains topic characters", ErrInvalidDevice, d.ID)
	}
	if d.InboundTopic == "" || d.OutboundTopic == "" {
		return fmt.Errorf("%w: %s needs inbound and outbound topics", ErrInvalidDevice, d.ID)
	}
	for _, topic := range []string{d.InboundTopic, d.OutboundTopic, d.AckTopic} {
		if strings.ContainsAny(topic, "+#") {
			return fmt.Errorf("%w: %s topic %q contains a wildcard", ErrInvalidDevice, d.ID, topic)
		}
	}
	return nil
}

// Topics builds the per-device topic names under a namespace.
//
//	topics := device.Topics{Namespace: "mosquito"}
//	topics.Data("esp32_1")    // mosquito/esp32_1/data
//	topics.Command("esp32_1") // mosquito/esp32_1/command
type Topics struct {
	Namespace string
}

// Data returns the telemetry topic: {namespace}/{device}/data
func (t Topics) Data(id string) string {
	return fmt.Sprintf("%s/%s/data", t.Namespace, id)
}

// Command returns the command topic: {namespace}/{device}/command
func (t Topics) Command(id string) string {
	return fmt.Sprintf("%s/%s/command", t.Namespace, id)
}

// Ack returns the acknowledgment topic: {namespace}/{device}/ack
func (t Topics) Ack(id string) string {
	return fmt.Sprintf("%s/%s/ack", t.Namespace, id)
}
