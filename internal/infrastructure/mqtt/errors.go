package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connect attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectInProgress is returned when Connect is called while another
	// attempt has not finished.
	ErrConnectInProgress = errors.New("mqtt: connect already in progress")

	// ErrConnectionLost wraps the cause of an unsolicited disconnect.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when the broker rejects a subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or wildcard topic is used for publishing.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrDeliveryPending is matched by a *PendingError: the message left the
	// client but the broker has not finished the acknowledgment flow.
	ErrDeliveryPending = errors.New("mqtt: delivery pending")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("mqtt: client closed")
)
