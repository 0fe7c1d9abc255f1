package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// PendingError is returned by Publish when a QoS 1 or 2 message was handed
// to the session but its acknowledgment did not arrive before the timeout
// or the caller gave up. The message stays in the session store and may
// still reach the broker.
type PendingError struct {
	Cause error
	Token pahomqtt.Token
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDeliveryPending, e.Cause)
}

func (e *PendingError) Unwrap() []error {
	return []error{ErrDeliveryPending, e.Cause}
}

// Done is closed once the broker completes the flow or the client gives
// the message up.
func (e *PendingError) Done() <-chan struct{} {
	return e.Token.Done()
}

// Result is the final outcome of the flow. It is only meaningful after
// Done is closed.
func (e *PendingError) Result() error {
	return e.Token.Error()
}

// Publish sends payload to topic and waits for the broker acknowledgment
// (PUBACK for QoS 1, PUBCOMP for QoS 2).
//
// It fails fast with ErrNotConnected when the client is not Connected; no
// network I/O happens in that case. When a QoS 1 or 2 acknowledgment does
// not arrive in time the error is a *PendingError rather than
// ErrPublishFailed. Messages are never retained and a failed publish is
// not retried.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos QoS) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	c.pcMu.RLock()
	pc := c.pc
	c.pcMu.RUnlock()
	if pc == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	token := pc.Publish(topic, byte(qos), false, payload)

	timer := time.NewTimer(c.opts.PublishTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-token.Done():
	case <-timer.C:
		cause = fmt.Errorf("%w after %v", ErrTimeout, c.opts.PublishTimeout)
	case <-ctx.Done():
		cause = ctx.Err()
	}
	if cause != nil {
		if qos == AtMostOnce {
			return fmt.Errorf("%w: %w", ErrPublishFailed, cause)
		}
		return &PendingError{Cause: cause, Token: token}
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
