package mqtt

import (
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one delivery from the broker. Payload is a private copy.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
	Duplicate  bool
}

// Messages returns the bounded queue of received messages.
//
// The paho handler blocks while the queue is full, so a slow consumer
// applies backpressure to the broker instead of losing QoS 2 messages.
// The channel is never closed.
func (c *Client) Messages() <-chan Message {
	return c.inbound
}

// wrapHandler returns the paho handler that copies each message onto the
// inbound queue, with panic recovery.
func (c *Client) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.getLogger().Error("MQTT handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		payload := make([]byte, len(msg.Payload()))
		copy(payload, msg.Payload())

		m := Message{
			Topic:      msg.Topic(),
			Payload:    payload,
			ReceivedAt: time.Now(),
			Duplicate:  msg.Duplicate(),
		}

		select {
		case c.inbound <- m:
		case <-c.done:
			c.getLogger().Warn("MQTT client closed, discarding message", "topic", m.Topic)
		}
	}
}
