// Package mqtt owns the controller's single connection to the MQTT broker.
//
// This package manages:
//   - An explicit connection state machine (Disconnected, Connecting, Connected)
//   - QoS 2 subscription of every device topic at connect time
//   - Publishing with a bounded wait for the broker acknowledgment
//   - Delivery of received messages and state transitions over bounded channels
//
// # Lifecycle
//
//	Disconnected -> Connecting -> Connected -> Disconnected
//	Connecting -> Disconnected   (connect failure)
//
// paho's automatic reconnect is switched off. An unsolicited drop moves the
// client straight to Disconnected with the cause attached to the
// StateChange; reconnecting is a policy decision for the caller.
//
// # Usage
//
//	client := mqtt.New(mqtt.OptionsFromConfig(cfg.MQTT, registry.SubscriptionTopics()))
//	if err := client.Connect(ctx); err != nil {
//	    logger.Warn("broker unavailable", "error", err)
//	}
//	defer client.Close()
//
//	for msg := range client.Messages() {
//	    ...
//	}
//
// The exactly-once guarantee itself is provided by paho and the broker;
// this package only requests QoS 2 and waits for PUBCOMP.
package mqtt
