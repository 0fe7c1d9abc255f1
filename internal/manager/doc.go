// Package manager is the thread-safe facade between the presentation layer
// and the device link.
//
// A Manager owns the broker transport for its lifetime. Connect starts a
// receive loop task (ReceiveLoopName) that routes each inbound message,
// updates the device's last value, records it in the audit log and then
// publishes an Event. The loop is the only writer of last values.
//
// Disconnect stops the loop after it has handled every queued message. An
// unsolicited drop ends the loop on its own; reconnecting is left to the
// caller or to the reconnect package.
//
// Commands go through Send, which validates, publishes at QoS 2 and
// records the command once the broker acknowledges it.
package manager
