// Package api implements the HTTP REST API and WebSocket server for the
// device link.
//
// This package provides:
//   - Device listing with last value, log count and last command
//   - Command submission with the same validation as the console
//   - Explicit broker connect and disconnect
//   - A WebSocket stream of manager events
//
// # Architecture
//
// Every handler goes through the manager facade; the API never touches the
// transport or the audit stores directly, except to page through a device's
// log. Manager events are relayed to WebSocket clients by a single
// subscription whose channel name is the event type.
//
// # Errors
//
// Command failures map to structured errors: validation_error (422),
// unknown_device (404), not_connected (503) and transmit_failed (502).
//
// # Graceful Degradation
//
// The server operates without a broker connection. Reads and WebSocket
// connections work; only commands fail.
package api
