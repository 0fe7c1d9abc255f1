// Package audit keeps the append-only record of every message exchanged
// with a device.
//
// Each device gets its own store per session, opened on the first entry.
// Stores are write-through: Record returns only after the row is on disk
// (SQLite with synchronous=FULL, or CSV with flush and fsync), so a crash
// loses at most the entry being written.
//
// Storage failures never reach the caller. They are counted, reported to
// the Diagnostics logger and passed to Options.OnError.
//
// File names carry the device ID and the session start time:
//
//	mqtt_log_esp32_1_20261016_143000.db
package audit
