// Package logging provides structured logging for devicelink.
//
// It wraps log/slog so every component logs with the same handler, level
// and default fields (service, version).
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard or a file path
//
// In console mode devicelink moves stdout logging to stderr so records do
// not interleave with the prompt.
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	defer logger.Close()
//	logger.Component("mqtt").Info("connected to broker", "broker", addr)
//
// Never log broker passwords or the InfluxDB token.
package logging
