package kafka

import "errors"

// Sentinel errors for the Kafka mirror.
var (
	// ErrDisabled indicates Kafka integration is disabled in config.
	ErrDisabled = errors.New("kafka: disabled in configuration")

	// ErrNoBrokers indicates no bootstrap brokers were configured.
	ErrNoBrokers = errors.New("kafka: no brokers configured")

	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("kafka: producer closed")

	// ErrWriteFailed wraps errors delivered to the OnError callback.
	ErrWriteFailed = errors.New("kafka: write failed")
)
