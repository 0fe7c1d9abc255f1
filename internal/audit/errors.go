package audit

import "errors"

// Domain errors for the audit package. Record never returns these; they
// reach the OnError hook and the log.
var (
	// ErrWriteFailed wraps any storage failure while appending an entry.
	ErrWriteFailed = errors.New("audit: write failed")

	// ErrOpenFailed wraps a failure to create a device's backing store.
	ErrOpenFailed = errors.New("audit: open failed")

	// ErrClosed is reported for entries recorded after Close.
	ErrClosed = errors.New("audit: logger closed")

	// ErrUnknownFormat is returned for an unsupported store format.
	ErrUnknownFormat = errors.New("audit: unknown format")
)
