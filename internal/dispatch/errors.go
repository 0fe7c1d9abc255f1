package dispatch

import (
	"errors"
	"fmt"

	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// Command errors. Validation failures never reach the transport.
var (
	// ErrUnknownDevice is returned when the target is not in the registry.
	ErrUnknownDevice = errors.New("dispatch: unknown device")

	// ErrNotConnected is returned when the transport is not connected.
	ErrNotConnected = mqtt.ErrNotConnected

	// ErrOutOfRange is returned for values outside [MinValue, MaxValue].
	ErrOutOfRange = errors.New("dispatch: value out of range")

	// ErrInvalidFormat is returned when text input is not an integer.
	ErrInvalidFormat = errors.New("dispatch: value is not an integer")

	// ErrTransmitFailed wraps a transport error from a publish that passed
	// validation.
	ErrTransmitFailed = errors.New("dispatch: transmit failed")

	// ErrPending is returned when the command left the client but the
	// broker has not acknowledged it yet.
	ErrPending = errors.New("dispatch: transmitted, not yet acknowledged")

	// ErrNotAcknowledged is passed to the SettledFunc when a pending
	// command was never acknowledged.
	ErrNotAcknowledged = errors.New("dispatch: command not acknowledged")
)

// Outcome tells a caller what became of a command.
type Outcome int

const (
	// OutcomeAccepted means the broker acknowledged the publish.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected means validation failed and nothing was sent.
	OutcomeRejected
	// OutcomeNotTransmitted means the command was valid but could not be
	// delivered to the broker.
	OutcomeNotTransmitted
	// OutcomePending means the command was transmitted but the broker has
	// not acknowledged it yet.
	OutcomePending
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeNotTransmitted:
		return "not_transmitted"
	case OutcomePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Classify maps a Send error to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrUnknownDevice),
		errors.Is(err, ErrOutOfRange),
		errors.Is(err, ErrInvalidFormat):
		return OutcomeRejected
	case errors.Is(err, ErrPending):
		return OutcomePending
	default:
		return OutcomeNotTransmitted
	}
}

// Message returns the operator-facing text for a Send error.
func Message(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, ErrUnknownDevice):
		return "unknown device"
	case errors.Is(err, ErrNotConnected):
		return "not connected"
	case errors.Is(err, ErrOutOfRange):
		return fmt.Sprintf("Invalid number (%d-%d allowed)", MinValue, MaxValue)
	case errors.Is(err, ErrInvalidFormat):
		return "Invalid input (numbers only)"
	case errors.Is(err, ErrPending):
		return "sent, awaiting acknowledgment"
	default:
		return "transmit failed"
	}
}
