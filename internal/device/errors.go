package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDuplicateDevice) {
//	    // handle configuration mistake
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrDuplicateDevice is returned when two devices share an ID.
	ErrDuplicateDevice = errors.New("device: duplicate id")

	// ErrTopicConflict is returned when a topic is claimed by more than one device or role.
	ErrTopicConflict = errors.New("device: topic conflict")
)
