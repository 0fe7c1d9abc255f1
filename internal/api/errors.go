package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devicelink/internal/dispatch"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeUnknownDevice  = "unknown_device"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeTransmitFailed = "transmit_failed"
	ErrCodeConnectFailed  = "connect_failed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnknownDevice writes a 404 error response for a device outside the registry.
func writeUnknownDevice(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, ErrCodeUnknownDevice, "unknown device")
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeCommandError maps a dispatch error to its HTTP status and code.
func writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnknownDevice):
		writeUnknownDevice(w)
	case errors.Is(err, dispatch.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeNotConnected, dispatch.Message(err))
	case errors.Is(err, dispatch.ErrOutOfRange), errors.Is(err, dispatch.ErrInvalidFormat):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, dispatch.Message(err))
	default:
		writeError(w, http.StatusBadGateway, ErrCodeTransmitFailed, err.Error())
	}
}
