package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/dispatch"
	"github.com/nerrad567/devicelink/internal/manager"
)

// CommandRequest is the body of POST /devices/{id}/command. Value may be a
// JSON number or a string; both go through the same text validation.
type CommandRequest struct {
	Value json.RawMessage `json:"value"`
}

// CommandResponse reports a command the broker accepted (200) or one still
// awaiting the broker acknowledgment (202).
type CommandResponse struct {
	DeviceID string               `json:"device_id"`
	Topic    string               `json:"topic"`
	Value    int                  `json:"value"`
	Payload  string               `json:"payload"`
	SentAt   time.Time            `json:"sent_at"`
	Status   manager.CommandState `json:"status"`
	Outcome  string               `json:"outcome"`
}

// handleListDevices returns every device with its last value and command.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.manager.Devices()
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	status, ok := s.manager.DeviceStatus(chi.URLParam(r, "id"))
	if !ok {
		writeUnknownDevice(w)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSendCommand validates and publishes a command to the device.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	raw, ok := commandText(req.Value)
	if !ok {
		writeBadRequest(w, "value is required")
		return
	}

	cmd, err := s.manager.SendText(r.Context(), id, raw)
	if errors.Is(err, dispatch.ErrPending) {
		s.logger.Warn("command awaiting broker acknowledgment", "device_id", id, "value", raw)
		writeJSON(w, http.StatusAccepted, commandResponse(cmd, manager.CommandPending, dispatch.OutcomePending))
		return
	}
	if err != nil {
		s.logger.Debug("command not sent",
			"device_id", id,
			"value", raw,
			"outcome", dispatch.Classify(err).String(),
			"error", err,
		)
		writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, commandResponse(cmd, manager.CommandTransmitted, dispatch.OutcomeAccepted))
}

func commandResponse(cmd dispatch.Command, status manager.CommandState, outcome dispatch.Outcome) CommandResponse {
	return CommandResponse{
		DeviceID: cmd.DeviceID,
		Topic:    cmd.Topic,
		Value:    cmd.Value,
		Payload:  cmd.Payload,
		SentAt:   cmd.SentAt,
		Status:   status,
		Outcome:  outcome.String(),
	}
}

// commandText turns the raw "value" field into dispatcher input. Strings are
// unquoted; numbers are passed through as written so 7.5 fails the integer
// check rather than being truncated.
func commandText(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		return s, true
	}
	return string(v), true
}

// handleDeviceLog returns this session's audit entries for the device.
//
// Query parameters:
//   - limit: page size (default 50, max 500)
//   - offset: entries to skip
func (s *Server) handleDeviceLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.manager.DeviceStatus(id); !ok {
		writeUnknownDevice(w)
		return
	}

	filter := audit.Filter{}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	entries, err := s.log.Entries(r.Context(), id, filter)
	if err != nil {
		s.logger.Error("reading audit entries failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to read log")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
