package api

import (
	"net/http"

	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// ConnectionResponse reports the broker connection state.
type ConnectionResponse struct {
	State     string `json:"state"`
	Connected bool   `json:"connected"`
}

func (s *Server) connectionResponse() ConnectionResponse {
	state := s.manager.ConnectionState()
	return ConnectionResponse{State: state.String(), Connected: state == mqtt.Connected}
}

// handleGetConnection returns the broker connection state.
func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionResponse())
}

// handleConnect connects to the broker. Connecting while connected is a
// no-op that returns the current state.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Connect(r.Context()); err != nil {
		s.logger.Warn("connect requested via API failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeConnectFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.connectionResponse())
}

// handleDisconnect disconnects from the broker. It is idempotent.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.manager.Disconnect()
	writeJSON(w, http.StatusOK, s.connectionResponse())
}
