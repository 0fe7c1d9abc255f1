package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devicelink/internal/panel"
)

// healthCheckTimeout bounds the manager health probe behind GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Operator dashboard
	r.Handle("/panel/*", http.StripPrefix("/panel", panel.Handler(s.cfg.PanelDir)))
	r.Handle("/panel", http.RedirectHandler("/panel/", http.StatusMovedPermanently))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Post("/command", s.handleSendCommand)
				if s.log != nil {
					r.Get("/log", s.handleDeviceLog)
				}
			})
		})

		r.Route("/connection", func(r chi.Router) {
			r.Get("/", s.handleGetConnection)
			r.Post("/", s.handleConnect)
			r.Delete("/", s.handleDisconnect)
		})

		r.Get(s.wsPath(), s.handleWebSocket)
	})

	return r
}

func (s *Server) wsPath() string {
	if s.wsCfg.Path == "" {
		return "/ws"
	}
	return s.wsCfg.Path
}

// handleHealth returns the server health status. The broker connection is
// reported but does not fail the check; the API stays useful while
// disconnected.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	broker := "connected"
	if err := s.manager.HealthCheck(ctx); err != nil {
		broker = "disconnected"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"broker":  broker,
	})
}
