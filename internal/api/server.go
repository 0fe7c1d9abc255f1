package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/dispatch"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/manager"
	"github.com/nerrad567/devicelink/internal/task"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultEventBuffer is the manager subscription buffer used by the
// WebSocket relay when Deps.EventBuffer is zero.
const defaultEventBuffer = 256

// Facade is the device link the API drives. *manager.Manager satisfies it.
type Facade interface {
	Connect(ctx context.Context) error
	Disconnect()
	SendText(ctx context.Context, deviceID, raw string) (dispatch.Command, error)
	Devices() []manager.DeviceStatus
	DeviceStatus(deviceID string) (manager.DeviceStatus, bool)
	ConnectionState() mqtt.ConnectionState
	Stats() manager.Stats
	ReceiveLoop() (task.Stats, bool)
	Subscribe(buffer int) (<-chan manager.Event, func())
	HealthCheck(ctx context.Context) error
}

// LogReader reads back a device's audit entries. *audit.Logger satisfies it.
type LogReader interface {
	Entries(ctx context.Context, deviceID string, filter audit.Filter) ([]audit.Entry, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Manager     Facade
	Log         LogReader // optional: enables GET /devices/{id}/log
	EventBuffer int
	Version     string
}

// Server is the HTTP API server for the device link.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	manager     Facade
	log         LogReader
	eventBuffer int
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	upgrader    *websocket.Upgrader
	cancel      context.CancelFunc // cancels background goroutines on Close()
	relayDone   chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if deps.EventBuffer <= 0 {
		deps.EventBuffer = defaultEventBuffer
	}
	if deps.WS.PingInterval <= 0 {
		deps.WS.PingInterval = 30
	}
	if deps.WS.PongTimeout <= 0 {
		deps.WS.PongTimeout = 10
	}
	if deps.WS.MaxMessageSize <= 0 {
		deps.WS.MaxMessageSize = 8192
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		manager:     deps.Manager,
		log:         deps.Log,
		eventBuffer: deps.EventBuffer,
		version:     deps.Version,
		startTime:   time.Now(),
		hub:         NewHub(deps.WS, deps.Logger),
	}
	s.upgrader = s.newUpgrader()
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts relaying manager events to WebSocket clients and launches the
// HTTP listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.startRelay(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// startRelay forwards manager events to the WebSocket hub until ctx is
// cancelled.
func (s *Server) startRelay(ctx context.Context) {
	events, unsubscribe := s.manager.Subscribe(s.eventBuffer)
	s.relayDone = make(chan struct{})

	go func() {
		defer close(s.relayDone)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				s.hub.Publish(e)
			}
		}
	}()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.relayDone != nil {
		<-s.relayDone
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
