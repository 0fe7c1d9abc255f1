package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/dispatch"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/manager"
	"github.com/nerrad567/devicelink/internal/task"
)

// fakeFacade is an in-memory Facade.
type fakeFacade struct {
	mu           sync.Mutex
	state        mqtt.ConnectionState
	connectErr   error
	sendErr      error
	sent         []string
	connects     int
	disconnects  int
	loop         *task.Stats
	events       chan manager.Event
	unsubscribed bool
}

func newFakeFacade() *fakeFacade {
	return &fakeFacade{events: make(chan manager.Event, 16)}
}

var testDevices = []manager.DeviceStatus{
	{ID: "esp32_1", InboundTopic: "mosquito/esp32_1/data", OutboundTopic: "mosquito/esp32_1/command"},
	{ID: "esp32_2", InboundTopic: "mosquito/esp32_2/data", OutboundTopic: "mosquito/esp32_2/command"},
}

func (f *fakeFacade) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = mqtt.Connected
	return nil
}

func (f *fakeFacade) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.state = mqtt.Disconnected
}

func (f *fakeFacade) SendText(_ context.Context, deviceID, raw string) (dispatch.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, deviceID+"="+raw)
	cmd := dispatch.Command{
		DeviceID: deviceID,
		Topic:    "mosquito/" + deviceID + "/command",
		Value:    7,
		Payload:  raw,
		SentAt:   time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC),
	}
	switch {
	case errors.Is(f.sendErr, dispatch.ErrPending):
		return cmd, f.sendErr
	case f.sendErr != nil:
		return dispatch.Command{}, f.sendErr
	}
	return cmd, nil
}

func (f *fakeFacade) Devices() []manager.DeviceStatus {
	return append([]manager.DeviceStatus(nil), testDevices...)
}

func (f *fakeFacade) DeviceStatus(id string) (manager.DeviceStatus, bool) {
	for _, d := range testDevices {
		if d.ID == id {
			return d, true
		}
	}
	return manager.DeviceStatus{}, false
}

func (f *fakeFacade) ConnectionState() mqtt.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeFacade) Stats() manager.Stats {
	return manager.Stats{Routed: 3, Dropped: 1}
}

func (f *fakeFacade) ReceiveLoop() (task.Stats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loop == nil {
		return task.Stats{}, false
	}
	return *f.loop, true
}

func (f *fakeFacade) Subscribe(int) (<-chan manager.Event, func()) {
	return f.events, func() {
		f.mu.Lock()
		f.unsubscribed = true
		f.mu.Unlock()
	}
}

func (f *fakeFacade) HealthCheck(ctx context.Context) error {
	if f.ConnectionState() != mqtt.Connected {
		return mqtt.ErrNotConnected
	}
	return ctx.Err()
}

func (f *fakeFacade) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// fakeLog is an in-memory LogReader.
type fakeLog struct {
	entries []audit.Entry
	err     error
	filter  audit.Filter
}

func (l *fakeLog) Entries(_ context.Context, _ string, filter audit.Filter) ([]audit.Entry, error) {
	l.filter = filter
	return l.entries, l.err
}

func testDeps(facade Facade) Deps {
	return Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Manager: facade,
		Version: "test",
	}
}

func testServer(t *testing.T) (*Server, *fakeFacade) {
	t.Helper()

	facade := newFakeFacade()
	srv, err := New(testDeps(facade))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, facade
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Error {
	t.Helper()

	var e Error
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("unmarshal error body %q: %v", w.Body.String(), err)
	}
	return e
}

func TestNew_RequiresDependencies(t *testing.T) {
	deps := testDeps(newFakeFacade())
	deps.Logger = nil
	if _, err := New(deps); err == nil {
		t.Error("expected error without logger")
	}

	deps = testDeps(nil)
	if _, err := New(deps); err == nil {
		t.Error("expected error without manager")
	}
}

// ─── Health and Status ─────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, facade := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
	if resp["broker"] != "disconnected" {
		t.Errorf("broker = %v, want disconnected", resp["broker"])
	}

	facade.Connect(context.Background()) //nolint:errcheck // fake never fails here
	w = do(t, srv, http.MethodGet, "/api/v1/health", "")
	if !strings.Contains(w.Body.String(), `"broker":"connected"`) {
		t.Errorf("health body = %s, want broker connected", w.Body.String())
	}
}

func TestStatus(t *testing.T) {
	srv, facade := testServer(t)
	facade.loop = &task.Stats{Name: manager.ReceiveLoopName, Status: task.StatusRunning, Runs: 1}
	facade.state = mqtt.Connected

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp SystemStatus
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Connection.Connected || resp.Connection.State != "connected" {
		t.Errorf("connection = %+v", resp.Connection)
	}
	if resp.ReceiveLoop == nil || resp.ReceiveLoop.Name != manager.ReceiveLoopName {
		t.Errorf("receive loop = %+v", resp.ReceiveLoop)
	}
	if resp.Messages.Routed != 3 || resp.Messages.Dropped != 1 {
		t.Errorf("messages = %+v", resp.Messages)
	}
	if resp.Devices != 2 {
		t.Errorf("devices = %d, want 2", resp.Devices)
	}
}

func TestStatus_NoReceiveLoop(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/status", "")
	if strings.Contains(w.Body.String(), "receive_loop") {
		t.Errorf("status body = %s, want no receive_loop", w.Body.String())
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	deps := testDeps(newFakeFacade())
	deps.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Devices ───────────────────────────────────────────────────────

func TestPanel(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/panel", "")
	if w.Code != http.StatusMovedPermanently {
		t.Errorf("GET /panel status = %d, want 301", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/panel/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<!DOCTYPE html>") {
		t.Errorf("GET /panel/ status = %d", w.Code)
	}
}

func TestListDevices(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Devices []manager.DeviceStatus `json:"devices"`
		Count   int                    `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 || resp.Devices[0].ID != "esp32_1" || resp.Devices[1].ID != "esp32_2" {
		t.Errorf("devices = %+v", resp)
	}
}

func TestGetDevice(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/devices/esp32_2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var d manager.DeviceStatus
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.ID != "esp32_2" || d.OutboundTopic != "mosquito/esp32_2/command" {
		t.Errorf("device = %+v", d)
	}
	if !strings.Contains(w.Body.String(), `"last_value":null`) {
		t.Errorf("body = %s, want explicit null last_value", w.Body.String())
	}
}

func TestGetDevice_Unknown(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/devices/esp32_3", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeUnknownDevice {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeUnknownDevice)
	}
}

func TestSendCommand(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		body       string
		sendErr    error
		wantStatus int
		wantCode   string
		wantSent   string
	}{
		{name: "number", device: "esp32_1", body: `{"value": 7}`, wantStatus: http.StatusOK, wantSent: "esp32_1=7"},
		{name: "string", device: "esp32_2", body: `{"value": "7"}`, wantStatus: http.StatusOK, wantSent: "esp32_2=7"},
		{
			name: "out of range", device: "esp32_1", body: `{"value": 21}`,
			sendErr:    dispatch.ValidateValue(21),
			wantStatus: http.StatusUnprocessableEntity, wantCode: ErrCodeValidation, wantSent: "esp32_1=21",
		},
		{
			name: "fraction passed through as text", device: "esp32_1", body: `{"value": 7.5}`,
			sendErr:    dispatch.ErrInvalidFormat,
			wantStatus: http.StatusUnprocessableEntity, wantCode: ErrCodeValidation, wantSent: "esp32_1=7.5",
		},
		{
			name: "unknown device", device: "esp32_3", body: `{"value": 7}`,
			sendErr:    dispatch.ErrUnknownDevice,
			wantStatus: http.StatusNotFound, wantCode: ErrCodeUnknownDevice, wantSent: "esp32_3=7",
		},
		{
			name: "not connected", device: "esp32_1", body: `{"value": 7}`,
			sendErr:    dispatch.ErrNotConnected,
			wantStatus: http.StatusServiceUnavailable, wantCode: ErrCodeNotConnected, wantSent: "esp32_1=7",
		},
		{
			name: "transmit failed", device: "esp32_1", body: `{"value": 7}`,
			sendErr:    fmt.Errorf("%w: %w", dispatch.ErrTransmitFailed, mqtt.ErrTimeout),
			wantStatus: http.StatusBadGateway, wantCode: ErrCodeTransmitFailed, wantSent: "esp32_1=7",
		},
		{name: "missing value", device: "esp32_1", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "null value", device: "esp32_1", body: `{"value": null}`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "invalid json", device: "esp32_1", body: `not json`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, facade := testServer(t)
			facade.sendErr = tt.sendErr

			w := do(t, srv, http.MethodPost, "/api/v1/devices/"+tt.device+"/command", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}

			sent := facade.sentCommands()
			switch {
			case tt.wantSent == "" && len(sent) != 0:
				t.Errorf("sent = %v, want nothing", sent)
			case tt.wantSent != "" && (len(sent) != 1 || sent[0] != tt.wantSent):
				t.Errorf("sent = %v, want [%s]", sent, tt.wantSent)
			}

			if tt.wantCode != "" {
				if e := decodeError(t, w); e.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
				}
				return
			}

			var resp CommandResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Status != manager.CommandTransmitted || resp.Outcome != "accepted" {
				t.Errorf("response = %+v", resp)
			}
			if resp.Payload != "7" || resp.DeviceID != tt.device {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestSendCommand_PendingAcknowledgment(t *testing.T) {
	srv, facade := testServer(t)
	facade.sendErr = fmt.Errorf("%w: %w", dispatch.ErrPending, mqtt.ErrDeliveryPending)

	w := do(t, srv, http.MethodPost, "/api/v1/devices/esp32_1/command", `{"value": 7}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body %s)", w.Code, w.Body.String())
	}

	var resp CommandResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != manager.CommandPending || resp.Outcome != "pending" || resp.Payload != "7" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSendCommand_ValidationMessage(t *testing.T) {
	srv, facade := testServer(t)
	facade.sendErr = dispatch.ValidateValue(0)

	w := do(t, srv, http.MethodPost, "/api/v1/devices/esp32_1/command", `{"value": 0}`)
	if e := decodeError(t, w); e.Message != "Invalid number (1-20 allowed)" {
		t.Errorf("message = %q", e.Message)
	}
}

// ─── Device log ────────────────────────────────────────────────────

func TestDeviceLog(t *testing.T) {
	facade := newFakeFacade()
	log := &fakeLog{entries: []audit.Entry{
		{DeviceID: "esp32_1", Direction: audit.DirectionReceived, MessageType: audit.MessageTypeData, Message: "23.5"},
	}}
	deps := testDeps(facade)
	deps.Log = log
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	w := do(t, srv, http.MethodGet, "/api/v1/devices/esp32_1/log?limit=10&offset=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	if log.filter.Limit != 10 || log.filter.Offset != 5 {
		t.Errorf("filter = %+v", log.filter)
	}

	var resp struct {
		Entries []audit.Entry `json:"entries"`
		Count   int           `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 1 || resp.Entries[0].Message != "23.5" {
		t.Errorf("entries = %+v", resp)
	}
}

func TestDeviceLog_Errors(t *testing.T) {
	deps := testDeps(newFakeFacade())
	deps.Log = &fakeLog{}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/api/v1/devices/esp32_3/log", http.StatusNotFound},
		{"/api/v1/devices/esp32_1/log?limit=abc", http.StatusBadRequest},
		{"/api/v1/devices/esp32_1/log?offset=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(t, srv, http.MethodGet, tt.path, ""); w.Code != tt.wantStatus {
			t.Errorf("%s status = %d, want %d", tt.path, w.Code, tt.wantStatus)
		}
	}

	w := do(t, srv, http.MethodGet, "/api/v1/devices/esp32_2/log", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"entries":[]`) {
		t.Errorf("empty log = %d %s", w.Code, w.Body.String())
	}

	deps.Log = &fakeLog{err: errors.New("disk gone")}
	srv, _ = New(deps)
	if w := do(t, srv, http.MethodGet, "/api/v1/devices/esp32_1/log", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("read failure status = %d, want 500", w.Code)
	}
}

func TestDeviceLog_NotRoutedWithoutReader(t *testing.T) {
	srv, _ := testServer(t)

	if w := do(t, srv, http.MethodGet, "/api/v1/devices/esp32_1/log", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Connection ────────────────────────────────────────────────────

func TestConnection_ConnectAndDisconnect(t *testing.T) {
	srv, facade := testServer(t)

	w := do(t, srv, http.MethodGet, "/api/v1/connection", "")
	if !strings.Contains(w.Body.String(), `"state":"disconnected"`) {
		t.Errorf("initial state body = %s", w.Body.String())
	}

	w = do(t, srv, http.MethodPost, "/api/v1/connection", "")
	if w.Code != http.StatusOK {
		t.Fatalf("connect status = %d", w.Code)
	}
	var resp ConnectionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Connected || resp.State != "connected" {
		t.Errorf("after connect = %+v", resp)
	}

	w = do(t, srv, http.MethodDelete, "/api/v1/connection", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Connected || resp.State != "disconnected" {
		t.Errorf("after disconnect = %+v", resp)
	}

	// Disconnect is idempotent.
	if w := do(t, srv, http.MethodDelete, "/api/v1/connection", ""); w.Code != http.StatusOK {
		t.Errorf("second disconnect status = %d", w.Code)
	}
	if facade.connects != 1 || facade.disconnects != 2 {
		t.Errorf("connects = %d, disconnects = %d", facade.connects, facade.disconnects)
	}
}

func TestConnection_ConnectFailure(t *testing.T) {
	srv, facade := testServer(t)
	facade.connectErr = fmt.Errorf("%w: connection refused", mqtt.ErrConnectionFailed)

	w := do(t, srv, http.MethodPost, "/api/v1/connection", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeConnectFailed {
		t.Errorf("code = %q", e.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestServer_StartAndClose(t *testing.T) {
	facade := newFakeFacade()
	deps := testDeps(facade)
	deps.Config.Port = freePort(t)

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	addr := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", deps.Config.Port)
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get(addr)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck after Start: %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}

	facade.mu.Lock()
	unsubscribed := facade.unsubscribed
	facade.mu.Unlock()
	if !unsubscribed {
		t.Error("event relay still subscribed after Close()")
	}

	if _, err := http.Get(addr); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}
