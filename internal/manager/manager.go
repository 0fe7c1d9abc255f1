package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/dispatch"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/router"
	"github.com/nerrad567/devicelink/internal/task"
)

// ReceiveLoopName is the task name of the per-connection receive loop.
const ReceiveLoopName = "mqtt-receive-loop"

// defaultStopTimeout bounds how long Disconnect waits for the receive loop.
const defaultStopTimeout = 5 * time.Second

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("manager: closed")

// Transport is the broker connection. *mqtt.Client satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() mqtt.ConnectionState
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte, qos mqtt.QoS) error
	Messages() <-chan mqtt.Message
	StateChanges() <-chan mqtt.StateChange
	DroppedStateChanges() uint64
	Close() error
}

// AuditLog is the per-device message record. *audit.Logger satisfies it.
type AuditLog interface {
	RecordReceived(ctx context.Context, deviceID, payload string, at time.Time)
	RecordSent(ctx context.Context, deviceID, payload string, at time.Time)
	RecordAck(ctx context.Context, deviceID, payload string, at time.Time)
	Count(deviceID string) int
	Path(deviceID string) string
	Failures() uint64
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Manager.
type Options struct {
	Registry  *device.Registry
	Transport Transport
	Audit     AuditLog

	// StopTimeout bounds how long Disconnect waits for the receive loop
	// to drain and exit.
	StopTimeout time.Duration

	Logger Logger
}

// Manager is the thread-safe facade over the device link. The receive
// loop is the only writer of last values; every other method may be
// called from any goroutine.
type Manager struct {
	registry   *device.Registry
	transport  Transport
	audit      AuditLog
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	logger     Logger
	events     *hub

	stopTimeout time.Duration

	lifecycleMu sync.Mutex
	loop        atomic.Pointer[task.Task] // written under lifecycleMu
	closed      bool

	stateMu sync.RWMutex
	devices map[string]*deviceState

	routed      atomic.Uint64
	eventDrops  atomic.Uint64
	connects    atomic.Uint64
	disconnects atomic.Uint64
}

// New creates a Manager. Nothing connects until Connect.
func New(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, errors.New("manager: registry is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("manager: transport is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("manager: audit log is required")
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	m := &Manager{
		registry:    opts.Registry,
		transport:   opts.Transport,
		audit:       opts.Audit,
		router:      router.New(opts.Registry),
		dispatcher:  dispatch.New(opts.Registry, opts.Transport, opts.Audit),
		logger:      logger,
		stopTimeout: opts.StopTimeout,
		devices:     make(map[string]*deviceState, opts.Registry.Len()),
	}
	m.events = newHub(func() { m.eventDrops.Add(1) })
	m.router.SetLogger(logger)
	m.dispatcher.SetLogger(logger)
	m.dispatcher.OnSettled(m.commandSettled)
	for _, id := range opts.Registry.IDs() {
		m.devices[id] = &deviceState{}
	}
	return m, nil
}

// Connect connects the transport and starts the receive loop. It is a
// no-op while already connected. Failures leave the manager Disconnected
// and are returned to the caller.
func (m *Manager) Connect(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if loop := m.loop.Load(); loop != nil && loop.Status() != task.StatusStopped && m.transport.IsConnected() {
		return nil
	}
	m.stopLoop()
	m.drainStateChanges()

	if err := m.transport.Connect(ctx); err != nil {
		m.drainStateChanges()
		return err
	}
	m.drainStateChanges()
	m.connects.Add(1)

	loop := task.NewWithConfig(task.Config{
		Name:        ReceiveLoopName,
		StopTimeout: m.stopTimeout,
	}, m.receiveLoop)
	loop.SetLogger(m.logger)
	if err := loop.Start(context.Background()); err != nil {
		return fmt.Errorf("starting %s: %w", ReceiveLoopName, err)
	}
	m.loop.Store(loop)
	return nil
}

// Disconnect closes the connection, then stops the receive loop after it
// has handled every message already queued. It is idempotent and cancels
// a Connect that is still in progress. Every call counts as an operator
// disconnect.
func (m *Manager) Disconnect() {
	m.disconnects.Add(1)
	m.transport.Disconnect()

	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	m.disconnect()
}

func (m *Manager) disconnect() {
	m.transport.Disconnect()
	m.stopLoop()
	m.drainStateChanges()
}

// stopLoop stops the receive loop if it exists. Callers hold lifecycleMu.
func (m *Manager) stopLoop() {
	loop := m.loop.Swap(nil)
	if loop == nil {
		return
	}
	if err := loop.Stop(); err != nil {
		m.logger.Warn("receive loop did not stop cleanly", "error", err)
	}
}

// drainStateChanges turns queued transport transitions into events while
// the receive loop is not running. Callers hold lifecycleMu.
func (m *Manager) drainStateChanges() {
	for {
		select {
		case sc := <-m.transport.StateChanges():
			m.handleStateChange(sc)
		default:
			return
		}
	}
}

// receiveLoop runs for the lifetime of one connection.
func (m *Manager) receiveLoop(ctx context.Context) error {
	msgs := m.transport.Messages()
	states := m.transport.StateChanges()

	for {
		select {
		case msg := <-msgs:
			m.handleMessage(ctx, msg)

		case sc := <-states:
			m.handleStateChange(sc)
			if sc.Unsolicited() {
				m.drainMessages(ctx)
				return sc.Err
			}

		case <-ctx.Done():
			m.drainMessages(ctx)
			return nil
		}
	}
}

// drainMessages handles whatever is already queued without waiting for more.
func (m *Manager) drainMessages(ctx context.Context) {
	// Audit writes must not be cancelled by the loop shutting down.
	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case msg := <-m.transport.Messages():
			m.handleMessage(ctx, msg)
		default:
			return
		}
	}
}

func (m *Manager) handleMessage(ctx context.Context, msg mqtt.Message) {
	routed, ok := m.router.Route(msg)
	if !ok {
		return
	}
	m.routed.Add(1)
	m.onInbound(context.WithoutCancel(ctx), routed)
}

// onInbound updates state, then records, then notifies.
func (m *Manager) onInbound(ctx context.Context, r router.Routed) {
	switch r.Kind {
	case router.KindTelemetry:
		m.stateMu.Lock()
		st := m.devices[r.DeviceID]
		st.lastValue = r.Payload
		st.hasValue = true
		st.lastAt = r.ReceivedAt
		m.stateMu.Unlock()

		m.audit.RecordReceived(ctx, r.DeviceID, r.Payload, r.ReceivedAt)
		m.events.publish(Event{Type: EventDeviceData, DeviceID: r.DeviceID, Payload: r.Payload, At: r.ReceivedAt})

	case router.KindAck:
		m.stateMu.Lock()
		if cmd := m.devices[r.DeviceID].lastCommand; cmd != nil {
			at := r.ReceivedAt
			cmd.Status = CommandAcknowledged
			cmd.AckedAt = &at
			cmd.AckBody = r.Payload
		}
		m.stateMu.Unlock()

		m.audit.RecordAck(ctx, r.DeviceID, r.Payload, r.ReceivedAt)
		m.events.publish(Event{Type: EventDeviceAck, DeviceID: r.DeviceID, Payload: r.Payload, At: r.ReceivedAt})
	}
}

func (m *Manager) handleStateChange(sc mqtt.StateChange) {
	e := Event{Type: EventConnectionState, State: sc.To.String(), Unsolicited: sc.Unsolicited(), At: sc.At}
	if sc.Err != nil {
		e.Error = sc.Err.Error()
	}
	if sc.Unsolicited() {
		m.logger.Warn("broker connection lost", "error", sc.Err)
	} else {
		m.logger.Debug("connection state changed", "from", sc.From.String(), "to", sc.To.String())
	}
	m.events.publish(e)
}

// Send validates and publishes a command. See dispatch.Dispatcher.Send for
// the validation order and error values. A command still waiting for the
// broker acknowledgment is returned with an error matching
// dispatch.ErrPending and tracked as CommandPending.
func (m *Manager) Send(ctx context.Context, deviceID string, value int) (dispatch.Command, error) {
	cmd, err := m.dispatcher.Send(ctx, deviceID, value)
	return m.afterSend(cmd, err)
}

// SendText is Send for operator text input.
func (m *Manager) SendText(ctx context.Context, deviceID, raw string) (dispatch.Command, error) {
	cmd, err := m.dispatcher.SendText(ctx, deviceID, raw)
	return m.afterSend(cmd, err)
}

func (m *Manager) afterSend(cmd dispatch.Command, err error) (dispatch.Command, error) {
	switch {
	case err == nil:
		m.commandIssued(cmd, CommandTransmitted, EventCommandSent)
	case errors.Is(err, dispatch.ErrPending):
		m.commandIssued(cmd, CommandPending, EventCommandPending)
	}
	return cmd, err
}

func (m *Manager) commandIssued(cmd dispatch.Command, status CommandState, event EventType) {
	m.stateMu.Lock()
	m.devices[cmd.DeviceID].lastCommand = &CommandRecord{
		Value:   cmd.Value,
		Payload: cmd.Payload,
		SentAt:  cmd.SentAt,
		Status:  status,
	}
	m.stateMu.Unlock()

	m.events.publish(Event{Type: event, DeviceID: cmd.DeviceID, Payload: cmd.Payload, At: cmd.SentAt})
}

// commandSettled resolves a pending command. A newer command on the same
// device keeps its own status.
func (m *Manager) commandSettled(cmd dispatch.Command, err error) {
	status, event := CommandTransmitted, EventCommandSent
	if err != nil {
		status, event = CommandUnconfirmed, EventCommandUnconfirmed
	}

	m.stateMu.Lock()
	if last := m.devices[cmd.DeviceID].lastCommand; last != nil && last.Status == CommandPending && last.SentAt.Equal(cmd.SentAt) {
		last.Status = status
	}
	m.stateMu.Unlock()

	e := Event{Type: event, DeviceID: cmd.DeviceID, Payload: cmd.Payload, At: time.Now()}
	if err != nil {
		e.Error = err.Error()
	}
	m.events.publish(e)
}

// LastValue returns the most recent telemetry payload from the device.
func (m *Manager) LastValue(deviceID string) (string, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	st, ok := m.devices[deviceID]
	if !ok || !st.hasValue {
		return "", false
	}
	return st.lastValue, true
}

// ConnectionState returns the transport's current state.
func (m *Manager) ConnectionState() mqtt.ConnectionState {
	return m.transport.State()
}

// LogCount returns the number of audit entries written for the device
// this session.
func (m *Manager) LogCount(deviceID string) int {
	return m.audit.Count(deviceID)
}

// CommandStatus returns the last command sent to the device.
func (m *Manager) CommandStatus(deviceID string) (CommandRecord, bool) {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	st, ok := m.devices[deviceID]
	if !ok || st.lastCommand == nil {
		return CommandRecord{}, false
	}
	return copyCommand(st.lastCommand), true
}

// DeviceStatus returns a snapshot for one device.
func (m *Manager) DeviceStatus(deviceID string) (DeviceStatus, bool) {
	d, ok := m.registry.Get(deviceID)
	if !ok {
		return DeviceStatus{}, false
	}
	return m.status(d), true
}

// Devices returns a snapshot for every device in registry order.
func (m *Manager) Devices() []DeviceStatus {
	list := m.registry.List()
	out := make([]DeviceStatus, 0, len(list))
	for _, d := range list {
		out = append(out, m.status(d))
	}
	return out
}

func (m *Manager) status(d device.Device) DeviceStatus {
	s := DeviceStatus{
		ID:            d.ID,
		InboundTopic:  d.InboundTopic,
		OutboundTopic: d.OutboundTopic,
		AckTopic:      d.AckTopic,
		LogCount:      m.audit.Count(d.ID),
		LogPath:       m.audit.Path(d.ID),
	}

	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	st := m.devices[d.ID]
	if st.hasValue {
		v, at := st.lastValue, st.lastAt
		s.LastValue = &v
		s.LastValueAt = &at
	}
	if st.lastCommand != nil {
		cmd := copyCommand(st.lastCommand)
		s.LastCommand = &cmd
	}
	return s
}

func copyCommand(c *CommandRecord) CommandRecord {
	out := *c
	if c.AckedAt != nil {
		at := *c.AckedAt
		out.AckedAt = &at
	}
	return out
}

// Disconnects returns how many times Disconnect has been called.
func (m *Manager) Disconnects() uint64 {
	return m.disconnects.Load()
}

// Subscribe registers for events. Each subscriber has its own bounded
// buffer; events that do not fit are dropped and counted in Stats. The
// returned function unsubscribes and closes the channel.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

// Stats returns counters since the manager was created.
func (m *Manager) Stats() Stats {
	return Stats{
		Routed:        m.routed.Load(),
		Dropped:       m.router.Dropped(),
		EventDrops:    m.eventDrops.Load(),
		AuditFailures: m.audit.Failures(),
		Subscribers:   m.events.count(),
		Connects:      m.connects.Load(),
		Disconnects:   m.disconnects.Load(),
		StateDrops:    m.transport.DroppedStateChanges(),
	}
}

// ReceiveLoop returns stats for the current receive loop, if any.
func (m *Manager) ReceiveLoop() (task.Stats, bool) {
	loop := m.loop.Load()
	if loop == nil {
		return task.Stats{}, false
	}
	return loop.Stats(), true
}

// HealthCheck reports whether the broker connection is up.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !m.transport.IsConnected() {
		return mqtt.ErrNotConnected
	}
	return nil
}

// Close disconnects, closes the transport, waits for pending commands to
// settle and ends every subscription.
func (m *Manager) Close() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.disconnect()
	err := m.transport.Close()
	// Pending commands settle once the transport has abandoned their flows.
	m.dispatcher.Wait()
	m.events.close()
	return err
}
