package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client owns the single logical connection to the broker.
//
// Received messages and state transitions are delivered over bounded
// channels (Messages and StateChanges); no caller code runs on the paho
// network goroutines.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Only one connect attempt is in flight at any time.
type Client struct {
	opts Options

	// lifecycleMu serialises connect setup/teardown, Disconnect and
	// connection-lost handling.
	lifecycleMu   sync.Mutex
	cancelConnect context.CancelFunc
	connectDone   chan struct{}
	closed        bool

	state atomic.Int32

	// pc is the paho client of the current connection. Publish reads it
	// under pcMu so it never waits on lifecycleMu.
	pc   pahomqtt.Client
	pcMu sync.RWMutex

	inbound      chan Message
	stateChanges chan StateChange
	done         chan struct{}

	droppedStates atomic.Uint64

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New creates a disconnected Client. Nothing touches the network until Connect.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		opts:         opts,
		inbound:      make(chan Message, opts.InboundQueue),
		stateChanges: make(chan StateChange, opts.StateQueue),
		done:         make(chan struct{}),
	}
}

// Connect establishes the connection and subscribes every configured topic
// at QoS 2.
//
// It returns nil immediately when already connected and
// ErrConnectInProgress when another attempt is running. A failed attempt
// leaves the client Disconnected and returns an error wrapping
// ErrConnectionFailed. The attempt is bounded by the connect timeout and
// by ctx.
func (c *Client) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return ErrClosed
	}
	switch c.State() {
	case Connected:
		c.lifecycleMu.Unlock()
		return nil
	case Connecting:
		c.lifecycleMu.Unlock()
		return ErrConnectInProgress
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	done := make(chan struct{})
	c.cancelConnect = cancel
	c.connectDone = done
	c.setState(Connecting, nil)
	pc := c.opts.NewClient(c.buildClientOptions())
	c.lifecycleMu.Unlock()

	err := c.establish(attemptCtx, pc)
	cancel()

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	defer close(done)
	c.cancelConnect = nil
	c.connectDone = nil

	if err != nil {
		pc.Disconnect(0)
		c.setState(Disconnected, err)
		c.getLogger().Warn("mqtt connect failed", "broker", c.opts.Address(), "error", err)
		return err
	}

	c.pcMu.Lock()
	c.pc = pc
	c.pcMu.Unlock()
	c.setState(Connected, nil)
	c.getLogger().Info("mqtt connected", "broker", c.opts.Address(), "subscriptions", len(c.opts.Topics))
	return nil
}

// establish performs CONNECT and SUBSCRIBE for one attempt.
func (c *Client) establish(ctx context.Context, pc pahomqtt.Client) error {
	if err := waitToken(ctx, pc.Connect()); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if len(c.opts.Topics) == 0 {
		return nil
	}

	filters := make(map[string]byte, len(c.opts.Topics))
	for _, topic := range c.opts.Topics {
		filters[topic] = byte(ExactlyOnce)
	}

	token := pc.SubscribeMultiple(filters, c.wrapHandler())
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%w: %w: %w", ErrConnectionFailed, ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		for topic, code := range st.Result() {
			// 0x80 is the SUBACK failure return code.
			if code == 0x80 {
				return fmt.Errorf("%w: %w: broker rejected %s", ErrConnectionFailed, ErrSubscribeFailed, topic)
			}
		}
	}
	return nil
}

// waitToken waits for a paho token, ctx cancellation or deadline.
func waitToken(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// Disconnect closes the connection and leaves the client Disconnected.
//
// It is idempotent and safe to call from any goroutine. An in-flight
// connect attempt is cancelled and awaited first.
func (c *Client) Disconnect() {
	c.lifecycleMu.Lock()
	if c.State() == Connecting && c.cancelConnect != nil {
		cancel, done := c.cancelConnect, c.connectDone
		c.lifecycleMu.Unlock()
		cancel()
		<-done
		c.lifecycleMu.Lock()
	}
	defer c.lifecycleMu.Unlock()

	c.pcMu.Lock()
	pc := c.pc
	c.pc = nil
	c.pcMu.Unlock()

	if pc == nil {
		return
	}

	c.setState(Disconnected, nil)
	pc.Disconnect(defaultDisconnectQuiesce)
	c.getLogger().Info("mqtt disconnected", "broker", c.opts.Address())
}

// handleConnectionLost runs on a paho goroutine after an unsolicited drop.
func (c *Client) handleConnectionLost(lost pahomqtt.Client, err error) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.pcMu.Lock()
	if c.pc != lost {
		// Already torn down by Disconnect, or a stale client.
		c.pcMu.Unlock()
		return
	}
	c.pc = nil
	c.pcMu.Unlock()

	if err == nil {
		err = errors.New("unknown cause")
	}
	c.setState(Disconnected, fmt.Errorf("%w: %w", ErrConnectionLost, err))
	c.getLogger().Warn("mqtt connection lost", "broker", c.opts.Address(), "error", err)
}

// setState records a transition and queues a StateChange. Callers hold lifecycleMu.
func (c *Client) setState(to ConnectionState, cause error) {
	from := ConnectionState(c.state.Swap(int32(to)))
	if from == to {
		return
	}

	change := StateChange{From: from, To: to, Err: cause, At: time.Now()}
	select {
	case c.stateChanges <- change:
	default:
		c.droppedStates.Add(1)
		c.getLogger().Warn("mqtt state change queue full, dropping notification",
			"from", from.String(),
			"to", to.String(),
		)
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// StateChanges delivers every transition in order. Notifications that do
// not fit in the queue are dropped; State remains authoritative.
func (c *Client) StateChanges() <-chan StateChange {
	return c.stateChanges
}

// DroppedStateChanges returns how many notifications did not fit in the queue.
func (c *Client) DroppedStateChanges() uint64 {
	return c.droppedStates.Load()
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects and releases a message handler blocked on a full queue.
// The client cannot be reconnected afterwards.
func (c *Client) Close() error {
	c.Disconnect()

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Options returns the effective options.
func (c *Client) Options() Options {
	return c.opts
}

// SetLogger sets a logger for connection events and handler panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
