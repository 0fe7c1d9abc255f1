// Package dispatch validates operator commands and publishes them to
// devices at QoS 2.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// Accepted command range.
const (
	MinValue = config.MinCommandValue
	MaxValue = config.MaxCommandValue
)

// defaultPendingWindow is how long a pending command is watched for a late
// broker acknowledgment.
const defaultPendingWindow = 2 * time.Minute

// Publisher is the transport used to send commands.
type Publisher interface {
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte, qos mqtt.QoS) error
}

// Recorder receives every command the broker acknowledged.
type Recorder interface {
	RecordSent(ctx context.Context, deviceID, payload string, at time.Time)
}

// SettledFunc is called once a pending command settles. err is nil when
// the broker acknowledgment arrived late, otherwise it matches
// ErrNotAcknowledged.
type SettledFunc func(cmd Command, err error)

// Logger is the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Command is a command the broker has acknowledged.
type Command struct {
	DeviceID string    `json:"device"`
	Topic    string    `json:"topic"`
	Value    int       `json:"value"`
	Payload  string    `json:"payload"`
	SentAt   time.Time `json:"sent_at"`
}

// Dispatcher validates and publishes commands. It is safe for concurrent use.
type Dispatcher struct {
	registry  *device.Registry
	publisher Publisher
	recorder  Recorder
	logger    Logger
	settled   SettledFunc
	now       func() time.Time

	pendingWindow time.Duration
	inflight      sync.WaitGroup
}

// New creates a Dispatcher. recorder may be nil.
func New(registry *device.Registry, publisher Publisher, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		publisher:     publisher,
		recorder:      recorder,
		logger:        noopLogger{},
		now:           time.Now,
		pendingWindow: defaultPendingWindow,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// OnSettled registers fn for pending commands. Set it before the first Send.
func (d *Dispatcher) OnSettled(fn SettledFunc) {
	d.settled = fn
}

// Wait blocks until every pending command has settled.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Send publishes value to the device's command topic.
//
// Checks run in order and the first failure wins: the device must be
// registered (ErrUnknownDevice), the transport connected (ErrNotConnected),
// and the value in range (ErrOutOfRange). A failed publish is returned
// wrapped in ErrTransmitFailed, is not recorded and is not retried.
//
// A QoS 2 publish whose acknowledgment is still outstanding returns the
// command together with an error matching ErrPending. It is recorded only
// if the acknowledgment arrives later, and the SettledFunc is told either
// way.
func (d *Dispatcher) Send(ctx context.Context, deviceID string, value int) (Command, error) {
	return d.send(ctx, deviceID, func() (int, error) { return value, nil })
}

// SendText is Send for operator text. Input that is not an integer fails
// with ErrInvalidFormat at the range check step.
func (d *Dispatcher) SendText(ctx context.Context, deviceID, raw string) (Command, error) {
	return d.send(ctx, deviceID, func() (int, error) {
		value, err := strconv.Atoi(strings.TrimSpace(raw))
		if errors.Is(err, strconv.ErrRange) {
			return 0, fmt.Errorf("%w: %s not in %d-%d", ErrOutOfRange, strings.TrimSpace(raw), MinValue, MaxValue)
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
		}
		return value, nil
	})
}

func (d *Dispatcher) send(ctx context.Context, deviceID string, parse func() (int, error)) (Command, error) {
	topic, ok := d.registry.OutboundTopicFor(deviceID)
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if !d.publisher.IsConnected() {
		return Command{}, ErrNotConnected
	}
	value, err := parse()
	if err != nil {
		return Command{}, err
	}
	if err := ValidateValue(value); err != nil {
		return Command{}, err
	}

	payload := strconv.Itoa(value)
	err = d.publisher.Publish(ctx, topic, []byte(payload), mqtt.ExactlyOnce)

	var pending *mqtt.PendingError
	switch {
	case err == nil:
	case errors.As(err, &pending):
		cmd := d.command(deviceID, topic, value, payload)
		d.logger.Warn("command transmitted, acknowledgment pending", "device", deviceID, "value", value, "error", err)
		d.await(cmd, pending)
		return cmd, fmt.Errorf("%w: %w", ErrPending, err)
	default:
		d.logger.Warn("command not transmitted", "device", deviceID, "value", value, "error", err)
		return Command{}, fmt.Errorf("%w: %w", ErrTransmitFailed, err)
	}

	cmd := d.command(deviceID, topic, value, payload)
	// Recorded even if the caller has gone away.
	d.record(context.WithoutCancel(ctx), cmd, cmd.SentAt)
	d.logger.Debug("command sent", "device", deviceID, "topic", topic, "value", value)
	return cmd, nil
}

func (d *Dispatcher) command(deviceID, topic string, value int, payload string) Command {
	return Command{
		DeviceID: deviceID,
		Topic:    topic,
		Value:    value,
		Payload:  payload,
		SentAt:   d.now(),
	}
}

func (d *Dispatcher) record(ctx context.Context, cmd Command, at time.Time) {
	if d.recorder != nil {
		d.recorder.RecordSent(ctx, cmd.DeviceID, cmd.Payload, at)
	}
}

// await watches a pending publish until the broker answers or the pending
// window closes.
func (d *Dispatcher) await(cmd Command, pending *mqtt.PendingError) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		timer := time.NewTimer(d.pendingWindow)
		defer timer.Stop()

		var err error
		select {
		case <-pending.Done():
			if res := pending.Result(); res != nil {
				err = fmt.Errorf("%w: %w", ErrNotAcknowledged, res)
			}
		case <-timer.C:
			err = fmt.Errorf("%w after %v", ErrNotAcknowledged, d.pendingWindow)
		}

		if err == nil {
			d.record(context.Background(), cmd, d.now())
			d.logger.Info("late acknowledgment for pending command", "device", cmd.DeviceID, "value", cmd.Value)
		} else {
			d.logger.Warn("pending command never acknowledged", "device", cmd.DeviceID, "value", cmd.Value, "error", err)
		}
		if d.settled != nil {
			d.settled(cmd, err)
		}
	}()
}

// ValidateValue checks value against the accepted command range.
func ValidateValue(value int) error {
	if value < MinValue || value > MaxValue {
		return fmt.Errorf("%w: %d not in %d-%d", ErrOutOfRange, value, MinValue, MaxValue)
	}
	return nil
}
