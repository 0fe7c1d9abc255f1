package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

type publishCall struct {
	topic   string
	payload string
	qos     mqtt.QoS
}

// fakeTransport implements Transport in memory.
type fakeTransport struct {
	state  atomic.Int32
	msgs   chan mqtt.Message
	states chan mqtt.StateChange

	mu          sync.Mutex
	connectErr  error
	publishErr  error
	published   []publishCall
	connects    int
	disconnects int
	closed      bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		msgs:   make(chan mqtt.Message, 64),
		states: make(chan mqtt.StateChange, 16),
	}
}

func (f *fakeTransport) transition(to mqtt.ConnectionState, err error) {
	from := mqtt.ConnectionState(f.state.Swap(int32(to)))
	if from == to {
		return
	}
	f.states <- mqtt.StateChange{From: from, To: to, Err: err, At: time.Now()}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	err := f.connectErr
	f.connects++
	f.mu.Unlock()

	if f.State() == mqtt.Connected {
		return nil
	}
	f.transition(mqtt.Connecting, nil)
	if err != nil {
		err = fmt.Errorf("%w: %w", mqtt.ErrConnectionFailed, err)
		f.transition(mqtt.Disconnected, err)
		return err
	}
	f.transition(mqtt.Connected, nil)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	if f.State() == mqtt.Connected {
		f.transition(mqtt.Disconnected, nil)
	}
}

// drop simulates the broker going away.
func (f *fakeTransport) drop(cause error) {
	f.transition(mqtt.Disconnected, fmt.Errorf("%w: %w", mqtt.ErrConnectionLost, cause))
}

func (f *fakeTransport) State() mqtt.ConnectionState {
	return mqtt.ConnectionState(f.state.Load())
}

func (f *fakeTransport) IsConnected() bool { return f.State() == mqtt.Connected }

func (f *fakeTransport) Publish(_ context.Context, topic string, payload []byte, qos mqtt.QoS) error {
	if !f.IsConnected() {
		return mqtt.ErrNotConnected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{topic: topic, payload: string(payload), qos: qos})
	return nil
}

func (f *fakeTransport) Messages() <-chan mqtt.Message         { return f.msgs }
func (f *fakeTransport) StateChanges() <-chan mqtt.StateChange { return f.states }
func (f *fakeTransport) DroppedStateChanges() uint64           { return 0 }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) deliver(topic, payload string) {
	f.msgs <- mqtt.Message{Topic: topic, Payload: []byte(payload), ReceivedAt: time.Now()}
}

func (f *fakeTransport) publishes() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

// fakeToken is the paho token behind a pending publish.
type fakeToken struct {
	done chan struct{}
	err  error
}

func newFakeToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }
