package mqtt

import (
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken implements pahomqtt.Token.
type fakeToken struct {
	done chan struct{}
	err  error
	once sync.Once
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func completedToken(err error) *fakeToken {
	t := pendingToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic     string
	payload   []byte
	duplicate bool
}

func (m *fakeMessage) Duplicate() bool   { return m.duplicate }
func (m *fakeMessage) Qos() byte         { return 2 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakePublish struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho implements pahomqtt.Client without a network.
type fakePaho struct {
	mu sync.Mutex

	opts *pahomqtt.ClientOptions

	connectToken   *fakeToken
	subscribeToken *fakeToken
	publishToken   *fakeToken

	connected   bool
	subscribed  map[string]byte
	handler     pahomqtt.MessageHandler
	published   []fakePublish
	disconnects int
}

func newFakePaho() *fakePaho {
	return &fakePaho{
		connectToken:   completedToken(nil),
		subscribeToken: completedToken(nil),
		publishToken:   completedToken(nil),
		subscribed:     make(map[string]byte),
	}
}

// factory returns a ClientFactory that hands out f and records the options.
func (f *fakePaho) factory() ClientFactory {
	return func(opts *pahomqtt.ClientOptions) pahomqtt.Client {
		f.mu.Lock()
		f.opts = opts
		f.mu.Unlock()
		return f
	}
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakePaho) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok := f.connectToken
	go func() {
		<-tok.done
		if tok.err == nil {
			f.mu.Lock()
			f.connected = true
			f.mu.Unlock()
		}
	}()
	return tok
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, fakePublish{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	})
	return f.publishToken
}

func (f *fakePaho) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	return f.SubscribeMultiple(map[string]byte{topic: qos}, callback)
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, qos := range filters {
		f.subscribed[topic] = qos
	}
	f.handler = callback
	return f.subscribeToken
}

func (f *fakePaho) Unsubscribe(...string) pahomqtt.Token { return completedToken(nil) }

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver simulates the broker pushing a message through the subscription handler.
func (f *fakePaho) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: []byte(payload)})
}

// loseConnection simulates a network failure.
func (f *fakePaho) loseConnection(err error) {
	f.mu.Lock()
	f.connected = false
	opts := f.opts
	f.mu.Unlock()
	opts.OnConnectionLost(f, err)
}

func (f *fakePaho) publishes() []fakePublish {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePublish(nil), f.published...)
}
