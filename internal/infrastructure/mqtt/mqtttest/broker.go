// Package mqtttest runs an in-process MQTT broker for tests.
package mqtttest

import (
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Publish is a PUBLISH packet the broker read from a client.
type Publish struct {
	ClientID string
	Topic    string
	Payload  string
	QoS      byte
}

// Broker wraps a mochi server listening on a random local port.
type Broker struct {
	Host string
	Port int

	server *mqtt.Server

	mu        sync.Mutex
	publishes []Publish
}

// Start launches a broker and stops it when the test ends.
func Start(t testing.TB) *Broker {
	t.Helper()

	host, port := freePort(t)
	b := &Broker{Host: host, Port: port}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
	})
	server.Log = slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}
	if err := server.AddHook(&recorder{broker: b}, nil); err != nil {
		t.Fatalf("adding recorder hook: %v", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "test",
		Address: net.JoinHostPort(host, strconv.Itoa(port)),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("adding listener: %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("starting broker: %v", err)
	}

	b.server = server
	t.Cleanup(func() { _ = server.Close() })
	return b
}

// Publish sends a message from the broker's inline client.
func (b *Broker) Publish(t testing.TB, topic, payload string, qos byte) {
	t.Helper()
	if err := b.server.Publish(topic, []byte(payload), false, qos); err != nil {
		t.Fatalf("inline publish to %s: %v", topic, err)
	}
}

// Publishes returns every PUBLISH received from network clients so far.
func (b *Broker) Publishes() []Publish {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publish(nil), b.publishes...)
}

// WaitForSubscribers blocks until topic has at least one network subscriber.
func (b *Broker) WaitForSubscribers(t testing.TB, topic string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.server.Topics.Subscribers(topic).Subscriptions) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no subscriber for %s", topic)
}

// Kick closes a client's network connection from the broker side.
func (b *Broker) Kick(t testing.TB, clientID string) {
	t.Helper()
	cl, ok := b.server.Clients.Get(clientID)
	if !ok {
		t.Fatalf("client %s not connected", clientID)
	}
	cl.Stop(packets.ErrServerShuttingDown)
}

type recorder struct {
	mqtt.HookBase
	broker *Broker
}

func (r *recorder) ID() string { return "recorder" }

func (r *recorder) Provides(b byte) bool {
	return b == mqtt.OnPacketRead
}

func (r *recorder) OnPacketRead(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	if pk.FixedHeader.Type == packets.Publish {
		r.broker.mu.Lock()
		r.broker.publishes = append(r.broker.publishes, Publish{
			ClientID: cl.ID,
			Topic:    pk.TopicName,
			Payload:  string(pk.Payload),
			QoS:      pk.FixedHeader.Qos,
		})
		r.broker.mu.Unlock()
	}
	return pk, nil
}

func freePort(t testing.TB) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}
