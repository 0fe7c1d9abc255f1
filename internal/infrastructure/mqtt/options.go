package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// QoS is an MQTT delivery mode.
type QoS byte

// Delivery modes.
const (
	AtMostOnce  QoS = 0
	AtLeastOnce QoS = 1
	ExactlyOnce QoS = 2
)

// Connection constants.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultInboundQueue = 256
	defaultStateQueue   = 32

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// ClientFactory builds the underlying paho client. Tests replace it with a fake.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Options configures a Client.
type Options struct {
	Host     string
	Port     int
	TLS      bool
	ClientID string
	Username string
	Password string

	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	CleanSession   bool

	// Topics are subscribed at QoS 2 on every successful connect.
	Topics []string

	// InboundQueue is the capacity of the Messages channel.
	InboundQueue int

	// StateQueue is the capacity of the StateChanges channel.
	StateQueue int

	// NewClient defaults to pahomqtt.NewClient.
	NewClient ClientFactory
}

// OptionsFromConfig maps the mqtt section of config.yaml onto Options.
func OptionsFromConfig(cfg config.MQTTConfig, topics []string) Options {
	return Options{
		Host:           cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		TLS:            cfg.Broker.TLS,
		ClientID:       cfg.Broker.ClientID,
		Username:       cfg.Auth.Username,
		Password:       cfg.Auth.Password,
		KeepAlive:      time.Duration(cfg.KeepAlive) * time.Second,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
		PublishTimeout: time.Duration(cfg.PublishTimeout) * time.Second,
		CleanSession:   cfg.CleanSession,
		Topics:         topics,
		InboundQueue:   cfg.InboundQueue,
	}
}

// Address returns the broker URL, tcp:// or ssl:// depending on TLS.
func (o Options) Address() string {
	scheme := "tcp"
	if o.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Host, o.Port)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = defaultPublishTimeout
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	if o.InboundQueue <= 0 {
		o.InboundQueue = defaultInboundQueue
	}
	if o.StateQueue <= 0 {
		o.StateQueue = defaultStateQueue
	}
	if o.NewClient == nil {
		o.NewClient = pahomqtt.NewClient
	}
	return o
}

// buildClientOptions creates paho options for one connect attempt.
//
// Automatic reconnection is disabled: an unsolicited drop must surface as a
// transition to Disconnected, and reconnecting is left to the caller.
func (c *Client) buildClientOptions() *pahomqtt.ClientOptions {
	o := c.opts
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(o.Address())
	opts.SetClientID(o.ClientID)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// A persistent session keeps unfinished QoS 2 exchanges across reconnects.
	opts.SetCleanSession(o.CleanSession)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(o.ConnectTimeout)
	opts.SetKeepAlive(o.KeepAlive)

	// Messages for a device must be handled in arrival order.
	opts.SetOrderMatters(true)

	if o.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	opts.SetDefaultPublishHandler(c.wrapHandler())
	opts.SetConnectionLostHandler(c.handleConnectionLost)

	return opts
}
