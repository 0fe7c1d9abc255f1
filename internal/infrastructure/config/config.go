package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Command value bounds accepted by devices.
const (
	MinCommandValue = 1
	MaxCommandValue = 20
)

// Config is the root configuration structure for devicelink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Devices   DevicesConfig   `yaml:"devices"`
	Audit     AuditConfig     `yaml:"audit"`
	Events    EventsConfig    `yaml:"events"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Console   ConsoleConfig   `yaml:"console"`
}

// SiteConfig identifies the controller installation.
type SiteConfig struct {
	Name string `yaml:"name"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// KeepAlive is the MQTT keepalive interval in seconds.
	KeepAlive int `yaml:"keepalive"`

	// ConnectTimeout bounds a single connect attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// PublishTimeout bounds the wait for a publish acknowledgment, in seconds.
	PublishTimeout int `yaml:"publish_timeout"`

	// CleanSession discards broker-side session state on connect.
	// Kept false so in-flight QoS 2 exchanges survive a reconnect.
	CleanSession bool `yaml:"clean_session"`

	// InboundQueue is the capacity of the receive queue between the
	// network goroutine and the receive loop.
	InboundQueue int `yaml:"inbound_queue"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DevicesConfig lists the devices known for the lifetime of the process.
type DevicesConfig struct {
	// Namespace is the first topic level, e.g. "mosquito" in mosquito/esp32_1/data.
	Namespace string `yaml:"namespace"`

	// Acks adds a <ns>/<id>/ack topic per device for devices that confirm
	// commands. Off by default.
	Acks bool `yaml:"acks"`

	List []DeviceConfig `yaml:"list"`
}

// DeviceConfig describes one device. Empty topics are derived from the namespace.
type DeviceConfig struct {
	ID            string `yaml:"id"`
	InboundTopic  string `yaml:"inbound_topic,omitempty"`
	OutboundTopic string `yaml:"outbound_topic,omitempty"`
	AckTopic      string `yaml:"ack_topic,omitempty"`
}

// AuditConfig contains audit log settings.
type AuditConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"` // "sqlite" or "csv"
}

// EventsConfig contains settings for the state change notification queue.
type EventsConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// ReconnectConfig contains the optional reconnection policy.
// Durations are in seconds.
type ReconnectConfig struct {
	Enabled      bool `yaml:"enabled"`
	InitialDelay int  `yaml:"initial_delay"`
	MaxDelay     int  `yaml:"max_delay"`
	MaxAttempts  int  `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the dashboard from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// KafkaConfig contains settings for the audit stream mirror.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	BatchTimeout int      `yaml:"batch_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ConsoleConfig contains interactive console settings.
type ConsoleConfig struct {
	Prompt string `yaml:"prompt"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped if the file does not exist
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DEVICELINK_SECTION_KEY
// For example: DEVICELINK_MQTT_HOST, DEVICELINK_AUDIT_DIR
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			Name: "devicelink",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devicelink-controller",
			},
			KeepAlive:      60,
			ConnectTimeout: 10,
			PublishTimeout: 5,
			InboundQueue:   256,
		},
		Devices: DevicesConfig{
			Namespace: "mosquito",
			List: []DeviceConfig{
				{ID: "esp32_1"},
				{ID: "esp32_2"},
			},
		},
		Audit: AuditConfig{
			Dir:    "./logs",
			Format: "sqlite",
		},
		Events: EventsConfig{
			SubscriberBuffer: 64,
		},
		Reconnect: ReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Kafka: KafkaConfig{
			Topic:        "devicelink.audit",
			BatchTimeout: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Console: ConsoleConfig{
			Prompt: "devicelink> ",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("DEVICELINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("DEVICELINK_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DEVICELINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Devices
	if v := os.Getenv("DEVICELINK_DEVICES_NAMESPACE"); v != "" {
		cfg.Devices.Namespace = v
	}

	// Audit
	if v := os.Getenv("DEVICELINK_AUDIT_DIR"); v != "" {
		cfg.Audit.Dir = v
	}
	if v := os.Getenv("DEVICELINK_AUDIT_FORMAT"); v != "" {
		cfg.Audit.Format = v
	}

	// API
	if v := os.Getenv("DEVICELINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("DEVICELINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Kafka
	if v := os.Getenv("DEVICELINK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	// Logging
	if v := os.Getenv("DEVICELINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.KeepAlive < 0 {
		errs = append(errs, "mqtt.keepalive must not be negative")
	}
	if c.MQTT.ConnectTimeout < 1 {
		errs = append(errs, "mqtt.connect_timeout must be at least 1 second")
	}
	if c.MQTT.PublishTimeout < 1 {
		errs = append(errs, "mqtt.publish_timeout must be at least 1 second")
	}
	if c.MQTT.InboundQueue < 1 {
		errs = append(errs, "mqtt.inbound_queue must be at least 1")
	}

	// Device validation
	if c.Devices.Namespace == "" {
		errs = append(errs, "devices.namespace is required")
	}
	if len(c.Devices.List) == 0 {
		errs = append(errs, "devices.list must contain at least one device")
	}
	seen := make(map[string]bool, len(c.Devices.List))
	for i, d := range c.Devices.List {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices.list[%d].id is required", i))
		case strings.ContainsAny(d.ID, "/+#"):
			errs = append(errs, fmt.Sprintf("devices.list[%d].id %q must not contain topic characters", i, d.ID))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices.list[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true
	}

	// Audit validation
	if c.Audit.Dir == "" {
		errs = append(errs, "audit.dir is required")
	}
	if c.Audit.Format != "sqlite" && c.Audit.Format != "csv" {
		errs = append(errs, "audit.format must be sqlite or csv")
	}

	if c.Events.SubscriberBuffer < 1 {
		errs = append(errs, "events.subscriber_buffer must be at least 1")
	}

	// Reconnect validation
	if c.Reconnect.Enabled {
		if c.Reconnect.InitialDelay < 1 {
			errs = append(errs, "reconnect.initial_delay must be at least 1 second")
		}
		if c.Reconnect.MaxDelay < c.Reconnect.InitialDelay {
			errs = append(errs, "reconnect.max_delay must not be less than initial_delay")
		}
		if c.Reconnect.MaxAttempts < 0 {
			errs = append(errs, "reconnect.max_attempts must not be negative")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Sinks
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, "kafka.brokers and kafka.topic are required when kafka is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
