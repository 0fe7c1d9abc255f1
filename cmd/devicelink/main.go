// devicelink - MQTT device communication manager
//
// This is the main entry point for devicelink. It connects a fixed set of
// devices over an MQTT broker, records every exchanged message per device,
// and exposes the device state through an HTTP API and an operator console.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/nerrad567/devicelink/internal/api"
	"github.com/nerrad567/devicelink/internal/audit"
	"github.com/nerrad567/devicelink/internal/console"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicelink/internal/infrastructure/kafka"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/manager"
	"github.com/nerrad567/devicelink/internal/reconnect"
	"github.com/nerrad567/devicelink/internal/task"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// reconnectTaskName names the reconnect supervisor task.
const reconnectTaskName = "mqtt-reconnect"

// flags are the command line options.
type flags struct {
	configPath string
	console    bool
}

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f := parseFlags(os.Args[1:])

	if err := run(ctx, f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) flags {
	fs := flag.NewFlagSet("devicelink", flag.ExitOnError)
	var f flags
	fs.StringVar(&f.configPath, "config", getConfigPath(), "path to config.yaml")
	fs.BoolVar(&f.console, "console", false, "run the interactive operator console")
	//nolint:errcheck // ExitOnError
	fs.Parse(args)
	return f
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context, f flags) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting devicelink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// The console owns stdout.
	if f.console && (cfg.Logging.Output == "" || cfg.Logging.Output == "stdout") {
		cfg.Logging.Output = "stderr"
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing to report to
	log.Info("configuration loaded",
		"path", f.configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	registry, err := device.FromConfig(cfg.Devices)
	if err != nil {
		return fmt.Errorf("building device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", registry.Len(), "namespace", cfg.Devices.Namespace)

	// Optional sinks mirror the audit stream.
	forwarders, closeSinks, err := openSinks(cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	auditLog, err := audit.NewLogger(audit.Options{
		Dir:        cfg.Audit.Dir,
		Format:     audit.Format(cfg.Audit.Format),
		Forwarders: forwarders,
		OnError: func(deviceID string, err error) {
			log.Error("audit write failed", "device_id", deviceID, "error", err)
		},
	})
	if err != nil {
		return fmt.Errorf("creating audit log: %w", err)
	}
	auditLog.SetLogger(log.Component("audit"))
	defer func() {
		log.Info("closing audit log")
		if closeErr := auditLog.Close(); closeErr != nil {
			log.Error("error closing audit log", "error", closeErr)
		}
	}()
	log.Info("audit log ready",
		"dir", cfg.Audit.Dir,
		"format", cfg.Audit.Format,
		"session", auditLog.Session().ShortID(),
	)

	mqttClient := mqtt.New(mqtt.OptionsFromConfig(cfg.MQTT, registry.SubscriptionTopics()))
	mqttClient.SetLogger(log.Component("mqtt"))

	mgr, err := manager.New(manager.Options{
		Registry:  registry,
		Transport: mqttClient,
		Audit:     auditLog,
		Logger:    log.Component("manager"),
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mgr.Close(); closeErr != nil {
			log.Error("error closing manager", "error", closeErr)
		}
	}()

	// A broker that is down at startup is not fatal: the API and console
	// can connect later, and the reconnect supervisor retries if enabled.
	if connErr := mgr.Connect(ctx); connErr != nil {
		log.Warn("initial broker connection failed", "error", connErr)
	} else {
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	if cfg.Reconnect.Enabled {
		stop := startReconnect(ctx, cfg.Reconnect, mgr, log)
		defer stop()
	} else {
		log.Info("automatic reconnect disabled")
	}

	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Manager:     mgr,
			Log:         auditLog,
			EventBuffer: cfg.Events.SubscriberBuffer,
			Version:     version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	sdnotify(log, daemon.SdNotifyReady)
	defer sdnotify(log, daemon.SdNotifyStopping)

	if f.console {
		log.Info("initialisation complete, starting console")
		runConsole(ctx, cfg.Console, mgr, log)
	} else {
		log.Info("initialisation complete, waiting for shutdown signal")
		<-ctx.Done()
	}

	log.Info("shutting down")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DEVICELINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DEVICELINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openSinks connects the enabled audit mirrors and returns their forwarders.
// The returned close function is always safe to call.
func openSinks(cfg *config.Config, log *logging.Logger) ([]audit.Forwarder, func(), error) {
	var (
		forwarders []audit.Forwarder
		closers    []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		forwarders = append(forwarders, influxForwarder{client: influxClient})
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection",
				"written", influxClient.Written(),
				"skipped", influxClient.Skipped(),
			)
			if err := influxClient.Close(); err != nil {
				log.Error("error closing InfluxDB", "error", err)
			}
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if cfg.Kafka.Enabled {
		producer, err := kafka.Connect(cfg.Kafka)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("creating Kafka producer: %w", err)
		}
		producer.SetOnError(func(err error) {
			log.Error("Kafka publish error", "error", err)
		})
		forwarders = append(forwarders, kafkaForwarder{producer: producer})
		closers = append(closers, func() {
			log.Info("closing Kafka producer",
				"published", producer.Published(),
				"failed", producer.Failed(),
			)
			if err := producer.Close(); err != nil {
				log.Error("error closing Kafka producer", "error", err)
			}
		})
		log.Info("Kafka mirror enabled", "brokers", cfg.Kafka.Brokers, "topic", producer.Topic())
	} else {
		log.Info("Kafka disabled")
	}

	return forwarders, closeAll, nil
}

// startReconnect runs the reconnect supervisor as a named task and returns
// a function that stops it.
func startReconnect(ctx context.Context, cfg config.ReconnectConfig, mgr *manager.Manager, log *logging.Logger) func() {
	policy := reconnect.PolicyFromConfig(cfg)
	sup := reconnect.New(mgr, policy)
	sup.SetLogger(log.Component("reconnect"))

	t := task.NewWithConfig(task.Config{Name: reconnectTaskName}, sup.Run)
	t.SetLogger(log.Component("task"))
	if err := t.Start(ctx); err != nil {
		log.Error("reconnect supervisor failed to start", "error", err)
		return func() {}
	}
	log.Info("automatic reconnect enabled",
		"initial_delay", policy.InitialDelay,
		"max_delay", policy.MaxDelay,
		"max_attempts", policy.MaxAttempts,
	)

	return func() {
		if err := t.Stop(); err != nil {
			log.Warn("reconnect supervisor did not stop cleanly", "error", err)
		}
		log.Info("reconnect supervisor stopped",
			"attempts", sup.Attempts(),
			"reconnects", sup.Reconnects(),
		)
	}
}

// runConsole blocks until the operator quits or ctx is cancelled.
func runConsole(ctx context.Context, cfg config.ConsoleConfig, mgr *manager.Manager, log *logging.Logger) {
	c := console.New(mgr, console.Options{Prompt: cfg.Prompt, Out: os.Stdout})

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, os.Stdin) }()

	select {
	case err := <-done:
		if err != nil {
			log.Error("console stopped", "error", err)
		}
	case <-ctx.Done():
	}
}

// sdnotify reports state to systemd. Outside systemd it is a no-op.
func sdnotify(log *logging.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		log.Debug("sd_notify sent", "state", state)
	}
}

