package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
)

// serviceName is attached to every record as the "service" attribute.
const serviceName = "devicelink"

// Logger wraps slog.Logger with the devicelink default fields.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
	file *os.File
}

// New creates a Logger for cfg. Output is "stdout" (default), "stderr",
// "discard" or a file path opened for append. A file that cannot be
// opened falls back to stderr and the failure is logged there.
func New(cfg config.LoggingConfig, version string) *Logger {
	output, file, err := openOutput(cfg.Output)
	l := NewWithWriter(cfg, version, output)
	l.file = file
	if err != nil {
		l.Warn("log file unavailable, writing to stderr", "output", cfg.Output, "error", err)
	}
	return l
}

func openOutput(output string) (io.Writer, *os.File, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	case "discard":
		return io.Discard, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return os.Stderr, nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, f, nil
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs([]slog.Attr{
			slog.String("service", serviceName),
			slog.String("version", version),
		})),
	}
}

// parseLevel maps debug, info, warn and error to slog levels. Anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger with additional default attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a Logger tagged with component=name.
//
//	mqttLog := log.Component("mqtt")
//	mqttLog.Info("connected") // includes component=mqtt
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Close closes the log file, if any. Loggers derived with With or
// Component share the file and must not be used afterwards.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	return f.Close()
}

// Default creates a JSON info logger on stdout for use before
// configuration is loaded.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
