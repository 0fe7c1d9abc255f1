package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Forwarder receives a copy of every entry after it is durably stored.
type Forwarder interface {
	Forward(ctx context.Context, e Entry) error
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, e Entry) error

// Forward calls f.
func (f ForwarderFunc) Forward(ctx context.Context, e Entry) error { return f(ctx, e) }

// Diagnostics receives storage and forwarding failures.
type Diagnostics interface {
	Warn(msg string, args ...any)
}

type noopDiagnostics struct{}

func (noopDiagnostics) Warn(string, ...any) {}

// Options configures a Logger.
type Options struct {
	// Dir holds one file per device per session.
	Dir string

	// Format selects the store. Defaults to FormatSQLite.
	Format Format

	// Session names the files. Defaults to a session started now.
	Session Session

	// Forwarders mirror entries to external sinks.
	Forwarders []Forwarder

	// OnError is called for every swallowed storage failure.
	OnError func(deviceID string, err error)

	// Open overrides the store constructor selected by Format.
	Open OpenFunc

	// Now overrides the clock used for entries without a timestamp.
	Now func() time.Time
}

// Logger records every message exchanged with a device. Record never
// returns an error to the caller.
type Logger struct {
	opts Options
	ext  string
	open OpenFunc
	diag Diagnostics

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool

	failures atomic.Uint64
}

// stream is one device's store. mu serializes appends for the device.
type stream struct {
	mu    sync.Mutex
	store Store
	count int
}

// NewLogger validates opts. No files are created until the first Record.
func NewLogger(opts Options) (*Logger, error) {
	ext, err := opts.Format.Extension()
	if err != nil {
		return nil, err
	}
	open := opts.Open
	if open == nil {
		if open, err = opts.Format.opener(); err != nil {
			return nil, err
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Session.ID == "" {
		opts.Session = NewSession(opts.Now())
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}

	return &Logger{
		opts:    opts,
		ext:     ext,
		open:    open,
		diag:    noopDiagnostics{},
		streams: make(map[string]*stream),
	}, nil
}

// SetLogger sets where failures are reported.
func (l *Logger) SetLogger(d Diagnostics) {
	if d == nil {
		d = noopDiagnostics{}
	}
	l.diag = d
}

// Session returns the session naming this logger's files.
func (l *Logger) Session() Session {
	return l.opts.Session
}

// Record durably appends e to its device's store, then forwards it.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.opts.Now()
	}

	s, err := l.stream(e.DeviceID)
	if err != nil {
		l.report(e.DeviceID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		store, err := l.openStore(ctx, e.DeviceID)
		if err != nil {
			l.report(e.DeviceID, err)
			return
		}
		s.store = store
	}

	if err := s.store.Append(ctx, e); err != nil {
		l.report(e.DeviceID, fmt.Errorf("%w: %w", ErrWriteFailed, err))
		return
	}
	s.count++

	for _, fw := range l.opts.Forwarders {
		if err := fw.Forward(ctx, e); err != nil {
			l.diag.Warn("audit forward failed", "device", e.DeviceID, "error", err)
		}
	}
}

// RecordReceived logs telemetry from a device.
func (l *Logger) RecordReceived(ctx context.Context, deviceID, payload string, at time.Time) {
	l.Record(ctx, Entry{
		Timestamp:   at,
		DeviceID:    deviceID,
		Direction:   DirectionReceived,
		MessageType: MessageTypeData,
		Message:     payload,
		Notes:       NoteReceived,
	})
}

// RecordSent logs a command published to a device.
func (l *Logger) RecordSent(ctx context.Context, deviceID, payload string, at time.Time) {
	l.Record(ctx, Entry{
		Timestamp:   at,
		DeviceID:    deviceID,
		Direction:   DirectionSent,
		MessageType: MessageTypeCommand,
		Message:     payload,
		Notes:       NoteSent,
	})
}

// RecordAck logs a device's acknowledgment of a command.
func (l *Logger) RecordAck(ctx context.Context, deviceID, payload string, at time.Time) {
	l.Record(ctx, Entry{
		Timestamp:   at,
		DeviceID:    deviceID,
		Direction:   DirectionReceived,
		MessageType: MessageTypeCommand,
		Message:     payload,
		Notes:       NoteAck,
	})
}

// Count returns the number of entries durably appended for the device
// this session.
func (l *Logger) Count(deviceID string) int {
	s := l.existing(deviceID)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Path returns the device's store path, or "" before its first entry.
func (l *Logger) Path(deviceID string) string {
	s := l.existing(deviceID)
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return ""
	}
	return s.store.Path()
}

// Devices returns the IDs with an open stream, sorted.
func (l *Logger) Devices() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.streams))
	for id := range l.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries reads back a device's entries for this session.
func (l *Logger) Entries(ctx context.Context, deviceID string, filter Filter) ([]Entry, error) {
	s := l.existing(deviceID)
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil, nil
	}
	r, ok := s.store.(Reader)
	if !ok {
		return nil, fmt.Errorf("audit: %T cannot read entries", s.store)
	}
	return r.Entries(ctx, filter)
}

// Failures returns the number of swallowed storage failures.
func (l *Logger) Failures() uint64 {
	return l.failures.Load()
}

// Close closes every store. Later Records are reported as ErrClosed.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	streams := make([]*stream, 0, len(l.streams))
	for _, s := range l.streams {
		streams = append(streams, s)
	}
	l.mu.Unlock()

	var errs []error
	for _, s := range streams {
		s.mu.Lock()
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, err)
			}
			s.store = nil
		}
		s.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (l *Logger) stream(deviceID string) (*stream, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}
	s, ok := l.streams[deviceID]
	if !ok {
		s = &stream{}
		l.streams[deviceID] = s
	}
	return s, nil
}

func (l *Logger) existing(deviceID string) *stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams[deviceID]
}

func (l *Logger) openStore(ctx context.Context, deviceID string) (Store, error) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	path, err := storePath(l.opts.Dir, l.opts.Session, deviceID, l.ext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	store, err := l.open(ctx, path, l.opts.Session)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
	}
	return store, nil
}

func (l *Logger) report(deviceID string, err error) {
	l.failures.Add(1)
	l.diag.Warn("audit write failed", "device", deviceID, "error", err)
	if l.opts.OnError != nil {
		l.opts.OnError(deviceID, err)
	}
}
