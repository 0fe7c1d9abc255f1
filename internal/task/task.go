package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/temoto/alive/v2"
)

// Status represents the current state of a task.
type Status string

const (
	StatusStopped       Status = "stopped"
	StatusStarting      Status = "starting"
	StatusRunning       Status = "running"
	StatusStopRequested Status = "stop_requested"
)

// defaultStopTimeout bounds how long Stop waits for the task to return.
const defaultStopTimeout = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start when the task has not stopped.
	ErrAlreadyRunning = errors.New("task: already running")

	// ErrStopTimeout is returned by Stop when the task ignores cancellation.
	ErrStopTimeout = errors.New("task: stop timed out")
)

// Func is the body of a task. It must return promptly once ctx is done.
type Func func(ctx context.Context) error

// Config holds configuration for a task.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// StopTimeout is how long Stop waits for Func to return.
	StopTimeout time.Duration

	// OnStop is called after Func returns, with its error.
	OnStop func(err error)
}

// Logger defines the logging interface for tasks.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// finished stands in for the done channel of a task that never started.
var finished = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Task runs one function in its own goroutine with an explicit lifecycle:
//
//	stopped -> starting -> running -> stop_requested -> stopped
//
// Each run is tracked by its own alive.Alive: Stop moves it to stopping,
// and it finishes once the body has returned. A stopped task may be
// started again.
type Task struct {
	config Config
	fn     Func
	logger Logger

	mu        sync.RWMutex
	status    Status
	alive     *alive.Alive
	lastError error
	startTime time.Time
	runs      int
}

// New creates a stopped task.
func New(name string, fn Func) *Task {
	return NewWithConfig(Config{Name: name}, fn)
}

// NewWithConfig creates a stopped task with the given configuration.
func NewWithConfig(cfg Config, fn Func) *Task {
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	return &Task{
		config: cfg,
		fn:     fn,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the task.
func (t *Task) SetLogger(logger Logger) {
	t.logger = logger
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.config.Name
}

// Start runs the task in a new goroutine. The task is cancelled when ctx
// is done or Stop is called.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusStopped {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, t.config.Name)
	}
	a := alive.NewAlive()
	a.Add(1)
	t.status = StatusStarting
	t.alive = a
	t.lastError = nil
	t.runs++
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-a.StopChan():
			cancel()
		case <-runCtx.Done():
		}
	}()
	go t.run(runCtx, cancel, a)
	return nil
}

func (t *Task) run(ctx context.Context, cancel context.CancelFunc, a *alive.Alive) {
	t.mu.Lock()
	if t.status == StatusStarting {
		t.status = StatusRunning
	}
	t.startTime = time.Now()
	t.mu.Unlock()

	t.logger.Debug("task started", "name", t.config.Name)

	err := t.invoke(ctx)
	cancel()

	t.mu.Lock()
	stopRequested := t.status == StatusStopRequested
	if stopRequested && errors.Is(err, context.Canceled) {
		err = nil
	}
	t.status = StatusStopped
	t.lastError = err
	t.mu.Unlock()

	if err != nil {
		t.logger.Warn("task exited with error", "name", t.config.Name, "error", err)
	} else {
		t.logger.Debug("task stopped", "name", t.config.Name, "requested", stopRequested)
	}

	// alive only finishes a run after Stop.
	a.Stop()
	a.Done()

	if t.config.OnStop != nil {
		t.config.OnStop(err)
	}
}

// invoke calls fn, turning a panic into an error.
func (t *Task) invoke(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.config.Name, r)
		}
	}()
	return t.fn(ctx)
}

// Stop cancels the task and waits up to StopTimeout for it to return.
// Stopping a stopped task is a no-op.
func (t *Task) Stop() error {
	t.mu.Lock()
	if t.status == StatusStopped {
		t.mu.Unlock()
		return nil
	}
	t.status = StatusStopRequested
	a := t.alive
	t.mu.Unlock()

	t.logger.Debug("stopping task", "name", t.config.Name)
	a.Stop()

	timer := time.NewTimer(t.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-a.WaitChan():
		return nil
	case <-timer.C:
		t.logger.Warn("task did not stop in time", "name", t.config.Name, "timeout", t.config.StopTimeout)
		return fmt.Errorf("%w: %s after %s", ErrStopTimeout, t.config.Name, t.config.StopTimeout)
	}
}

// Done is closed when the current run returns. It is already closed for a
// task that has never started.
func (t *Task) Done() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.alive == nil {
		return finished
	}
	return t.alive.WaitChan()
}

// Status returns the current status of the task.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Err returns the error from the last completed run. Cancellation through
// Stop is not an error.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}

// Stats returns statistics about the task.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Runs      int           `json:"runs"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the task.
func (t *Task) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := Stats{
		Name:   t.config.Name,
		Status: t.status,
		Runs:   t.runs,
	}
	if t.status == StatusRunning {
		stats.Uptime = time.Since(t.startTime)
	}
	if t.lastError != nil {
		stats.LastError = t.lastError.Error()
	}
	return stats
}
