// Package reconnect re-establishes the broker connection after an
// unsolicited drop. It is optional and off by default.
package reconnect

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/nerrad567/devicelink/internal/infrastructure/config"
	"github.com/nerrad567/devicelink/internal/manager"
)

// defaultMaxDelay caps the backoff when the policy leaves MaxDelay unset.
const defaultMaxDelay = time.Minute

var (
	// ErrGaveUp is returned by Reconnect when MaxAttempts is exhausted.
	ErrGaveUp = errors.New("reconnect: attempts exhausted")

	// ErrOperatorDisconnect is returned by Reconnect when the operator
	// disconnected while a retry was pending.
	ErrOperatorDisconnect = errors.New("reconnect: operator disconnected")
)

// Target is what the supervisor watches and reconnects. *manager.Manager
// satisfies it.
type Target interface {
	Connect(ctx context.Context) error
	Disconnects() uint64
	Subscribe(buffer int) (<-chan manager.Event, func())
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Policy controls the retry schedule. MaxAttempts of zero retries forever.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// PolicyFromConfig maps the reconnect section of config.yaml onto a Policy.
func PolicyFromConfig(cfg config.ReconnectConfig) Policy {
	return Policy{
		InitialDelay: time.Duration(cfg.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelay) * time.Second,
		MaxAttempts:  cfg.MaxAttempts,
	}
}

// Supervisor listens for connection events and reconnects after drops.
// Connect failures and requested disconnects are left alone.
type Supervisor struct {
	target Target
	policy Policy
	logger Logger

	attempts    atomic.Uint64
	reconnected atomic.Uint64
}

// New creates a Supervisor for target.
func New(target Target, policy Policy) *Supervisor {
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaultMaxDelay
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	return &Supervisor{target: target, policy: policy, logger: noopLogger{}}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Run watches events until ctx is done. It fits task.Func.
func (s *Supervisor) Run(ctx context.Context) error {
	events, unsubscribe := s.target.Subscribe(0)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if e.Type != manager.EventConnectionState || !e.Unsolicited {
				continue
			}
			s.logger.Warn("broker connection dropped, reconnecting", "error", e.Error)
			err := s.reconnect(ctx, s.target.Disconnects())
			switch {
			case err == nil, errors.Is(err, context.Canceled):
			case errors.Is(err, ErrOperatorDisconnect):
				s.logger.Info("reconnect cancelled by operator disconnect")
			default:
				s.logger.Warn("reconnect abandoned", "error", err)
			}
		}
	}
}

// Reconnect retries Connect with exponential backoff until it succeeds or
// MaxAttempts is reached. It gives up early when ctx is done or the
// operator calls Disconnect on the target.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	return s.reconnect(ctx, s.target.Disconnects())
}

// reconnect aborts once the target's operator disconnect count moves past
// held.
func (s *Supervisor) reconnect(ctx context.Context, held uint64) error {
	b := s.schedule()

	for attempt := 1; s.policy.MaxAttempts == 0 || attempt <= s.policy.MaxAttempts; attempt++ {
		delay := b.Duration()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if s.target.Disconnects() != held {
			return ErrOperatorDisconnect
		}

		s.attempts.Add(1)
		err := s.target.Connect(ctx)
		if err == nil {
			s.reconnected.Add(1)
			s.logger.Info("reconnected to broker", "attempt", attempt)
			return nil
		}
		if errors.Is(err, manager.ErrClosed) {
			return err
		}
		s.logger.Warn("reconnect attempt failed", "attempt", attempt, "waited", delay, "error", err)
	}
	return ErrGaveUp
}

// schedule returns a fresh delay schedule: InitialDelay first, doubling up
// to MaxDelay.
func (s *Supervisor) schedule() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    s.policy.InitialDelay,
		Max:    s.policy.MaxDelay,
		Factor: 2,
	}
}

// Attempts returns the number of Connect calls made.
func (s *Supervisor) Attempts() uint64 {
	return s.attempts.Load()
}

// Reconnects returns the number of successful reconnections.
func (s *Supervisor) Reconnects() uint64 {
	return s.reconnected.Load()
}
