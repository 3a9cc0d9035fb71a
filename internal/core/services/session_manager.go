package services

import (
	"errors"
	"fmt"
	"time"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/retry"

	"go.uber.org/zap"
)

type SessionConfig struct {
	InitRetryDelay  time.Duration
	InitMaxAttempts int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InitRetryDelay:  100 * time.Millisecond,
		InitMaxAttempts: 50,
	}
}

type readyWaiter struct {
	onReady  func(ports.Resource)
	onFailed func(error)
}

// SessionManager owns the capture resource of one view and its lifecycle.
// Every method must be called on the owning executor.
type SessionManager struct {
	cfg      SessionConfig
	exec     ports.Executor
	factory  ports.ResourceFactory
	listener ports.ConnectionListener
	surface  func() domain.Surface
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger

	state    domain.SessionState
	failure  error
	resource ports.Resource

	waiters     []readyWaiter
	retrying    bool
	cancelRetry func()
	generation  int
	attempts    int
	initErr     error
}

func NewSessionManager(
	cfg SessionConfig,
	exec ports.Executor,
	factory ports.ResourceFactory,
	listener ports.ConnectionListener,
	surface func() domain.Surface,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *SessionManager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &SessionManager{
		cfg:      cfg,
		exec:     exec,
		factory:  factory,
		listener: listener,
		surface:  surface,
		metrics:  metrics,
		logger:   logger,
		state:    domain.StateUninitialized,
	}
}

func (m *SessionManager) State() domain.SessionState { return m.state }

// Failure is the stored reason of a Failed session.
func (m *SessionManager) Failure() error { return m.failure }

// Resource is nil unless the session is Ready or Streaming.
func (m *SessionManager) Resource() ports.Resource { return m.resource }

// Attempts is the number of initialization attempts of the current cycle.
func (m *SessionManager) Attempts() int { return m.attempts }

// Initializing reports whether an initialization cycle is under way,
// including the wait for layout.
func (m *SessionManager) Initializing() bool { return m.retrying }

// EnsureReady calls onReady once the resource exists, or onFailed with the
// stored reason. Ready and Failed sessions answer before EnsureReady returns.
// Callers arriving during initialization share its single outcome.
func (m *SessionManager) EnsureReady(onReady func(ports.Resource), onFailed func(error)) {
	switch m.state {
	case domain.StateReady, domain.StateStreaming:
		onReady(m.resource)
		return
	case domain.StateFailed:
		onFailed(m.failure)
		return
	}

	m.waiters = append(m.waiters, readyWaiter{onReady: onReady, onFailed: onFailed})
	if m.retrying {
		return
	}
	m.startInit()
}

func (m *SessionManager) startInit() {
	m.retrying = true
	m.attempts = 0
	m.initErr = nil
	m.generation++
	gen := m.generation

	cfg := retry.FixedConfig(m.cfg.InitMaxAttempts, m.cfg.InitRetryDelay)
	cfg.RetryableErrors = []error{domain.ErrLayoutNotReady}

	cancel := retry.Schedule(m.exec, cfg, func(attempt int) error {
		return m.attempt(gen, attempt)
	}, func(err error) {
		m.finish(gen, err)
	})
	if m.retrying && gen == m.generation {
		m.cancelRetry = cancel
	}
}

func (m *SessionManager) attempt(gen, attempt int) error {
	if gen != m.generation {
		return nil
	}
	m.attempts = attempt

	surface := m.surface()
	if !surface.Laid() {
		m.logger.Debugw("Waiting for layout", "attempt", attempt)
		return domain.ErrLayoutNotReady
	}

	m.transition(domain.StateInitializing)
	res, err := m.factory.Create(surface, m.listener)
	m.metrics.InitAttempt(err == nil)
	if err != nil {
		m.initErr = err
		return err
	}
	m.resource = res
	return nil
}

func (m *SessionManager) finish(gen int, err error) {
	if gen != m.generation {
		return
	}
	m.retrying = false
	m.cancelRetry = nil

	if err == nil {
		m.transition(domain.StateReady)
	} else {
		switch {
		case m.initErr != nil:
			m.failure = fmt.Errorf("%w: %v", domain.ErrResourceInit, m.initErr)
		case errors.Is(err, retry.ErrExhausted):
			m.failure = domain.ErrInitTimeout
		default:
			m.failure = fmt.Errorf("%w: %v", domain.ErrResourceInit, err)
		}
		m.logger.Warnw("Session initialization failed", "attempts", m.attempts, "reason", m.failure)
		m.transition(domain.StateFailed)
	}

	waiters := m.waiters
	m.waiters = nil
	for _, w := range waiters {
		if gen != m.generation {
			// released by an earlier waiter
			return
		}
		if err == nil {
			w.onReady(m.resource)
		} else {
			w.onFailed(m.failure)
		}
	}
}

// MarkStreaming moves Ready to Streaming.
func (m *SessionManager) MarkStreaming() {
	if m.state == domain.StateReady {
		m.transition(domain.StateStreaming)
	}
}

// MarkStopped moves Streaming back to Ready. Other states are untouched.
func (m *SessionManager) MarkStopped() {
	if m.state == domain.StateStreaming {
		m.transition(domain.StateReady)
	}
}

// Release tears the session down from any state. Pending retries are
// cancelled and waiters are dropped without being called.
func (m *SessionManager) Release() {
	m.generation++
	if m.cancelRetry != nil {
		m.cancelRetry()
		m.cancelRetry = nil
	}
	m.retrying = false
	m.waiters = nil
	m.failure = nil
	m.initErr = nil

	if m.resource != nil {
		m.resource.Release()
		m.resource = nil
	}
	m.transition(domain.StateUninitialized)
}

func (m *SessionManager) transition(to domain.SessionState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.metrics.SessionTransition(from, to)
	m.logger.Debugw("Session state changed", "from", from.String(), "to", to.String())
}
