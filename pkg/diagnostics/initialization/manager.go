// Package initialization boots named stages of component initializers in
// dependency order, with per-initializer timeout and retry budgets, and
// rolls back partially-initialized components when a stage fails.
package initialization

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

// State is the lifecycle of a Manager.
type State int

const (
	StateNotStarted State = iota
	StateInitializing
	StateInitialized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Initializer is one component boot action. A non-nil Disposable return
// is tracked for rollback; initializers that acquire nothing return nil.
type Initializer struct {
	Name string
	Run  func(ctx context.Context) (driver.Disposable, error)
}

// Stage groups ordered initializers behind a shared dependency set and
// timeout/retry policy. Stages are immutable once constructed.
//
// RetryCount is the number of additional attempts after the first: a
// stage with RetryCount 2 runs each initializer at most three times.
type Stage struct {
	Name         string
	Dependencies []string
	Initializers []Initializer
	Timeout      time.Duration
	RetryCount   int
}

// DependencyError reports a stage whose declared dependency had not
// completed when the stage was reached. Stage list order is assumed to
// respect the dependency graph, so this is an immediate hard failure,
// never a wait.
type DependencyError struct {
	Stage   string
	Missing string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %q depends on %q which has not completed", e.Stage, e.Missing)
}

// Manager runs staged initialization exactly once. Concurrent Initialize
// calls join the in-flight run; once failed, the cached error is returned
// without re-running.
type Manager struct {
	mu       sync.Mutex
	logger   logging.Logger
	state    State
	settled  chan struct{}
	runErr   error
	partials []driver.Disposable

	// backoff computes the delay before retry attempt+1. Overridable
	// for tests; defaults to linear 1s * attempt.
	backoff func(attempt int) time.Duration
}

// NewManager creates a manager in StateNotStarted.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{
		logger: logging.OrNop(logger),
		state:  StateNotStarted,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		},
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize runs the stages strictly in the order given. It is
// idempotent while in flight: a concurrent call blocks until the running
// attempt settles and returns its outcome. After success it returns nil
// immediately; after failure it returns the cached error without
// retrying.
func (m *Manager) Initialize(ctx context.Context, stages []Stage) error {
	m.mu.Lock()
	switch m.state {
	case StateInitialized:
		m.mu.Unlock()
		return nil
	case StateFailed:
		err := m.runErr
		m.mu.Unlock()
		return err
	case StateInitializing:
		settled := m.settled
		m.mu.Unlock()
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.runErr
		m.mu.Unlock()
		return err
	}

	m.state = StateInitializing
	m.settled = make(chan struct{})
	settled := m.settled
	m.mu.Unlock()

	err := m.run(ctx, stages)

	m.mu.Lock()
	m.runErr = err
	if err != nil {
		m.state = StateFailed
	} else {
		m.state = StateInitialized
	}
	m.mu.Unlock()
	close(settled)
	return err
}

// run executes stages iteratively. Any failure triggers rollback of every
// partially-initialized component before the original error is returned.
func (m *Manager) run(ctx context.Context, stages []Stage) error {
	completed := make(map[string]bool, len(stages))

	for _, stage := range stages {
		for _, dep := range stage.Dependencies {
			if !completed[dep] {
				err := &DependencyError{Stage: stage.Name, Missing: dep}
				m.rollback()
				return err
			}
		}

		m.logger.Debugf("initializing stage %q (%d initializer(s))", stage.Name, len(stage.Initializers))
		for _, init := range stage.Initializers {
			disposable, err := m.executeWithRetry(ctx, init, stage.RetryCount, stage.Timeout)
			if err != nil {
				m.rollback()
				return fmt.Errorf("stage %q initializer %q failed: %w", stage.Name, init.Name, err)
			}
			if disposable != nil {
				m.TrackPartial(disposable)
			}
		}
		completed[stage.Name] = true
	}
	return nil
}

// executeWithRetry runs one initializer with a timeout enforced by racing
// it against a timer, retrying with linear backoff while attempts remain.
// retryCount is additional attempts after the first.
func (m *Manager) executeWithRetry(ctx context.Context, init Initializer, retryCount int, timeout time.Duration) (driver.Disposable, error) {
	attempts := retryCount + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		disposable, err := m.runWithTimeout(ctx, init, timeout)
		if err == nil {
			return disposable, nil
		}
		lastErr = err

		if attempt < attempts {
			delay := m.backoff(attempt)
			m.logger.Warnf("initializer %q attempt %d/%d failed (%v), retrying in %s", init.Name, attempt, attempts, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("after %d attempt(s): %w", attempts, lastErr)
}

// runWithTimeout races the initializer against a timer. There is no
// preemptive cancellation: on timeout the attempt is abandoned, and a
// drain goroutine disposes whatever the late initializer eventually
// produces so the handle cannot leak.
func (m *Manager) runWithTimeout(ctx context.Context, init Initializer, timeout time.Duration) (driver.Disposable, error) {
	done := make(chan initOutcome, 1)
	go func() {
		disposable, err := init.Run(ctx)
		done <- initOutcome{disposable: disposable, err: err}
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case result := <-done:
		return result.disposable, result.err
	case <-timer:
		m.drainAbandoned(init.Name, done)
		return nil, fmt.Errorf("initializer %q timed out after %s", init.Name, timeout)
	case <-ctx.Done():
		m.drainAbandoned(init.Name, done)
		return nil, ctx.Err()
	}
}

// initOutcome carries one attempt's result across the timeout race.
type initOutcome struct {
	disposable driver.Disposable
	err        error
}

// drainAbandoned collects the eventual result of an abandoned attempt in
// the background and disposes any handle it produced.
func (m *Manager) drainAbandoned(name string, done <-chan initOutcome) {
	go func() {
		result := <-done
		if result.disposable != nil {
			if err := result.disposable.Dispose(); err != nil {
				m.logger.Warnf("disposal of abandoned initializer %q result failed: %v", name, err)
			} else {
				m.logger.Debugf("disposed late result of abandoned initializer %q", name)
			}
		}
	}()
}

// TrackPartial records a component for rollback should a later stage
// fail. Initializers that acquire resources beyond their return value
// may call this directly.
func (m *Manager) TrackPartial(d driver.Disposable) {
	if d == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partials = append(m.partials, d)
}

// rollback disposes tracked components in reverse initialization order,
// swallowing secondary errors. The original failure is what surfaces.
func (m *Manager) rollback() {
	m.mu.Lock()
	partials := m.partials
	m.partials = nil
	m.mu.Unlock()

	for i := len(partials) - 1; i >= 0; i-- {
		if err := partials[i].Dispose(); err != nil {
			m.logger.Warnf("rollback disposal failed: %v", err)
		}
	}
	if len(partials) > 0 {
		m.logger.Infof("rolled back %d partially-initialized component(s)", len(partials))
	}
}

// Reset returns the manager to StateNotStarted without disposing tracked
// components; the caller takes back ownership of anything initialized.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateNotStarted
	m.runErr = nil
	m.settled = nil
	m.partials = nil
}

// Dispose releases every tracked component, swallowing errors, and
// returns the manager to StateNotStarted. Idempotent.
func (m *Manager) Dispose() {
	m.mu.Lock()
	partials := m.partials
	m.partials = nil
	m.state = StateNotStarted
	m.runErr = nil
	m.settled = nil
	m.mu.Unlock()

	for i := len(partials) - 1; i >= 0; i-- {
		if err := partials[i].Dispose(); err != nil {
			m.logger.Warnf("disposal failed: %v", err)
		}
	}
}
