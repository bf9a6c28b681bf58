// Package resources tracks remote handles and other disposables acquired
// during a diagnostic run and guarantees each one is released exactly once.
package resources

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

const (
	// DefaultBatchSize bounds how many disposals run concurrently.
	DefaultBatchSize = 10

	// StrategyDisposable is the built-in strategy for anything
	// implementing driver.Disposable.
	StrategyDisposable = "disposable"
)

// ErrManagerDisposed is returned when registering against a manager whose
// DisposeAll has already run.
var ErrManagerDisposed = errors.New("resource manager already disposed")

// DisposeFunc releases a single tracked resource.
type DisposeFunc func(resource interface{}) error

// Handle identifies a tracked resource for later unregistration.
type Handle string

// trackedResource pairs an opaque resource with the strategy that
// releases it.
type trackedResource struct {
	handle   Handle
	resource interface{}
	strategy string
}

// Manager owns the disposal obligation for every resource registered with
// it. Registration and disposal may be called from concurrent goroutines;
// DisposeAll works from a snapshot of the set taken when it is invoked, so
// resources registered afterwards remain the caller's responsibility.
type Manager struct {
	mu         sync.Mutex
	logger     logging.Logger
	strategies map[string]DisposeFunc
	tracked    map[Handle]trackedResource
	batchSize  int
	peak       int
	disposed   bool
}

// NewManager creates a resource manager. A nil logger is replaced with a
// no-op logger.
func NewManager(logger logging.Logger) *Manager {
	m := &Manager{
		logger:     logging.OrNop(logger),
		strategies: make(map[string]DisposeFunc),
		tracked:    make(map[Handle]trackedResource),
		batchSize:  DefaultBatchSize,
	}

	// Built-in strategy for plain disposables
	m.strategies[StrategyDisposable] = func(resource interface{}) error {
		d, ok := resource.(driver.Disposable)
		if !ok {
			return fmt.Errorf("resource %T does not implement Disposable", resource)
		}
		return d.Dispose()
	}

	return m
}

// SetBatchSize overrides the disposal batch size. Values below 1 are
// ignored.
func (m *Manager) SetBatchSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n >= 1 {
		m.batchSize = n
	}
}

// RegisterStrategy adds a named disposal strategy. Registering an existing
// name replaces the previous strategy.
func (m *Manager) RegisterStrategy(name string, fn DisposeFunc) error {
	if fn == nil {
		return fmt.Errorf("disposal strategy %q is nil", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[name] = fn
	return nil
}

// Register tracks a resource under the named disposal strategy and returns
// a handle for unregistration. Registering after DisposeAll fails with
// ErrManagerDisposed.
func (m *Manager) Register(resource interface{}, strategy string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return "", ErrManagerDisposed
	}
	if _, ok := m.strategies[strategy]; !ok {
		return "", fmt.Errorf("unknown disposal strategy %q", strategy)
	}

	handle := Handle(uuid.New().String())
	m.tracked[handle] = trackedResource{
		handle:   handle,
		resource: resource,
		strategy: strategy,
	}
	if n := len(m.tracked); n > m.peak {
		m.peak = n
	}
	return handle, nil
}

// RegisterDisposable tracks anything implementing driver.Disposable under
// the built-in strategy.
func (m *Manager) RegisterDisposable(d driver.Disposable) (Handle, error) {
	return m.Register(d, StrategyDisposable)
}

// Unregister removes a resource from tracking without disposing it. The
// disposal obligation transfers back to the caller. Returns false when the
// handle is unknown.
func (m *Manager) Unregister(handle Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tracked[handle]; !ok {
		return false
	}
	delete(m.tracked, handle)
	return true
}

// RegisteredCount returns the number of currently tracked resources.
func (m *Manager) RegisteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// PeakRegisteredCount returns the most resources tracked simultaneously
// since construction. DisposeAll does not reset it.
func (m *Manager) PeakRegisteredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// IsDisposed reports whether DisposeAll has run.
func (m *Manager) IsDisposed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disposed
}

// DisposeAll releases every tracked resource in bounded concurrent batches
// and empties the tracking set. It is idempotent: the second and later
// calls are no-ops returning an empty report. Individual disposal failures
// are logged and reported, never returned as an error.
func (m *Manager) DisposeAll() DisposalReport {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return DisposalReport{}
	}
	m.disposed = true

	// Snapshot, resolve strategies, and clear under the lock; disposal
	// itself runs outside it so slow Dispose calls don't block Unregister
	// queries on other goroutines. Strategy resolution must happen here:
	// RegisterStrategy keeps writing the map on other goroutines.
	items := make([]disposalItem, 0, len(m.tracked))
	for _, tr := range m.tracked {
		tr := tr
		fn := m.strategies[tr.strategy]
		items = append(items, disposalItem{
			name: string(tr.handle),
			dispose: func() error {
				return fn(tr.resource)
			},
		})
	}
	m.tracked = make(map[Handle]trackedResource)
	batchSize := m.batchSize
	m.mu.Unlock()

	report := disposeInBatches(items, batchSize, m.logger)
	if report.Failed > 0 {
		m.logger.Warnf("resource disposal finished with %d failure(s) across %d batch(es)", report.Failed, report.Batches)
	}
	return report
}
