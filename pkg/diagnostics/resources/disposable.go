package resources

import (
	"fmt"
	"sync"

	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

// DisposalOutcome records the result of releasing a single item. Failures
// are values, not panics or logged side effects, so callers and tests can
// assert on exactly what went wrong.
type DisposalOutcome struct {
	// Name identifies the item within its manager (a resource handle or
	// a caller-supplied label).
	Name string

	// Err is nil on success.
	Err error
}

// DisposalReport summarizes one DisposeAll pass.
type DisposalReport struct {
	Batches  int
	Disposed int
	Failed   int
	Outcomes []DisposalOutcome
}

// disposalItem is the unit of work for batched disposal.
type disposalItem struct {
	name    string
	dispose func() error
}

// disposeInBatches partitions items into batches of at most batchSize and
// releases each batch concurrently. Batches run one at a time to bound
// peak concurrency; items within a batch are joined settle-all, so one
// failing item never stops its siblings or later batches.
func disposeInBatches(items []disposalItem, batchSize int, logger logging.Logger) DisposalReport {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	report := DisposalReport{
		Outcomes: make([]DisposalOutcome, len(items)),
	}

	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		report.Batches++

		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(offset int, item disposalItem) {
				defer wg.Done()
				report.Outcomes[start+offset] = DisposalOutcome{
					Name: item.name,
					Err:  runDisposal(item),
				}
			}(i, batch[i])
		}
		wg.Wait()

		batchFailures := 0
		for _, outcome := range report.Outcomes[start:end] {
			if outcome.Err != nil {
				batchFailures++
				report.Failed++
				logger.Warnf("disposal of %s failed: %v", outcome.Name, outcome.Err)
			} else {
				report.Disposed++
			}
		}
		if batchFailures > 0 {
			logger.Warnf("disposal batch %d: %d of %d item(s) failed", report.Batches, batchFailures, len(batch))
		}
	}

	return report
}

// runDisposal invokes a single disposal, converting a panic into an error
// so a misbehaving resource cannot take down the whole pass.
func runDisposal(item disposalItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("disposal panicked: %v", r)
		}
	}()
	return item.dispose()
}

// DisposableManager composes loose disposables and entire resource
// managers into a single cleanup obligation. DisposeAll cascades to every
// tracked item exactly once.
type DisposableManager struct {
	mu        sync.Mutex
	logger    logging.Logger
	items     []disposalItem
	managers  []*Manager
	batchSize int
	disposed  bool
}

// NewDisposableManager creates an empty composite disposer.
func NewDisposableManager(logger logging.Logger) *DisposableManager {
	return &DisposableManager{
		logger:    logging.OrNop(logger),
		batchSize: DefaultBatchSize,
	}
}

// SetBatchSize overrides the disposal batch size. Values below 1 are
// ignored.
func (d *DisposableManager) SetBatchSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= 1 {
		d.batchSize = n
	}
}

// Track adds a named disposable. Returns ErrManagerDisposed after
// DisposeAll has run.
func (d *DisposableManager) Track(name string, item driver.Disposable) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return ErrManagerDisposed
	}
	d.items = append(d.items, disposalItem{name: name, dispose: item.Dispose})
	return nil
}

// TrackFunc adds a named cleanup function.
func (d *DisposableManager) TrackFunc(name string, fn func() error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return ErrManagerDisposed
	}
	if fn == nil {
		return fmt.Errorf("cleanup %q is nil", name)
	}
	d.items = append(d.items, disposalItem{name: name, dispose: fn})
	return nil
}

// TrackManager adds a whole resource manager; its DisposeAll runs as part
// of this manager's DisposeAll.
func (d *DisposableManager) TrackManager(m *Manager) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return ErrManagerDisposed
	}
	d.managers = append(d.managers, m)
	return nil
}

// TrackedCount returns the number of directly tracked items, excluding
// composed managers.
func (d *DisposableManager) TrackedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

// IsDisposed reports whether DisposeAll has run.
func (d *DisposableManager) IsDisposed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposed
}

// DisposeAll releases every tracked item in bounded batches, then cascades
// to composed resource managers. Idempotent; failures are aggregated into
// the report, never returned as an error.
func (d *DisposableManager) DisposeAll() DisposalReport {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return DisposalReport{}
	}
	d.disposed = true
	items := d.items
	managers := d.managers
	batchSize := d.batchSize
	d.items = nil
	d.managers = nil
	d.mu.Unlock()

	report := disposeInBatches(items, batchSize, d.logger)

	for _, m := range managers {
		sub := m.DisposeAll()
		report.Batches += sub.Batches
		report.Disposed += sub.Disposed
		report.Failed += sub.Failed
		report.Outcomes = append(report.Outcomes, sub.Outcomes...)
	}

	return report
}
