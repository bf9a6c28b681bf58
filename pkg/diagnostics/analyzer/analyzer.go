// Package analyzer runs independent page analysis tasks concurrently,
// instrumenting each with timing and memory deltas. One failing task never
// aborts its siblings; the caller always gets every result that settled
// plus an error entry per failed step.
package analyzer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/entrhq/pagelens/pkg/diagnostics/frames"
	"github.com/entrhq/pagelens/pkg/diagnostics/resources"
	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

const (
	// StepStructure names the structure analysis task.
	StepStructure = "structureAnalysis"

	// StepPerformance names the performance metrics task.
	StepPerformance = "performanceMetrics"

	// defaultFrameConcurrency bounds the per-frame census fan-out.
	defaultFrameConcurrency = 4
)

// Thresholds configures resource pressure warnings. Zero values disable a
// check. Fatal promotes crossings from warnings to step errors.
type Thresholds struct {
	MaxHeapBytes     uint64
	MaxActiveHandles int
	Fatal            bool
}

// Options selects which analysis features run.
type Options struct {
	IframeDetection       bool
	ModalDetection        bool
	AccessibilityAnalysis bool
	FrameConcurrency      int
	Thresholds            Thresholds
}

// PerformanceMetrics is the result of the performance task. ActiveHandles
// is the peak number of remote handles held simultaneously during the run.
type PerformanceMetrics struct {
	HeapUsed      uint64 `yaml:"heapUsed"`
	HeapTotal     uint64 `yaml:"heapTotal"`
	External      uint64 `yaml:"external"`
	RSS           uint64 `yaml:"rss"`
	ActiveHandles int    `yaml:"activeHandles"`
}

// StepError ties a failure to the named task that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

// Report aggregates everything the analysis run produced. Fields for
// failed tasks stay nil; their failures appear in Errors instead.
type Report struct {
	Structure     *StructureAnalysis
	Performance   *PerformanceMetrics
	Extra         map[string]interface{}
	ResourceUsage Snapshot
	ExecutionTime time.Duration
	Timings       map[string]TaskTiming
	Errors        []StepError
	Warnings      []string
}

// TaskFunc is a caller-supplied analysis task.
type TaskFunc func(ctx context.Context) (interface{}, error)

// analysisTask pairs a step name with its work.
type analysisTask struct {
	name string
	run  TaskFunc
}

// Analyzer coordinates the concurrent analysis tasks for one page.
type Analyzer struct {
	mu       sync.Mutex
	logger   logging.Logger
	drv      driver.Driver
	frames   *frames.Manager
	handles  *resources.Manager
	opts     Options
	extra    []analysisTask
	disposed bool
}

// New creates an analyzer over the given driver.
func New(drv driver.Driver, opts Options, logger logging.Logger) *Analyzer {
	logger = logging.OrNop(logger)
	if opts.FrameConcurrency <= 0 {
		opts.FrameConcurrency = defaultFrameConcurrency
	}
	return &Analyzer{
		logger:  logger,
		drv:     drv,
		frames:  frames.NewManager(logger),
		handles: resources.NewManager(logger),
		opts:    opts,
	}
}

// Frames exposes the frame reference manager feeding the census.
func (a *Analyzer) Frames() *frames.Manager {
	return a.frames
}

// AddTask registers an additional named task to run alongside the
// built-in structure and performance tasks.
func (a *Analyzer) AddTask(name string, fn TaskFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extra = append(a.extra, analysisTask{name: name, run: fn})
}

// RunParallelAnalysis launches every task concurrently and waits for all
// of them to settle. A task that fails contributes a StepError; its
// siblings still populate their results. Each task carries its own timing
// and memory-delta instrumentation regardless of outcome.
func (a *Analyzer) RunParallelAnalysis(ctx context.Context) *Report {
	started := time.Now()
	report := &Report{
		Timings: make(map[string]TaskTiming),
	}

	snapper := &snapshotter{
		drv:         a.drv,
		handleCount: a.handles.PeakRegisteredCount,
	}

	a.mu.Lock()
	tasks := []analysisTask{
		{name: StepStructure, run: a.runStructureTask},
		{name: StepPerformance, run: a.runPerformanceTask},
	}
	tasks = append(tasks, a.extra...)
	a.mu.Unlock()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task analysisTask) {
			defer wg.Done()

			before := snapper.take(ctx)
			value, err := runTask(ctx, task)
			after := snapper.take(ctx)
			timing := timingBetween(before, after)

			mu.Lock()
			defer mu.Unlock()
			report.Timings[task.name] = timing
			if err != nil {
				report.Errors = append(report.Errors, StepError{Step: task.name, Err: err})
				a.logger.Warnf("analysis task %s failed after %s: %v", task.name, timing.Duration, err)
				return
			}
			switch result := value.(type) {
			case *StructureAnalysis:
				report.Structure = result
			case *PerformanceMetrics:
				report.Performance = result
			default:
				if report.Extra == nil {
					report.Extra = make(map[string]interface{})
				}
				report.Extra[task.name] = value
			}
		}(task)
	}
	wg.Wait()

	report.ResourceUsage = snapper.take(ctx)
	// Handle pressure is only final once every task settled; the sample
	// the performance task took mid-run may predate the frame census.
	if report.Performance != nil {
		report.Performance.ActiveHandles = a.handles.PeakRegisteredCount()
	}
	report.ExecutionTime = time.Since(started)
	a.applyThresholds(report)
	return report
}

// runTask invokes a task, converting a panic into a step failure.
func runTask(ctx context.Context, task analysisTask) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.run(ctx)
}

// runStructureTask serializes the document, analyzes the tree, and runs
// the frame census when iframe detection is enabled.
func (a *Analyzer) runStructureTask(ctx context.Context) (interface{}, error) {
	content, err := a.drv.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document content: %w", err)
	}

	analysis, err := analyzeStructure(content, structureOptions{
		modalDetection:        a.opts.ModalDetection,
		accessibilityAnalysis: a.opts.AccessibilityAnalysis,
	})
	if err != nil {
		return nil, err
	}

	if a.opts.IframeDetection {
		if err := a.runFrameCensus(ctx, analysis); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

// runFrameCensus enumerates frames, reconciles the frame manager, and
// counts elements per live frame with a bounded fan-out. A frame that
// errors mid-census is marked detached, not fatal.
func (a *Analyzer) runFrameCensus(ctx context.Context, analysis *StructureAnalysis) error {
	enumerated, err := a.drv.EnumerateFrames(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate frames: %w", err)
	}

	a.frames.SyncFrames(enumerated)

	sem := semaphore.NewWeighted(int64(a.opts.FrameConcurrency))
	group, gctx := errgroup.WithContext(ctx)
	counts := make([]int, len(enumerated))
	countOK := make([]bool, len(enumerated))

	for i, frame := range enumerated {
		if frame == nil || frame.IsDetached() {
			continue
		}
		i, frame := i, frame
		group.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			elements, err := a.drv.QueryFrameElements(gctx, frame, "*")
			if err != nil {
				// Frame likely detached between enumeration and query.
				a.frames.MarkDetached(frame)
				a.logger.Warnf("frame census failed for %s: %v", frame.URL(), err)
				return nil
			}

			// Track every handle while it is live so handle-pressure
			// accounting sees the census, then release each one.
			registered := make([]resources.Handle, len(elements))
			for j, h := range elements {
				handle, regErr := a.handles.RegisterDisposable(h)
				if regErr != nil {
					break
				}
				registered[j] = handle
			}
			counts[i] = len(elements)
			countOK[i] = true
			for j, h := range elements {
				if registered[j] != "" {
					a.handles.Unregister(registered[j])
				}
				if derr := h.Dispose(); derr != nil {
					a.logger.Warnf("frame census handle disposal failed: %v", derr)
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("frame census interrupted: %w", err)
	}

	analysis.FrameElements = make(map[string]int)
	for i, frame := range enumerated {
		if frame == nil {
			continue
		}
		if countOK[i] {
			a.frames.UpdateElementCount(frame, counts[i])
			analysis.FrameElements[frame.URL()] = counts[i]
		}
	}

	stats := a.frames.Statistics()
	analysis.FrameCount = stats.ActiveCount
	analysis.DetachedCount = stats.TotalTracked - stats.ActiveCount
	return nil
}

// runPerformanceTask samples process memory and handle pressure.
func (a *Analyzer) runPerformanceTask(ctx context.Context) (interface{}, error) {
	usage, err := a.drv.ProcessMemoryUsage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to sample process memory: %w", err)
	}

	return &PerformanceMetrics{
		HeapUsed:      usage.HeapUsed,
		HeapTotal:     usage.HeapTotal,
		External:      usage.External,
		RSS:           usage.RSS,
		ActiveHandles: a.handles.PeakRegisteredCount(),
	}, nil
}

// applyThresholds reports resource pressure as warnings, or as step
// errors when the thresholds are configured fatal.
func (a *Analyzer) applyThresholds(report *Report) {
	t := a.opts.Thresholds
	usage := report.ResourceUsage

	record := func(message string) {
		if t.Fatal {
			report.Errors = append(report.Errors, StepError{
				Step: "resourceThresholds",
				Err:  fmt.Errorf("%s", message),
			})
			return
		}
		report.Warnings = append(report.Warnings, message)
		a.logger.Warnf("%s", message)
	}

	if t.MaxHeapBytes > 0 && usage.HeapUsed > t.MaxHeapBytes {
		record(fmt.Sprintf("heap usage %d exceeds threshold %d", usage.HeapUsed, t.MaxHeapBytes))
	}
	if t.MaxActiveHandles > 0 && usage.HandleCount > t.MaxActiveHandles {
		record(fmt.Sprintf("active handle count %d exceeds threshold %d", usage.HandleCount, t.MaxActiveHandles))
	}
}

// Dispose cascades to the analyzer's frame tracking and resource
// tracking. Idempotent.
func (a *Analyzer) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	a.mu.Unlock()

	a.frames.Dispose()
	a.handles.DisposeAll()
}
