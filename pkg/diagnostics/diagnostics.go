// Package diagnostics is the top-level entry point for page diagnostics.
// It wires configuration, staged initialization, element discovery, and
// the parallel page analyzer behind a single facade. Initialization
// failure is the only hard error; everything else degrades to a partial
// report with recorded errors and warnings.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pagelens/pkg/config"
	"github.com/entrhq/pagelens/pkg/diagnostics/analyzer"
	"github.com/entrhq/pagelens/pkg/diagnostics/discovery"
	"github.com/entrhq/pagelens/pkg/diagnostics/frames"
	"github.com/entrhq/pagelens/pkg/diagnostics/initialization"
	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

// defaultStageTimeout bounds each boot initializer.
const defaultStageTimeout = 10 * time.Second

// ErrDisposed is returned by operations on a disposed PageDiagnostics.
var ErrDisposed = errors.New("page diagnostics already disposed")

// ErrDiscoveryDisabled is returned when element discovery is requested
// but the current level resolves the feature off.
var ErrDiscoveryDisabled = errors.New("element discovery is disabled at the current diagnostic level")

// MemoryStats reports the facade's live-handle accounting.
type MemoryStats struct {
	ActiveHandles int
	MaxBatchSize  int
	IsDisposed    bool
}

// Result is one diagnostic run's aggregated outcome. Structure and
// Performance stay nil when their feature is disabled or their task
// failed; failures appear in Errors keyed by step name.
type Result struct {
	Level         config.Level
	Skipped       bool
	Structure     *analyzer.StructureAnalysis
	Performance   *analyzer.PerformanceMetrics
	Extra         map[string]interface{}
	FrameStats    frames.Statistics
	ExecutionTime time.Duration
	Timings       map[string]analyzer.TaskTiming
	Errors        []analyzer.StepError
	Warnings      []string
}

// disposeFunc adapts a plain cleanup function to driver.Disposable.
type disposeFunc func() error

func (f disposeFunc) Dispose() error { return f() }

// PageDiagnostics runs diagnostics against one page through a driver.
// Components boot lazily on the first run; a failed boot is cached and
// re-returned until Dispose.
type PageDiagnostics struct {
	mu        sync.Mutex
	logger    logging.Logger
	drv       driver.Driver
	levels    *config.LevelManager
	boot      *initialization.Manager
	discovery *discovery.Discovery
	disposed  bool
}

// New creates a facade over the given driver and configuration.
func New(drv driver.Driver, cfg config.DiagnosticConfig, logger logging.Logger) *PageDiagnostics {
	logger = logging.OrNop(logger)
	return &PageDiagnostics{
		logger: logger,
		drv:    drv,
		levels: config.NewLevelManager(cfg),
		boot:   initialization.NewManager(logger),
	}
}

// UpdateConfig merges an override into the current configuration. The
// new snapshot applies to subsequent runs; a run already in flight keeps
// the snapshot it started with.
func (p *PageDiagnostics) UpdateConfig(override config.DiagnosticConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levels = p.levels.UpdateConfig(override)
}

// Config returns the current configuration snapshot.
func (p *PageDiagnostics) Config() config.DiagnosticConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levels.Config()
}

// bootStages declares the staged component boot. The probe confirms the
// driver bridge responds before anything else initializes; discovery is
// tracked so a later failure or Dispose releases it.
func (p *PageDiagnostics) bootStages() []initialization.Stage {
	return []initialization.Stage{
		{
			Name:    "core",
			Timeout: defaultStageTimeout,
			Initializers: []initialization.Initializer{
				{
					Name: "driverProbe",
					Run: func(ctx context.Context) (driver.Disposable, error) {
						if _, err := p.drv.ProcessMemoryUsage(ctx); err != nil {
							return nil, fmt.Errorf("driver bridge unavailable: %w", err)
						}
						return nil, nil
					},
				},
				{
					Name: "elementDiscovery",
					Run: func(ctx context.Context) (driver.Disposable, error) {
						d := discovery.New(p.drv, p.logger)
						p.mu.Lock()
						p.discovery = d
						p.mu.Unlock()
						return disposeFunc(func() error {
							d.Dispose()
							return nil
						}), nil
					},
				},
			},
		},
	}
}

// ensureBooted runs the staged boot exactly once; concurrent callers
// join the in-flight run and a failed boot is returned from cache.
func (p *PageDiagnostics) ensureBooted(ctx context.Context) error {
	if err := p.boot.Initialize(ctx, p.bootStages()); err != nil {
		return fmt.Errorf("diagnostics initialization failed: %w", err)
	}
	return nil
}

// RunDiagnostics analyzes the page. The override is merged over the
// facade's configuration for this run only; pass a zero value to run as
// configured. The returned Result may be partial: per-step failures land
// in Result.Errors while sibling steps still populate. Only
// initialization failure is returned as an error.
func (p *PageDiagnostics) RunDiagnostics(ctx context.Context, override config.DiagnosticConfig) (*Result, error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, ErrDisposed
	}
	levels := p.levels.UpdateConfig(override)
	p.mu.Unlock()

	cfg := levels.Config()
	if levels.ShouldSkipDiagnostics() {
		p.logger.Debugf("diagnostics skipped at level %s", cfg.Level)
		return &Result{Level: cfg.Level, Skipped: true}, nil
	}

	if ms := cfg.Thresholds.MaxDiagnosticTimeMS; ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	if err := p.ensureBooted(ctx); err != nil {
		return nil, err
	}

	a := analyzer.New(p.drv, analyzer.Options{
		IframeDetection:       levels.ShouldEnableFeature(config.FeatureIframeDetection),
		ModalDetection:        levels.ShouldEnableFeature(config.FeatureModalDetection),
		AccessibilityAnalysis: levels.ShouldEnableFeature(config.FeatureAccessibilityAnalysis),
		Thresholds: analyzer.Thresholds{
			MaxHeapBytes:     cfg.Thresholds.MaxHeapBytes,
			MaxActiveHandles: cfg.Thresholds.MaxActiveHandles,
			Fatal:            cfg.Thresholds.FatalResourceLimits != nil && *cfg.Thresholds.FatalResourceLimits,
		},
	}, p.logger)
	defer a.Dispose()

	report := a.RunParallelAnalysis(ctx)

	result := &Result{
		Level:         cfg.Level,
		Extra:         report.Extra,
		FrameStats:    a.Frames().Statistics(),
		ExecutionTime: report.ExecutionTime,
		Timings:       report.Timings,
		Errors:        report.Errors,
		Warnings:      report.Warnings,
	}
	if levels.ShouldEnableFeature(config.FeaturePageAnalysis) {
		result.Structure = report.Structure
	}
	if levels.ShouldEnableFeature(config.FeaturePerformanceTracking) {
		result.Performance = report.Performance
	}
	return result, nil
}

// FindAlternativeElements searches for elements matching the query when
// a selector has failed, capped by the level's alternatives budget.
func (p *PageDiagnostics) FindAlternativeElements(ctx context.Context, q discovery.Query) (*discovery.Result, error) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, ErrDisposed
	}
	levels := p.levels
	p.mu.Unlock()

	if !levels.ShouldEnableFeature(config.FeatureElementDiscovery) {
		return nil, ErrDiscoveryDisabled
	}

	if err := p.ensureBooted(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	disc := p.discovery
	p.mu.Unlock()
	if disc == nil {
		return nil, ErrDisposed
	}

	budget := levels.MaxAlternatives()
	if q.MaxResults <= 0 || q.MaxResults > budget {
		q.MaxResults = budget
	}
	return disc.FindAlternativeElements(ctx, q)
}

// GetMemoryStats returns the current live-handle accounting.
func (p *PageDiagnostics) GetMemoryStats() MemoryStats {
	p.mu.Lock()
	disposed := p.disposed
	disc := p.discovery
	p.mu.Unlock()

	stats := MemoryStats{
		MaxBatchSize: discovery.DefaultMaxBatchSize,
		IsDisposed:   disposed,
	}
	if disc != nil {
		ds := disc.MemoryStats()
		stats.ActiveHandles = ds.ActiveHandles
		stats.MaxBatchSize = ds.MaxBatchSize
	}
	return stats
}

// Dispose releases every booted component. Idempotent, and safe after a
// partial boot failure: whatever was tracked gets released.
func (p *PageDiagnostics) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.discovery = nil
	p.mu.Unlock()

	p.boot.Dispose()
	p.logger.Debugf("page diagnostics disposed")
}
