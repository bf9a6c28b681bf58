package analyzer

import (
	"context"
	"runtime"
	"time"

	"github.com/entrhq/pagelens/pkg/driver"
)

// Snapshot is a point-in-time view of process memory and handle pressure.
// HandleCount is the handle high-water mark as of the snapshot, not the
// instantaneous live count. Snapshots are values: created once, never
// mutated.
type Snapshot struct {
	Timestamp   time.Time
	HeapUsed    uint64
	HeapTotal   uint64
	External    uint64
	RSS         uint64
	HandleCount int
}

// TaskTiming is the instrumentation attached to every analysis task,
// populated whether the task succeeded or failed.
type TaskTiming struct {
	// Duration is wall-clock time from task start to settle.
	Duration time.Duration

	// MemoryDelta is heap-used growth across the task. Negative when a
	// GC ran mid-task.
	MemoryDelta int64
}

// snapshotter takes snapshots against a driver, falling back to local
// runtime numbers when the driver cannot report process memory.
type snapshotter struct {
	drv         driver.Driver
	handleCount func() int
}

func (s *snapshotter) take(ctx context.Context) Snapshot {
	snap := Snapshot{Timestamp: time.Now()}
	if s.handleCount != nil {
		snap.HandleCount = s.handleCount()
	}

	if s.drv != nil {
		if usage, err := s.drv.ProcessMemoryUsage(ctx); err == nil {
			snap.HeapUsed = usage.HeapUsed
			snap.HeapTotal = usage.HeapTotal
			snap.External = usage.External
			snap.RSS = usage.RSS
			return snap
		}
	}

	// Driver can't report; fall back to this process's own heap.
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	snap.HeapUsed = stats.HeapAlloc
	snap.HeapTotal = stats.HeapSys
	snap.RSS = stats.Sys
	return snap
}

// timingBetween derives task instrumentation from two snapshots.
func timingBetween(before, after Snapshot) TaskTiming {
	return TaskTiming{
		Duration:    after.Timestamp.Sub(before.Timestamp),
		MemoryDelta: int64(after.HeapUsed) - int64(before.HeapUsed),
	}
}
