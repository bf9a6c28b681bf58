// Package frames tracks frame identities across navigation and
// detachment. The manager holds back-references only: frame lifetime is
// owned by the remote driver, and the manager merely reacts to what it
// observes.
package frames

import (
	"sync"
	"time"

	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

// Record is the last known snapshot of a tracked frame. Records are
// returned by value; mutating a returned Record does not affect tracking.
type Record struct {
	// URL is the document URL at the last observation.
	URL string

	// Detached reports whether the frame has left the live page tree.
	Detached bool

	// ElementCount is the element census from the last count update.
	ElementCount int

	// FirstSeenAt is when the frame was first tracked.
	FirstSeenAt time.Time

	// LastSeenAt is updated on every re-observation.
	LastSeenAt time.Time
}

// Statistics summarizes the tracking set.
type Statistics struct {
	// ActiveCount is the number of tracked frames not marked detached.
	ActiveCount int

	// TotalTracked counts every frame ever tracked since construction
	// or the last Dispose, including detached and pruned ones.
	TotalTracked int
}

// Manager tracks frames by handle identity. Handles must have a
// comparable dynamic type; the driver contract guarantees it. All methods
// are safe for concurrent use.
type Manager struct {
	mu           sync.RWMutex
	logger       logging.Logger
	records      map[driver.FrameHandle]*Record
	totalTracked int
	clock        func() time.Time
}

// NewManager creates an empty frame reference manager.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{
		logger:  logging.OrNop(logger),
		records: make(map[driver.FrameHandle]*Record),
		clock:   time.Now,
	}
}

// TrackFrame starts tracking a frame, or refreshes its snapshot when it is
// already tracked. Tracking is idempotent: re-tracking updates LastSeenAt
// and the URL, and clears a stale detached mark if the driver reports the
// frame live again.
func (m *Manager) TrackFrame(frame driver.FrameHandle) {
	if frame == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if rec, ok := m.records[frame]; ok {
		rec.LastSeenAt = now
		rec.URL = frame.URL()
		rec.Detached = frame.IsDetached()
		return
	}

	m.records[frame] = &Record{
		URL:         frame.URL(),
		Detached:    frame.IsDetached(),
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	m.totalTracked++
	m.logger.Debugf("tracking frame %s (total tracked: %d)", frame.URL(), m.totalTracked)
}

// UpdateElementCount records the element census for a frame. Untracked
// frames are tracked first, so a census never silently disappears.
func (m *Manager) UpdateElementCount(frame driver.FrameHandle, count int) {
	if frame == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[frame]
	if !ok {
		now := m.clock()
		rec = &Record{
			URL:         frame.URL(),
			FirstSeenAt: now,
		}
		m.records[frame] = rec
		m.totalTracked++
	}
	rec.ElementCount = count
	rec.LastSeenAt = m.clock()
}

// MarkDetached flags a frame as detached without removing its record.
// Querying a detached frame afterwards is valid and returns the last
// known snapshot.
func (m *Manager) MarkDetached(frame driver.FrameHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[frame]; ok && !rec.Detached {
		rec.Detached = true
		m.logger.Debugf("frame %s detached", rec.URL)
	}
}

// FrameMetadata returns the last known snapshot for a frame. The second
// return is false when the frame was never tracked or has been pruned.
func (m *Manager) FrameMetadata(frame driver.FrameHandle) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[frame]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Statistics returns active and lifetime tracking counts.
func (m *Manager) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{TotalTracked: m.totalTracked}
	for _, rec := range m.records {
		if !rec.Detached {
			stats.ActiveCount++
		}
	}
	return stats
}

// SyncFrames reconciles the tracking set against a fresh enumeration from
// the driver. Enumerated frames are tracked or refreshed; tracked frames
// missing from the enumeration are marked detached. Returns the number of
// frames newly marked detached.
func (m *Manager) SyncFrames(enumerated []driver.FrameHandle) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	seen := make(map[driver.FrameHandle]bool, len(enumerated))

	for _, frame := range enumerated {
		if frame == nil {
			continue
		}
		seen[frame] = true
		if rec, ok := m.records[frame]; ok {
			rec.LastSeenAt = now
			rec.URL = frame.URL()
			rec.Detached = frame.IsDetached()
			continue
		}
		m.records[frame] = &Record{
			URL:         frame.URL(),
			Detached:    frame.IsDetached(),
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		m.totalTracked++
	}

	detached := 0
	for frame, rec := range m.records {
		if !seen[frame] && !rec.Detached {
			rec.Detached = true
			detached++
		}
	}
	if detached > 0 {
		m.logger.Debugf("frame sync: %d frame(s) newly detached", detached)
	}
	return detached
}

// PruneDetached removes records for detached frames and returns how many
// were removed. TotalTracked is unaffected.
func (m *Manager) PruneDetached() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for frame, rec := range m.records {
		if rec.Detached {
			delete(m.records, frame)
			pruned++
		}
	}
	return pruned
}

// Dispose clears all tracking. The frames themselves are untouched; the
// manager never owned them. Safe to call multiple times.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = make(map[driver.FrameHandle]*Record)
	m.totalTracked = 0
}
