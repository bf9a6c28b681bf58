// Package discovery searches a remote document for elements matching
// criteria while keeping a hard cap on live remote handles. Every handle
// acquired during a search, matched or rejected, is disposed before the
// call returns.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/entrhq/pagelens/pkg/diagnostics/resources"
	"github.com/entrhq/pagelens/pkg/driver"
	"github.com/entrhq/pagelens/pkg/logging"
)

// DefaultMaxBatchSize caps how many remote handles a single search may
// hold at once, regardless of how many results the caller asked for.
const DefaultMaxBatchSize = 100

// ErrDiscoveryDisposed is returned by searches on a disposed Discovery.
var ErrDiscoveryDisposed = errors.New("element discovery already disposed")

// snapshotAttributes are read for every examined element so matches carry
// enough context to build a usable selector.
var snapshotAttributes = []string{"id", "name", "class", "role", "aria-label", "data-testid"}

// Criteria filters candidate elements. Empty fields are ignored; set
// fields must all match.
type Criteria struct {
	// Text matches when the element's text contains this substring
	// (case-insensitive).
	Text string

	// TextPattern is a glob matched against the element's whole text,
	// e.g. "Submit*" or "*checkout*".
	TextPattern string

	// Role matches the element's role attribute.
	Role string

	// TagName matches the element's tag name (case-insensitive).
	TagName string

	// Attributes matches each named attribute for exact equality.
	Attributes map[string]string
}

// Query describes one alternative-element search.
type Query struct {
	// OriginalSelector is the selector that failed and prompted the
	// search. Informational only; it scopes nothing.
	OriginalSelector string

	// Frame optionally restricts the search to one frame. Nil searches
	// the main document.
	Frame driver.FrameHandle

	// Criteria filters the candidates.
	Criteria Criteria

	// MaxResults caps returned matches. Zero or negative means the
	// batch cap; values above the batch cap are clamped to it.
	MaxResults int
}

// Match is one discovered alternative element. All fields are plain
// values; the remote handle behind them is already disposed.
type Match struct {
	Selector   string
	TagName    string
	Text       string
	Attributes map[string]string
}

// Result carries matches plus everything a caller needs to judge how the
// scan went. Warnings are values so tests can assert on skipped elements
// instead of scraping logs.
type Result struct {
	Matches  []Match
	Scanned  int
	Skipped  int
	Capped   bool
	Warnings []string
}

// MemoryStats reports the discovery's live-handle accounting.
type MemoryStats struct {
	ActiveHandles int
	MaxBatchSize  int
	IsDisposed    bool
}

// Discovery finds alternative elements for failed selectors. Safe for
// concurrent use; each search cleans up after itself even when individual
// elements error mid-scan.
type Discovery struct {
	mu           sync.Mutex
	logger       logging.Logger
	drv          driver.Driver
	handles      *resources.Manager
	maxBatchSize int
	disposed     bool
}

// New creates an element discovery over the given driver.
func New(drv driver.Driver, logger logging.Logger) *Discovery {
	logger = logging.OrNop(logger)
	return &Discovery{
		logger:       logger,
		drv:          drv,
		handles:      resources.NewManager(logger),
		maxBatchSize: DefaultMaxBatchSize,
	}
}

// SetMaxBatchSize overrides the live-handle cap. Values below 1 are
// ignored.
func (d *Discovery) SetMaxBatchSize(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n >= 1 {
		d.maxBatchSize = n
	}
}

// FindAlternativeElements searches for elements matching the query's
// criteria. A single inaccessible element is skipped with a warning; the
// call only fails when the driver itself is unreachable or the query is
// invalid.
func (d *Discovery) FindAlternativeElements(ctx context.Context, q Query) (*Result, error) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil, ErrDiscoveryDisposed
	}
	maxBatch := d.maxBatchSize
	d.mu.Unlock()

	matcher, err := newMatcher(q.Criteria)
	if err != nil {
		return nil, fmt.Errorf("invalid search criteria: %w", err)
	}

	limit := q.MaxResults
	if limit <= 0 || limit > maxBatch {
		limit = maxBatch
	}

	selector := candidateSelector(q.Criteria)
	d.logger.Debugf("searching for alternatives to %q with candidate selector %q", q.OriginalSelector, selector)

	var elements []driver.ElementHandle
	if q.Frame != nil {
		elements, err = d.drv.QueryFrameElements(ctx, q.Frame, selector)
	} else {
		elements, err = d.drv.QueryElements(ctx, selector)
	}
	if err != nil {
		return nil, fmt.Errorf("element query failed: %w", err)
	}

	result := &Result{}

	// Enforce the live-handle cap before touching anything: handles past
	// the cap are released immediately and never examined.
	examined := elements
	if len(elements) > maxBatch {
		examined = elements[:maxBatch]
		result.Capped = true
		for _, h := range elements[maxBatch:] {
			d.safeDispose(h, result)
		}
		d.logger.Debugf("candidate set capped at %d of %d handles", maxBatch, len(elements))
	}

	for i, h := range examined {
		result.Scanned++

		handle, regErr := d.handles.RegisterDisposable(h)
		if regErr != nil {
			// Manager disposed mid-scan; release directly and stop.
			d.safeDispose(h, result)
			for _, rest := range examined[i+1:] {
				d.safeDispose(rest, result)
			}
			return nil, ErrDiscoveryDisposed
		}

		snapshot, accessErr := snapshotElement(h, q.Criteria.Attributes)
		if accessErr != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("element %d inaccessible: %v", i, accessErr))
			d.logger.Warnf("skipping inaccessible element %d: %v", i, accessErr)
		} else if len(result.Matches) < limit && matcher.matches(snapshot) {
			result.Matches = append(result.Matches, Match{
				Selector:   buildSelector(snapshot, i),
				TagName:    snapshot.tagName,
				Text:       snapshot.text,
				Attributes: snapshot.attributes,
			})
		}

		d.handles.Unregister(handle)
		d.safeDispose(h, result)
	}

	return result, nil
}

// MemoryStats returns the current live-handle accounting.
func (d *Discovery) MemoryStats() MemoryStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return MemoryStats{
		ActiveHandles: d.handles.RegisteredCount(),
		MaxBatchSize:  d.maxBatchSize,
		IsDisposed:    d.disposed,
	}
}

// Dispose releases the discovery's resource tracking. Idempotent.
func (d *Discovery) Dispose() {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	d.mu.Unlock()

	d.handles.DisposeAll()
}

// safeDispose releases a handle, recording rather than propagating any
// failure. Disposal errors never abort an ongoing scan.
func (d *Discovery) safeDispose(h driver.ElementHandle, result *Result) {
	if err := h.Dispose(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("handle disposal failed: %v", err))
		d.logger.Warnf("handle disposal failed: %v", err)
	}
}

// elementSnapshot holds everything read from a handle before it is
// released.
type elementSnapshot struct {
	tagName    string
	text       string
	attributes map[string]string
}

// snapshotElement reads tag, text, the standard attribute set, and any
// criteria attributes from a live handle. Any access error aborts the
// snapshot; the caller skips the element.
func snapshotElement(h driver.ElementHandle, criteriaAttrs map[string]string) (elementSnapshot, error) {
	var snap elementSnapshot

	tag, err := h.TagName()
	if err != nil {
		return snap, fmt.Errorf("tag name: %w", err)
	}
	text, err := h.Text()
	if err != nil {
		return snap, fmt.Errorf("text: %w", err)
	}

	snap.tagName = strings.ToLower(tag)
	snap.text = text
	snap.attributes = make(map[string]string)

	names := make([]string, 0, len(snapshotAttributes)+len(criteriaAttrs))
	names = append(names, snapshotAttributes...)
	for name := range criteriaAttrs {
		if !isSnapshotAttribute(name) {
			names = append(names, name)
		}
	}

	for _, name := range names {
		value, err := h.Attribute(name)
		if err != nil {
			return snap, fmt.Errorf("attribute %q: %w", name, err)
		}
		if value != "" {
			snap.attributes[name] = value
		}
	}
	return snap, nil
}

func isSnapshotAttribute(name string) bool {
	for _, std := range snapshotAttributes {
		if std == name {
			return true
		}
	}
	return false
}

// matcher is a compiled Criteria.
type matcher struct {
	criteria Criteria
	pattern  glob.Glob
}

func newMatcher(c Criteria) (*matcher, error) {
	m := &matcher{criteria: c}
	if c.TextPattern != "" {
		compiled, err := glob.Compile(c.TextPattern)
		if err != nil {
			return nil, fmt.Errorf("text pattern %q: %w", c.TextPattern, err)
		}
		m.pattern = compiled
	}
	return m, nil
}

func (m *matcher) matches(snap elementSnapshot) bool {
	c := m.criteria

	if c.TagName != "" && !strings.EqualFold(c.TagName, snap.tagName) {
		return false
	}
	if c.Role != "" && snap.attributes["role"] != c.Role {
		return false
	}
	if c.Text != "" && !strings.Contains(strings.ToLower(snap.text), strings.ToLower(c.Text)) {
		return false
	}
	if m.pattern != nil && !m.pattern.Match(snap.text) {
		return false
	}
	for name, want := range c.Attributes {
		if snap.attributes[name] != want {
			return false
		}
	}
	return true
}

// candidateSelector narrows the driver query as far as the criteria
// allow. Text criteria can't be pushed into a CSS selector, so text-only
// searches scan every element.
func candidateSelector(c Criteria) string {
	var sb strings.Builder

	if c.TagName != "" {
		sb.WriteString(strings.ToLower(c.TagName))
	}
	if c.Role != "" {
		fmt.Fprintf(&sb, "[role=%q]", c.Role)
	}
	names := make([]string, 0, len(c.Attributes))
	for name := range c.Attributes {
		if name != "role" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "[%s=%q]", name, c.Attributes[name])
	}
	if sb.Len() == 0 {
		return "*"
	}
	return sb.String()
}

// buildSelector produces a selector for a matched element, preferring
// stable attributes and falling back to a positional nth expression.
func buildSelector(snap elementSnapshot, index int) string {
	if id := snap.attributes["id"]; id != "" {
		return "#" + id
	}
	if testID := snap.attributes["data-testid"]; testID != "" {
		return fmt.Sprintf("[data-testid=%q]", testID)
	}
	if name := snap.attributes["name"]; name != "" {
		return fmt.Sprintf("%s[name=%q]", snap.tagName, name)
	}
	return fmt.Sprintf("%s >> nth=%d", snap.tagName, index)
}
