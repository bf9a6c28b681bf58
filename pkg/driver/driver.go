// Package driver defines the narrow capability surface pagelens needs from
// a remote automation driver. Managers depend on these interfaces, never on
// a concrete driver type, so any driver that can hand out disposable
// element and frame handles can be diagnosed.
package driver

import "context"

// Disposable is anything holding a remote resource that must be released.
type Disposable interface {
	Dispose() error
}

// ElementHandle is a live reference to a remote DOM element. The backing
// element may disappear at any time; accessors return an error when it has.
// Every handle must be disposed exactly once.
type ElementHandle interface {
	Disposable

	// TagName returns the lowercase tag name of the element.
	TagName() (string, error)

	// Text returns the element's visible text content.
	Text() (string, error)

	// Attribute returns the value of the named attribute. A missing
	// attribute is ("", nil), not an error.
	Attribute(name string) (string, error)
}

// FrameHandle is a stable reference to a frame in the page tree. The
// dynamic type must be comparable: FrameReferenceManager keys its records
// by handle identity, not by URL or name.
type FrameHandle interface {
	// URL returns the last known document URL of the frame.
	URL() string

	// IsDetached reports whether the frame's backing document has been
	// removed from the live page tree.
	IsDetached() bool
}

// MemoryUsage is a point-in-time sample of the driver process's memory.
type MemoryUsage struct {
	HeapUsed  uint64
	HeapTotal uint64
	External  uint64
	RSS       uint64
}

// Driver is the remote-document capability surface consumed by the
// diagnostic subsystem. All methods may suspend on the wire; callers pass
// a context and must be prepared for the document to change underneath
// them between calls.
type Driver interface {
	// QueryElements returns handles for all elements in the main document
	// matching the CSS selector. The caller owns disposal of every handle.
	QueryElements(ctx context.Context, selector string) ([]ElementHandle, error)

	// QueryFrameElements is QueryElements scoped to a specific frame.
	QueryFrameElements(ctx context.Context, frame FrameHandle, selector string) ([]ElementHandle, error)

	// EnumerateFrames returns a handle for every frame currently in the
	// page tree, including the main frame and nested iframes.
	EnumerateFrames(ctx context.Context) ([]FrameHandle, error)

	// Content returns the serialized HTML of the main document.
	Content(ctx context.Context) (string, error)

	// ProcessMemoryUsage samples the driver process's memory.
	ProcessMemoryUsage(ctx context.Context) (MemoryUsage, error)
}
