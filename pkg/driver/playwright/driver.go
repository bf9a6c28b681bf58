package playwright

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pw "github.com/playwright-community/playwright-go"

	"github.com/entrhq/pagelens/pkg/driver"
)

// memoryScript samples the page's JS heap. performance.memory is a
// Chromium extension; other engines report zeros.
const memoryScript = `() => {
	const m = performance.memory || {};
	return {
		usedJSHeapSize: m.usedJSHeapSize || 0,
		totalJSHeapSize: m.totalJSHeapSize || 0,
	};
}`

// Driver implements driver.Driver over a live playwright page. Frame
// wrappers are cached so repeated enumerations hand back the same handle
// identity for the same underlying frame.
type Driver struct {
	mu     sync.Mutex
	page   pw.Page
	frames map[pw.Frame]*frameHandle
}

// NewDriver wraps a playwright page.
func NewDriver(page pw.Page) *Driver {
	return &Driver{
		page:   page,
		frames: make(map[pw.Frame]*frameHandle),
	}
}

// QueryElements returns live handles for every element matching the
// selector in the main document. Callers own disposal.
func (d *Driver) QueryElements(ctx context.Context, selector string) ([]driver.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handles, err := d.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("selector query failed: %w", err)
	}
	return wrapElements(handles), nil
}

// QueryFrameElements returns live handles for matching elements inside
// the given frame.
func (d *Driver) QueryFrameElements(ctx context.Context, frame driver.FrameHandle, selector string) ([]driver.ElementHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, ok := frame.(*frameHandle)
	if !ok {
		return nil, fmt.Errorf("frame handle does not belong to this driver")
	}
	handles, err := fh.frame.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("frame selector query failed: %w", err)
	}
	return wrapElements(handles), nil
}

// EnumerateFrames returns a handle per frame currently attached to the
// page, including the main frame.
func (d *Driver) EnumerateFrames(ctx context.Context) ([]driver.FrameHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := d.page.Frames()

	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]driver.FrameHandle, 0, len(frames))
	for _, f := range frames {
		h, ok := d.frames[f]
		if !ok {
			h = &frameHandle{frame: f}
			d.frames[f] = h
		}
		out = append(out, h)
	}
	return out, nil
}

// Content serializes the main document to HTML.
func (d *Driver) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := d.page.Content()
	if err != nil {
		return "", fmt.Errorf("content extraction failed: %w", err)
	}
	return content, nil
}

// ProcessMemoryUsage samples the renderer's JS heap.
func (d *Driver) ProcessMemoryUsage(ctx context.Context) (driver.MemoryUsage, error) {
	if err := ctx.Err(); err != nil {
		return driver.MemoryUsage{}, err
	}
	value, err := d.page.Evaluate(memoryScript)
	if err != nil {
		return driver.MemoryUsage{}, fmt.Errorf("memory sample failed: %w", err)
	}

	var usage driver.MemoryUsage
	if fields, ok := value.(map[string]interface{}); ok {
		usage.HeapUsed = asUint64(fields["usedJSHeapSize"])
		usage.HeapTotal = asUint64(fields["totalJSHeapSize"])
	}
	return usage, nil
}

func wrapElements(handles []pw.ElementHandle) []driver.ElementHandle {
	out := make([]driver.ElementHandle, len(handles))
	for i, h := range handles {
		out[i] = &elementHandle{h: h}
	}
	return out
}

// asUint64 converts the loosely-typed values Evaluate returns.
func asUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return uint64(n)
		}
	case int:
		if n > 0 {
			return uint64(n)
		}
	case int64:
		if n > 0 {
			return uint64(n)
		}
	}
	return 0
}

// elementHandle adapts a playwright element handle.
type elementHandle struct {
	h pw.ElementHandle
}

func (e *elementHandle) TagName() (string, error) {
	value, err := e.h.Evaluate("el => el.tagName")
	if err != nil {
		return "", fmt.Errorf("tag name evaluation failed: %w", err)
	}
	tag, _ := value.(string)
	return strings.ToLower(tag), nil
}

func (e *elementHandle) Text() (string, error) {
	return e.h.TextContent()
}

func (e *elementHandle) Attribute(name string) (string, error) {
	return e.h.GetAttribute(name)
}

func (e *elementHandle) Dispose() error {
	return e.h.Dispose()
}

// frameHandle adapts a playwright frame. Pointer identity makes it a
// stable map key for frame tracking.
type frameHandle struct {
	frame pw.Frame
}

func (f *frameHandle) URL() string {
	return f.frame.URL()
}

func (f *frameHandle) IsDetached() bool {
	return f.frame.IsDetached()
}
