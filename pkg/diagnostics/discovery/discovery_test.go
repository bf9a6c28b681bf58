package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagelens/pkg/driver"
)

// fakeElement implements driver.ElementHandle backed by plain values.
type fakeElement struct {
	tag        string
	text       string
	attrs      map[string]string
	accessErr  error
	disposeErr error
	disposals  int32
}

func (e *fakeElement) TagName() (string, error) {
	if e.accessErr != nil {
		return "", e.accessErr
	}
	return e.tag, nil
}

func (e *fakeElement) Text() (string, error) {
	if e.accessErr != nil {
		return "", e.accessErr
	}
	return e.text, nil
}

func (e *fakeElement) Attribute(name string) (string, error) {
	if e.accessErr != nil {
		return "", e.accessErr
	}
	return e.attrs[name], nil
}

func (e *fakeElement) Dispose() error {
	atomic.AddInt32(&e.disposals, 1)
	return e.disposeErr
}

func (e *fakeElement) disposed() bool {
	return atomic.LoadInt32(&e.disposals) > 0
}

// fakeDriver serves canned elements for any selector.
type fakeDriver struct {
	elements     []driver.ElementHandle
	queryErr     error
	lastSelector string
}

func (d *fakeDriver) QueryElements(ctx context.Context, selector string) ([]driver.ElementHandle, error) {
	d.lastSelector = selector
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return d.elements, nil
}

func (d *fakeDriver) QueryFrameElements(ctx context.Context, frame driver.FrameHandle, selector string) ([]driver.ElementHandle, error) {
	return d.QueryElements(ctx, selector)
}

func (d *fakeDriver) EnumerateFrames(ctx context.Context) ([]driver.FrameHandle, error) {
	return nil, nil
}

func (d *fakeDriver) Content(ctx context.Context) (string, error) {
	return "", nil
}

func (d *fakeDriver) ProcessMemoryUsage(ctx context.Context) (driver.MemoryUsage, error) {
	return driver.MemoryUsage{}, nil
}

func buttons(n int) []*fakeElement {
	elems := make([]*fakeElement, n)
	for i := range elems {
		elems[i] = &fakeElement{
			tag:   "button",
			text:  fmt.Sprintf("Submit order %d", i),
			attrs: map[string]string{"role": "button"},
		}
	}
	return elems
}

func asHandles(elems []*fakeElement) []driver.ElementHandle {
	handles := make([]driver.ElementHandle, len(elems))
	for i, e := range elems {
		handles[i] = e
	}
	return handles
}

func TestFindAlternativeElements_MatchesCriteria(t *testing.T) {
	elems := []*fakeElement{
		{tag: "button", text: "Submit", attrs: map[string]string{"id": "submit-btn", "role": "button"}},
		{tag: "a", text: "Submit feedback", attrs: map[string]string{"role": "link"}},
		{tag: "button", text: "Cancel", attrs: map[string]string{"role": "button"}},
	}
	drv := &fakeDriver{elements: asHandles(elems)}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		OriginalSelector: "#old-submit",
		Criteria:         Criteria{TagName: "button", Text: "submit"},
	})
	require.NoError(t, err)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "#submit-btn", result.Matches[0].Selector)
	assert.Equal(t, "button", result.Matches[0].TagName)
	assert.Equal(t, 3, result.Scanned)
	assert.Empty(t, result.Warnings)

	for i, e := range elems {
		assert.True(t, e.disposed(), "element %d disposed", i)
	}
}

func TestFindAlternativeElements_GlobPattern(t *testing.T) {
	elems := []*fakeElement{
		{tag: "button", text: "Submit order"},
		{tag: "button", text: "Cancel order"},
		{tag: "button", text: "Submit"},
	}
	drv := &fakeDriver{elements: asHandles(elems)}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria: Criteria{TextPattern: "Submit*"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Matches, 2)
}

func TestFindAlternativeElements_InvalidPattern(t *testing.T) {
	d := New(&fakeDriver{}, nil)
	_, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria: Criteria{TextPattern: "[unclosed"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid search criteria")
}

func TestFindAlternativeElements_BatchCap(t *testing.T) {
	elems := buttons(250)
	drv := &fakeDriver{elements: asHandles(elems)}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria:   Criteria{TagName: "button"},
		MaxResults: 500,
	})
	require.NoError(t, err)

	assert.True(t, result.Capped)
	assert.Len(t, result.Matches, DefaultMaxBatchSize)
	assert.Equal(t, DefaultMaxBatchSize, result.Scanned)

	// Every handle, examined or excess, must be released.
	for i, e := range elems {
		assert.True(t, e.disposed(), "element %d disposed", i)
	}
	assert.Equal(t, 0, d.MemoryStats().ActiveHandles)
}

func TestFindAlternativeElements_AccessErrorSkipsElement(t *testing.T) {
	elems := []*fakeElement{
		{tag: "button", text: "Submit"},
		{tag: "button", accessErr: errors.New("node detached")},
		{tag: "button", text: "Submit again"},
	}
	drv := &fakeDriver{elements: asHandles(elems)}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria: Criteria{TagName: "button"},
	})
	require.NoError(t, err)

	assert.Len(t, result.Matches, 2)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "inaccessible")
	assert.True(t, elems[1].disposed(), "skipped element still disposed")
}

func TestFindAlternativeElements_DisposalErrorIsWarning(t *testing.T) {
	elems := []*fakeElement{
		{tag: "button", text: "Submit", disposeErr: errors.New("already released")},
		{tag: "button", text: "Submit too"},
	}
	drv := &fakeDriver{elements: asHandles(elems)}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria: Criteria{TagName: "button"},
	})
	require.NoError(t, err, "disposal failures never propagate")
	assert.Len(t, result.Matches, 2, "failing disposal does not reject the match")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "disposal failed")
}

func TestFindAlternativeElements_DriverUnreachable(t *testing.T) {
	drv := &fakeDriver{queryErr: errors.New("connection refused")}
	d := New(drv, nil)

	_, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria: Criteria{TagName: "button"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "element query failed")
}

func TestFindAlternativeElements_AttributeEquality(t *testing.T) {
	elems := []*fakeElement{
		{tag: "input", attrs: map[string]string{"type": "submit", "name": "go"}},
		{tag: "input", attrs: map[string]string{"type": "text"}},
	}
	drv := &fakeDriver{elements: asHandles(elems)}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria: Criteria{TagName: "input", Attributes: map[string]string{"type": "submit"}},
	})
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, `input[name="go"]`, result.Matches[0].Selector)
	assert.Contains(t, drv.lastSelector, `[type="submit"]`)
}

func TestFindAlternativeElements_MaxResultsRespected(t *testing.T) {
	drv := &fakeDriver{elements: asHandles(buttons(20))}
	d := New(drv, nil)

	result, err := d.FindAlternativeElements(context.Background(), Query{
		Criteria:   Criteria{TagName: "button"},
		MaxResults: 5,
	})
	require.NoError(t, err)
	assert.Len(t, result.Matches, 5)
	assert.Equal(t, 20, result.Scanned, "scan continues to release remaining handles")
}

func TestDiscovery_Dispose(t *testing.T) {
	d := New(&fakeDriver{}, nil)
	d.Dispose()
	d.Dispose() // idempotent

	assert.True(t, d.MemoryStats().IsDisposed)

	_, err := d.FindAlternativeElements(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrDiscoveryDisposed)
}

func TestCandidateSelector(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		want     string
	}{
		{"empty criteria scans everything", Criteria{}, "*"},
		{"tag only", Criteria{TagName: "Button"}, "button"},
		{"tag and role", Criteria{TagName: "div", Role: "dialog"}, `div[role="dialog"]`},
		{"role only", Criteria{Role: "button"}, `[role="button"]`},
		{"text cannot narrow the query", Criteria{Text: "Submit"}, "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidateSelector(tt.criteria))
		})
	}
}
