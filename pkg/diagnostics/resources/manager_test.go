package resources

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDisposable counts disposals and optionally fails.
type fakeDisposable struct {
	disposals int32
	err       error
}

func (f *fakeDisposable) Dispose() error {
	atomic.AddInt32(&f.disposals, 1)
	return f.err
}

func (f *fakeDisposable) count() int {
	return int(atomic.LoadInt32(&f.disposals))
}

func TestManager_RegisterAndDisposeAll(t *testing.T) {
	m := NewManager(nil)

	items := make([]*fakeDisposable, 25)
	for i := range items {
		items[i] = &fakeDisposable{}
		_, err := m.RegisterDisposable(items[i])
		require.NoError(t, err)
	}

	assert.Equal(t, 25, m.RegisteredCount())

	report := m.DisposeAll()
	assert.Equal(t, 25, report.Disposed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, report.Batches) // 10 + 10 + 5
	assert.Equal(t, 0, m.RegisteredCount())

	for i, item := range items {
		assert.Equal(t, 1, item.count(), "item %d disposed exactly once", i)
	}
}

func TestManager_DisposeAllWithFailures(t *testing.T) {
	m := NewManager(nil)

	// Every disposal fails; tracking must still be emptied.
	for i := 0; i < 12; i++ {
		_, err := m.RegisterDisposable(&fakeDisposable{err: errors.New("remote handle gone")})
		require.NoError(t, err)
	}

	report := m.DisposeAll()
	assert.Equal(t, 0, report.Disposed)
	assert.Equal(t, 12, report.Failed)
	assert.Equal(t, 0, m.RegisteredCount())
	assert.Len(t, report.Outcomes, 12)
	for _, outcome := range report.Outcomes {
		assert.Error(t, outcome.Err)
	}
}

func TestManager_DisposeAllIdempotent(t *testing.T) {
	m := NewManager(nil)
	item := &fakeDisposable{}
	_, err := m.RegisterDisposable(item)
	require.NoError(t, err)

	first := m.DisposeAll()
	second := m.DisposeAll()

	assert.Equal(t, 1, first.Disposed)
	assert.Equal(t, 0, second.Disposed)
	assert.Equal(t, 0, second.Batches)
	assert.Equal(t, 1, item.count(), "no double disposal")
	assert.True(t, m.IsDisposed())
}

func TestManager_RegisterAfterDispose(t *testing.T) {
	m := NewManager(nil)
	m.DisposeAll()

	_, err := m.RegisterDisposable(&fakeDisposable{})
	assert.ErrorIs(t, err, ErrManagerDisposed)
}

func TestManager_Unregister(t *testing.T) {
	m := NewManager(nil)
	item := &fakeDisposable{}
	handle, err := m.RegisterDisposable(item)
	require.NoError(t, err)

	assert.True(t, m.Unregister(handle))
	assert.False(t, m.Unregister(handle), "second unregister of same handle")
	assert.False(t, m.Unregister(Handle("no-such-handle")))

	report := m.DisposeAll()
	assert.Equal(t, 0, report.Disposed)
	assert.Equal(t, 0, item.count(), "unregistered resource is not disposed")
}

func TestManager_CustomStrategy(t *testing.T) {
	m := NewManager(nil)

	var released []string
	err := m.RegisterStrategy("release-session", func(resource interface{}) error {
		released = append(released, resource.(string))
		return nil
	})
	require.NoError(t, err)

	_, err = m.Register("session-a", "release-session")
	require.NoError(t, err)

	report := m.DisposeAll()
	assert.Equal(t, 1, report.Disposed)
	assert.Equal(t, []string{"session-a"}, released)
}

func TestManager_UnknownStrategy(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Register("anything", "no-such-strategy")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown disposal strategy")
}

func TestManager_DisposalPanicIsContained(t *testing.T) {
	m := NewManager(nil)
	err := m.RegisterStrategy("panics", func(resource interface{}) error {
		panic("boom")
	})
	require.NoError(t, err)

	_, err = m.Register(1, "panics")
	require.NoError(t, err)
	ok := &fakeDisposable{}
	_, err = m.RegisterDisposable(ok)
	require.NoError(t, err)

	report := m.DisposeAll()
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Disposed)
	assert.Equal(t, 1, ok.count())
}

func TestManager_ConcurrentRegisterAndDispose(t *testing.T) {
	m := NewManager(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// Registrations racing DisposeAll either land in the
			// snapshot or fail with ErrManagerDisposed; both are valid.
			_, err := m.RegisterDisposable(&fakeDisposable{})
			if err != nil {
				assert.ErrorIs(t, err, ErrManagerDisposed)
			}
			if n == 25 {
				m.DisposeAll()
			}
		}(i)
	}
	wg.Wait()

	m.DisposeAll()
	assert.Equal(t, 0, m.RegisteredCount())
}

func TestManager_DisposeAllRacesStrategyRegistration(t *testing.T) {
	m := NewManager(nil)

	items := make([]*fakeDisposable, 200)
	for i := range items {
		items[i] = &fakeDisposable{}
		_, err := m.RegisterDisposable(items[i])
		require.NoError(t, err)
	}

	// Strategy registration keeps writing while DisposeAll resolves its
	// snapshot; both touch the strategies map and must stay serialized.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			err := m.RegisterStrategy(fmt.Sprintf("strategy-%d", i), func(resource interface{}) error {
				return nil
			})
			assert.NoError(t, err)
		}
	}()

	report := m.DisposeAll()
	wg.Wait()

	assert.Equal(t, 200, report.Disposed)
	assert.Equal(t, 0, report.Failed)
	for i, item := range items {
		assert.Equal(t, 1, item.count(), "item %d disposed exactly once", i)
	}
}

func TestManager_PeakRegisteredCount(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 0, m.PeakRegisteredCount())

	handles := make([]Handle, 3)
	for i := range handles {
		h, err := m.RegisterDisposable(&fakeDisposable{})
		require.NoError(t, err)
		handles[i] = h
	}
	assert.Equal(t, 3, m.PeakRegisteredCount())

	// Unregistering lowers the live count but never the high-water mark.
	m.Unregister(handles[2])
	assert.Equal(t, 2, m.RegisteredCount())
	assert.Equal(t, 3, m.PeakRegisteredCount())

	_, err := m.RegisterDisposable(&fakeDisposable{})
	require.NoError(t, err)
	assert.Equal(t, 3, m.PeakRegisteredCount())

	m.DisposeAll()
	assert.Equal(t, 0, m.RegisteredCount())
	assert.Equal(t, 3, m.PeakRegisteredCount(), "peak survives disposal")
}

func TestManager_BatchSizeOverride(t *testing.T) {
	m := NewManager(nil)
	m.SetBatchSize(3)
	m.SetBatchSize(0) // ignored

	for i := 0; i < 7; i++ {
		_, err := m.RegisterDisposable(&fakeDisposable{})
		require.NoError(t, err)
	}

	report := m.DisposeAll()
	assert.Equal(t, 3, report.Batches) // 3 + 3 + 1
	assert.Equal(t, 7, report.Disposed)
}

func TestManager_ManyResourcesStress(t *testing.T) {
	m := NewManager(nil)

	var failures int
	for i := 0; i < 200; i++ {
		var err error
		if i%5 == 0 {
			_, err = m.RegisterDisposable(&fakeDisposable{err: fmt.Errorf("handle %d stale", i)})
			failures++
		} else {
			_, err = m.RegisterDisposable(&fakeDisposable{})
		}
		require.NoError(t, err)
	}

	report := m.DisposeAll()
	assert.Equal(t, failures, report.Failed)
	assert.Equal(t, 200-failures, report.Disposed)
	assert.Equal(t, 20, report.Batches)
	assert.Equal(t, 0, m.RegisteredCount())
}
