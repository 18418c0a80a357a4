package resourcemgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	m := New(map[string]int{"excel": 2, "word": 1}, 5)

	release, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)

	status := m.Status()
	assert.Equal(t, 1, status["excel"].InUse)
	assert.Equal(t, 1, status["excel"].Available)

	release()

	status = m.Status()
	assert.Equal(t, 0, status["excel"].InUse)
	assert.Equal(t, 2, status["excel"].Available)
}

func TestAcquire_UsesDefaultLimit(t *testing.T) {
	m := New(map[string]int{"excel": 2, "word": 1}, 5)
	release, err := m.Acquire(context.Background(), "filesystem")
	require.NoError(t, err)
	defer release()

	assert.Equal(t, 5, m.Status()["filesystem"].Limit)
}

func TestAcquire_SemaphoreReusedAcrossCalls(t *testing.T) {
	m := New(map[string]int{"excel": 2}, 5)
	release1, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)
	release1()

	release2, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)
	release2()

	assert.Len(t, m.semaphores, 1)
}

func TestAcquire_BlocksAtLimit(t *testing.T) {
	m := New(map[string]int{"word": 1}, 5)

	release1, err := m.Acquire(context.Background(), "word")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "word")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release1()
}

func TestAcquire_DifferentModulesIndependent(t *testing.T) {
	m := New(map[string]int{"excel": 2, "word": 1}, 5)

	releaseExcel, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)
	defer releaseExcel()

	releaseWord, err := m.Acquire(context.Background(), "word")
	require.NoError(t, err)
	defer releaseWord()

	status := m.Status()
	assert.Equal(t, 1, status["excel"].InUse)
	assert.Equal(t, 1, status["word"].InUse)
}

func TestStatus_EmptyWhenNothingAcquired(t *testing.T) {
	m := New(nil, 10)
	assert.Empty(t, m.Status())
}

func TestStatus_AfterConcurrentUse(t *testing.T) {
	m := New(map[string]int{"excel": 2}, 5)
	release1, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)
	release2, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)

	status := m.Status()
	assert.Equal(t, 2, status["excel"].InUse)
	assert.Equal(t, 0, status["excel"].Available)

	release1()
	release2()
}

func TestAcquire_ReleaseIsIdempotent(t *testing.T) {
	m := New(map[string]int{"excel": 1}, 5)
	release, err := m.Acquire(context.Background(), "excel")
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, m.Status()["excel"].InUse)
}

func TestAcquire_ConcurrentGoroutinesRespectLimit(t *testing.T) {
	m := New(map[string]int{"excel": 2}, 5)
	var wg sync.WaitGroup
	var maxObserved int64
	var mu sync.Mutex

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "excel")
			require.NoError(t, err)
			mu.Lock()
			if inUse := int64(m.Status()["excel"].InUse); inUse > maxObserved {
				maxObserved = inUse
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			release()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, maxObserved, int64(2))
}
