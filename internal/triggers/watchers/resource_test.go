package watchers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ResourceWatcher samples real CPU/memory/disk usage, so these tests only
// exercise construction defaults and lifecycle, not specific threshold
// crossings — see the equivalent note on ProcessWatcher's tests.
func TestNewResourceWatcher_DefaultsPathToRoot(t *testing.T) {
	w := NewResourceWatcher("t1", ResourceDisk, 90, "", nil)
	assert.Equal(t, "/", w.path)
}

func TestResourceWatcher_StartStop_DoesNotHang(t *testing.T) {
	w := NewResourceWatcher("t1", ResourceMemory, 99.999, "/", nil)
	w.Start()
	assert.True(t, w.IsRunning())

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, w.IsRunning())
}
