package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := New()
	defer d.Shutdown()

	var last atomic.Int64
	var runs atomic.Int32
	for i := int64(1); i <= 5; i++ {
		v := i
		d.Schedule(func() {
			last.Store(v)
			runs.Add(1)
		}, 20*time.Millisecond)
	}
	assert.True(t, d.Pending())

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(5), last.Load(), "latest snapshot wins")
	assert.False(t, d.Pending())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestDebouncer_ShutdownCancels(t *testing.T) {
	d := New()
	var runs atomic.Int32
	d.Schedule(func() { runs.Add(1) }, 20*time.Millisecond)

	d.Shutdown()
	d.Schedule(func() { runs.Add(1) }, time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, runs.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_ShutdownWaitsForRunningTask(t *testing.T) {
	d := New()
	started := make(chan struct{})
	var done atomic.Bool
	d.Schedule(func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	}, time.Millisecond)

	<-started
	d.Shutdown()
	assert.True(t, done.Load())
}

func TestDebouncer_Flush(t *testing.T) {
	d := New()
	defer d.Shutdown()

	var runs atomic.Int32
	assert.False(t, d.Flush(), "nothing pending")

	d.Schedule(func() { runs.Add(1) }, time.Hour)
	assert.True(t, d.Flush())
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Pending())
}

func TestDebouncer_StaleTimerDoesNotRun(t *testing.T) {
	d := New()
	defer d.Shutdown()

	var stale atomic.Int32
	d.Schedule(func() { stale.Add(1) }, time.Hour)
	gen := d.gen
	d.Schedule(func() {}, time.Hour)

	// A timer that fired just before being replaced carries the old generation.
	d.fire(gen)
	assert.Zero(t, stale.Load())
	assert.True(t, d.Pending())
}
