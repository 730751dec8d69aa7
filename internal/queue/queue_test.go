package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"burrow/internal/logging"
)

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	const limit = 3
	const tasks = 20

	q := New(limit, logging.Nop())

	var running, peak, total atomic.Int64
	var wg sync.WaitGroup
	wg.Add(tasks)

	for i := 0; i < tasks; i++ {
		q.Enqueue(fmt.Sprintf("task-%d", i), func() {
			defer wg.Done()
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			total.Add(1)
		})
	}

	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int64(limit), "observed concurrency above limit")
	assert.Equal(t, int64(tasks), total.Load(), "every task runs exactly once")
	assert.Equal(t, 0, q.PendingLen())
}

func TestDuplicatePendingIDIsNoOp(t *testing.T) {
	q := New(1, logging.Nop())

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	require.True(t, q.Enqueue("blocker", func() {
		defer wg.Done()
		<-release
	}))

	var runs atomic.Int64
	wg.Add(1)
	require.True(t, q.Enqueue("dup", func() {
		defer wg.Done()
		runs.Add(1)
	}))
	assert.False(t, q.Enqueue("dup", func() { runs.Add(1) }), "duplicate pending id must be dropped")

	close(release)
	wg.Wait()
	assert.Equal(t, int64(1), runs.Load())
}

func TestRunningIDCanBeResubmitted(t *testing.T) {
	// Idempotence guards double submission while waiting, not re-runs after
	// the task was admitted.
	q := New(2, logging.Nop())

	var wg sync.WaitGroup
	var runs atomic.Int64
	wg.Add(2)
	started := make(chan struct{})
	q.Enqueue("agent-1", func() {
		defer wg.Done()
		close(started)
		runs.Add(1)
		time.Sleep(10 * time.Millisecond)
	})
	<-started
	require.True(t, q.Enqueue("agent-1", func() {
		defer wg.Done()
		runs.Add(1)
	}))
	wg.Wait()
	assert.Equal(t, int64(2), runs.Load())
}

func TestShutdownStopsAdmission(t *testing.T) {
	q := New(1, logging.Nop())
	q.Shutdown()
	assert.False(t, q.Enqueue("late", func() {
		t.Error("task ran after shutdown")
	}))
}

func TestInFlightTasksFinishAfterShutdown(t *testing.T) {
	q := New(1, logging.Nop())

	done := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue("inflight", func() {
		<-release
		close(done)
	})
	q.Shutdown()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("in-flight task did not complete after shutdown")
	}
}

func TestPanicInTaskReleasesSlot(t *testing.T) {
	q := New(1, logging.Nop())

	q.Enqueue("panics", func() { panic("boom") })

	ran := make(chan struct{})
	require.Eventually(t, func() bool {
		return q.Enqueue("next", func() { close(ran) })
	}, time.Second, 5*time.Millisecond)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("slot was not released after panic")
	}
}
