package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueRunsJobsInOrder(t *testing.T) {
	q := newChannelQueues()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 20; i++ {
		i := i
		ok := q.Enqueue("chan-1", func() {
			mu.Lock()
			got = append(got, i)
			if len(got) == 20 {
				close(done)
			}
			mu.Unlock()
		})
		require.True(t, ok)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestChannelsDoNotBlockEachOther(t *testing.T) {
	q := newChannelQueues()

	release := make(chan struct{})
	q.Enqueue("slow", func() { <-release })

	fast := make(chan struct{})
	q.Enqueue("fast", func() { close(fast) })

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast channel blocked behind slow channel")
	}
	close(release)
	require.True(t, q.Drain(time.Second))
}

// A worker that just finished its last job removes itself; an enqueue racing
// that removal must still get its job executed.
func TestWorkerRemovalNeverLosesJobs(t *testing.T) {
	q := newChannelQueues()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 200; i++ {
		ok := q.Enqueue("chan-1", func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
		require.True(t, ok)
		// Give the worker a chance to drain and tear down between enqueues.
		if i%3 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	require.True(t, q.Drain(2*time.Second))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 200, count)
	assert.Equal(t, 0, q.active())
}

func TestDrainRejectsNewJobs(t *testing.T) {
	q := newChannelQueues()
	require.True(t, q.Drain(time.Second))
	assert.False(t, q.Enqueue("chan-1", func() {}))
}
