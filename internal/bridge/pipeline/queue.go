package pipeline

import (
	"sync"
	"time"
)

// channelQueues serializes handler execution per chat channel. Each active
// channel gets one worker goroutine consuming a work channel; the worker
// removes itself atomically with the empty-queue check so a job enqueued
// during teardown is never lost.
type channelQueues struct {
	mu      sync.Mutex
	workers map[string]*channelWorker
	wg      sync.WaitGroup
	closed  bool
}

type channelWorker struct {
	jobs    chan func()
	pending int
}

func newChannelQueues() *channelQueues {
	return &channelQueues{workers: make(map[string]*channelWorker)}
}

// Enqueue schedules job after all previously enqueued jobs for channelID.
// Returns false after Drain.
func (q *channelQueues) Enqueue(channelID string, job func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	w, ok := q.workers[channelID]
	if !ok {
		w = &channelWorker{jobs: make(chan func(), 256)}
		q.workers[channelID] = w
		q.wg.Add(1)
		go q.run(channelID, w)
	}
	w.pending++
	q.mu.Unlock()

	w.jobs <- job
	return true
}

func (q *channelQueues) run(channelID string, w *channelWorker) {
	defer q.wg.Done()
	for job := range w.jobs {
		job()

		q.mu.Lock()
		w.pending--
		if w.pending == 0 {
			delete(q.workers, channelID)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()
	}
}

// Drain stops accepting jobs and waits for outstanding queues to settle,
// up to timeout.
func (q *channelQueues) Drain(timeout time.Duration) bool {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// active returns the number of live channel workers.
func (q *channelQueues) active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}
