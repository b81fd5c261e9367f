// Package timers provides an owning registry for per-key timers. Replace and
// Clear are total: a prior timer is always cancelled before it can leak.
package timers

import (
	"sync"
	"time"
)

// Registry owns at most one live timer per key.
type Registry struct {
	mu     sync.Mutex
	timers map[string]*handle
}

type handle struct {
	timer    *time.Timer
	ticker   *time.Ticker
	done     chan struct{}
	started  time.Time
	stopOnce sync.Once
}

func (h *handle) stop() {
	h.stopOnce.Do(func() {
		if h.timer != nil {
			h.timer.Stop()
		}
		if h.ticker != nil {
			h.ticker.Stop()
		}
		close(h.done)
	})
}

// NewRegistry creates an empty timer registry.
func NewRegistry() *Registry {
	return &Registry{timers: make(map[string]*handle)}
}

// Replace installs a one-shot timer for key, cancelling any prior timer for
// the same key. The callback runs once unless Clear or a newer Replace wins
// first.
func (r *Registry) Replace(key string, d time.Duration, fn func()) {
	h := &handle{done: make(chan struct{}), started: time.Now()}
	h.timer = time.AfterFunc(d, func() {
		select {
		case <-h.done:
			return
		default:
		}
		r.remove(key, h)
		fn()
	})
	r.install(key, h)
}

// ReplaceInterval installs a repeating timer for key, cancelling any prior
// timer for the same key. The callback receives the elapsed time since
// installation and runs every interval until Clear or a newer Replace.
func (r *Registry) ReplaceInterval(key string, interval time.Duration, fn func(elapsed time.Duration)) {
	h := &handle{done: make(chan struct{}), started: time.Now()}
	h.ticker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-h.done:
				return
			case <-h.ticker.C:
				fn(time.Since(h.started))
			}
		}
	}()
	r.install(key, h)
}

// Clear cancels the timer for key, if any. Returns the elapsed time since the
// timer was installed, or zero when no timer existed.
func (r *Registry) Clear(key string) time.Duration {
	r.mu.Lock()
	h, ok := r.timers[key]
	if ok {
		delete(r.timers, key)
	}
	r.mu.Unlock()

	if !ok {
		return 0
	}
	elapsed := time.Since(h.started)
	h.stop()
	return elapsed
}

// Has reports whether a live timer exists for key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Elapsed returns the time since the key's timer was installed, or zero.
func (r *Registry) Elapsed(key string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.timers[key]; ok {
		return time.Since(h.started)
	}
	return 0
}

// StopAll cancels every timer. Used at shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.timers))
	for _, h := range r.timers {
		handles = append(handles, h)
	}
	r.timers = make(map[string]*handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.stop()
	}
}

func (r *Registry) install(key string, h *handle) {
	r.mu.Lock()
	prior, had := r.timers[key]
	r.timers[key] = h
	r.mu.Unlock()

	if had {
		prior.stop()
	}
}

// remove deletes the handle only if it is still the current one for key.
func (r *Registry) remove(key string, h *handle) {
	r.mu.Lock()
	if cur, ok := r.timers[key]; ok && cur == h {
		delete(r.timers, key)
	}
	r.mu.Unlock()
}
