package schedule

import (
	"sync"
	"time"
)

// Timer is a Gateway backed by the runtime timer heap.
//
// Each key maps to at most one pending *time.Timer. Callbacks run on
// the timer goroutine; callers are expected to keep them short and
// hand real work to their own context.
type Timer struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewTimer returns an empty gateway ready for scheduling.
func NewTimer() *Timer {
	return &Timer{timers: make(map[string]*time.Timer)}
}

// ScheduleAt runs fn once at the given time, replacing any pending
// callback for the same key. Times in the past fire immediately.
func (t *Timer) ScheduleAt(key string, at time.Time, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	if existing, ok := t.timers[key]; ok {
		existing.Stop()
	}

	t.timers[key] = time.AfterFunc(time.Until(at), func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending callback for key, reporting whether one was
// pending. A callback already running is not interrupted.
func (t *Timer) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.timers[key]
	if !ok {
		return false
	}
	delete(t.timers, key)
	return existing.Stop()
}

// Pending reports whether key currently holds a scheduled callback.
func (t *Timer) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

// Close cancels every pending callback and rejects further scheduling.
func (t *Timer) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
	return nil
}
