package schedule

import "time"

// Gateway arranges one-shot deferred callbacks keyed by name.
//
// Scheduling an existing key replaces the pending callback. Cancel is a
// no-op for unknown keys.
type Gateway interface {
	// ScheduleAt runs fn once at the given time. A key already holding
	// a pending callback is replaced.
	ScheduleAt(key string, at time.Time, fn func())

	// Cancel drops the pending callback for key, if any. It reports
	// whether a callback was pending.
	Cancel(key string) bool
}
