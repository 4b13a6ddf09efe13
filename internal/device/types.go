package device

import (
	"time"
)

// Payload is an opaque JSON object stored alongside a status transition.
//
// The policy layer uses it to persist activation intent (run id, scheduled
// off time) so a process restart can rebuild in-memory state from the log.
type Payload map[string]any

// Payload keys written by this module and the policy layer.
const (
	// PayloadKeyRunID is a UUID identifying one bounded activation.
	PayloadKeyRunID = "run_id"

	// PayloadKeyOffAt is the RFC3339 instant the matching OFF is due.
	PayloadKeyOffAt = "off_at"

	// PayloadKeyCause records why the transition happened.
	PayloadKeyCause = "cause"
)

// Transition causes.
const (
	CauseBootSafety = "boot_safety"
	CausePolicy     = "policy"
	CauseSchedule   = "schedule"
	CauseManual     = "manual"
	CauseAutoOff    = "auto_off"
)

// StatusRecord is one row of the append-only device status log.
//
// The current state of a device is the record with the greatest
// RecordedAt for its DeviceID. Records are never mutated or deleted by
// the controller; retention is handled separately via Prune.
type StatusRecord struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	IsOn       bool      `json:"is_on"`
	Payload    Payload   `json:"payload,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// OffAt extracts the scheduled off instant from the record payload.
//
// Returns:
//   - time.Time: The parsed off_at value
//   - bool: false if the payload has no parseable off_at
func (r *StatusRecord) OffAt() (time.Time, bool) {
	if r == nil || r.Payload == nil {
		return time.Time{}, false
	}
	raw, ok := r.Payload[PayloadKeyOffAt].(string)
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}

// Window is a daily schedule window in local time of day.
//
// Start and End are minutes since midnight. The interval is half-open:
// the device is on while Start <= now < End. A window with Start > End
// spans midnight (e.g. 22:00-06:00).
type Window struct {
	Start int
	End   int
}

// Contains reports whether the instant falls inside the window.
func (w Window) Contains(at time.Time) bool {
	minute := at.Hour()*60 + at.Minute()
	if w.Start <= w.End {
		return w.Start <= minute && minute < w.End
	}
	return minute >= w.Start || minute < w.End
}

// Request carries the inputs of a single reconcile decision.
//
// Exactly one of Desired or Window must be set; Desired wins when both
// are present. Payload, if set, is stored with the transition row.
type Request struct {
	Desired *bool
	Window  *Window
	Payload Payload
}

// Result describes the outcome of a reconcile.
type Result struct {
	// Changed is false when the persisted state already matched the
	// target and neither the backend nor the store was touched.
	Changed bool

	// NewState is the target state after the call.
	NewState bool
}

// Bool returns a pointer to b, for building Request literals.
func Bool(b bool) *bool {
	return &b
}
