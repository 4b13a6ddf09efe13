// Package schedule provides deferred one-shot callback execution for
// timed device actions.
//
// The policy layer uses a Gateway to arrange an automatic off a fixed
// duration after it energises a pulsed device. Entries are keyed:
// scheduling a key that already holds a pending callback replaces it
// rather than stacking a duplicate, so re-evaluation during a run never
// produces two competing off timers.
//
// Timer is the production implementation backed by the runtime timer
// heap. Tests substitute their own Gateway to fire callbacks
// deterministically.
package schedule
