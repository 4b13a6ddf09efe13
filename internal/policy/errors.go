package policy

import "errors"

// Sentinel errors for policy evaluation.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoSensorData is returned when no usable sensor reading is
	// available. The policy never guesses: no data means no actuation.
	ErrNoSensorData = errors.New("policy: no sensor data")

	// ErrControlFailed wraps reconcile errors surfaced while acting on
	// a decision. The policy does not retry; the scheduler re-evaluates
	// on its next tick.
	ErrControlFailed = errors.New("policy: control action failed")
)
