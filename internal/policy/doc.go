// Package policy implements the environmental control loop that decides
// when actuators run.
//
// One Policy instance owns the decision logic for one device. Two
// shapes are supported:
//
//   - Hysteresis hold (humidifier): keep a measurement near a target
//     using a dead band. The device turns on below target-hysteresis,
//     runs for a bounded duration, and turns off again at or above the
//     target. The dead band prevents chattering at the boundary.
//
//   - Pulsed interval (mister): fire for a fixed duration no more often
//     than a minimum re-arm interval. Below the threshold the device
//     fires only when the last recorded state is off and enough time
//     has passed since that record.
//
// Both shapes bound every activation: turning on registers a deferred
// off callback with the schedule gateway under a stable per-device key,
// and the pending run is checked first on every cycle so a timed run is
// never re-triggered. Activation records persist the run id and the
// scheduled off instant, so a restart can rebuild the pending run from
// the status log instead of leaving a device running unattended.
//
// Missing or stale sensor data fails closed: the policy reports
// ErrNoSensorData and touches nothing.
package policy
