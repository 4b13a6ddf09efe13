// Package device implements the device-state reconciliation engine.
//
// A Controller owns one actuator and drives it toward a target state:
// it reads the last persisted state from the append-only status log,
// no-ops when the target already matches, otherwise applies the change
// through the actuator backend and records the confirmed result in a
// transaction. The log is written only after the backend succeeds, so
// it holds confirmed-applied states exclusively.
//
// # Boot safety
//
// Constructing a controller forces the device OFF before any policy
// logic runs. The backend is applied unconditionally — persisted state
// is not trusted across restarts — and the transition is recorded with
// cause boot_safety.
//
// # Concurrency
//
// One controller per device, one caller at a time. The append-then-read
// pattern of the status store is correct only under a single writer per
// device id; that is an operational requirement, not something this
// package enforces across processes.
package device
