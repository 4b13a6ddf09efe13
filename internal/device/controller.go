package device

import (
	"context"
	"fmt"
	"time"
)

// Actuator is the side-effecting backend the controller drives.
//
// ApplyState changes physical or remote device state and reports nothing
// about the prior state; the controller tracks that through the status log.
type Actuator interface {
	ApplyState(ctx context.Context, on bool) error
}

// Logger defines the logging interface for the controller.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TransitionListener is notified after a state change has been applied
// and persisted. Used to mirror transitions to MQTT and InfluxDB.
type TransitionListener func(rec StatusRecord)

// Controller is the reconciliation engine for a single device.
//
// It computes the target state from the request, compares it to the last
// persisted state, applies the delta through the actuator, and records
// the confirmed-applied state in the status log. Repeated calls with an
// unchanged target are no-ops that touch neither the backend nor the
// store.
//
// A controller owns its device exclusively for the process lifetime.
// Callers must not reconcile the same device concurrently; the external
// scheduler drives evaluation serially.
type Controller struct {
	deviceID string
	actuator Actuator
	store    StatusStore

	logger       Logger
	now          func() time.Time
	onTransition TransitionListener
}

// NewController creates a controller and forces the device to a safe OFF
// state before any policy-driven reconciliation.
//
// The forced OFF applies the backend unconditionally — the persisted
// state is not trusted across a restart — and records the transition
// with cause boot_safety. Devices therefore never start in an undefined
// ON state after a crash.
//
// Parameters:
//   - ctx: Context for the boot-safety reconcile
//   - deviceID: Unique device identifier, owned by this controller
//   - actuator: Backend applying state changes
//   - store: Append-only status log
//
// Returns:
//   - *Controller: Controller with the device confirmed OFF
//   - error: If the safe state could not be applied or recorded
func NewController(ctx context.Context, deviceID string, actuator Actuator, store StatusStore) (*Controller, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if actuator == nil {
		return nil, fmt.Errorf("actuator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("status store is required")
	}

	c := &Controller{
		deviceID: deviceID,
		actuator: actuator,
		store:    store,
		logger:   noopLogger{},
		now:      time.Now,
	}

	if err := c.forceSafeState(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// SetLogger sets the logger used for reconcile outcomes.
func (c *Controller) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetNow overrides the time source. Intended for tests.
func (c *Controller) SetNow(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

// SetOnTransition registers a listener invoked after each persisted
// state change, including the boot-safety transitions of later restarts.
func (c *Controller) SetOnTransition(listener TransitionListener) {
	c.onTransition = listener
}

// DeviceID returns the identifier of the owned device.
func (c *Controller) DeviceID() string {
	return c.deviceID
}

// Status returns the latest persisted record for the owned device.
// Returns nil when no record exists yet.
func (c *Controller) Status(ctx context.Context) (*StatusRecord, error) {
	rec, err := c.store.GetLatest(ctx, c.deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: reading latest status: %w", ErrPersistenceFailed, err)
	}
	return rec, nil
}

// Reconcile drives the device toward the target state in the request.
//
// Target resolution: an explicit Desired wins; otherwise a Window maps
// the current time of day to on/off; with neither, ErrNoPolicyInput.
//
// The algorithm:
//  1. Read the latest persisted state.
//  2. Equal to target: no-op. Neither backend nor store is touched.
//  3. Apply the backend. On failure, abort without persisting
//     (ErrBackendFailed) — the log holds confirmed-applied states only.
//  4. Append the new state in a transaction. On failure after a
//     successful apply, ErrPersistenceFailed: the physical and stored
//     states are now divergent, which the next successful reconcile
//     re-diffs against. This window is logged, not auto-corrected.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - req: Desired state or schedule window, plus optional payload
//
// Returns:
//   - Result: Whether a change was applied and the resulting state
//   - error: nil, ErrNoPolicyInput, ErrBackendFailed, or ErrPersistenceFailed
func (c *Controller) Reconcile(ctx context.Context, req Request) (Result, error) {
	target, err := c.resolveTarget(req)
	if err != nil {
		return Result{}, err
	}

	latest, err := c.store.GetLatest(ctx, c.deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading latest status: %w", ErrPersistenceFailed, err)
	}

	if latest != nil && latest.IsOn == target {
		c.logger.Debug("reconcile no-op",
			"device_id", c.deviceID,
			"state", target,
		)
		return Result{Changed: false, NewState: target}, nil
	}

	return c.apply(ctx, target, req.Payload)
}

// resolveTarget computes the target state from the request inputs.
func (c *Controller) resolveTarget(req Request) (bool, error) {
	switch {
	case req.Desired != nil:
		return *req.Desired, nil
	case req.Window != nil:
		return req.Window.Contains(c.now()), nil
	default:
		return false, ErrNoPolicyInput
	}
}

// forceSafeState applies OFF unconditionally and records it.
func (c *Controller) forceSafeState(ctx context.Context) error {
	_, err := c.apply(ctx, false, Payload{PayloadKeyCause: CauseBootSafety})
	if err != nil {
		return fmt.Errorf("forcing safe state for %s: %w", c.deviceID, err)
	}
	c.logger.Info("device forced to safe state", "device_id", c.deviceID)
	return nil
}

// apply performs the backend call and the status append for one transition.
func (c *Controller) apply(ctx context.Context, target bool, payload Payload) (Result, error) {
	if err := c.actuator.ApplyState(ctx, target); err != nil {
		c.logger.Error("backend apply failed",
			"device_id", c.deviceID,
			"target", target,
			"error", err,
		)
		return Result{}, fmt.Errorf("%w: %w", ErrBackendFailed, err)
	}

	rec := StatusRecord{
		DeviceID:   c.deviceID,
		IsOn:       target,
		Payload:    payload,
		RecordedAt: c.now().UTC(),
	}

	id, err := c.store.Append(ctx, rec.DeviceID, rec.IsOn, rec.Payload, rec.RecordedAt)
	if err != nil {
		// The device has physically switched but the log has not: the
		// stored state is stale until the next successful reconcile.
		c.logger.Error("device state applied but not persisted",
			"device_id", c.deviceID,
			"state", target,
			"error", err,
		)
		return Result{Changed: true, NewState: target}, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	rec.ID = id

	c.logger.Info("device state changed",
		"device_id", c.deviceID,
		"state", target,
	)

	if c.onTransition != nil {
		c.onTransition(rec)
	}

	return Result{Changed: true, NewState: target}, nil
}
