package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technoatomic/vivarium-core/internal/device"
	"github.com/technoatomic/vivarium-core/internal/schedule"
	"github.com/technoatomic/vivarium-core/internal/sensor"
)

// deferredOffTimeout bounds the reconcile performed by a fired off
// callback, which runs outside any caller context.
const deferredOffTimeout = 30 * time.Second

// Mode selects the decision shape of a policy.
type Mode string

const (
	// ModeHysteresis holds a measurement near a target with a dead
	// band and bounded runs (humidifier-style).
	ModeHysteresis Mode = "hysteresis"

	// ModePulsed fires fixed-duration runs gated by a minimum re-arm
	// interval (mister-style).
	ModePulsed Mode = "pulsed"
)

// Action describes what an evaluation cycle did.
type Action string

const (
	// ActionNone means the readings required nothing: dead band,
	// threshold satisfied, or device already in the right state.
	ActionNone Action = "none"

	// ActionActivated means the device was turned on with a deferred
	// off scheduled.
	ActionActivated Action = "activated"

	// ActionDeactivated means the device was turned off.
	ActionDeactivated Action = "deactivated"

	// ActionRunInProgress means a pending run suppressed evaluation.
	ActionRunInProgress Action = "run_in_progress"

	// ActionWaitingReArm means the value called for a run but the
	// re-arm interval has not elapsed.
	ActionWaitingReArm Action = "waiting_re_arm"
)

// Config holds the immutable tuning of one policy instance.
type Config struct {
	// Mode selects hysteresis or pulsed behaviour.
	Mode Mode

	// SensorID identifies the reading stream this policy consumes.
	SensorID string

	// Measurement names the value inside a reading, e.g.
	// "humidity_percentage".
	Measurement string

	// Target is the setpoint (hysteresis) or firing threshold (pulsed).
	Target float64

	// Hysteresis is the dead band width below Target. Hysteresis mode
	// only.
	Hysteresis float64

	// MinReArmInterval is the minimum gap between the end of one run
	// and the start of the next. Pulsed mode only.
	MinReArmInterval time.Duration

	// RunDuration bounds every activation; the deferred off fires this
	// long after turn-on.
	RunDuration time.Duration

	// MaxReadingAge rejects readings older than this as no-data.
	// Zero disables the check.
	MaxReadingAge time.Duration
}

// Validate checks the configuration for the selected mode.
func (c Config) Validate() error {
	if c.SensorID == "" {
		return fmt.Errorf("sensor id is required")
	}
	if c.Measurement == "" {
		return fmt.Errorf("measurement name is required")
	}
	if c.RunDuration <= 0 {
		return fmt.Errorf("run duration must be positive")
	}

	switch c.Mode {
	case ModeHysteresis:
		if c.Hysteresis <= 0 {
			return fmt.Errorf("hysteresis must be positive")
		}
		if c.Target <= c.Hysteresis {
			return fmt.Errorf("target %.1f must exceed hysteresis %.1f", c.Target, c.Hysteresis)
		}
	case ModePulsed:
		if c.MinReArmInterval <= 0 {
			return fmt.Errorf("min re-arm interval must be positive")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	return nil
}

// Controller is the reconciliation surface the policy drives.
// *device.Controller satisfies it.
type Controller interface {
	DeviceID() string
	Status(ctx context.Context) (*device.StatusRecord, error)
	Reconcile(ctx context.Context, req device.Request) (device.Result, error)
}

// Logger defines the logging interface for the policy.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PendingRun tracks one active bounded run.
type PendingRun struct {
	RunID   string
	ArmedAt time.Time
	OffAt   time.Time
}

// Outcome reports what one evaluation cycle decided.
type Outcome struct {
	Action Action

	// Value is the sensor measurement the decision used.
	Value float64

	// OffAt is the scheduled off instant when Action is
	// ActionActivated or ActionRunInProgress.
	OffAt time.Time

	// RemainingWait is the time left until re-arm when Action is
	// ActionWaitingReArm.
	RemainingWait time.Duration
}

// Policy evaluates sensor readings and drives one device controller.
//
// Evaluate and the deferred off callback serialise on an internal
// mutex, so the controller never sees concurrent reconciles.
type Policy struct {
	config     Config
	controller Controller
	source     sensor.Source
	gateway    schedule.Gateway

	logger Logger
	now    func() time.Time

	mu      sync.Mutex
	pending *PendingRun
}

// New creates a policy for one device.
//
// Parameters:
//   - cfg: Immutable tuning, validated here
//   - controller: Reconciliation engine owning the device
//   - source: Latest-reading source for the configured sensor
//   - gateway: Deferred callback scheduler for bounded runs
//
// Returns:
//   - *Policy: Policy ready for Evaluate calls
//   - error: If the configuration or wiring is invalid
func New(cfg Config, controller Controller, source sensor.Source, gateway schedule.Gateway) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy config: %w", err)
	}
	if controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if source == nil {
		return nil, fmt.Errorf("sensor source is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("schedule gateway is required")
	}

	return &Policy{
		config:     cfg,
		controller: controller,
		source:     source,
		gateway:    gateway,
		logger:     noopLogger{},
		now:        time.Now,
	}, nil
}

// SetLogger sets the logger for evaluation outcomes.
func (p *Policy) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetNow overrides the time source. Intended for tests.
func (p *Policy) SetNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// Pending returns a copy of the active run, if any.
func (p *Policy) Pending() (PendingRun, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == nil {
		return PendingRun{}, false
	}
	return *p.pending, true
}

// offKey is the stable deferred-callback key for this device.
func (p *Policy) offKey() string {
	return p.controller.DeviceID() + "/auto-off"
}

// Restore rebuilds pending-run state from the status log.
//
// An activation record carries the run id and scheduled off instant in
// its payload. If the latest record shows the device on with a future
// off, the run is re-armed; with an off instant already passed, the
// device is turned off immediately. Called once at startup, after the
// controller exists.
func (p *Policy) Restore(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	latest, err := p.controller.Status(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlFailed, err)
	}
	if latest == nil || !latest.IsOn {
		return nil
	}

	offAt, ok := latest.OffAt()
	if !ok {
		// On with no recorded off intent: not a bounded run this
		// policy started. Leave it to the next evaluation.
		return nil
	}

	runID, _ := latest.Payload[device.PayloadKeyRunID].(string)
	now := p.now()

	if !offAt.After(now) {
		p.logger.Warn("expired run found at startup, turning device off",
			"device_id", p.controller.DeviceID(),
			"off_at", offAt,
		)
		return p.deactivateLocked(ctx, device.Payload{
			device.PayloadKeyCause: device.CauseAutoOff,
			device.PayloadKeyRunID: runID,
		})
	}

	p.pending = &PendingRun{
		RunID:   runID,
		ArmedAt: latest.RecordedAt,
		OffAt:   offAt,
	}
	p.gateway.ScheduleAt(p.offKey(), offAt, p.deferredOff(runID))

	p.logger.Info("pending run restored from status log",
		"device_id", p.controller.DeviceID(),
		"run_id", runID,
		"off_at", offAt,
	)
	return nil
}

// Evaluate runs one decision cycle.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//
// Returns:
//   - Outcome: The action taken and supporting detail
//   - error: nil, ErrNoSensorData, or ErrControlFailed (wrapped)
func (p *Policy) Evaluate(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	// Pending-run guard comes first: a timed run suppresses all
	// threshold logic, so a cycle mid-run never re-triggers the
	// backend. An expired run is cleared here in case the deferred
	// callback was missed.
	if p.pending != nil {
		if now.Before(p.pending.OffAt) {
			p.logger.Debug("run in progress, skipping evaluation",
				"device_id", p.controller.DeviceID(),
				"off_at", p.pending.OffAt,
			)
			return Outcome{Action: ActionRunInProgress, OffAt: p.pending.OffAt}, nil
		}
		// The deferred fire was missed or late: close the run here
		// rather than leaving the device on until a threshold check
		// happens to turn it off.
		p.logger.Warn("pending run expired without deferred fire, closing run",
			"device_id", p.controller.DeviceID(),
			"run_id", p.pending.RunID,
		)
		runID := p.pending.RunID
		p.gateway.Cancel(p.offKey())
		if err := p.deactivateLocked(ctx, device.Payload{
			device.PayloadKeyCause: device.CauseAutoOff,
			device.PayloadKeyRunID: runID,
		}); err != nil {
			return Outcome{}, err
		}
	}

	value, err := p.currentValue(ctx, now)
	if err != nil {
		return Outcome{}, err
	}

	latest, err := p.controller.Status(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrControlFailed, err)
	}

	switch p.config.Mode {
	case ModePulsed:
		return p.evaluatePulsed(ctx, now, value, latest)
	default:
		return p.evaluateHysteresis(ctx, now, value, latest)
	}
}

// currentValue fetches the configured measurement, failing closed on
// missing or stale data.
func (p *Policy) currentValue(ctx context.Context, now time.Time) (float64, error) {
	reading, err := p.source.LatestReading(ctx, p.config.SensorID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoSensorData, err)
	}
	if reading == nil {
		return 0, fmt.Errorf("%w: no readings for %s", ErrNoSensorData, p.config.SensorID)
	}

	value, ok := reading.Values[p.config.Measurement]
	if !ok {
		return 0, fmt.Errorf("%w: reading has no %s", ErrNoSensorData, p.config.Measurement)
	}

	if p.config.MaxReadingAge > 0 {
		if age := reading.Age(now); age > p.config.MaxReadingAge {
			return 0, fmt.Errorf("%w: reading is %s old (max %s)",
				ErrNoSensorData, age.Round(time.Second), p.config.MaxReadingAge)
		}
	}

	return value, nil
}

// evaluateHysteresis holds the value near target with a dead band.
func (p *Policy) evaluateHysteresis(ctx context.Context, now time.Time, value float64, latest *device.StatusRecord) (Outcome, error) {
	isOn := latest != nil && latest.IsOn

	switch {
	case value < p.config.Target-p.config.Hysteresis && !isOn:
		return p.activateLocked(ctx, now, value)

	case value >= p.config.Target && isOn:
		// No pending run here: the guard at the top of Evaluate
		// already returned if one was active.
		if err := p.deactivateLocked(ctx, device.Payload{
			device.PayloadKeyCause: device.CausePolicy,
		}); err != nil {
			return Outcome{}, err
		}
		p.logger.Info("target reached, device off",
			"device_id", p.controller.DeviceID(),
			"value", value,
			"target", p.config.Target,
		)
		return Outcome{Action: ActionDeactivated, Value: value}, nil

	default:
		// Dead band, or already in the right state.
		return Outcome{Action: ActionNone, Value: value}, nil
	}
}

// evaluatePulsed fires bounded runs gated by the re-arm interval.
func (p *Policy) evaluatePulsed(ctx context.Context, now time.Time, value float64, latest *device.StatusRecord) (Outcome, error) {
	if value >= p.config.Target {
		return Outcome{Action: ActionNone, Value: value}, nil
	}

	// Only an off record arms the interval clock. An on record with no
	// pending run means a run that was never closed; firing again
	// would double-trigger.
	if latest != nil && latest.IsOn {
		p.logger.Debug("last record still on, not firing",
			"device_id", p.controller.DeviceID(),
		)
		return Outcome{Action: ActionNone, Value: value}, nil
	}

	if latest != nil {
		elapsed := now.Sub(latest.RecordedAt)
		if elapsed < p.config.MinReArmInterval {
			remaining := p.config.MinReArmInterval - elapsed
			p.logger.Debug("re-arm interval not elapsed",
				"device_id", p.controller.DeviceID(),
				"remaining", remaining.Round(time.Second),
			)
			return Outcome{Action: ActionWaitingReArm, Value: value, RemainingWait: remaining}, nil
		}
	}

	return p.activateLocked(ctx, now, value)
}

// activateLocked turns the device on for one bounded run and schedules
// the matching off. Caller holds p.mu.
func (p *Policy) activateLocked(ctx context.Context, now time.Time, value float64) (Outcome, error) {
	runID := uuid.New().String()
	offAt := now.Add(p.config.RunDuration)

	_, err := p.controller.Reconcile(ctx, device.Request{
		Desired: device.Bool(true),
		Payload: device.Payload{
			device.PayloadKeyCause: device.CausePolicy,
			device.PayloadKeyRunID: runID,
			device.PayloadKeyOffAt: offAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrControlFailed, err)
	}

	p.pending = &PendingRun{RunID: runID, ArmedAt: now, OffAt: offAt}
	p.gateway.ScheduleAt(p.offKey(), offAt, p.deferredOff(runID))

	p.logger.Info("bounded run started",
		"device_id", p.controller.DeviceID(),
		"run_id", runID,
		"value", value,
		"off_at", offAt,
	)

	return Outcome{Action: ActionActivated, Value: value, OffAt: offAt}, nil
}

// deactivateLocked turns the device off and clears any pending run.
// Caller holds p.mu.
func (p *Policy) deactivateLocked(ctx context.Context, payload device.Payload) error {
	_, err := p.controller.Reconcile(ctx, device.Request{
		Desired: device.Bool(false),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlFailed, err)
	}
	p.pending = nil
	return nil
}

// deferredOff builds the callback that closes run runID.
//
// The run id pins the callback to its own activation: a stale fire
// after the run was already replaced or cleared does nothing.
func (p *Policy) deferredOff(runID string) func() {
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.pending == nil || p.pending.RunID != runID {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), deferredOffTimeout)
		defer cancel()

		err := p.deactivateLocked(ctx, device.Payload{
			device.PayloadKeyCause: device.CauseAutoOff,
			device.PayloadKeyRunID: runID,
		})
		if err != nil {
			// The device stays on until the next evaluation cycle
			// notices and retries through the expiry guard.
			p.logger.Error("deferred off failed",
				"device_id", p.controller.DeviceID(),
				"run_id", runID,
				"error", err,
			)
			return
		}

		p.logger.Info("bounded run ended",
			"device_id", p.controller.DeviceID(),
			"run_id", runID,
		)
	}
}
