package policy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/technoatomic/vivarium-core/internal/device"
	"github.com/technoatomic/vivarium-core/internal/sensor"
)

// testClock is a settable time source shared by controller and policy.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeActuator records backend calls and optionally fails.
type fakeActuator struct {
	mu       sync.Mutex
	calls    []bool
	applyErr error
}

func (f *fakeActuator) ApplyState(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.calls = append(f.calls, on)
	return nil
}

func (f *fakeActuator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeActuator) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// memStore is an in-memory StatusStore.
type memStore struct {
	mu      sync.Mutex
	records []device.StatusRecord
	nextID  int64
}

func (m *memStore) GetLatest(_ context.Context, deviceID string) (*device.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].DeviceID == deviceID {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *memStore) Append(_ context.Context, deviceID string, isOn bool, payload device.Payload, recordedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.records = append(m.records, device.StatusRecord{
		ID:         m.nextID,
		DeviceID:   deviceID,
		IsOn:       isOn,
		Payload:    payload,
		RecordedAt: recordedAt,
	})
	return m.nextID, nil
}

func (m *memStore) latest(t *testing.T, deviceID string) *device.StatusRecord {
	t.Helper()
	rec, err := m.GetLatest(context.Background(), deviceID)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	return rec
}

// memSource serves one settable reading.
type memSource struct {
	mu      sync.Mutex
	reading *sensor.Reading
	err     error
}

func (m *memSource) LatestReading(_ context.Context, _ string) (*sensor.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.reading, nil
}

func (m *memSource) set(sensorID string, humidity float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = &sensor.Reading{
		SensorID:   sensorID,
		RecordedAt: at,
		Values:     map[string]float64{sensor.MeasurementHumidity: humidity},
	}
}

// fakeGateway captures scheduled callbacks for deterministic firing.
type fakeGateway struct {
	mu        sync.Mutex
	scheduled map[string]scheduledOff
	cancels   int
}

type scheduledOff struct {
	at time.Time
	fn func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{scheduled: make(map[string]scheduledOff)}
}

func (g *fakeGateway) ScheduleAt(key string, at time.Time, fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scheduled[key] = scheduledOff{at: at, fn: fn}
}

func (g *fakeGateway) Cancel(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.scheduled[key]
	if ok {
		delete(g.scheduled, key)
		g.cancels++
	}
	return ok
}

func (g *fakeGateway) fire(t *testing.T, key string) {
	t.Helper()
	g.mu.Lock()
	entry, ok := g.scheduled[key]
	delete(g.scheduled, key)
	g.mu.Unlock()
	if !ok {
		t.Fatalf("no scheduled callback for key %q", key)
	}
	entry.fn()
}

func (g *fakeGateway) pendingAt(key string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.scheduled[key]
	return entry.at, ok
}

// harness wires a policy to a real controller over in-memory fakes.
type harness struct {
	policy *Policy
	ctrl   *device.Controller
	act    *fakeActuator
	store  *memStore
	source *memSource
	gw     *fakeGateway
	clock  *testClock
}

func newHarness(t *testing.T, deviceID string, cfg Config) *harness {
	t.Helper()

	h := &harness{
		act:    &fakeActuator{},
		store:  &memStore{},
		source: &memSource{},
		gw:     newFakeGateway(),
		clock:  newTestClock(),
	}

	ctrl, err := device.NewController(context.Background(), deviceID, h.act, h.store)
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	ctrl.SetNow(h.clock.Now)
	h.ctrl = ctrl

	// Boot safety has already forced one OFF; counters start clean so
	// assertions see only policy-driven calls.
	h.act.reset()

	p, err := New(cfg, ctrl, h.source, h.gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.SetNow(h.clock.Now)
	h.policy = p

	return h
}

func (h *harness) read(sensorID string, value float64) {
	h.source.set(sensorID, value, h.clock.Now())
}

func humidifierConfig() Config {
	return Config{
		Mode:        ModeHysteresis,
		SensorID:    "terrarium_dht22",
		Measurement: sensor.MeasurementHumidity,
		Target:      50,
		Hysteresis:  5,
		RunDuration: 15 * time.Minute,
	}
}

func misterConfig() Config {
	return Config{
		Mode:             ModePulsed,
		SensorID:         "terrarium_dht22",
		Measurement:      sensor.MeasurementHumidity,
		Target:           70,
		MinReArmInterval: 60 * time.Minute,
		RunDuration:      30 * time.Second,
	}
}

func TestHysteresisDeadBandNeverActivates(t *testing.T) {
	h := newHarness(t, "humidifier", humidifierConfig())
	ctx := context.Background()

	for _, value := range []float64{46, 47, 48, 49} {
		h.read("terrarium_dht22", value)
		outcome, err := h.policy.Evaluate(ctx)
		if err != nil {
			t.Fatalf("Evaluate(%v) error = %v", value, err)
		}
		if outcome.Action != ActionNone {
			t.Errorf("Evaluate(%v) action = %q, want %q", value, outcome.Action, ActionNone)
		}
	}

	if h.act.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 inside dead band", h.act.callCount())
	}
}

func TestHysteresisActivatesBelowBand(t *testing.T) {
	h := newHarness(t, "humidifier", humidifierConfig())
	ctx := context.Background()

	h.read("terrarium_dht22", 44)
	outcome, err := h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Action != ActionActivated {
		t.Fatalf("action = %q, want %q", outcome.Action, ActionActivated)
	}

	wantOff := h.clock.Now().Add(15 * time.Minute)
	if !outcome.OffAt.Equal(wantOff) {
		t.Errorf("OffAt = %v, want %v", outcome.OffAt, wantOff)
	}

	if at, ok := h.gw.pendingAt("humidifier/auto-off"); !ok || !at.Equal(wantOff) {
		t.Errorf("scheduled off = %v, %v, want %v, true", at, ok, wantOff)
	}

	rec := h.store.latest(t, "humidifier")
	if rec == nil || !rec.IsOn {
		t.Fatal("latest record is not ON after activation")
	}
	if rec.Payload[device.PayloadKeyCause] != device.CausePolicy {
		t.Errorf("cause = %v, want %q", rec.Payload[device.PayloadKeyCause], device.CausePolicy)
	}
	if _, ok := rec.Payload[device.PayloadKeyRunID].(string); !ok {
		t.Error("activation record has no run_id")
	}
	if _, ok := rec.OffAt(); !ok {
		t.Error("activation record has no parseable off_at")
	}
}

func TestHysteresisOffRequiresTarget(t *testing.T) {
	h := newHarness(t, "humidifier", humidifierConfig())
	ctx := context.Background()

	// Device on outside a bounded run (e.g. switched manually).
	if _, err := h.ctrl.Reconcile(ctx, device.Request{
		Desired: device.Bool(true),
		Payload: device.Payload{device.PayloadKeyCause: device.CauseManual},
	}); err != nil {
		t.Fatalf("Reconcile(true) error = %v", err)
	}
	h.act.reset()

	// 45 and 49 are above the turn-on bound but below target: stay on.
	for _, value := range []float64{45, 49} {
		h.read("terrarium_dht22", value)
		outcome, err := h.policy.Evaluate(ctx)
		if err != nil {
			t.Fatalf("Evaluate(%v) error = %v", value, err)
		}
		if outcome.Action != ActionNone {
			t.Errorf("Evaluate(%v) action = %q, want %q", value, outcome.Action, ActionNone)
		}
	}
	if h.act.callCount() != 0 {
		t.Fatalf("backend calls = %d, want 0 below target", h.act.callCount())
	}

	h.read("terrarium_dht22", 50)
	outcome, err := h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate(50) error = %v", err)
	}
	if outcome.Action != ActionDeactivated {
		t.Errorf("Evaluate(50) action = %q, want %q", outcome.Action, ActionDeactivated)
	}
	if rec := h.store.latest(t, "humidifier"); rec.IsOn {
		t.Error("device still ON after reaching target")
	}
}

// TestBoundedRunScenario walks a full humidifier cycle: activate below
// the band, hold through the run, deferred off, then stay off in the
// satisfied dead band.
func TestBoundedRunScenario(t *testing.T) {
	cfg := humidifierConfig()
	cfg.Target = 55
	cfg.Hysteresis = 5

	h := newHarness(t, "humidifier", cfg)
	ctx := context.Background()

	h.read("terrarium_dht22", 50)
	outcome, err := h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate(50) error = %v", err)
	}
	if outcome.Action != ActionActivated {
		t.Fatalf("Evaluate(50) action = %q, want %q", outcome.Action, ActionActivated)
	}
	callsAfterOn := h.act.callCount()

	// Mid-run evaluation skips thresholds entirely.
	h.clock.Advance(5 * time.Minute)
	h.read("terrarium_dht22", 52)
	outcome, err = h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate(52) error = %v", err)
	}
	if outcome.Action != ActionRunInProgress {
		t.Errorf("Evaluate(52) action = %q, want %q", outcome.Action, ActionRunInProgress)
	}
	if h.act.callCount() != callsAfterOn {
		t.Errorf("backend calls during run = %d, want %d", h.act.callCount(), callsAfterOn)
	}

	// Deferred fire at +15min turns the device off.
	h.clock.Advance(10 * time.Minute)
	h.gw.fire(t, "humidifier/auto-off")

	rec := h.store.latest(t, "humidifier")
	if rec.IsOn {
		t.Fatal("device still ON after deferred fire")
	}
	if rec.Payload[device.PayloadKeyCause] != device.CauseAutoOff {
		t.Errorf("cause = %v, want %q", rec.Payload[device.PayloadKeyCause], device.CauseAutoOff)
	}
	if _, pending := h.policy.Pending(); pending {
		t.Error("pending run survived the deferred fire")
	}

	// Satisfied dead band keeps the device off.
	h.read("terrarium_dht22", 58)
	outcome, err = h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate(58) error = %v", err)
	}
	if outcome.Action != ActionNone {
		t.Errorf("Evaluate(58) action = %q, want %q", outcome.Action, ActionNone)
	}
}

func TestExpiredRunClosedOnEvaluate(t *testing.T) {
	h := newHarness(t, "humidifier", humidifierConfig())
	ctx := context.Background()

	h.read("terrarium_dht22", 40)
	if _, err := h.policy.Evaluate(ctx); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	// Run expires without the deferred callback ever firing.
	h.clock.Advance(20 * time.Minute)
	h.read("terrarium_dht22", 47)
	outcome, err := h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate() after expiry error = %v", err)
	}

	rec := h.store.latest(t, "humidifier")
	if rec.IsOn {
		t.Fatal("device still ON after expired run")
	}
	if rec.Payload[device.PayloadKeyCause] != device.CauseAutoOff {
		t.Errorf("cause = %v, want %q", rec.Payload[device.PayloadKeyCause], device.CauseAutoOff)
	}
	if _, pending := h.policy.Pending(); pending {
		t.Error("pending run survived expiry")
	}
	// 47 sits in the dead band after the close.
	if outcome.Action != ActionNone {
		t.Errorf("action = %q, want %q", outcome.Action, ActionNone)
	}
}

func TestPulsedReArmInterval(t *testing.T) {
	h := newHarness(t, "mister", misterConfig())
	ctx := context.Background()

	// Boot safety recorded OFF at t0. 30 minutes is not enough.
	h.clock.Advance(30 * time.Minute)
	h.read("terrarium_dht22", 60)
	outcome, err := h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate() at +30min error = %v", err)
	}
	if outcome.Action != ActionWaitingReArm {
		t.Errorf("action = %q, want %q", outcome.Action, ActionWaitingReArm)
	}
	if want := 30 * time.Minute; outcome.RemainingWait != want {
		t.Errorf("RemainingWait = %v, want %v", outcome.RemainingWait, want)
	}
	if h.act.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 before re-arm", h.act.callCount())
	}

	// 61 minutes since the OFF record: fire.
	h.clock.Advance(31 * time.Minute)
	h.read("terrarium_dht22", 60)
	outcome, err = h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate() at +61min error = %v", err)
	}
	if outcome.Action != ActionActivated {
		t.Fatalf("action = %q, want %q", outcome.Action, ActionActivated)
	}
	wantOff := h.clock.Now().Add(30 * time.Second)
	if at, ok := h.gw.pendingAt("mister/auto-off"); !ok || !at.Equal(wantOff) {
		t.Errorf("scheduled off = %v, %v, want %v, true", at, ok, wantOff)
	}
}

func TestPulsedAboveThresholdNoOp(t *testing.T) {
	h := newHarness(t, "mister", misterConfig())

	h.clock.Advance(2 * time.Hour)
	h.read("terrarium_dht22", 75)
	outcome, err := h.policy.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Action != ActionNone {
		t.Errorf("action = %q, want %q", outcome.Action, ActionNone)
	}
	if h.act.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 above threshold", h.act.callCount())
	}
}

func TestPulsedLastRecordOnNoDoubleTrigger(t *testing.T) {
	h := newHarness(t, "mister", misterConfig())
	ctx := context.Background()

	// A run left open outside this policy's pending tracking.
	if _, err := h.ctrl.Reconcile(ctx, device.Request{
		Desired: device.Bool(true),
		Payload: device.Payload{device.PayloadKeyCause: device.CauseManual},
	}); err != nil {
		t.Fatalf("Reconcile(true) error = %v", err)
	}
	h.act.reset()

	h.clock.Advance(2 * time.Hour)
	h.read("terrarium_dht22", 60)
	outcome, err := h.policy.Evaluate(ctx)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if outcome.Action != ActionNone {
		t.Errorf("action = %q, want %q", outcome.Action, ActionNone)
	}
	if h.act.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 with run still open", h.act.callCount())
	}
}

func TestNoSensorDataFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"no reading at all", func(h *harness) {}},
		{"source error", func(h *harness) {
			h.source.err = errors.New("database locked")
		}},
		{"missing measurement", func(h *harness) {
			h.source.mu.Lock()
			h.source.reading = &sensor.Reading{
				SensorID:   "terrarium_dht22",
				RecordedAt: h.clock.Now(),
				Values:     map[string]float64{sensor.MeasurementTemperature: 24},
			}
			h.source.mu.Unlock()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "humidifier", humidifierConfig())
			tt.setup(h)

			_, err := h.policy.Evaluate(context.Background())
			if !errors.Is(err, ErrNoSensorData) {
				t.Errorf("Evaluate() error = %v, want ErrNoSensorData", err)
			}
			if h.act.callCount() != 0 {
				t.Errorf("backend calls = %d, want 0 without sensor data", h.act.callCount())
			}
		})
	}
}

func TestStaleReadingFailsClosed(t *testing.T) {
	cfg := humidifierConfig()
	cfg.MaxReadingAge = 10 * time.Minute

	h := newHarness(t, "humidifier", cfg)
	h.read("terrarium_dht22", 40)
	h.clock.Advance(11 * time.Minute)

	_, err := h.policy.Evaluate(context.Background())
	if !errors.Is(err, ErrNoSensorData) {
		t.Errorf("Evaluate() with stale reading error = %v, want ErrNoSensorData", err)
	}
	if h.act.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 with stale reading", h.act.callCount())
	}
}

func TestControlFailurePropagates(t *testing.T) {
	h := newHarness(t, "humidifier", humidifierConfig())

	h.act.mu.Lock()
	h.act.applyErr = errors.New("line unavailable")
	h.act.mu.Unlock()

	h.read("terrarium_dht22", 40)
	_, err := h.policy.Evaluate(context.Background())
	if !errors.Is(err, ErrControlFailed) {
		t.Errorf("Evaluate() error = %v, want ErrControlFailed", err)
	}
	if !errors.Is(err, device.ErrBackendFailed) {
		t.Errorf("Evaluate() error = %v, want wrapped ErrBackendFailed", err)
	}
	if _, pending := h.policy.Pending(); pending {
		t.Error("pending run recorded despite failed activation")
	}
	if _, ok := h.gw.pendingAt("humidifier/auto-off"); ok {
		t.Error("deferred off scheduled despite failed activation")
	}
}

func TestStaleDeferredFireIsIgnored(t *testing.T) {
	h := newHarness(t, "humidifier", humidifierConfig())
	ctx := context.Background()

	h.read("terrarium_dht22", 40)
	if _, err := h.policy.Evaluate(ctx); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	// Capture the first run's callback, then let the run expire and a
	// new run start.
	h.gw.mu.Lock()
	stale := h.gw.scheduled["humidifier/auto-off"]
	h.gw.mu.Unlock()

	h.clock.Advance(20 * time.Minute)
	h.read("terrarium_dht22", 40)
	if _, err := h.policy.Evaluate(ctx); err != nil {
		t.Fatalf("Evaluate() after expiry error = %v", err)
	}
	h.act.reset()

	// The stale callback belongs to the closed first run: firing it
	// must not touch the device or the new pending run.
	stale.fn()

	if h.act.callCount() != 0 {
		t.Errorf("backend calls = %d, want 0 from stale fire", h.act.callCount())
	}
	if _, pending := h.policy.Pending(); !pending {
		t.Error("current pending run cleared by stale fire")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing sensor id", func(c *Config) { c.SensorID = "" }},
		{"missing measurement", func(c *Config) { c.Measurement = "" }},
		{"zero run duration", func(c *Config) { c.RunDuration = 0 }},
		{"zero hysteresis", func(c *Config) { c.Hysteresis = 0 }},
		{"target below hysteresis", func(c *Config) { c.Target = 3 }},
		{"unknown mode", func(c *Config) { c.Mode = "bang-bang" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := humidifierConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}

	pulsed := misterConfig()
	pulsed.MinReArmInterval = 0
	if err := pulsed.Validate(); err == nil {
		t.Error("Validate() pulsed with zero re-arm interval = nil, want error")
	}
}
