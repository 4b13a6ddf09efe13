package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/technoatomic/vivarium-core/internal/device"
)

// scriptedController serves a fixed latest record and records reconciles,
// standing in for a controller whose device was left on by a previous
// process.
type scriptedController struct {
	mu         sync.Mutex
	deviceID   string
	latest     *device.StatusRecord
	reconciles []device.Request
}

func (s *scriptedController) DeviceID() string { return s.deviceID }

func (s *scriptedController) Status(context.Context) (*device.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *scriptedController) Reconcile(_ context.Context, req device.Request) (device.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciles = append(s.reconciles, req)
	target := req.Desired != nil && *req.Desired
	s.latest = &device.StatusRecord{
		DeviceID: s.deviceID,
		IsOn:     target,
		Payload:  req.Payload,
	}
	return device.Result{Changed: true, NewState: target}, nil
}

func (s *scriptedController) reconcileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reconciles)
}

func newRestoreHarness(t *testing.T, latest *device.StatusRecord) (*Policy, *scriptedController, *fakeGateway, *testClock) {
	t.Helper()

	ctrl := &scriptedController{deviceID: "humidifier", latest: latest}
	gw := newFakeGateway()
	clock := newTestClock()

	p, err := New(humidifierConfig(), ctrl, &memSource{}, gw)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.SetNow(clock.Now)

	return p, ctrl, gw, clock
}

func TestRestoreNoRecord(t *testing.T) {
	p, ctrl, gw, _ := newRestoreHarness(t, nil)

	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, pending := p.Pending(); pending {
		t.Error("pending run created from empty log")
	}
	if ctrl.reconcileCount() != 0 {
		t.Errorf("reconciles = %d, want 0", ctrl.reconcileCount())
	}
	if _, ok := gw.pendingAt("humidifier/auto-off"); ok {
		t.Error("deferred off scheduled from empty log")
	}
}

func TestRestoreRebuildsActiveRun(t *testing.T) {
	clock := newTestClock()
	offAt := clock.Now().Add(10 * time.Minute)

	p, ctrl, gw, _ := newRestoreHarness(t, &device.StatusRecord{
		DeviceID:   "humidifier",
		IsOn:       true,
		RecordedAt: clock.Now().Add(-5 * time.Minute),
		Payload: device.Payload{
			device.PayloadKeyCause: device.CausePolicy,
			device.PayloadKeyRunID: "run-abc",
			device.PayloadKeyOffAt: offAt.UTC().Format(time.RFC3339),
		},
	})

	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	pending, ok := p.Pending()
	if !ok {
		t.Fatal("no pending run after restore of active run")
	}
	if pending.RunID != "run-abc" {
		t.Errorf("RunID = %q, want %q", pending.RunID, "run-abc")
	}
	if !pending.OffAt.Equal(offAt) {
		t.Errorf("OffAt = %v, want %v", pending.OffAt, offAt)
	}
	if at, ok := gw.pendingAt("humidifier/auto-off"); !ok || !at.Equal(offAt) {
		t.Errorf("scheduled off = %v, %v, want %v, true", at, ok, offAt)
	}
	if ctrl.reconcileCount() != 0 {
		t.Errorf("reconciles = %d, want 0 for an active run", ctrl.reconcileCount())
	}
}

func TestRestoreClosesExpiredRun(t *testing.T) {
	clock := newTestClock()

	p, ctrl, gw, _ := newRestoreHarness(t, &device.StatusRecord{
		DeviceID:   "humidifier",
		IsOn:       true,
		RecordedAt: clock.Now().Add(-time.Hour),
		Payload: device.Payload{
			device.PayloadKeyCause: device.CausePolicy,
			device.PayloadKeyRunID: "run-old",
			device.PayloadKeyOffAt: clock.Now().Add(-45 * time.Minute).UTC().Format(time.RFC3339),
		},
	})

	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if ctrl.reconcileCount() != 1 {
		t.Fatalf("reconciles = %d, want 1 for an expired run", ctrl.reconcileCount())
	}
	req := ctrl.reconciles[0]
	if req.Desired == nil || *req.Desired {
		t.Error("expired run restore did not request OFF")
	}
	if req.Payload[device.PayloadKeyCause] != device.CauseAutoOff {
		t.Errorf("cause = %v, want %q", req.Payload[device.PayloadKeyCause], device.CauseAutoOff)
	}
	if _, pending := p.Pending(); pending {
		t.Error("pending run kept for an expired run")
	}
	if _, ok := gw.pendingAt("humidifier/auto-off"); ok {
		t.Error("deferred off scheduled for an expired run")
	}
}

func TestRestoreOnWithoutOffIntent(t *testing.T) {
	p, ctrl, _, _ := newRestoreHarness(t, &device.StatusRecord{
		DeviceID: "humidifier",
		IsOn:     true,
		Payload:  device.Payload{device.PayloadKeyCause: device.CauseManual},
	})

	if err := p.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if _, pending := p.Pending(); pending {
		t.Error("pending run created without off intent")
	}
	if ctrl.reconcileCount() != 0 {
		t.Errorf("reconciles = %d, want 0 without off intent", ctrl.reconcileCount())
	}
}
