package sensor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// memoryAppender collects readings without a database.
type memoryAppender struct {
	mu       sync.Mutex
	readings []Reading
	err      error
}

func (m *memoryAppender) Append(_ context.Context, reading Reading) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.readings = append(m.readings, reading)
	return int64(len(m.readings)), nil
}

func (m *memoryAppender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.readings)
}

func newShellProbe(t *testing.T, script string, timeout time.Duration, store Appender) *Probe {
	t.Helper()

	probe, err := NewProbe(ProbeConfig{
		SensorID: "terrarium_dht22",
		Binary:   "sh",
		Args:     []string{"-c", script},
		Timeout:  timeout,
	}, store)
	if err != nil {
		t.Fatalf("NewProbe() error = %v", err)
	}
	return probe
}

func TestProbeRunStoresReading(t *testing.T) {
	store := &memoryAppender{}
	probe := newShellProbe(t,
		`echo '{"temperature_c": 24.1, "humidity_percentage": 61.5}'`,
		5*time.Second, store)

	reading, err := probe.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if humidity, ok := reading.Humidity(); !ok || humidity != 61.5 {
		t.Errorf("Humidity() = %v, %v, want 61.5, true", humidity, ok)
	}
	if store.count() != 1 {
		t.Errorf("stored readings = %d, want 1", store.count())
	}
	if reading.SensorID != "terrarium_dht22" {
		t.Errorf("SensorID = %q, want %q", reading.SensorID, "terrarium_dht22")
	}
}

func TestProbeRunTimeout(t *testing.T) {
	store := &memoryAppender{}
	probe := newShellProbe(t, "sleep 10", 100*time.Millisecond, store)

	start := time.Now()
	_, err := probe.Run(context.Background())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrProbeTimeout) {
		t.Errorf("Run() error = %v, want ErrProbeTimeout", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Run() took %v, reader was not killed on timeout", elapsed)
	}
	if store.count() != 0 {
		t.Errorf("stored readings = %d, want 0 after timeout", store.count())
	}
}

func TestProbeRunNonZeroExit(t *testing.T) {
	store := &memoryAppender{}
	probe := newShellProbe(t, "echo 'bus error' >&2; exit 3", 5*time.Second, store)

	_, err := probe.Run(context.Background())
	if !errors.Is(err, ErrProbeFailed) {
		t.Errorf("Run() error = %v, want ErrProbeFailed", err)
	}
	if store.count() != 0 {
		t.Errorf("stored readings = %d, want 0 after failure", store.count())
	}
}

func TestProbeRunBadOutput(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"empty stdout", "true"},
		{"not json", "echo sensor ok"},
		{"empty object", "echo '{}'"},
		{"non-numeric values", `echo '{"humidity_percentage": "wet"}'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memoryAppender{}
			probe := newShellProbe(t, tt.script, 5*time.Second, store)

			_, err := probe.Run(context.Background())
			if !errors.Is(err, ErrBadOutput) {
				t.Errorf("Run() error = %v, want ErrBadOutput", err)
			}
			if store.count() != 0 {
				t.Errorf("stored readings = %d, want 0", store.count())
			}
		})
	}
}

func TestProbeRunStoreFailure(t *testing.T) {
	store := &memoryAppender{err: errors.New("disk full")}
	probe := newShellProbe(t, `echo '{"humidity_percentage": 50}'`, 5*time.Second, store)

	if _, err := probe.Run(context.Background()); err == nil {
		t.Error("Run() succeeded despite store failure, want error")
	}
}

func TestNewProbeValidation(t *testing.T) {
	store := &memoryAppender{}

	tests := []struct {
		name string
		cfg  ProbeConfig
	}{
		{"missing sensor id", ProbeConfig{Binary: "sh", Timeout: time.Second}},
		{"missing binary", ProbeConfig{SensorID: "s", Timeout: time.Second}},
		{"zero timeout", ProbeConfig{SensorID: "s", Binary: "sh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProbe(tt.cfg, store); err == nil {
				t.Error("NewProbe() succeeded, want error")
			}
		})
	}

	if _, err := NewProbe(ProbeConfig{SensorID: "s", Binary: "sh", Timeout: time.Second}, nil); err == nil {
		t.Error("NewProbe() with nil store succeeded, want error")
	}
}
