package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// maxProbeOutput caps how much reader stdout is buffered.
const maxProbeOutput = 64 << 10 // 64 KB

// ProbeConfig describes one external sensor reader.
type ProbeConfig struct {
	// SensorID labels the readings this probe produces.
	SensorID string

	// Binary is the path to the reader executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Timeout is the hard wall-clock budget for one acquisition. The
	// process is killed when it elapses.
	Timeout time.Duration
}

// Appender receives parsed readings for persistence.
type Appender interface {
	Append(ctx context.Context, reading Reading) (int64, error)
}

// Logger defines the logging interface for the probe.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Probe runs an external reader binary under a hard timeout and appends
// the parsed reading to a store.
//
// Sensor buses wedge: a DHT22 on a marginal wire can hold the reader
// forever. The timeout bounds every acquisition so the control loop is
// never stalled by a stuck read.
type Probe struct {
	config ProbeConfig
	store  Appender
	logger Logger
	now    func() time.Time
}

// NewProbe creates a probe for one reader binary.
//
// Parameters:
//   - cfg: Reader identity, binary path, arguments, and timeout
//   - store: Destination for parsed readings
//
// Returns:
//   - *Probe: Probe ready for Run calls
//   - error: If the configuration is incomplete
func NewProbe(cfg ProbeConfig, store Appender) (*Probe, error) {
	if cfg.SensorID == "" {
		return nil, fmt.Errorf("sensor id is required")
	}
	if cfg.Binary == "" {
		return nil, fmt.Errorf("reader binary is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	return &Probe{
		config: cfg,
		store:  store,
		logger: noopLogger{},
		now:    time.Now,
	}, nil
}

// SetLogger sets the logger for the probe.
func (p *Probe) SetLogger(logger Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// Run executes one acquisition: run the binary, parse stdout, append
// the reading.
//
// Parameters:
//   - ctx: Context for cancellation; the probe's own timeout applies
//     on top of it
//
// Returns:
//   - *Reading: The reading as stored
//   - error: ErrProbeTimeout, ErrProbeFailed, or ErrBadOutput (wrapped)
func (p *Probe) Run(ctx context.Context) (*Reading, error) {
	runCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.config.Binary, p.config.Args...) //nolint:gosec // Binary path is validated in config.Validate()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{buf: &stdout, remaining: maxProbeOutput}
	cmd.Stderr = &limitedWriter{buf: &stderr, remaining: maxProbeOutput}

	start := p.now()
	err := cmd.Run()
	elapsed := p.now().Sub(start)

	if runCtx.Err() == context.DeadlineExceeded {
		p.logger.Warn("sensor read killed on timeout",
			"sensor_id", p.config.SensorID,
			"binary", p.config.Binary,
			"timeout", p.config.Timeout,
		)
		return nil, fmt.Errorf("%w: %s after %s", ErrProbeTimeout, p.config.Binary, p.config.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w (stderr: %s)",
			ErrProbeFailed, p.config.Binary, err, truncate(stderr.String(), 256))
	}

	values, err := parseReaderOutput(stdout.Bytes())
	if err != nil {
		return nil, err
	}

	reading := Reading{
		SensorID:   p.config.SensorID,
		RecordedAt: p.now(),
		Values:     values,
	}

	if _, err := p.store.Append(ctx, reading); err != nil {
		return nil, fmt.Errorf("storing reading: %w", err)
	}

	p.logger.Debug("sensor reading stored",
		"sensor_id", p.config.SensorID,
		"values", values,
		"elapsed", elapsed,
	)

	return &reading, nil
}

// parseReaderOutput decodes the reader's stdout: one JSON object of
// named numeric measurements.
func parseReaderOutput(data []byte) (map[string]float64, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty stdout", ErrBadOutput)
	}

	var values map[string]float64
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadOutput, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no measurements in output", ErrBadOutput)
	}

	return values, nil
}

// limitedWriter keeps the first n bytes and drops the rest.
type limitedWriter struct {
	buf       *bytes.Buffer
	remaining int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.remaining > 0 {
		keep := p
		if len(keep) > w.remaining {
			keep = keep[:w.remaining]
		}
		w.buf.Write(keep)
		w.remaining -= len(keep)
	}
	return n, nil
}

// truncate shortens s for log and error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ErrIsRetryable reports whether a probe failure is worth retrying on
// the next cycle rather than flagging the reader as broken.
func ErrIsRetryable(err error) bool {
	return errors.Is(err, ErrProbeTimeout) || errors.Is(err, ErrProbeFailed)
}
