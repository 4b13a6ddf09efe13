package sensor

import "errors"

// Sentinel errors for sensor acquisition.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrProbeTimeout is returned when the reader binary exceeds its
	// wall-clock budget and is killed.
	ErrProbeTimeout = errors.New("sensor: probe timed out")

	// ErrProbeFailed is returned when the reader binary exits non-zero
	// or cannot be started.
	ErrProbeFailed = errors.New("sensor: probe failed")

	// ErrBadOutput is returned when the reader binary's stdout is not a
	// JSON object of numeric measurements.
	ErrBadOutput = errors.New("sensor: unparseable reader output")
)
