package actuator

import "errors"

// Sentinel errors for backend operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotInitialized is returned when the output line or remote
	// session was never established or already released.
	ErrNotInitialized = errors.New("actuator: backend not initialised")

	// ErrIO is returned when a GPIO line operation fails.
	ErrIO = errors.New("actuator: i/o failure")

	// ErrAuthFailed is returned when the cloud API rejects the account
	// credentials.
	ErrAuthFailed = errors.New("actuator: authentication failed")

	// ErrDeviceNotFound is returned when the configured device name is
	// not present in the cloud account.
	ErrDeviceNotFound = errors.New("actuator: device not found")

	// ErrUnreachable is returned when the cloud API cannot be reached.
	ErrUnreachable = errors.New("actuator: remote unreachable")
)
