package actuator

import "context"

// Backend applies a desired on/off state to a physical or remote device.
//
// Implementations must bound their own latency; the controller imposes
// no timeout beyond the caller's context.
type Backend interface {
	// ApplyState drives the device to the desired state.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - on: Target state
	//
	// Returns:
	//   - error: nil on success, otherwise one of the package sentinel
	//     errors (wrapped with detail)
	ApplyState(ctx context.Context, on bool) error

	// Close releases the backend's exclusively-owned handle (GPIO line
	// or remote session). Safe to call more than once.
	Close() error
}
