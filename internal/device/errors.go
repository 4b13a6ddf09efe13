package device

import "errors"

// Sentinel errors for reconcile operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, device.ErrBackendFailed) {
//	    // Physical state unchanged, nothing was persisted
//	}
var (
	// ErrNoPolicyInput indicates a reconcile request carried neither an
	// explicit desired state nor a schedule window.
	ErrNoPolicyInput = errors.New("device: reconcile requires a desired state or a schedule window")

	// ErrBackendFailed indicates the actuator rejected the state change.
	// Nothing was persisted; the status log still reflects the last
	// confirmed-applied state.
	ErrBackendFailed = errors.New("device: backend apply failed")

	// ErrPersistenceFailed indicates the status log could not be read or
	// written. When returned after a successful backend apply, the
	// physical state and the stored state are divergent until the next
	// successful reconcile.
	ErrPersistenceFailed = errors.New("device: status persistence failed")
)
