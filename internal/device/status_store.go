package device

import (
	"context"
	"time"
)

// StatusStore is the append-only persisted log of device state transitions.
//
// Append is the only mutation. GetLatest must reflect the most recently
// committed Append for the device on the same connection
// (read-your-writes). Implementations must use UTC timestamps.
//
// The store is safe only under a single writer per device id; the
// controller owns its device exclusively for the process lifetime.
type StatusStore interface {
	// GetLatest returns the newest status record for the device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//
	// Returns:
	//   - *StatusRecord: The latest record, or nil when no rows exist
	//     (absence is not an error)
	//   - error: nil on success, otherwise the underlying query error
	GetLatest(ctx context.Context, deviceID string) (*StatusRecord, error)

	// Append writes a new status row inside a transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - isOn: The confirmed-applied state
	//   - payload: Optional opaque blob stored with the row
	//   - recordedAt: Transition instant (stored as UTC)
	//
	// Returns:
	//   - int64: The new row id
	//   - error: nil on success, otherwise the underlying persistence error
	Append(ctx context.Context, deviceID string, isOn bool, payload Payload, recordedAt time.Time) (int64, error)
}
