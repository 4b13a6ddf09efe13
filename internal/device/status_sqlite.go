package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteStatusStore implements StatusStore using SQLite.
//
// Rows live in the device_status table; payloads are stored as JSON.
type SQLiteStatusStore struct {
	db *sql.DB
}

// NewSQLiteStatusStore creates a new SQLite status store.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteStatusStore: Store instance ready for use
func NewSQLiteStatusStore(db *sql.DB) *SQLiteStatusStore {
	return &SQLiteStatusStore{db: db}
}

// GetLatest returns the newest status record for a device, or nil when the
// device has no rows yet.
func (s *SQLiteStatusStore) GetLatest(ctx context.Context, deviceID string) (*StatusRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, is_on, payload, recorded_at
		 FROM device_status
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`,
		deviceID,
	)

	rec, err := scanStatusRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Append writes a new status row inside a transaction.
//
// The transaction scope guarantees rollback on any failure before commit,
// so a partially-written row is never visible.
func (s *SQLiteStatusStore) Append(ctx context.Context, deviceID string, isOn bool, payload Payload, recordedAt time.Time) (int64, error) {
	if deviceID == "" {
		return 0, fmt.Errorf("device id is required")
	}

	var payloadJSON sql.NullString
	if len(payload) > 0 {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshalling payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		"INSERT INTO device_status (device_id, is_on, payload, recorded_at) VALUES (?, ?, ?, ?)",
		deviceID,
		boolToInt(isOn),
		payloadJSON,
		recordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting device status: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing device status: %w", err)
	}

	return id, nil
}

// History returns recent status records for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []StatusRecord: Records ordered by recorded_at DESC
//   - error: nil on success, otherwise the underlying query error
func (s *SQLiteStatusStore) History(ctx context.Context, deviceID string, limit int) ([]StatusRecord, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, is_on, payload, recorded_at
		 FROM device_status
		 WHERE device_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device status: %w", err)
	}
	defer rows.Close()

	records := make([]StatusRecord, 0, limit)
	for rows.Next() {
		rec, err := scanStatusRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device status: %w", err)
	}

	return records, nil
}

// Prune deletes status rows older than the given duration.
//
// Retention is an operational concern; the controller itself never
// deletes rows.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStatusStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM device_status WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting device status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanStatusRecord.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanStatusRecord scans one device_status row.
func scanStatusRecord(row rowScanner) (*StatusRecord, error) {
	var rec StatusRecord
	var isOn int
	var payloadJSON sql.NullString
	var recordedAt string

	if err := row.Scan(&rec.ID, &rec.DeviceID, &isOn, &payloadJSON, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device status: %w", err)
	}

	rec.IsOn = isOn != 0

	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &rec.Payload); err != nil {
			return nil, fmt.Errorf("unmarshalling payload: %w", err)
		}
	}

	timestamp, err := time.Parse(time.RFC3339, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}
	rec.RecordedAt = timestamp

	return &rec, nil
}

// boolToInt converts a bool to the 0/1 form stored in SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
