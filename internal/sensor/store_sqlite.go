package sensor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore persists readings in the sensor_readings table and serves
// them back as a Source.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite reading store.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteStore: Store instance ready for use
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Append writes one reading inside a transaction.
func (s *SQLiteStore) Append(ctx context.Context, reading Reading) (int64, error) {
	if reading.SensorID == "" {
		return 0, fmt.Errorf("sensor id is required")
	}
	if len(reading.Values) == 0 {
		return 0, fmt.Errorf("reading has no values")
	}

	valuesJSON, err := json.Marshal(reading.Values)
	if err != nil {
		return 0, fmt.Errorf("marshalling values: %w", err)
	}

	recordedAt := reading.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	result, err := tx.ExecContext(ctx,
		`INSERT INTO sensor_readings (sensor_id, "values", recorded_at) VALUES (?, ?, ?)`,
		reading.SensorID,
		string(valuesJSON),
		recordedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting sensor reading: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing sensor reading: %w", err)
	}

	return id, nil
}

// LatestReading returns the newest reading for a sensor, or nil when the
// sensor has no rows yet.
func (s *SQLiteStore) LatestReading(ctx context.Context, sensorID string) (*Reading, error) {
	if sensorID == "" {
		return nil, fmt.Errorf("sensor id is required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT sensor_id, "values", recorded_at
		 FROM sensor_readings
		 WHERE sensor_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT 1`,
		sensorID,
	)

	var reading Reading
	var valuesJSON string
	var recordedAt string

	err := row.Scan(&reading.SensorID, &valuesJSON, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sensor reading: %w", err)
	}

	if err := json.Unmarshal([]byte(valuesJSON), &reading.Values); err != nil {
		return nil, fmt.Errorf("unmarshalling values: %w", err)
	}

	timestamp, err := time.Parse(time.RFC3339, recordedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing recorded_at: %w", err)
	}
	reading.RecordedAt = timestamp

	return &reading, nil
}

// Prune deletes readings older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sensor_readings WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sensor readings: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}
