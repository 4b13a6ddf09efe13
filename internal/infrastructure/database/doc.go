// Package database provides SQLite persistence for Vivarium Core.
//
// It wraps database/sql with lifecycle management (directory creation,
// WAL mode, busy timeout, restrictive file permissions) and an embedded
// migration runner.
//
// # Single writer
//
// The connection pool is capped at one open connection. SQLite supports a
// single writer, and the device controller depends on read-your-writes:
// a status row appended by one reconcile must be visible to the next
// GetLatest on the same connection.
//
// # Migrations
//
// SQL files are embedded by the top-level migrations package and named
// NNN_description.up.sql / NNN_description.down.sql. Each migration is
// applied in its own transaction and recorded in schema_migrations.
package database
