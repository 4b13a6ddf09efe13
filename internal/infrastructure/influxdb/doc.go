// Package influxdb mirrors climate telemetry and device transitions to
// an InfluxDB v2 bucket.
//
// The SQLite status log remains the source of truth for control
// decisions; InfluxDB is a write-only mirror for dashboards and
// long-term trend analysis. Writes are batched and non-blocking, and a
// connection failure here never affects the control loop.
package influxdb
