// Package config loads and validates Vivarium Core configuration.
//
// Configuration is read from a single YAML file, overlaid on built-in
// defaults, with selected secrets overridable via VIVARIUM_* environment
// variables (broker credentials, InfluxDB token, cloud humidifier account).
//
// # Layout
//
//	site:      enclosure identity and timezone
//	database:  SQLite path and pragmas
//	mqtt:      broker, auth, QoS, reconnect backoff
//	influxdb:  climate telemetry sink (optional)
//	logging:   level, format, output
//	sensor:    external reader binary, acquisition timeout and interval
//	devices:   light window, mister pulse policy, humidifier hysteresis policy
//
// Validation happens once at load; all policy values (thresholds, hysteresis,
// run durations, re-arm intervals) are immutable for the process lifetime.
package config
