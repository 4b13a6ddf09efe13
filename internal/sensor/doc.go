// Package sensor acquires and serves environmental readings.
//
// Readings originate from an external reader binary that prints one
// JSON object of named measurements to stdout. Probe runs the binary
// under a hard wall-clock timeout, parses the output, and appends it to
// the sensor_readings table. The process is killed on timeout; a slow
// or wedged sensor bus never stalls the control loop.
//
// The control policy consumes readings through the Source interface,
// which returns the newest stored reading for a sensor. A source with
// no rows returns (nil, nil); the policy treats that as missing data
// and refuses to actuate.
package sensor
