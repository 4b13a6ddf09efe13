package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteClimateReading writes one sensor reading as climate telemetry.
//
// Each named measurement in the reading becomes a field on a single
// point tagged with the sensor id. The write is non-blocking; data is
// batched and sent asynchronously.
//
// Parameters:
//   - sensorID: The sensor that produced the reading
//   - values: Named measurements, e.g. {"humidity_percentage": 61.5}
//   - recordedAt: The acquisition instant
func (c *Client) WriteClimateReading(sensorID string, values map[string]float64, recordedAt time.Time) {
	if !c.IsConnected() || len(values) == 0 {
		return
	}

	fields := make(map[string]interface{}, len(values))
	for name, value := range values {
		fields[name] = value
	}

	point := write.NewPoint(
		"climate",
		map[string]string{
			"sensor_id": sensorID,
		},
		fields,
		recordedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceState writes a device state transition.
//
// State is recorded as 0/1 so dashboards can plot duty cycles and
// correlate runs against the climate series.
//
// Parameters:
//   - deviceID: The device that changed state
//   - isOn: The confirmed-applied state
//   - cause: Why the transition happened (policy, auto_off, manual, boot_safety)
//   - recordedAt: The transition instant
func (c *Client) WriteDeviceState(deviceID string, isOn bool, cause string, recordedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	state := 0
	if isOn {
		state = 1
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
			"cause":     cause,
		},
		map[string]interface{}{
			"state": state,
		},
		recordedAt,
	)

	c.writeAPI.WritePoint(point)
}
