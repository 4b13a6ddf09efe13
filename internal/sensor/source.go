package sensor

import (
	"context"
	"time"
)

// Measurement keys produced by the reader binary.
const (
	MeasurementTemperature = "temperature_c"
	MeasurementHumidity    = "humidity_percentage"
)

// Reading is one environmental sample from a sensor.
type Reading struct {
	SensorID   string
	RecordedAt time.Time

	// Values maps measurement names to readings, e.g.
	// {"temperature_c": 24.1, "humidity_percentage": 61.5}.
	Values map[string]float64
}

// Humidity returns the relative humidity measurement, if present.
func (r *Reading) Humidity() (float64, bool) {
	v, ok := r.Values[MeasurementHumidity]
	return v, ok
}

// Temperature returns the temperature measurement, if present.
func (r *Reading) Temperature() (float64, bool) {
	v, ok := r.Values[MeasurementTemperature]
	return v, ok
}

// Age returns how old the reading is relative to now.
func (r *Reading) Age(now time.Time) time.Duration {
	return now.Sub(r.RecordedAt)
}

// Source serves the newest stored reading for a sensor.
type Source interface {
	// LatestReading returns the most recent reading, or (nil, nil) when
	// the sensor has no rows yet.
	LatestReading(ctx context.Context, sensorID string) (*Reading, error)
}
