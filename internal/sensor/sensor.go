// Package sensor declares the narrow interfaces through which the
// controller consumes the climate, distance and battery drivers, plus the
// retry combinator and shared bus lock those reads go through.
package sensor

import (
	"context"
	"errors"
)

// ErrNoData is returned by a driver that completed without a reading.
var ErrNoData = errors.New("sensor: no data")

// Climate is a temperature/humidity sample in degC and %RH.
type Climate struct {
	Temperature float64
	Humidity    float64
}

// Valid reports whether the sample lies inside the SHT4x operating range.
func (c Climate) Valid() bool {
	return c.Temperature >= -40 && c.Temperature <= 125 &&
		c.Humidity >= 0 && c.Humidity <= 100
}

// Battery is a fuel gauge sample.
type Battery struct {
	Percent float64
	Volts   float64
}

// ClimateSensor reads temperature and humidity.
type ClimateSensor interface {
	ReadClimate(ctx context.Context) (Climate, error)
	// Reinitialize re-creates the driver after repeated failures.
	Reinitialize(ctx context.Context) error
}

// DistanceSensor reads the ultrasonic range finder.
type DistanceSensor interface {
	ReadDistanceCM(ctx context.Context) (float64, error)
}

// BatteryGauge reads state of charge and cell voltage.
type BatteryGauge interface {
	ReadBattery(ctx context.Context) (Battery, error)
}
