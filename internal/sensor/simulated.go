package sensor

import (
	"context"
	"math/rand/v2"
	"sync"
)

// Simulated stands in for the SHT40, HC-SR04 and MAX17048 drivers when the
// controller runs on a host. Values drift in a bounded random walk.
// FailureRate is the probability of a climate read returning ErrNoData.
type Simulated struct {
	FailureRate float64

	mu       sync.Mutex
	climate  Climate
	distance float64
	battery  Battery
}

func NewSimulated() *Simulated {
	return &Simulated{
		climate:  Climate{Temperature: 22.5, Humidity: 45},
		distance: 120,
		battery:  Battery{Percent: 96, Volts: 4.1},
	}
}

func (s *Simulated) ReadClimate(ctx context.Context) (Climate, error) {
	if err := ctx.Err(); err != nil {
		return Climate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailureRate > 0 && rand.Float64() < s.FailureRate {
		return Climate{}, ErrNoData
	}
	s.climate.Temperature = clamp(s.climate.Temperature+drift(0.1), -40, 125)
	s.climate.Humidity = clamp(s.climate.Humidity+drift(0.5), 0, 100)
	return s.climate, nil
}

func (s *Simulated) Reinitialize(ctx context.Context) error {
	return ctx.Err()
}

func (s *Simulated) ReadDistanceCM(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distance = clamp(s.distance+drift(2), 2, 400)
	return s.distance, nil
}

func (s *Simulated) ReadBattery(ctx context.Context) (Battery, error) {
	if err := ctx.Err(); err != nil {
		return Battery{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battery.Percent = clamp(s.battery.Percent-0.01, 0, 100)
	s.battery.Volts = clamp(3.3+0.009*s.battery.Percent, 3.0, 4.2)
	return s.battery, nil
}

func drift(step float64) float64 {
	return (rand.Float64()*2 - 1) * step
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

var (
	_ ClimateSensor  = (*Simulated)(nil)
	_ DistanceSensor = (*Simulated)(nil)
	_ BatteryGauge   = (*Simulated)(nil)
)
