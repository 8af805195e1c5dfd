package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Offsets are additive corrections applied to raw climate readings.
type Offsets struct {
	Temperature float64 `yaml:"calib_temp"`
	Humidity    float64 `yaml:"calib_humidity"`
}

// Apply returns the corrected temperature and humidity.
func (o Offsets) Apply(temp, humidity float64) (float64, float64) {
	return temp + o.Temperature, humidity + o.Humidity
}

// Calibration owns the persisted offsets. Safe for concurrent use.
type Calibration struct {
	path string

	mu      sync.Mutex
	offsets Offsets
}

// LoadCalibration reads the calibration file at path. A missing file is
// recreated with zero offsets; an unreadable one yields zero offsets.
func LoadCalibration(path string) *Calibration {
	c := &Calibration{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("[STORE] no calibration file, writing defaults", "path", path)
		if err := c.write(Offsets{}); err != nil {
			slog.Warn("[STORE] writing default calibration failed", "error", err)
		}
		return c
	case err != nil:
		slog.Warn("[STORE] reading calibration failed, using zero offsets", "path", path, "error", err)
		return c
	}

	var o Offsets
	if err := yaml.Unmarshal(data, &o); err != nil {
		slog.Warn("[STORE] parsing calibration failed, using zero offsets", "path", path, "error", err)
		return c
	}
	c.offsets = o
	slog.Info("[STORE] calibration loaded", "temp", o.Temperature, "humidity", o.Humidity)
	return c
}

// Offsets returns the current offsets.
func (c *Calibration) Offsets() Offsets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets
}

// Set replaces the offsets and persists them. The in-memory value is
// updated even when the write fails.
func (c *Calibration) Set(o Offsets) error {
	c.mu.Lock()
	c.offsets = o
	c.mu.Unlock()
	return c.write(o)
}

func (c *Calibration) write(o Offsets) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return fmt.Errorf("store: encoding calibration: %w", err)
	}
	if err := writeFileAtomic(c.path, data, 0o644); err != nil {
		return fmt.Errorf("store: saving calibration: %w", err)
	}
	return nil
}
