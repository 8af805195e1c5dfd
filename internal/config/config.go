package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all node configuration. Durations are integer milliseconds.
type Config struct {
	DeviceName      string        `yaml:"device_name"`
	SecretsPath     string        `yaml:"secrets_path"`
	CalibrationPath string        `yaml:"calibration_path"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"` // "text" or "json"
	Poll            PollConfig    `yaml:"poll"`
	Power           PowerConfig   `yaml:"power"`
	BLE             BLEConfig     `yaml:"ble"`
	Buttons         ButtonsConfig `yaml:"buttons"`
	Sensor          SensorConfig  `yaml:"sensor"`
}

// PollConfig holds the per-connection polling settings.
type PollConfig struct {
	IntervalMS   int `yaml:"interval_ms"`
	Repeat       int `yaml:"repeat"`
	PacingMS     int `yaml:"pacing_ms"`
	RetryDelayMS int `yaml:"retry_delay_ms"`
	ReinitAfter  int `yaml:"reinit_after"`
}

// PowerConfig holds the deep sleep settings.
type PowerConfig struct {
	DeepSleep            bool `yaml:"deep_sleep"`
	TickMS               int  `yaml:"tick_ms"`
	AdvertisingTimeoutMS int  `yaml:"advertising_timeout_ms"`
	InteractionTimeoutMS int  `yaml:"interaction_timeout_ms"`
	SleepDurationMS      int  `yaml:"sleep_duration_ms"`
	SleepWhileConnected  bool `yaml:"sleep_while_connected"`
}

// BLEConfig holds radio settings.
type BLEConfig struct {
	Passkey               uint32 `yaml:"passkey"`
	AdvertisingIntervalMS int    `yaml:"advertising_interval_ms"`
}

// ButtonsConfig maps the two board buttons to keyboard keys on a host.
type ButtonsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Down    string `yaml:"down"` // button 1
	Up      string `yaml:"up"`   // button 2
}

// SensorConfig tunes the simulated sensors and the climate retry policy.
type SensorConfig struct {
	Retries      int     `yaml:"retries"`
	RetryDelayMS int     `yaml:"retry_delay_ms"`
	FailureRate  float64 `yaml:"failure_rate"`
}

// Millis converts a config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "narmi-sensor")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns the firmware defaults. The polling interval starts at
// the deep sleep duration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".local", "share", "narmi-sensor")

	const sleepMS = 5000
	return &Config{
		DeviceName:      "NARMI000",
		SecretsPath:     filepath.Join(dataDir, "secrets.yaml"),
		CalibrationPath: filepath.Join(dataDir, "calibration.yaml"),
		LogLevel:        "info",
		LogFormat:       "text",
		Poll: PollConfig{
			IntervalMS:   sleepMS,
			Repeat:       2,
			PacingMS:     50,
			RetryDelayMS: 200,
			ReinitAfter:  5,
		},
		Power: PowerConfig{
			DeepSleep:            true,
			TickMS:               250,
			AdvertisingTimeoutMS: 10000,
			InteractionTimeoutMS: 12000,
			SleepDurationMS:      sleepMS,
			SleepWhileConnected:  true,
		},
		BLE: BLEConfig{
			Passkey:               1234,
			AdvertisingIntervalMS: 500,
		},
		Buttons: ButtonsConfig{
			Enabled: true,
			Down:    "down",
			Up:      "up",
		},
		Sensor: SensorConfig{
			Retries:      3,
			RetryDelayMS: 100,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults; a missing poll.interval_ms follows power.sleep_duration_ms. A
// leading ~ in the file paths is expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	cfg.Poll.IntervalMS = 0
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Poll.IntervalMS == 0 {
		cfg.Poll.IntervalMS = cfg.Power.SleepDurationMS
	}

	cfg.SecretsPath = expandTilde(cfg.SecretsPath)
	cfg.CalibrationPath = expandTilde(cfg.CalibrationPath)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath. If the file
// already exists it returns ("", nil) and leaves it alone.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data := append([]byte("# narmi-sensor configuration. Durations are milliseconds.\n"), body...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device_name must not be empty")
	}
	if len(c.DeviceName) > 20 {
		return fmt.Errorf("device_name must be at most 20 bytes to fit the advertisement, got %d", len(c.DeviceName))
	}
	if c.SecretsPath == "" {
		return fmt.Errorf("secrets_path must not be empty")
	}
	if c.CalibrationPath == "" {
		return fmt.Errorf("calibration_path must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}

	if c.Poll.IntervalMS < 1000 {
		return fmt.Errorf("poll.interval_ms must be >= 1000, got %d", c.Poll.IntervalMS)
	}
	if c.Poll.Repeat <= 0 {
		return fmt.Errorf("poll.repeat must be > 0")
	}
	if c.Poll.PacingMS < 0 || c.Poll.RetryDelayMS < 0 {
		return fmt.Errorf("poll.pacing_ms and poll.retry_delay_ms must be >= 0")
	}
	if c.Poll.ReinitAfter <= 0 {
		return fmt.Errorf("poll.reinit_after must be > 0")
	}

	if c.Power.TickMS <= 0 {
		return fmt.Errorf("power.tick_ms must be > 0")
	}
	if c.Power.AdvertisingTimeoutMS <= 0 || c.Power.InteractionTimeoutMS <= 0 {
		return fmt.Errorf("power timeouts must be > 0")
	}
	if c.Power.SleepDurationMS <= 0 {
		return fmt.Errorf("power.sleep_duration_ms must be > 0")
	}

	if c.BLE.Passkey > 999999 {
		return fmt.Errorf("ble.passkey must have at most 6 digits, got %d", c.BLE.Passkey)
	}
	if c.BLE.AdvertisingIntervalMS < 20 || c.BLE.AdvertisingIntervalMS > 10240 {
		return fmt.Errorf("ble.advertising_interval_ms must be within 20..10240, got %d", c.BLE.AdvertisingIntervalMS)
	}

	if c.Buttons.Enabled && (c.Buttons.Down == "" || c.Buttons.Up == "") {
		return fmt.Errorf("buttons.down and buttons.up must be set when buttons are enabled")
	}
	if c.Buttons.Enabled && c.Buttons.Down == c.Buttons.Up {
		return fmt.Errorf("buttons.down and buttons.up must differ, both are %q", c.Buttons.Up)
	}

	if c.Sensor.Retries < 0 || c.Sensor.RetryDelayMS < 0 {
		return fmt.Errorf("sensor.retries and sensor.retry_delay_ms must be >= 0")
	}
	if c.Sensor.FailureRate < 0 || c.Sensor.FailureRate > 1 {
		return fmt.Errorf("sensor.failure_rate must be within 0..1, got %v", c.Sensor.FailureRate)
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
