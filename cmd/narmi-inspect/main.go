// Command narmi-inspect shows and edits the node's persisted state: the
// calibration offsets and the bonding secrets. It can also decode a raw
// characteristic value captured from a central.
//
// Usage:
//
//	go run ./cmd/narmi-inspect [-config path] [-calib-temp C -calib-humidity %] [-reset-secrets]
//	go run ./cmd/narmi-inspect -decode temperature=1d08
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chaz8081/narmi-sensor/internal/config"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
	"github.com/chaz8081/narmi-sensor/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/narmi-sensor/config.yaml)")
	calibTemp := flag.Float64("calib-temp", 0, "set the temperature offset (degC)")
	calibHumidity := flag.Float64("calib-humidity", 0, "set the humidity offset (%RH)")
	resetSecrets := flag.Bool("reset-secrets", false, "remove every stored bond")
	decode := flag.String("decode", "", "decode role=hexvalue and exit")
	flag.Parse()

	if *decode != "" {
		out, err := decodeValue(*decode)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	} else if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
		if cfg, err = config.Load(config.DefaultConfigPath()); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	calib := store.LoadCalibration(cfg.CalibrationPath)
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["calib-temp"] || set["calib-humidity"] {
		o := calib.Offsets()
		if set["calib-temp"] {
			o.Temperature = *calibTemp
		}
		if set["calib-humidity"] {
			o.Humidity = *calibHumidity
		}
		if err := calib.Set(o); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	o := calib.Offsets()
	fmt.Printf("Calibration (%s)\n", cfg.CalibrationPath)
	fmt.Printf("  temperature: %+.2f degC\n", o.Temperature)
	fmt.Printf("  humidity:    %+.2f %%RH\n", o.Humidity)

	secrets := store.LoadSecrets(cfg.SecretsPath)
	if *resetSecrets {
		if err := secrets.Reset(); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("\nSecrets (%s): %d\n", cfg.SecretsPath, secrets.Len())
	secrets.Each(func(typ int, key, value []byte) {
		fmt.Printf("  type %d  key %s  value %d bytes\n", typ, hex.EncodeToString(key), len(value))
	})
}

// decodeValue turns "role=hex" into a human readable value.
func decodeValue(arg string) (string, error) {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok {
		return "", fmt.Errorf("expected role=hexvalue, got %q", arg)
	}
	b, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return "", fmt.Errorf("bad hex value: %w", err)
	}

	switch name {
	case gatt.RoleTemperature.String():
		v, err := gatt.DecodeTemperature(b)
		return fmt.Sprintf("%.2f degC", v), err
	case gatt.RoleHumidity.String():
		v, err := gatt.DecodeHumidity(b)
		return fmt.Sprintf("%.2f %%RH", v), err
	case gatt.RoleDistance.String():
		v, err := gatt.DecodeDistance(b)
		return fmt.Sprintf("%.1f cm", v), err
	case gatt.RoleInterval.String():
		v, err := gatt.DecodeInterval(b)
		return fmt.Sprintf("%d ms", v), err
	case gatt.RoleBatteryLevel.String():
		v, err := gatt.DecodeBatteryLevel(b)
		return fmt.Sprintf("%.0f %%", v), err
	case gatt.RoleBatteryVoltage.String():
		v, err := gatt.DecodeBatteryVoltage(b)
		return fmt.Sprintf("%.3f V", v), err
	case gatt.RoleCalibration.String():
		t, h, err := gatt.DecodeCalibration(b)
		return fmt.Sprintf("temperature %+.2f degC, humidity %+.2f %%RH", t, h), err
	default:
		return "", fmt.Errorf("unknown role %q", name)
	}
}
