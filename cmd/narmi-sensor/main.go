// Command narmi-sensor runs the sensor node: it advertises the environmental
// sensing service, streams readings to connected centrals and drops into
// deep sleep when idle. On a development host the sensors are simulated and
// the arrow keys stand in for the board buttons.
//
// Usage:
//
//	narmi-sensor [-config path] [-init]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/narmi-sensor/internal/app"
	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/button"
	"github.com/chaz8081/narmi-sensor/internal/button/hook"
	"github.com/chaz8081/narmi-sensor/internal/config"
	"github.com/chaz8081/narmi-sensor/internal/power"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/narmi-sensor/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "init: %v\n", err)
			os.Exit(1)
		}
		if path == "" {
			fmt.Println("Config already exists at", config.DefaultConfigPath())
			return
		}
		fmt.Println("Wrote default config to", path)
		return
	}

	cfg, source, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg))
	slog.Info("[BOOT] config loaded", "source", source)
	printBanner(cfg)

	hw := app.Hardware{
		Stack:   ble.NewTinyGoStack(),
		Sensors: app.SimulatedSensors(cfg),
		Sleeper: power.HostSleeper{},
	}

	var listener *hook.Listener
	if cfg.Buttons.Enabled {
		listener = hook.NewListener(map[int]string{1: cfg.Buttons.Down, 2: cfg.Buttons.Up}, button.NewDecoder(button.DefaultOptions()))
		hw.Buttons = listener.Events()
		go listener.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for boot := 1; ; boot++ {
		slog.Info("[BOOT] starting", "boot", boot)
		err := app.Run(ctx, cfg, hw)
		switch {
		case errors.Is(err, power.ErrDeepSleep):
			continue
		case ctx.Err() != nil:
			slog.Info("[BOOT] shutting down")
			if listener != nil {
				listener.Stop()
			}
			// Exit directly to avoid gohook's C cleanup crash.
			os.Exit(0)
		default:
			slog.Error("[BOOT] node failed", "error", err)
			os.Exit(1)
		}
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. It also reports
// where the config came from.
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, defaultPath, nil
	}

	return config.Default(), "defaults", nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		return
	}
	fmt.Println("=== narmi-sensor ===")
	fmt.Printf("  Name:      %s\n", cfg.DeviceName)
	fmt.Printf("  Interval:  %dms (x%d, pacing %dms)\n", cfg.Poll.IntervalMS, cfg.Poll.Repeat, cfg.Poll.PacingMS)
	fmt.Printf("  Sleep:     %v (adv %dms, idle %dms, for %dms)\n",
		cfg.Power.DeepSleep, cfg.Power.AdvertisingTimeoutMS, cfg.Power.InteractionTimeoutMS, cfg.Power.SleepDurationMS)
	if cfg.Buttons.Enabled {
		fmt.Printf("  Buttons:   1=%s 2=%s\n", cfg.Buttons.Down, cfg.Buttons.Up)
	}
	fmt.Printf("  Secrets:   %s\n", cfg.SecretsPath)
	fmt.Printf("  Log:       %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
