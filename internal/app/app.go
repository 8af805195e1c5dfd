// Package app wires one boot cycle of the node: stores, controller, power
// scheduler and button source, run together in an errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/button"
	"github.com/chaz8081/narmi-sensor/internal/clock"
	"github.com/chaz8081/narmi-sensor/internal/config"
	"github.com/chaz8081/narmi-sensor/internal/controller"
	"github.com/chaz8081/narmi-sensor/internal/power"
	"github.com/chaz8081/narmi-sensor/internal/sensor"
	"github.com/chaz8081/narmi-sensor/internal/store"
)

// Hardware is what survives across boots: the radio, the sensors, the
// sleeper and, optionally, a stream of button gestures.
type Hardware struct {
	Stack   ble.Stack
	Sensors controller.Sensors
	Sleeper power.Sleeper
	Buttons <-chan button.Event
	Clock   clock.Clock
}

// Run boots the node and blocks until ctx is done or the node has slept.
// After a sleep the returned error wraps power.ErrDeepSleep and the caller
// should boot again.
func Run(ctx context.Context, cfg *config.Config, hw Hardware) error {
	if hw.Clock == nil {
		hw.Clock = clock.System{}
	}
	secrets := store.LoadSecrets(cfg.SecretsPath)
	calib := store.LoadCalibration(cfg.CalibrationPath)

	var ctrl *controller.Controller
	popts := PowerOptions(cfg)
	popts.BeforeSleep = func() { ctrl.Halt() }
	sched := power.New(popts, hw.Clock, hw.Sleeper)

	var err error
	ctrl, err = controller.New(ControllerOptions(cfg), controller.Deps{
		Stack:       hw.Stack,
		Secrets:     secrets,
		Calibration: calib,
		Sensors:     hw.Sensors,
		Bus:         sensor.NewBus(),
		Power:       sched,
		Clock:       hw.Clock,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := ctrl.Start(gctx); err != nil {
		return err
	}
	slog.Info("[BOOT] node up", "name", cfg.DeviceName, "interval", ctrl.Interval(), "deep_sleep", popts.Enabled)

	g.Go(func() error {
		return sched.Run(gctx)
	})
	if hw.Buttons != nil {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-hw.Buttons:
					if !ok {
						slog.Info("[BTN] button source closed")
						return nil
					}
					ctrl.HandleButton(ev)
				}
			}
		})
	}

	err = g.Wait()
	ctrl.Halt()
	ctrl.Wait()
	if errors.Is(err, power.ErrDeepSleep) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// ControllerOptions maps the config onto controller options.
func ControllerOptions(cfg *config.Config) controller.Options {
	opts := controller.DefaultOptions()
	opts.DeviceName = cfg.DeviceName
	opts.AdvertisingInterval = config.Millis(cfg.BLE.AdvertisingIntervalMS)
	opts.Passkey = cfg.BLE.Passkey
	opts.Interval = config.Millis(cfg.Poll.IntervalMS)
	opts.Repeat = cfg.Poll.Repeat
	opts.Pacing = config.Millis(cfg.Poll.PacingMS)
	opts.RetryDelay = config.Millis(cfg.Poll.RetryDelayMS)
	opts.ReinitAfter = cfg.Poll.ReinitAfter
	return opts
}

// PowerOptions maps the config onto scheduler options.
func PowerOptions(cfg *config.Config) power.Options {
	return power.Options{
		Enabled:             cfg.Power.DeepSleep,
		Tick:                config.Millis(cfg.Power.TickMS),
		InteractionTimeout:  config.Millis(cfg.Power.InteractionTimeoutMS),
		AdvertisingTimeout:  config.Millis(cfg.Power.AdvertisingTimeoutMS),
		SleepDuration:       config.Millis(cfg.Power.SleepDurationMS),
		SleepWhileConnected: cfg.Power.SleepWhileConnected,
	}
}

// SimulatedSensors returns host sensors configured from cfg, with the
// climate reads going through the retry policy.
func SimulatedSensors(cfg *config.Config) controller.Sensors {
	sim := sensor.NewSimulated()
	sim.FailureRate = cfg.Sensor.FailureRate
	climate := sensor.WithRetry(sim, sensor.RetryPolicy{
		Attempts: cfg.Sensor.Retries + 1,
		Backoff:  config.Millis(cfg.Sensor.RetryDelayMS),
	})
	return controller.Sensors{Climate: climate, Distance: sim, Battery: sim}
}
