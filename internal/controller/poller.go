package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/clock"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
	"github.com/chaz8081/narmi-sensor/internal/sensor"
)

type pollState int32

const (
	stateIdle pollState = iota
	stateReading
	stateIndicating
	statePacedSleep
)

func (s pollState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateReading:
		return "reading"
	case stateIndicating:
		return "indicating"
	case statePacedSleep:
		return "paced_sleep"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type pollTask struct {
	conn   gatt.ConnHandle
	cancel context.CancelFunc
	state  atomic.Int32
}

func (t *pollTask) enter(s pollState) {
	if prev := pollState(t.state.Swap(int32(s))); prev != s {
		slog.Debug("[POLL] state", "conn", t.conn, "from", prev, "to", s)
	}
}

// snapshot is one round of readings. The has* flags are false for values
// never read successfully.
type snapshot struct {
	climate     sensor.Climate
	hasClimate  bool
	distance    float64
	hasDistance bool
	battery     sensor.Battery
	hasBattery  bool
}

// readings keeps the last good value of every sensor and the climate
// failure streak. Shared by all polling tasks.
type readings struct {
	mu sync.Mutex
	snapshot
	climateFailures int
	climateDisabled bool
}

// poll runs the cycle / paced sleep loop for one connection until ctx is
// cancelled or the connection is gone.
func (c *Controller) poll(ctx context.Context, task *pollTask) {
	conn := task.conn
	slog.Info("[POLL] task started", "conn", conn, "interval", c.Interval())
	defer slog.Info("[POLL] task stopped", "conn", conn)

	for {
		if err := c.runCycle(ctx, task); err != nil && ctx.Err() == nil {
			slog.Warn("[POLL] cycle failed, retrying", "conn", conn, "error", err)
			if clock.Sleep(ctx, c.opts.RetryDelay) != nil {
				return
			}
			if err := c.runCycle(ctx, task); err != nil && ctx.Err() == nil {
				slog.Error("[POLL] cycle abandoned", "conn", conn, "error", err)
			}
		}
		if ctx.Err() != nil {
			return
		}

		task.enter(statePacedSleep)
		if clock.Sleep(ctx, c.Interval()) != nil {
			return
		}
		if !c.conns.Has(conn) {
			return
		}
		task.enter(stateIdle)
	}
}

// runCycle reads and indicates Repeat times. A panic is turned into an
// error so the task survives it.
func (c *Controller) runCycle(ctx context.Context, task *pollTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller: poll cycle panic: %v", r)
		}
	}()

	for round := 0; round < c.opts.Repeat; round++ {
		task.enter(stateReading)
		snap, err := c.readAll(ctx)
		if err != nil {
			return err
		}
		task.enter(stateIndicating)
		if err := c.indicateAll(ctx, task.conn, snap); err != nil {
			return err
		}
	}
	return nil
}

// readAll reads every sensor under the bus lock, substituting the previous
// good value for a failed read.
func (c *Controller) readAll(ctx context.Context) (snapshot, error) {
	release, err := c.bus.Acquire(ctx)
	if err != nil {
		return snapshot{}, err
	}
	defer release()

	if err := c.readClimate(ctx); err != nil {
		return snapshot{}, err
	}

	dist, err := c.sensors.Distance.ReadDistanceCM(ctx)
	if ctx.Err() != nil {
		return snapshot{}, ctx.Err()
	}
	c.readings.mu.Lock()
	if err != nil {
		slog.Warn("[POLL] distance read failed, reusing last value", "error", err)
	} else {
		c.readings.distance, c.readings.hasDistance = dist, true
	}
	c.readings.mu.Unlock()

	batt, err := c.sensors.Battery.ReadBattery(ctx)
	if ctx.Err() != nil {
		return snapshot{}, ctx.Err()
	}
	c.readings.mu.Lock()
	defer c.readings.mu.Unlock()
	if err != nil {
		slog.Warn("[POLL] battery read failed, reusing last value", "error", err)
	} else {
		c.readings.battery, c.readings.hasBattery = batt, true
	}
	return c.readings.snapshot, nil
}

// readClimate updates the cached climate sample. Invalid samples count as
// failures; every ReinitAfter consecutive failures the sensor is
// reinitialized once. Only cancellation is returned as an error.
func (c *Controller) readClimate(ctx context.Context) error {
	r := &c.readings
	r.mu.Lock()
	disabled := r.climateDisabled
	r.mu.Unlock()

	var failure error
	if disabled {
		failure = errors.New("climate sensor disabled after failed reinit")
	} else {
		raw, err := c.sensors.Climate.ReadClimate(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			failure = err
		case !raw.Valid():
			failure = fmt.Errorf("reading out of range: %.2f degC %.2f %%RH", raw.Temperature, raw.Humidity)
		default:
			o := c.calib.Offsets()
			t, h := o.Apply(raw.Temperature, raw.Humidity)
			r.mu.Lock()
			r.climate = sensor.Climate{Temperature: t, Humidity: h}
			r.hasClimate = true
			r.climateFailures = 0
			r.mu.Unlock()
			return nil
		}
	}

	r.mu.Lock()
	r.climateFailures++
	failures := r.climateFailures
	reinit := failures >= c.opts.ReinitAfter
	if reinit {
		r.climateFailures = 0
	}
	r.mu.Unlock()
	slog.Warn("[POLL] climate read failed, reusing last value", "error", failure, "consecutive", failures)

	if !reinit {
		return nil
	}
	slog.Warn("[POLL] reinitializing climate sensor", "after_failures", failures)
	err := c.sensors.Climate.Reinitialize(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.mu.Lock()
	r.climateDisabled = err != nil
	r.mu.Unlock()
	if err != nil {
		slog.Error("[POLL] climate reinit failed, sensor disabled", "error", err)
	}
	return nil
}

type indication struct {
	role  gatt.Role
	value []byte
	ok    bool
}

// indicateAll indicates one round in the fixed order distance, temperature,
// humidity, battery level, interval, pacing after each. Battery voltage is
// only written.
func (c *Controller) indicateAll(ctx context.Context, conn gatt.ConnHandle, s snapshot) error {
	round := []indication{
		{gatt.RoleDistance, gatt.EncodeDistance(s.distance), s.hasDistance},
		{gatt.RoleTemperature, gatt.EncodeTemperature(s.climate.Temperature), s.hasClimate},
		{gatt.RoleHumidity, gatt.EncodeHumidity(s.climate.Humidity), s.hasClimate},
		{gatt.RoleBatteryLevel, gatt.EncodeBatteryLevel(s.battery.Percent), s.hasBattery},
		{gatt.RoleInterval, gatt.EncodeInterval(c.intervalMS()), true},
	}
	for _, in := range round {
		if !in.ok {
			slog.Debug("[POLL] no value yet", "role", in.role)
			continue
		}
		h := c.Handle(in.role)
		err := c.ind.Send(conn, h, in.value, ble.ModeIndicate)
		if errors.Is(err, ble.ErrIndicationPending) {
			slog.Warn("[POLL] previous indication unconfirmed, skipped", "conn", conn, "role", in.role)
		} else if err != nil {
			return fmt.Errorf("controller: indicate %s: %w", in.role, err)
		}
		if err := clock.Sleep(ctx, c.opts.Pacing); err != nil {
			return err
		}
	}
	if s.hasBattery {
		if err := c.publish(gatt.RoleBatteryVoltage, gatt.EncodeBatteryVoltage(s.battery.Volts)); err != nil {
			return err
		}
	}
	return nil
}
