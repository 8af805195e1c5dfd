// Package controller is the BLE peripheral application: it owns the shared
// state of the node, answers stack events, and runs one sensor polling task
// per connected central.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/clock"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
	"github.com/chaz8081/narmi-sensor/internal/sensor"
	"github.com/chaz8081/narmi-sensor/internal/store"
)

// Options configures the controller.
type Options struct {
	DeviceName          string
	AdvertisingInterval time.Duration
	AdvertiseBackoffMax time.Duration
	Passkey             uint32 // replied for passkey display requests
	Security            ble.SecurityConfig

	Interval     time.Duration // initial polling interval
	IntervalStep time.Duration // button adjustment
	MinInterval  time.Duration // button 1 lowers the interval only while above this
	Repeat       int           // indication rounds per cycle
	Pacing       time.Duration // delay after each indication
	RetryDelay   time.Duration // before retrying a failed cycle
	ReinitAfter  int           // consecutive climate failures before reinit
}

// DefaultOptions returns the firmware defaults.
func DefaultOptions() Options {
	return Options{
		DeviceName:          "NARMI000",
		AdvertisingInterval: 500 * time.Millisecond,
		AdvertiseBackoffMax: 30 * time.Second,
		Passkey:             1234,
		Security:            ble.DefaultSecurityConfig(),
		Interval:            5 * time.Second, // the deep sleep duration
		IntervalStep:        time.Second,
		MinInterval:         time.Second,
		Repeat:              2,
		Pacing:              50 * time.Millisecond,
		RetryDelay:          200 * time.Millisecond,
		ReinitAfter:         5,
	}
}

// SecretStore persists bonding material on behalf of the BLE stack.
type SecretStore interface {
	Get(typ int, key []byte) ([]byte, bool)
	GetIndex(typ, index int) ([]byte, bool)
	Set(typ int, key, value []byte) bool
	Save() error
}

// CalibrationStore holds the additive climate offsets.
type CalibrationStore interface {
	Offsets() store.Offsets
	Set(o store.Offsets) error
}

// PowerTracker is told about activity so it can schedule deep sleep.
type PowerTracker interface {
	Touch()
	AdvertisingStarted()
	Connected()
	Disconnected(remaining int)
}

// Sensors groups the drivers read by the polling tasks.
type Sensors struct {
	Climate  sensor.ClimateSensor
	Distance sensor.DistanceSensor
	Battery  sensor.BatteryGauge
}

// Deps are the collaborators injected into New. Power and Clock are
// optional.
type Deps struct {
	Stack       ble.Stack
	Secrets     SecretStore
	Calibration CalibrationStore
	Sensors     Sensors
	Bus         *sensor.Bus
	Power       PowerTracker
	Clock       clock.Clock
}

// Controller is the shared context of the node. Its mutable state is
// guarded by mu, held only for short non-blocking sections.
type Controller struct {
	opts    Options
	stack   ble.Stack
	ind     *ble.Indicator
	handles *gatt.HandleTable
	conns   *gatt.Registry
	secrets SecretStore
	calib   CalibrationStore
	sensors Sensors
	bus     *sensor.Bus
	power   PowerTracker

	interval atomic.Int64 // milliseconds
	readings readings

	mu      sync.Mutex
	baseCtx context.Context
	pollers map[gatt.ConnHandle]*pollTask
	halted  bool
	wg      sync.WaitGroup
}

// New enables the stack, registers the GATT services and publishes the
// initial interval and calibration values. Call Start to advertise.
func New(opts Options, deps Deps) (*Controller, error) {
	if deps.Stack == nil || deps.Secrets == nil || deps.Calibration == nil {
		return nil, fmt.Errorf("controller: stack, secrets and calibration are required")
	}
	if deps.Sensors.Climate == nil || deps.Sensors.Distance == nil || deps.Sensors.Battery == nil {
		return nil, fmt.Errorf("controller: all sensors are required")
	}
	if opts.Repeat <= 0 {
		opts.Repeat = 2
	}
	if opts.ReinitAfter <= 0 {
		opts.ReinitAfter = 5
	}
	if opts.IntervalStep <= 0 {
		opts.IntervalStep = time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if deps.Bus == nil {
		deps.Bus = sensor.NewBus()
	}
	if deps.Power == nil {
		deps.Power = nopPower{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}

	c := &Controller{
		opts:    opts,
		stack:   deps.Stack,
		ind:     ble.NewIndicator(deps.Stack, deps.Clock),
		conns:   gatt.NewRegistry(),
		secrets: deps.Secrets,
		calib:   deps.Calibration,
		sensors: deps.Sensors,
		bus:     deps.Bus,
		power:   deps.Power,
		baseCtx: context.Background(),
		pollers: make(map[gatt.ConnHandle]*pollTask),
	}
	c.interval.Store(opts.Interval.Milliseconds())

	if err := c.stack.Enable(opts.Security); err != nil {
		return nil, fmt.Errorf("controller: enable stack: %w", err)
	}
	c.stack.SetHandler(c.HandleEvent)

	services := gatt.Services()
	handles, err := c.stack.Register(services)
	if err != nil {
		return nil, fmt.Errorf("controller: register services: %w", err)
	}
	if c.handles, err = gatt.NewHandleTable(services, handles); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	if err := c.publish(gatt.RoleInterval, gatt.EncodeInterval(c.intervalMS())); err != nil {
		return nil, err
	}
	o := c.calib.Offsets()
	if err := c.publish(gatt.RoleCalibration, gatt.EncodeCalibration(o.Temperature, o.Humidity)); err != nil {
		return nil, err
	}
	return c, nil
}

// Start begins advertising. ctx bounds the polling tasks and advertising
// retries started later.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.halted = false
	c.mu.Unlock()

	if err := ble.KeepAdvertising(ctx, c.stack, c.advertisement(), c.opts.AdvertiseBackoffMax); err != nil {
		return fmt.Errorf("controller: advertise: %w", err)
	}
	c.power.AdvertisingStarted()
	return nil
}

func (c *Controller) advertisement() ble.Advertisement {
	return ble.Advertisement{
		Name:         c.opts.DeviceName,
		ServiceUUIDs: []uint16{gatt.UUIDEnvironmentalSensing},
		Appearance:   gatt.AppearanceGenericThermometer,
		Interval:     c.opts.AdvertisingInterval,
	}
}

// resumeAdvertising restarts advertising in the background so the event
// handler never waits on backoff.
func (c *Controller) resumeAdvertising() {
	c.mu.Lock()
	ctx, halted := c.baseCtx, c.halted
	c.mu.Unlock()
	if halted {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := ble.KeepAdvertising(ctx, c.stack, c.advertisement(), c.opts.AdvertiseBackoffMax); err != nil {
			slog.Warn("[BLE] advertising not resumed", "error", err)
			return
		}
		if c.conns.Len() == 0 {
			c.power.AdvertisingStarted()
		}
	}()
}

// Halt cancels every polling task, abandons pending indications and stops
// advertising. Used right before deep sleep.
func (c *Controller) Halt() {
	c.mu.Lock()
	c.halted = true
	tasks := make([]*pollTask, 0, len(c.pollers))
	for _, t := range c.pollers {
		tasks = append(tasks, t)
	}
	c.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, conn := range c.conns.Snapshot() {
		c.ind.Drop(conn)
	}
	if err := c.stack.StopAdvertising(); err != nil {
		slog.Warn("[BLE] stop advertising failed", "error", err)
	}
	slog.Info("[BLE] controller halted", "tasks", len(tasks))
}

// Wait blocks until every polling task and advertising retry has exited.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Interval returns the current polling interval.
func (c *Controller) Interval() time.Duration {
	return time.Duration(c.interval.Load()) * time.Millisecond
}

func (c *Controller) intervalMS() uint32 {
	return uint32(c.interval.Load())
}

// Connections returns the connected handles in ascending order.
func (c *Controller) Connections() []gatt.ConnHandle {
	return c.conns.Snapshot()
}

// Handle returns the attribute handle registered for r.
func (c *Controller) Handle(r gatt.Role) gatt.Handle {
	h, _ := c.handles.Handle(r)
	return h
}

func (c *Controller) publish(r gatt.Role, value []byte) error {
	h, ok := c.handles.Handle(r)
	if !ok {
		return fmt.Errorf("controller: no handle for %s", r)
	}
	if err := c.ind.Publish(h, value); err != nil {
		return fmt.Errorf("controller: publish %s: %w", r, err)
	}
	return nil
}

type nopPower struct{}

func (nopPower) Touch()              {}
func (nopPower) AdvertisingStarted() {}
func (nopPower) Connected()          {}
func (nopPower) Disconnected(int)    {}
