package controller

import (
	"errors"
	"log/slog"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/button"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

// Buttons are numbered as on the board: 1 lowers the interval, 2 raises it.
const (
	buttonDown = 1
	buttonUp   = 2
)

// HandleButton applies a button gesture. Every gesture counts as user
// interaction.
func (c *Controller) HandleButton(ev button.Event) {
	c.power.Touch()
	slog.Debug("[BTN] event", "button", ev.Button, "kind", ev.Kind)

	if ev.Kind != button.Release {
		if ev.Kind == button.Combined {
			slog.Info("[BTN] combined gesture", "button", ev.Button)
		}
		return
	}
	cur := c.Interval()
	switch ev.Button {
	case buttonUp:
		c.setInterval(cur + c.opts.IntervalStep)
	case buttonDown:
		if cur > c.opts.MinInterval {
			c.setInterval(cur - c.opts.IntervalStep)
		}
	}
}

// setInterval stores d and pushes it to every connected central.
func (c *Controller) setInterval(d time.Duration) {
	c.interval.Store(d.Milliseconds())
	slog.Info("[BTN] interval changed", "interval", d)

	value := gatt.EncodeInterval(c.intervalMS())
	h := c.Handle(gatt.RoleInterval)
	conns := c.conns.Snapshot()
	if len(conns) == 0 {
		if err := c.ind.Publish(h, value); err != nil {
			slog.Warn("[BTN] publish interval failed", "error", err)
		}
		return
	}
	for _, conn := range conns {
		err := c.ind.Send(conn, h, value, ble.ModeIndicate)
		switch {
		case errors.Is(err, ble.ErrIndicationPending):
			slog.Warn("[BTN] interval indication pending, skipped", "conn", conn)
		case errors.Is(err, ble.ErrConnClosed):
			slog.Debug("[BTN] connection closed, skipped", "conn", conn)
		case err != nil:
			slog.Warn("[BTN] indicate interval failed", "conn", conn, "error", err)
		}
	}
}
