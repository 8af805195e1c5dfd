package controller

import (
	"context"
	"log/slog"

	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
	"github.com/chaz8081/narmi-sensor/internal/store"
)

// HandleEvent is the stack's single entry point. It never blocks: polling
// and advertising retries run on their own goroutines, and the only I/O is
// the synchronous secrets and calibration file writes.
func (c *Controller) HandleEvent(ev ble.Event) ble.Reply {
	switch ev := ev.(type) {
	case ble.ConnectEvent:
		c.onConnect(ev)
	case ble.DisconnectEvent:
		c.onDisconnect(ev)
	case ble.EncryptionUpdateEvent:
		slog.Info("[BLE] encryption updated", "conn", ev.Conn,
			"encrypted", ev.Encrypted, "authenticated", ev.Authenticated,
			"bonded", ev.Bonded, "key_size", ev.KeySize)
	case ble.PasskeyActionEvent:
		return c.onPasskey(ev)
	case ble.GetSecretEvent:
		return c.onGetSecret(ev)
	case ble.SetSecretEvent:
		ok := c.secrets.Set(ev.Type, ev.Key, ev.Value)
		slog.Debug("[BLE] set secret", "type", ev.Type, "delete", len(ev.Value) == 0, "ok", ok)
		return ble.Reply{OK: ok}
	case ble.IndicateDoneEvent:
		if age, ok := c.ind.Confirm(ev.Conn, ev.Attr, ev.Status); ok {
			slog.Debug("[BLE] indication confirmed", "conn", ev.Conn, "attr", ev.Attr, "status", ev.Status, "after", age)
		}
	case ble.WriteEvent:
		c.onWrite(ev)
	default:
		slog.Warn("[BLE] unhandled event", "kind", ev.Kind())
	}
	return ble.Reply{}
}

func (c *Controller) onConnect(ev ble.ConnectEvent) {
	slog.Info("[BLE] central connected", "conn", ev.Conn, "addr", ev.Addr)
	if !c.conns.Add(ev.Conn) {
		slog.Warn("[BLE] duplicate connect", "conn", ev.Conn)
	}
	c.ind.Open(ev.Conn)
	c.power.Connected()
	if err := c.publish(gatt.RoleInterval, gatt.EncodeInterval(c.intervalMS())); err != nil {
		slog.Warn("[BLE] publish interval failed", "error", err)
	}
	c.startPoller(ev.Conn)
}

// onDisconnect does not wait for the poller to exit; a Send still in
// flight after Drop is refused with ErrConnClosed.
func (c *Controller) onDisconnect(ev ble.DisconnectEvent) {
	c.stopPoller(ev.Conn)
	dropped := c.ind.Drop(ev.Conn)
	c.conns.Remove(ev.Conn)
	remaining := c.conns.Len()
	slog.Info("[BLE] central disconnected", "conn", ev.Conn, "addr", ev.Addr,
		"dropped_indications", dropped, "remaining", remaining)

	if err := c.secrets.Save(); err != nil {
		slog.Error("[STORE] save secrets failed", "error", err)
	}
	c.power.Disconnected(remaining)
	c.resumeAdvertising()
}

func (c *Controller) onPasskey(ev ble.PasskeyActionEvent) ble.Reply {
	switch ev.Action {
	case ble.PasskeyNumericComparison:
		slog.Info("[BLE] numeric comparison accepted", "conn", ev.Conn, "passkey", ev.Passkey)
		return ble.Reply{OK: true, Passkey: ev.Passkey}
	case ble.PasskeyDisplay:
		slog.Info("[BLE] passkey display", "conn", ev.Conn)
		return ble.Reply{OK: true, Passkey: c.opts.Passkey}
	case ble.PasskeyInput:
		return ble.Reply{OK: true, Passkey: ev.Passkey}
	default:
		slog.Warn("[BLE] unknown passkey action rejected", "conn", ev.Conn, "action", ev.Action)
		return ble.Reply{}
	}
}

func (c *Controller) onGetSecret(ev ble.GetSecretEvent) ble.Reply {
	var (
		v  []byte
		ok bool
	)
	if ev.Key == nil {
		v, ok = c.secrets.GetIndex(ev.Type, ev.Index)
	} else {
		v, ok = c.secrets.Get(ev.Type, ev.Key)
	}
	slog.Debug("[BLE] get secret", "type", ev.Type, "index", ev.Index, "by_key", ev.Key != nil, "found", ok)
	return ble.Reply{Value: v, OK: ok}
}

func (c *Controller) onWrite(ev ble.WriteEvent) {
	role, ok := c.handles.Role(ev.Attr)
	if !ok || role != gatt.RoleCalibration {
		slog.Warn("[BLE] write to read-only attribute ignored", "conn", ev.Conn, "attr", ev.Attr)
		return
	}
	temp, hum, err := gatt.DecodeCalibration(ev.Value)
	if err != nil {
		slog.Warn("[BLE] malformed calibration write", "conn", ev.Conn, "error", err)
		return
	}
	o := store.Offsets{Temperature: temp, Humidity: hum}
	if err := c.calib.Set(o); err != nil {
		slog.Error("[STORE] save calibration failed", "error", err)
	}
	if err := c.publish(gatt.RoleCalibration, gatt.EncodeCalibration(temp, hum)); err != nil {
		slog.Warn("[BLE] publish calibration failed", "error", err)
	}
	slog.Info("[BLE] calibration updated", "temp_offset", temp, "humidity_offset", hum)
}

func (c *Controller) startPoller(conn gatt.ConnHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.halted {
		return
	}
	if _, running := c.pollers[conn]; running {
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	task := &pollTask{conn: conn, cancel: cancel}
	c.pollers[conn] = task

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.poll(ctx, task)

		c.mu.Lock()
		if c.pollers[conn] == task {
			delete(c.pollers, conn)
		}
		c.mu.Unlock()
	}()
}

func (c *Controller) stopPoller(conn gatt.ConnHandle) {
	c.mu.Lock()
	task, ok := c.pollers[conn]
	delete(c.pollers, conn)
	c.mu.Unlock()
	if ok {
		task.cancel()
	}
}
