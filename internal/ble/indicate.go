package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/clock"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

// Mode selects how Send pushes a value after writing it.
type Mode uint8

const (
	ModeWrite    Mode = 0
	ModeNotify   Mode = 1 << 0
	ModeIndicate Mode = 1 << 1
	ModeBoth          = ModeNotify | ModeIndicate
)

// ErrIndicationPending is returned when an indication for the same
// (connection, characteristic) has not been confirmed yet.
var ErrIndicationPending = errors.New("ble: indication pending")

// ErrConnClosed is returned by Send for a connection that was dropped and
// not opened again.
var ErrConnClosed = errors.New("ble: connection closed")

type pendingKey struct {
	conn gatt.ConnHandle
	attr gatt.Handle
}

// Indicator serializes outbound indications: at most one unconfirmed
// indication per (connection, characteristic). Safe for concurrent use.
type Indicator struct {
	stack Stack
	clock clock.Clock

	mu      sync.Mutex
	pending map[pendingKey]time.Time
	closed  map[gatt.ConnHandle]struct{}
}

func NewIndicator(stack Stack, clk clock.Clock) *Indicator {
	return &Indicator{
		stack:   stack,
		clock:   clk,
		pending: make(map[pendingKey]time.Time),
		closed:  make(map[gatt.ConnHandle]struct{}),
	}
}

// Publish writes the attribute value without pushing it to anyone.
func (ind *Indicator) Publish(attr gatt.Handle, value []byte) error {
	if err := ind.stack.Write(attr, value); err != nil {
		return fmt.Errorf("ble: write attr %d: %w", attr, err)
	}
	return nil
}

// Send writes value into attr, then notifies and/or indicates conn per
// mode. The write happens even when the indication is refused with
// ErrIndicationPending, so passive reads always see the latest value.
func (ind *Indicator) Send(conn gatt.ConnHandle, attr gatt.Handle, value []byte, mode Mode) error {
	if err := ind.Publish(attr, value); err != nil {
		return err
	}
	if mode == ModeWrite {
		return nil
	}
	ind.mu.Lock()
	_, closed := ind.closed[conn]
	ind.mu.Unlock()
	if closed {
		return ErrConnClosed
	}
	if mode&ModeNotify != 0 {
		if err := ind.stack.Notify(conn, attr); err != nil {
			return fmt.Errorf("ble: notify conn %d attr %d: %w", conn, attr, err)
		}
	}
	if mode&ModeIndicate == 0 {
		return nil
	}

	key := pendingKey{conn, attr}
	ind.mu.Lock()
	if _, closed := ind.closed[conn]; closed {
		ind.mu.Unlock()
		return ErrConnClosed
	}
	if _, busy := ind.pending[key]; busy {
		ind.mu.Unlock()
		return ErrIndicationPending
	}
	ind.pending[key] = ind.clock.Now()
	ind.mu.Unlock()

	// The stack may confirm synchronously, so mu must not be held here.
	if err := ind.stack.Indicate(conn, attr); err != nil {
		ind.mu.Lock()
		delete(ind.pending, key)
		ind.mu.Unlock()
		return fmt.Errorf("ble: indicate conn %d attr %d: %w", conn, attr, err)
	}
	return nil
}

// Confirm clears the pending record for (conn, attr) and returns how long
// the indication was outstanding. A non-zero status is logged only.
func (ind *Indicator) Confirm(conn gatt.ConnHandle, attr gatt.Handle, status uint8) (time.Duration, bool) {
	key := pendingKey{conn, attr}
	ind.mu.Lock()
	sent, ok := ind.pending[key]
	delete(ind.pending, key)
	ind.mu.Unlock()

	if !ok {
		slog.Debug("[BLE] confirmation without pending indication", "conn", conn, "attr", attr)
		return 0, false
	}
	age := ind.clock.Now().Sub(sent)
	if status != 0 {
		slog.Warn("[BLE] indication failed", "conn", conn, "attr", attr, "status", status, "after", age)
	}
	return age, true
}

// Open clears the closed mark Drop left on conn, for stacks that reuse
// connection handles.
func (ind *Indicator) Open(conn gatt.ConnHandle) {
	ind.mu.Lock()
	delete(ind.closed, conn)
	ind.mu.Unlock()
}

// Drop discards every pending record of conn and returns how many there
// were. Until Open is called again, Send refuses to push to conn, so a
// sender racing the disconnect cannot leave a stale record behind.
func (ind *Indicator) Drop(conn gatt.ConnHandle) int {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	ind.closed[conn] = struct{}{}
	n := 0
	for k := range ind.pending {
		if k.conn == conn {
			delete(ind.pending, k)
			n++
		}
	}
	return n
}

// Pending reports whether (conn, attr) awaits confirmation and for how long.
func (ind *Indicator) Pending(conn gatt.ConnHandle, attr gatt.Handle) (time.Duration, bool) {
	ind.mu.Lock()
	sent, ok := ind.pending[pendingKey{conn, attr}]
	ind.mu.Unlock()
	if !ok {
		return 0, false
	}
	return ind.clock.Now().Sub(sent), true
}
