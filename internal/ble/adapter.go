// Package ble is the peripheral side of the sensor node's Bluetooth Low
// Energy link. It abstracts the host stack behind Stack so the controller can
// be driven by TinyGo's bluetooth package on hardware and by an in-memory fake
// in tests, and it owns the per-connection indication flow control.
package ble

import (
	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

// IOCapability is the SMP input/output capability advertised during pairing.
type IOCapability uint8

const (
	IODisplayOnly     IOCapability = 0
	IODisplayYesNo    IOCapability = 1
	IOKeyboardOnly    IOCapability = 2
	IONoInputOutput   IOCapability = 3
	IOKeyboardDisplay IOCapability = 4
)

// SecurityConfig is applied when the stack is enabled.
type SecurityConfig struct {
	Bond     bool
	LESecure bool // LE Secure Connections
	MITM     bool
	IO       IOCapability
}

// DefaultSecurityConfig bonds with LE Secure Connections and MITM
// protection. With no IO the stack falls back to just-works/numeric
// comparison, never human passkey entry.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		Bond:     true,
		LESecure: true,
		MITM:     true,
		IO:       IONoInputOutput,
	}
}

// Handler receives stack events one at a time. It must not block.
type Handler func(Event) Reply

// Stack abstracts the BLE host stack for the peripheral role.
type Stack interface {
	// Enable powers on the radio and applies the security configuration.
	Enable(sec SecurityConfig) error
	// SetHandler installs the event callback. Events delivered before a
	// handler is set are dropped.
	SetHandler(h Handler)
	// Register adds services in order and returns one value handle per
	// characteristic, shaped like the input.
	Register(services []gatt.Service) ([][]gatt.Handle, error)
	// Write stores the local value of an attribute for peers to read.
	Write(attr gatt.Handle, value []byte) error
	// Notify pushes the current value of attr to conn without confirmation.
	Notify(conn gatt.ConnHandle, attr gatt.Handle) error
	// Indicate pushes the current value of attr to conn; the stack reports
	// the peer's confirmation with an IndicateDoneEvent.
	Indicate(conn gatt.ConnHandle, attr gatt.Handle) error
	// Advertise starts connectable advertising.
	Advertise(adv Advertisement) error
	StopAdvertising() error
}
