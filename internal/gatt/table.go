// Package gatt defines the sensor node's static GATT layout: the two services
// and their characteristics, the role/handle table built at registration,
// the little-endian wire codecs, and the set of connected peers.
package gatt

import "fmt"

// Handle is an attribute value handle assigned by the BLE stack.
type Handle uint16

// ConnHandle identifies a connected central.
type ConnHandle uint16

// Role is the semantic meaning of a characteristic.
type Role int

const (
	RoleTemperature Role = iota
	RoleDistance
	RoleInterval
	RoleHumidity
	RoleCalibration
	RoleBatteryLevel
	RoleBatteryVoltage
)

func (r Role) String() string {
	switch r {
	case RoleTemperature:
		return "temperature"
	case RoleDistance:
		return "distance"
	case RoleInterval:
		return "interval"
	case RoleHumidity:
		return "humidity"
	case RoleCalibration:
		return "calibration"
	case RoleBatteryLevel:
		return "battery_level"
	case RoleBatteryVoltage:
		return "battery_voltage"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Flags are characteristic access flags. Values follow the NimBLE
// gatts flag layout.
type Flags uint16

const (
	FlagRead          Flags = 0x0002
	FlagWrite         Flags = 0x0008
	FlagNotify        Flags = 0x0010
	FlagIndicate      Flags = 0x0020
	FlagReadEncrypted Flags = 0x0200
)

// Has reports whether all bits of g are set.
func (f Flags) Has(g Flags) bool { return f&g == g }

// Assigned numbers.
const (
	UUIDEnvironmentalSensing uint16 = 0x181A
	UUIDTemperature          uint16 = 0x2A6E
	UUIDDistance             uint16 = 0x2A5B
	UUIDInterval             uint16 = 0x2A24
	UUIDHumidity             uint16 = 0x2A6F
	UUIDCalibration          uint16 = 0xFF01 // vendor range

	UUIDBatteryService uint16 = 0x180F
	UUIDBatteryLevel   uint16 = 0x2A19
	UUIDBatteryVoltage uint16 = 0x2B18

	AppearanceGenericThermometer uint16 = 768
)

// Characteristic is one entry of the service table.
type Characteristic struct {
	Role  Role
	UUID  uint16
	Flags Flags
}

// Service groups characteristics under a 16-bit service UUID.
type Service struct {
	UUID            uint16
	Characteristics []Characteristic
}

const measurementFlags = FlagRead | FlagNotify | FlagIndicate | FlagReadEncrypted

// Services returns the node's service table in registration order.
// A fresh slice is returned on every call.
func Services() []Service {
	return []Service{
		{
			UUID: UUIDEnvironmentalSensing,
			Characteristics: []Characteristic{
				{Role: RoleTemperature, UUID: UUIDTemperature, Flags: measurementFlags},
				{Role: RoleDistance, UUID: UUIDDistance, Flags: measurementFlags},
				{Role: RoleInterval, UUID: UUIDInterval, Flags: measurementFlags},
				{Role: RoleHumidity, UUID: UUIDHumidity, Flags: measurementFlags},
				{Role: RoleCalibration, UUID: UUIDCalibration, Flags: FlagRead | FlagWrite | FlagReadEncrypted},
			},
		},
		{
			UUID: UUIDBatteryService,
			Characteristics: []Characteristic{
				{Role: RoleBatteryLevel, UUID: UUIDBatteryLevel, Flags: measurementFlags},
				{Role: RoleBatteryVoltage, UUID: UUIDBatteryVoltage, Flags: measurementFlags},
			},
		},
	}
}

// HandleTable maps registered attribute handles to roles and back.
// It is immutable after construction.
type HandleTable struct {
	byRole   map[Role]Handle
	byHandle map[Handle]Role
}

// NewHandleTable pairs the handles returned by registration with the
// characteristics of services, position by position.
func NewHandleTable(services []Service, handles [][]Handle) (*HandleTable, error) {
	if len(handles) != len(services) {
		return nil, fmt.Errorf("gatt: registration returned %d services, want %d", len(handles), len(services))
	}
	t := &HandleTable{
		byRole:   make(map[Role]Handle),
		byHandle: make(map[Handle]Role),
	}
	for i, svc := range services {
		if len(handles[i]) != len(svc.Characteristics) {
			return nil, fmt.Errorf("gatt: service 0x%04X: got %d handles, want %d",
				svc.UUID, len(handles[i]), len(svc.Characteristics))
		}
		for j, ch := range svc.Characteristics {
			h := handles[i][j]
			if _, dup := t.byHandle[h]; dup {
				return nil, fmt.Errorf("gatt: duplicate handle %d for %s", h, ch.Role)
			}
			t.byRole[ch.Role] = h
			t.byHandle[h] = ch.Role
		}
	}
	return t, nil
}

// Handle returns the attribute handle registered for r.
func (t *HandleTable) Handle(r Role) (Handle, bool) {
	h, ok := t.byRole[r]
	return h, ok
}

// Role returns the role of the attribute at h.
func (t *HandleTable) Role(h Handle) (Role, bool) {
	r, ok := t.byHandle[h]
	return r, ok
}
