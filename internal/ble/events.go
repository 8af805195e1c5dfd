package ble

import (
	"fmt"

	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

// EventKind enumerates the stack events the controller handles.
type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventDisconnect
	EventEncryptionUpdate
	EventPasskeyAction
	EventGetSecret
	EventSetSecret
	EventIndicateDone
	EventWrite
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventEncryptionUpdate:
		return "encryption_update"
	case EventPasskeyAction:
		return "passkey_action"
	case EventGetSecret:
		return "get_secret"
	case EventSetSecret:
		return "set_secret"
	case EventIndicateDone:
		return "indicate_done"
	case EventWrite:
		return "write"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one of the concrete event types below. The set is closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

// PasskeyAction is the pairing step the stack is asking about.
type PasskeyAction uint8

const (
	PasskeyNone              PasskeyAction = 0
	PasskeyInput             PasskeyAction = 2
	PasskeyDisplay           PasskeyAction = 3
	PasskeyNumericComparison PasskeyAction = 4
)

type ConnectEvent struct {
	Conn gatt.ConnHandle
	Addr string
}

type DisconnectEvent struct {
	Conn gatt.ConnHandle
	Addr string
}

type EncryptionUpdateEvent struct {
	Conn          gatt.ConnHandle
	Encrypted     bool
	Authenticated bool
	Bonded        bool
	KeySize       int
}

type PasskeyActionEvent struct {
	Conn    gatt.ConnHandle
	Action  PasskeyAction
	Passkey uint32
}

// GetSecretEvent looks a secret up by Key, or by Index among secrets of
// Type when Key is nil.
type GetSecretEvent struct {
	Type  int
	Index int
	Key   []byte
}

// SetSecretEvent stores Value under (Type, Key); an empty Value deletes.
type SetSecretEvent struct {
	Type  int
	Key   []byte
	Value []byte
}

type IndicateDoneEvent struct {
	Conn   gatt.ConnHandle
	Attr   gatt.Handle
	Status uint8
}

// WriteEvent reports a central writing a characteristic.
type WriteEvent struct {
	Conn  gatt.ConnHandle
	Attr  gatt.Handle
	Value []byte
}

func (ConnectEvent) Kind() EventKind          { return EventConnect }
func (DisconnectEvent) Kind() EventKind       { return EventDisconnect }
func (EncryptionUpdateEvent) Kind() EventKind { return EventEncryptionUpdate }
func (PasskeyActionEvent) Kind() EventKind    { return EventPasskeyAction }
func (GetSecretEvent) Kind() EventKind        { return EventGetSecret }
func (SetSecretEvent) Kind() EventKind        { return EventSetSecret }
func (IndicateDoneEvent) Kind() EventKind     { return EventIndicateDone }
func (WriteEvent) Kind() EventKind            { return EventWrite }

func (ConnectEvent) isEvent()          {}
func (DisconnectEvent) isEvent()       {}
func (EncryptionUpdateEvent) isEvent() {}
func (PasskeyActionEvent) isEvent()    {}
func (GetSecretEvent) isEvent()        {}
func (SetSecretEvent) isEvent()        {}
func (IndicateDoneEvent) isEvent()     {}
func (WriteEvent) isEvent()            {}

// Reply is the synchronous answer to an event. Which fields matter
// depends on the event:
//
//	GetSecretEvent:     Value, OK (found)
//	SetSecretEvent:     OK
//	PasskeyActionEvent: OK (accept), Passkey
type Reply struct {
	Value   []byte
	OK      bool
	Passkey uint32
}
