package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

// TinyGoStack binds Stack to tinygo.org/x/bluetooth.
//
// The library exposes a narrower peripheral API than the controller needs:
// characteristic writes already notify every subscriber, there is no
// per-connection indication or confirmation, and pairing and bond storage
// stay inside the platform stack. TinyGoStack fills the gaps:
//   - connection handles are synthesized per peer address
//   - Indicate reports IndicateDoneEvent with status 0 once the write is out
//   - security settings are logged and left to the platform
//
// Write callbacks carry a bluetooth.Connection that cannot be matched to
// the peer address seen by the connect handler. A write is attributed to
// the only connected central, or with several connected to the most
// recent one, which is a guess.
type TinyGoStack struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement

	emitMu  sync.Mutex // one event at a time into the handler
	handler Handler

	mu         sync.Mutex
	enabled    bool
	registered [][]gatt.Handle
	chars      map[gatt.Handle]*bluetooth.Characteristic
	next       gatt.Handle
	conns      map[string]gatt.ConnHandle // keyed by peer address
	lastConn   gatt.ConnHandle
	nextConn   gatt.ConnHandle
}

func NewTinyGoStack() *TinyGoStack {
	return &TinyGoStack{
		adapter:  bluetooth.DefaultAdapter,
		chars:    make(map[gatt.Handle]*bluetooth.Characteristic),
		next:     1,
		conns:    make(map[string]gatt.ConnHandle),
		nextConn: 1,
	}
}

// Enable and Register are idempotent: a host process that emulates deep
// sleep boots again on the same adapter, which cannot remove services.
func (s *TinyGoStack) Enable(sec SecurityConfig) error {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		if err := s.adapter.Enable(); err != nil {
			return fmt.Errorf("ble: enable adapter: %w", err)
		}
		s.mu.Lock()
		s.enabled = true
		s.mu.Unlock()
	}
	slog.Info("[BLE] adapter enabled",
		"bond", sec.Bond, "le_secure", sec.LESecure, "mitm", sec.MITM, "io", sec.IO)

	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		if connected {
			s.emit(ConnectEvent{Conn: s.connFor(addr), Addr: addr})
			return
		}
		if conn, ok := s.dropConn(addr); ok {
			s.emit(DisconnectEvent{Conn: conn, Addr: addr})
		}
	})
	return nil
}

func (s *TinyGoStack) connFor(addr string) gatt.ConnHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[addr]
	if !ok {
		conn = s.nextConn
		s.nextConn++
		s.conns[addr] = conn
	}
	s.lastConn = conn
	return conn
}

func (s *TinyGoStack) dropConn(addr string) (gatt.ConnHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[addr]
	if !ok {
		return 0, false
	}
	delete(s.conns, addr)
	if s.lastConn == conn {
		s.lastConn = 0
		for _, c := range s.conns {
			if c > s.lastConn {
				s.lastConn = c
			}
		}
	}
	return conn, true
}

// writeConn returns the handle a write is attributed to and whether the
// attribution is certain.
func (s *TinyGoStack) writeConn() (gatt.ConnHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastConn, len(s.conns) == 1
}

func (s *TinyGoStack) SetHandler(h Handler) {
	s.emitMu.Lock()
	s.handler = h
	s.emitMu.Unlock()
}

func (s *TinyGoStack) emit(ev Event) Reply {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if s.handler == nil {
		slog.Debug("[BLE] event dropped, no handler", "kind", ev.Kind())
		return Reply{}
	}
	return s.handler(ev)
}

func (s *TinyGoStack) Register(services []gatt.Service) ([][]gatt.Handle, error) {
	s.mu.Lock()
	prev := s.registered
	s.mu.Unlock()
	if prev != nil {
		return prev, nil
	}

	handles := make([][]gatt.Handle, len(services))
	for i, svc := range services {
		cfgs := make([]bluetooth.CharacteristicConfig, len(svc.Characteristics))
		handles[i] = make([]gatt.Handle, len(svc.Characteristics))

		s.mu.Lock()
		for j, c := range svc.Characteristics {
			h := s.next
			s.next++
			char := new(bluetooth.Characteristic)
			s.chars[h] = char
			handles[i][j] = h

			cfg := bluetooth.CharacteristicConfig{
				Handle: char,
				UUID:   bluetooth.New16BitUUID(c.UUID),
				Flags:  permissions(c.Flags),
			}
			if c.Flags.Has(gatt.FlagWrite) {
				cfg.WriteEvent = func(client bluetooth.Connection, _ int, value []byte) {
					conn, exact := s.writeConn()
					if !exact {
						slog.Debug("[BLE] write attribution is a guess", "attr", h, "client", client, "assumed_conn", conn)
					}
					s.emit(WriteEvent{Conn: conn, Attr: h, Value: append([]byte(nil), value...)})
				}
			}
			cfgs[j] = cfg
		}
		s.mu.Unlock()

		err := s.adapter.AddService(&bluetooth.Service{
			UUID:            bluetooth.New16BitUUID(svc.UUID),
			Characteristics: cfgs,
		})
		if err != nil {
			return nil, fmt.Errorf("ble: add service %#04x: %w", svc.UUID, err)
		}
	}
	s.mu.Lock()
	s.registered = handles
	s.mu.Unlock()
	return handles, nil
}

func permissions(f gatt.Flags) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if f.Has(gatt.FlagRead) {
		p |= bluetooth.CharacteristicReadPermission
	}
	if f.Has(gatt.FlagWrite) {
		p |= bluetooth.CharacteristicWritePermission
	}
	if f.Has(gatt.FlagNotify) {
		p |= bluetooth.CharacteristicNotifyPermission
	}
	if f.Has(gatt.FlagIndicate) {
		p |= bluetooth.CharacteristicIndicatePermission
	}
	return p
}

func (s *TinyGoStack) char(attr gatt.Handle) (*bluetooth.Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chars[attr]
	if !ok {
		return nil, fmt.Errorf("ble: unknown attribute handle %d", attr)
	}
	return c, nil
}

// Write also pushes the value to subscribed centrals.
func (s *TinyGoStack) Write(attr gatt.Handle, value []byte) error {
	c, err := s.char(attr)
	if err != nil {
		return err
	}
	if _, err := c.Write(value); err != nil {
		return fmt.Errorf("ble: write attr %d: %w", attr, err)
	}
	return nil
}

// Notify is covered by Write.
func (s *TinyGoStack) Notify(conn gatt.ConnHandle, attr gatt.Handle) error {
	_, err := s.char(attr)
	return err
}

func (s *TinyGoStack) Indicate(conn gatt.ConnHandle, attr gatt.Handle) error {
	if _, err := s.char(attr); err != nil {
		return err
	}
	go s.emit(IndicateDoneEvent{Conn: conn, Attr: attr})
	return nil
}

// Advertise cannot carry the appearance through tinygo's options; the
// payload is still built to reject sets that would not fit legacy adverts.
func (s *TinyGoStack) Advertise(a Advertisement) error {
	payload, err := a.Payload()
	if err != nil {
		return err
	}
	uuids := make([]bluetooth.UUID, len(a.ServiceUUIDs))
	for i, u := range a.ServiceUUIDs {
		uuids[i] = bluetooth.New16BitUUID(u)
	}
	adv := s.adapter.DefaultAdvertisement()
	err = adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    a.Name,
		ServiceUUIDs: uuids,
		Interval:     bluetooth.NewDuration(a.Interval),
	})
	if err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	s.mu.Lock()
	s.adv = adv
	s.mu.Unlock()
	slog.Info("[BLE] advertising", "name", a.Name, "interval", a.Interval, "payload_len", len(payload))
	return nil
}

func (s *TinyGoStack) StopAdvertising() error {
	s.mu.Lock()
	adv := s.adv
	s.adv = nil
	s.mu.Unlock()
	if adv == nil {
		return nil
	}
	if err := adv.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	return nil
}

// Compile-time check that TinyGoStack implements Stack.
var _ Stack = (*TinyGoStack)(nil)
