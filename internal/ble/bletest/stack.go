// Package bletest provides an in-memory ble.Stack for tests.
package bletest

import (
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/ble"
	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

// Push records one notification or indication.
type Push struct {
	Conn  gatt.ConnHandle
	Attr  gatt.Handle
	Value []byte
}

// Stack records everything the peripheral does and lets tests inject
// events. Handles are assigned sequentially from 1.
type Stack struct {
	// AutoConfirm makes Indicate deliver IndicateDoneEvent (status 0)
	// before it returns.
	AutoConfirm bool
	// IndicateErr, when set, is returned by every Indicate call.
	IndicateErr error

	mu          sync.Mutex
	handler     ble.Handler
	enabled     bool
	security    ble.SecurityConfig
	next        gatt.Handle
	values      map[gatt.Handle][]byte
	indications []Push
	attempts    []time.Time
	notifies    []Push
	adverts     []ble.Advertisement
	advertising bool
}

func New() *Stack {
	return &Stack{
		next:   1,
		values: make(map[gatt.Handle][]byte),
	}
}

func (s *Stack) Enable(sec ble.SecurityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
	s.security = sec
	return nil
}

func (s *Stack) SetHandler(h ble.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *Stack) Register(services []gatt.Service) ([][]gatt.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil, fmt.Errorf("bletest: register before enable")
	}
	out := make([][]gatt.Handle, len(services))
	for i, svc := range services {
		out[i] = make([]gatt.Handle, len(svc.Characteristics))
		for j := range svc.Characteristics {
			out[i][j] = s.next
			s.next++
		}
	}
	return out, nil
}

func (s *Stack) Write(attr gatt.Handle, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attr == 0 || attr >= s.next {
		return fmt.Errorf("bletest: unknown attribute %d", attr)
	}
	s.values[attr] = append([]byte(nil), value...)
	return nil
}

func (s *Stack) Notify(conn gatt.ConnHandle, attr gatt.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifies = append(s.notifies, Push{Conn: conn, Attr: attr, Value: s.values[attr]})
	return nil
}

func (s *Stack) Indicate(conn gatt.ConnHandle, attr gatt.Handle) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, time.Now())
	if s.IndicateErr != nil {
		err := s.IndicateErr
		s.mu.Unlock()
		return err
	}
	s.indications = append(s.indications, Push{Conn: conn, Attr: attr, Value: s.values[attr]})
	confirm := s.AutoConfirm
	s.mu.Unlock()

	if confirm {
		s.Emit(ble.IndicateDoneEvent{Conn: conn, Attr: attr})
	}
	return nil
}

func (s *Stack) Advertise(adv ble.Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adverts = append(s.adverts, adv)
	s.advertising = true
	return nil
}

func (s *Stack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertising = false
	return nil
}

// Emit delivers ev to the installed handler as the host stack would.
func (s *Stack) Emit(ev ble.Event) ble.Reply {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return ble.Reply{}
	}
	return h(ev)
}

// Value returns the stored value of attr.
func (s *Stack) Value(attr gatt.Handle) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.values[attr]...)
}

// Indications returns a copy of every indication sent so far.
func (s *Stack) Indications() []Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Push(nil), s.indications...)
}

// IndicateAttempts returns the wall-clock time of every Indicate call,
// failed ones included.
func (s *Stack) IndicateAttempts() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.attempts...)
}

func (s *Stack) Notifications() []Push {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Push(nil), s.notifies...)
}

func (s *Stack) Advertising() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advertising
}

// Adverts returns every advertising set started so far.
func (s *Stack) Adverts() []ble.Advertisement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ble.Advertisement(nil), s.adverts...)
}

func (s *Stack) Security() ble.SecurityConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.security
}

// Compile-time check that Stack implements ble.Stack.
var _ ble.Stack = (*Stack)(nil)
