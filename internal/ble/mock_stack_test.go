package ble

import (
	"errors"
	"sync"
	"testing"

	"github.com/chaz8081/narmi-sensor/internal/gatt"
)

type push struct {
	conn gatt.ConnHandle
	attr gatt.Handle
}

// mockStack records writes and pushes. confirm, when set, is called from
// inside Indicate to simulate a stack that confirms synchronously.
type mockStack struct {
	mu          sync.Mutex
	values      map[gatt.Handle][]byte
	notifies    []push
	indications []push
	indicateErr error
	advertErr   error
	adverts     int
	confirm     func(conn gatt.ConnHandle, attr gatt.Handle)
}

func newMockStack() *mockStack {
	return &mockStack{values: make(map[gatt.Handle][]byte)}
}

func (s *mockStack) Enable(SecurityConfig) error { return nil }
func (s *mockStack) SetHandler(Handler)          {}

func (s *mockStack) Register(services []gatt.Service) ([][]gatt.Handle, error) {
	return nil, errors.New("mock: register not supported")
}

func (s *mockStack) Write(attr gatt.Handle, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[attr] = append([]byte(nil), value...)
	return nil
}

func (s *mockStack) Notify(conn gatt.ConnHandle, attr gatt.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifies = append(s.notifies, push{conn, attr})
	return nil
}

func (s *mockStack) Indicate(conn gatt.ConnHandle, attr gatt.Handle) error {
	s.mu.Lock()
	if s.indicateErr != nil {
		err := s.indicateErr
		s.mu.Unlock()
		return err
	}
	s.indications = append(s.indications, push{conn, attr})
	confirm := s.confirm
	s.mu.Unlock()
	if confirm != nil {
		confirm(conn, attr)
	}
	return nil
}

func (s *mockStack) Advertise(Advertisement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adverts++
	return s.advertErr
}

func (s *mockStack) StopAdvertising() error { return nil }

func TestMockStackImplementsInterface(t *testing.T) {
	var _ Stack = (*mockStack)(nil)
}
