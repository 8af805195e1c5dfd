package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/ble/bletest"
	"github.com/chaz8081/narmi-sensor/internal/sensor"
	"github.com/chaz8081/narmi-sensor/internal/store"
)

// fakeSecrets wraps an in-memory store and counts saves.
type fakeSecrets struct {
	mu      sync.Mutex
	entries map[string][]byte
	order   []string
	types   map[string]int
	saves   int
	saveErr error
}

func newFakeSecrets() *fakeSecrets {
	return &fakeSecrets{entries: make(map[string][]byte), types: make(map[string]int)}
}

func secretKey(typ int, key []byte) string {
	return string(rune(typ)) + string(key)
}

func (s *fakeSecrets) Get(typ int, key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[secretKey(typ, key)]
	return v, ok
}

func (s *fakeSecrets) GetIndex(typ, index int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for _, k := range s.order {
		if s.types[k] != typ {
			continue
		}
		if i == index {
			return s.entries[k], true
		}
		i++
	}
	return nil, false
}

func (s *fakeSecrets) Set(typ int, key, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := secretKey(typ, key)
	_, present := s.entries[k]
	if len(value) == 0 {
		if !present {
			return false
		}
		delete(s.entries, k)
		for i, o := range s.order {
			if o == k {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return true
	}
	if !present {
		s.order = append(s.order, k)
		s.types[k] = typ
	}
	s.entries[k] = value
	return true
}

func (s *fakeSecrets) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	return s.saveErr
}

func (s *fakeSecrets) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type fakeCalibration struct {
	mu      sync.Mutex
	offsets store.Offsets
	sets    int
}

func (c *fakeCalibration) Offsets() store.Offsets {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offsets
}

func (c *fakeCalibration) Set(o store.Offsets) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets = o
	c.sets++
	return nil
}

// fakeClimate fails while failing is set and counts reinit calls.
type fakeClimate struct {
	mu        sync.Mutex
	value     sensor.Climate
	failing   bool
	reads     int
	reinits   int
	reinitErr error
}

func (f *fakeClimate) ReadClimate(ctx context.Context) (sensor.Climate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failing {
		return sensor.Climate{}, sensor.ErrNoData
	}
	return f.value, nil
}

func (f *fakeClimate) Reinitialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reinits++
	return f.reinitErr
}

func (f *fakeClimate) set(failing bool) {
	f.mu.Lock()
	f.failing = failing
	f.mu.Unlock()
}

func (f *fakeClimate) counts() (reads, reinits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads, f.reinits
}

type fakeDistance struct {
	cm  float64
	err error
}

func (f fakeDistance) ReadDistanceCM(context.Context) (float64, error) { return f.cm, f.err }

type fakeBattery struct {
	b   sensor.Battery
	err error
}

func (f fakeBattery) ReadBattery(context.Context) (sensor.Battery, error) { return f.b, f.err }

type fakePower struct {
	mu           sync.Mutex
	touches      int
	connected    int
	disconnects  []int
	advertStarts int
}

func (p *fakePower) Touch() {
	p.mu.Lock()
	p.touches++
	p.mu.Unlock()
}

func (p *fakePower) AdvertisingStarted() {
	p.mu.Lock()
	p.advertStarts++
	p.mu.Unlock()
}

func (p *fakePower) Connected() {
	p.mu.Lock()
	p.connected++
	p.mu.Unlock()
}

func (p *fakePower) Disconnected(remaining int) {
	p.mu.Lock()
	p.disconnects = append(p.disconnects, remaining)
	p.mu.Unlock()
}

type harness struct {
	c       *Controller
	stack   *bletest.Stack
	secrets *fakeSecrets
	calib   *fakeCalibration
	climate *fakeClimate
	power   *fakePower
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Interval = time.Hour // one cycle per test
	opts.Pacing = 0
	opts.RetryDelay = time.Millisecond
	return opts
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		stack:   bletest.New(),
		secrets: newFakeSecrets(),
		calib:   &fakeCalibration{},
		climate: &fakeClimate{value: sensor.Climate{Temperature: 20, Humidity: 50}},
		power:   &fakePower{},
	}
	h.stack.AutoConfirm = true

	c, err := New(opts, Deps{
		Stack:       h.stack,
		Secrets:     h.secrets,
		Calibration: h.calib,
		Sensors: Sensors{
			Climate:  h.climate,
			Distance: fakeDistance{cm: 123.4},
			Battery:  fakeBattery{b: sensor.Battery{Percent: 87, Volts: 3.912}},
		},
		Power: h.power,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		c.Halt()
		cancel()
		c.Wait()
	})
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return h
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var errBoom = errors.New("boom")
