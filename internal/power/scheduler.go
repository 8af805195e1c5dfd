// Package power decides when the node drops into deep sleep: after a period
// without user interaction, or after advertising for too long with nobody
// connecting.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/narmi-sensor/internal/clock"
)

// ErrDeepSleep is returned by Run once the node has slept. The caller is
// expected to restart from boot, which is what a wake from deep sleep does on
// hardware.
var ErrDeepSleep = errors.New("power: deep sleep")

type State int

const (
	StateAdvertising State = iota
	StateConnected
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateSleeping:
		return "sleeping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Reason says which timeout put the node to sleep.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonInteraction
	ReasonAdvertising
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonInteraction:
		return "no_interaction"
	case ReasonAdvertising:
		return "advertising_timeout"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Sleeper performs the deep sleep. On hardware it does not return.
type Sleeper interface {
	DeepSleep(d time.Duration)
}

// HostSleeper stands in for deep sleep on a development machine by
// blocking for the duration.
type HostSleeper struct{}

func (HostSleeper) DeepSleep(d time.Duration) {
	slog.Info("[POWER] host sleep", "duration", d)
	time.Sleep(d)
}

type Options struct {
	Enabled            bool
	Tick               time.Duration
	InteractionTimeout time.Duration
	AdvertisingTimeout time.Duration
	SleepDuration      time.Duration
	// SleepWhileConnected keeps the interaction timeout running while a
	// central is connected.
	SleepWhileConnected bool
	// BeforeSleep runs right before the sleeper, with no lock held.
	BeforeSleep func()
}

func DefaultOptions() Options {
	return Options{
		Enabled:             true,
		Tick:                250 * time.Millisecond,
		InteractionTimeout:  12 * time.Second,
		AdvertisingTimeout:  10 * time.Second,
		SleepDuration:       5 * time.Second,
		SleepWhileConnected: true,
	}
}

// Scheduler tracks activity and enters deep sleep when a timeout expires.
type Scheduler struct {
	opts    Options
	clock   clock.Clock
	sleeper Sleeper

	mu              sync.Mutex
	state           State
	connections     int
	advStart        time.Time
	lastInteraction time.Time
	sleeps          int
}

func New(opts Options, clk clock.Clock, sleeper Sleeper) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = 250 * time.Millisecond
	}
	now := clk.Now()
	return &Scheduler{
		opts:            opts,
		clock:           clk,
		sleeper:         sleeper,
		state:           StateAdvertising,
		advStart:        now,
		lastInteraction: now,
	}
}

// Touch records a user interaction.
func (s *Scheduler) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInteraction = s.clock.Now()
}

// AdvertisingStarted restarts the advertising timeout.
func (s *Scheduler) AdvertisingStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advStart = s.clock.Now()
	if s.connections == 0 && s.state != StateSleeping {
		s.state = StateAdvertising
	}
}

func (s *Scheduler) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections++
	if s.state != StateSleeping {
		s.state = StateConnected
	}
}

// Disconnected records that a central left and remaining are still
// connected.
func (s *Scheduler) Disconnected(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = max(remaining, 0)
	if s.connections == 0 && s.state != StateSleeping {
		s.state = StateAdvertising
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sleeps returns how many times the scheduler has slept.
func (s *Scheduler) Sleeps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sleeps
}

// due reports which timeout has expired, if any. Caller holds mu.
func (s *Scheduler) due(now time.Time) Reason {
	if !s.opts.Enabled || s.state == StateSleeping {
		return ReasonNone
	}
	idle := s.connections == 0
	if (idle || s.opts.SleepWhileConnected) && now.Sub(s.lastInteraction) > s.opts.InteractionTimeout {
		return ReasonInteraction
	}
	if idle && now.Sub(s.advStart) > s.opts.AdvertisingTimeout {
		return ReasonAdvertising
	}
	return ReasonNone
}

// Tick checks both timeouts once and sleeps if one expired. Timestamps are
// reset before the sleeper runs so a wake restarts both countdowns.
func (s *Scheduler) Tick() Reason {
	s.mu.Lock()
	now := s.clock.Now()
	reason := s.due(now)
	if reason == ReasonNone {
		s.mu.Unlock()
		return ReasonNone
	}
	s.lastInteraction = now
	s.advStart = now
	s.state = StateSleeping
	s.sleeps++
	s.mu.Unlock()

	slog.Info("[POWER] entering deep sleep", "reason", reason, "duration", s.opts.SleepDuration)
	if s.opts.BeforeSleep != nil {
		s.opts.BeforeSleep()
	}
	s.sleeper.DeepSleep(s.opts.SleepDuration)

	s.mu.Lock()
	now = s.clock.Now()
	s.lastInteraction = now
	s.advStart = now
	s.connections = 0
	s.state = StateAdvertising
	s.mu.Unlock()
	slog.Info("[POWER] woke up", "reason", reason)
	return reason
}

// Run ticks until ctx is done or the node sleeps, in which case it returns
// an error wrapping ErrDeepSleep.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if r := s.Tick(); r != ReasonNone {
				return fmt.Errorf("%w: %s", ErrDeepSleep, r)
			}
		}
	}
}
