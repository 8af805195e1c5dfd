// Package hook feeds global keyboard keys into the button decoder so a
// development host can drive the node without hardware buttons. It links
// gohook (cgo); only the host commands import it.
package hook

import (
	"sync"
	"time"

	gohook "github.com/robotn/gohook"

	"github.com/chaz8081/narmi-sensor/internal/button"
)

// Listener maps global keyboard keys to buttons.
type Listener struct {
	keys map[int]string // button number to key name
	dec  *button.Decoder
	ch   chan button.Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener. keys maps button numbers to lowercase
// gohook key names, e.g. {1: "down", 2: "up"}.
func NewListener(keys map[int]string, dec *button.Decoder) *Listener {
	return &Listener{
		keys: keys,
		dec:  dec,
		ch:   make(chan button.Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel of decoded gestures. It is closed when the
// listener stops.
func (l *Listener) Events() <-chan button.Event {
	return l.ch
}

// Start blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	for btn, key := range l.keys {
		gohook.Register(gohook.KeyDown, []string{key}, func(gohook.Event) {
			l.emit(l.dec.Down(btn, time.Now()))
		})
		gohook.Register(gohook.KeyUp, []string{key}, func(gohook.Event) {
			l.emit(l.dec.Up(btn, time.Now()))
		})
	}

	evChan := gohook.Start()
	go func() {
		<-l.done
		gohook.End()
	}()
	<-gohook.Process(evChan)
	close(l.ch)
}

func (l *Listener) emit(events []button.Event) {
	for _, ev := range events {
		select {
		case l.ch <- ev:
		default: // don't block the hook thread
		}
	}
}

// Stop terminates the listener. Safe to call more than once.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}
