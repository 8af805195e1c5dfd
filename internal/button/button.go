// Package button turns raw press/release edges of the node's two buttons
// into gestures: press, release, double click, long press, and the combined
// gesture of both buttons held long together.
package button

import (
	"fmt"
	"sync"
	"time"
)

// Kind is the gesture type.
type Kind int

const (
	Press Kind = iota
	Release
	DoubleClick
	LongPress
	Combined
)

func (k Kind) String() string {
	switch k {
	case Press:
		return "press"
	case Release:
		return "release"
	case DoubleClick:
		return "double"
	case LongPress:
		return "long"
	case Combined:
		return "combined"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one decoded gesture. Buttons are numbered from 1.
type Event struct {
	Button int
	Kind   Kind
}

type Options struct {
	LongPress     time.Duration
	DoubleClick   time.Duration
	CombineWindow time.Duration
}

func DefaultOptions() Options {
	return Options{
		LongPress:     1200 * time.Millisecond,
		DoubleClick:   400 * time.Millisecond,
		CombineWindow: 600 * time.Millisecond,
	}
}

type buttonState struct {
	down      bool
	downAt    time.Time
	lastPress time.Time
	double    bool
	lastLong  time.Time
}

// Decoder is fed edges with explicit timestamps.
//
// A short press yields Press then Release. A second press within the double
// click window yields Press and DoubleClick, and its release is swallowed.
// A press held past LongPress yields LongPress on release instead of
// Release; if another button finished a long press within CombineWindow,
// it yields Combined instead. Repeated Down edges while held are ignored.
type Decoder struct {
	opts Options

	mu   sync.Mutex
	btns map[int]*buttonState
}

func NewDecoder(opts Options) *Decoder {
	return &Decoder{opts: opts, btns: make(map[int]*buttonState)}
}

func (d *Decoder) state(btn int) *buttonState {
	st, ok := d.btns[btn]
	if !ok {
		st = &buttonState{}
		d.btns[btn] = st
	}
	return st
}

func (d *Decoder) Down(btn int, at time.Time) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.state(btn)
	if st.down {
		return nil
	}
	st.down = true
	st.downAt = at

	events := []Event{{Button: btn, Kind: Press}}
	if !st.lastPress.IsZero() && at.Sub(st.lastPress) <= d.opts.DoubleClick {
		events = append(events, Event{Button: btn, Kind: DoubleClick})
		st.double = true
		st.lastPress = time.Time{}
		return events
	}
	st.lastPress = at
	return events
}

func (d *Decoder) Up(btn int, at time.Time) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.state(btn)
	if !st.down {
		return nil
	}
	st.down = false

	if at.Sub(st.downAt) >= d.opts.LongPress {
		st.lastPress = time.Time{}
		st.double = false
		for other, o := range d.btns {
			if other == btn || o.lastLong.IsZero() {
				continue
			}
			if at.Sub(o.lastLong) <= d.opts.CombineWindow {
				o.lastLong = time.Time{}
				return []Event{{Button: btn, Kind: Combined}}
			}
		}
		st.lastLong = at
		return []Event{{Button: btn, Kind: LongPress}}
	}
	if st.double {
		st.double = false
		return nil
	}
	return []Event{{Button: btn, Kind: Release}}
}
