package gpio

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

var (
	// ErrUnknownPin indicates the pin is not on the header.
	ErrUnknownPin = errors.New("unknown pin")
	// ErrNotOutput indicates a write to a pin not configured as output.
	ErrNotOutput = errors.New("pin not configured as output")
)

// HeaderPins are the pins the bridge may drive.
var HeaderPins = []bridge.Pin{
	bridge.PinA7, bridge.PinA6,
	bridge.PinB2, bridge.PinC3,
	bridge.PinC0, bridge.PinC1,
	bridge.PinDeRe,
}

// State is the state of a single pin.
type State struct {
	Mode  bridge.PinMode
	Level bool
}

// ChangeFunc is notified after a pin changed. It is called without
// the table lock held.
type ChangeFunc func(pin bridge.Pin, state State)

// Table is an in-memory pin table implementing bridge.GPIO.
type Table struct {
	lock     sync.RWMutex
	pins     map[bridge.Pin]*State
	onChange ChangeFunc
}

// NewTable creates a table with the given pins, HeaderPins if none.
func NewTable(pins ...bridge.Pin) *Table {
	if len(pins) == 0 {
		pins = HeaderPins
	}
	t := &Table{pins: make(map[bridge.Pin]*State)}
	for _, pin := range pins {
		t.pins[pin] = &State{}
	}
	return t
}

// OnChange installs the change hook.
func (t *Table) OnChange(fn ChangeFunc) {
	t.lock.Lock()
	t.onChange = fn
	t.lock.Unlock()
}

// InitPin implements bridge.GPIO. Pins returning to analog are driven low.
func (t *Table) InitPin(pin bridge.Pin, mode bridge.PinMode) error {
	return t.update(pin, func(s *State) error {
		s.Mode = mode
		if mode != bridge.PinOutput {
			s.Level = false
		}
		return nil
	})
}

// WritePin implements bridge.GPIO.
func (t *Table) WritePin(pin bridge.Pin, level bool) error {
	return t.update(pin, func(s *State) error {
		if s.Mode != bridge.PinOutput {
			return fmt.Errorf("%s: %w", pin, ErrNotOutput)
		}
		s.Level = level
		return nil
	})
}

func (t *Table) update(pin bridge.Pin, fn func(*State) error) error {
	t.lock.Lock()
	s, ok := t.pins[pin]
	if !ok {
		t.lock.Unlock()
		return fmt.Errorf("%s: %w", pin, ErrUnknownPin)
	}
	old := *s
	if err := fn(s); err != nil {
		t.lock.Unlock()
		return err
	}
	state, onChange := *s, t.onChange
	t.lock.Unlock()
	if state != old {
		glog.V(2).Infof("gpio %s %s level=%v", pin, state.Mode, state.Level)
		if onChange != nil {
			onChange(pin, state)
		}
	}
	return nil
}

// Pin returns the state of a pin.
func (t *Table) Pin(pin bridge.Pin) State {
	t.lock.RLock()
	defer t.lock.RUnlock()
	if s, ok := t.pins[pin]; ok {
		return *s
	}
	return State{}
}

// Claimed returns the sorted pins which are not analog.
func (t *Table) Claimed() []bridge.Pin {
	t.lock.RLock()
	defer t.lock.RUnlock()
	var pins []bridge.Pin
	for pin, s := range t.pins {
		if s.Mode != bridge.PinAnalog {
			pins = append(pins, pin)
		}
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}
