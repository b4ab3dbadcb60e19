package gpio

import (
	"fmt"
	"sync"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

// Line is a serial modem output line.
type Line int

// Modem lines.
const (
	LineRTS Line = iota
	LineDTR
)

// String implements fmt.Stringer.
func (l Line) String() string {
	if l == LineDTR {
		return "DTR"
	}
	return "RTS"
}

// ModemPort is the part of a serial port driving modem lines.
type ModemPort interface {
	SetRTS(bool) error
	SetDTR(bool) error
	Close() error
}

// ModemLines is a pin table whose pins are mirrored onto the modem
// lines of a serial port, so flow pins drive a real adapter. A line
// follows its pin level while the pin is an output and is released
// (deasserted) otherwise.
type ModemLines struct {
	*Table

	lock  sync.Mutex
	port  ModemPort
	lines map[bridge.Pin]Line
}

// DefaultModemLines maps the first pair of every flow selection to RTS
// and the second to DTR.
func DefaultModemLines() map[bridge.Pin]Line {
	m := make(map[bridge.Pin]Line)
	for _, f := range []bridge.FlowPins{bridge.FlowPairA, bridge.FlowPairB, bridge.FlowPairC} {
		pair, _ := f.Pair()
		m[pair.RTS] = LineRTS
		m[pair.DTR] = LineDTR
	}
	return m
}

// NewModemLines mirrors pins of a fresh Table onto port.
func NewModemLines(port ModemPort, lines map[bridge.Pin]Line) *ModemLines {
	m := &ModemLines{Table: NewTable(), port: port, lines: lines}
	m.Table.OnChange(m.pinChanged)
	return m
}

// OpenModemLines opens the serial device used only for its modem lines.
func OpenModemLines(device string, lines map[bridge.Pin]Line) (*ModemLines, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: 9600})
	if err != nil {
		return nil, fmt.Errorf("open modem lines %s: %w", device, err)
	}
	return NewModemLines(port, lines), nil
}

func (m *ModemLines) pinChanged(pin bridge.Pin, state State) {
	line, ok := m.lines[pin]
	if !ok {
		return
	}
	level := state.Mode == bridge.PinOutput && state.Level
	m.lock.Lock()
	defer m.lock.Unlock()
	var err error
	switch line {
	case LineRTS:
		err = m.port.SetRTS(level)
	case LineDTR:
		err = m.port.SetDTR(level)
	}
	if err != nil {
		glog.Warningf("modem line %s (%s): %v", line, pin, err)
	}
}

// Close releases the serial port.
func (m *ModemLines) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.port.Close()
}
