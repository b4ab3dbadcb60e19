package gpio

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

func TestTable(t *testing.T) {
	table := NewTable()
	var changes []bridge.Pin
	table.OnChange(func(pin bridge.Pin, _ State) { changes = append(changes, pin) })

	require.True(t, errors.Is(table.WritePin(bridge.PinA7, true), ErrNotOutput))
	require.True(t, errors.Is(table.InitPin("PZ9", bridge.PinOutput), ErrUnknownPin))

	require.NoError(t, table.InitPin(bridge.PinA7, bridge.PinOutput))
	require.NoError(t, table.WritePin(bridge.PinA7, true))
	require.NoError(t, table.WritePin(bridge.PinA7, true))
	require.Equal(t, State{Mode: bridge.PinOutput, Level: true}, table.Pin(bridge.PinA7))
	require.NoError(t, table.InitPin(bridge.PinDeRe, bridge.PinOutput))
	require.Equal(t, []bridge.Pin{bridge.PinDeRe, bridge.PinA7}, table.Claimed())

	require.NoError(t, table.InitPin(bridge.PinA7, bridge.PinAnalog))
	require.Equal(t, State{}, table.Pin(bridge.PinA7))
	// unchanged writes are not reported
	require.Equal(t, []bridge.Pin{bridge.PinA7, bridge.PinA7, bridge.PinDeRe, bridge.PinA7}, changes)
}

type fakeModem struct {
	lock   sync.Mutex
	rts    bool
	dtr    bool
	closed bool
}

func (m *fakeModem) SetRTS(v bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.rts = v
	return nil
}

func (m *fakeModem) SetDTR(v bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.dtr = v
	return nil
}

func (m *fakeModem) Close() error {
	m.closed = true
	return nil
}

func TestModemLines(t *testing.T) {
	port := &fakeModem{}
	lines := NewModemLines(port, DefaultModemLines())
	pair, _ := bridge.FlowPairB.Pair()

	require.NoError(t, lines.InitPin(pair.RTS, bridge.PinOutput))
	require.NoError(t, lines.InitPin(pair.DTR, bridge.PinOutput))
	require.NoError(t, lines.WritePin(pair.RTS, true))
	require.True(t, port.rts)
	require.False(t, port.dtr)
	require.NoError(t, lines.WritePin(pair.DTR, true))
	require.True(t, port.dtr)

	// releasing a pin deasserts its line
	require.NoError(t, lines.InitPin(pair.RTS, bridge.PinAnalog))
	require.False(t, port.rts)

	// pins without a line are plain table pins
	require.NoError(t, lines.InitPin(bridge.PinDeRe, bridge.PinOutput))
	require.NoError(t, lines.WritePin(bridge.PinDeRe, true))
	require.True(t, port.dtr)

	require.NoError(t, lines.Close())
	require.True(t, port.closed)
}
