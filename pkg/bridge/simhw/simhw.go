// Package simhw provides simulated bridge hardware: a UART with optional
// loopback, a dual CDC device with scriptable hosts, a GPIO pin table and
// a session recorder.
package simhw

import (
	"sync"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/gpio"
)

// Sessions records which USB channels own a CLI session.
type Sessions struct {
	lock    sync.Mutex
	open    map[bridge.USBChannel]bool
	history []string
}

// NewSessions creates a recorder with a session on Primary, the
// default device state.
func NewSessions() *Sessions {
	return &Sessions{open: map[bridge.USBChannel]bool{bridge.USBPrimary: true}}
}

// OpenSession implements bridge.Sessions.
func (s *Sessions) OpenSession(ch bridge.USBChannel) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.open[ch] = true
	s.history = append(s.history, "open "+ch.String())
}

// CloseSession implements bridge.Sessions.
func (s *Sessions) CloseSession(ch bridge.USBChannel) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.open[ch] = false
	s.history = append(s.history, "close "+ch.String())
}

// Open reports whether a session owns ch.
func (s *Sessions) Open(ch bridge.USBChannel) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.open[ch]
}

// History returns the recorded open/close calls.
func (s *Sessions) History() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.history...)
}

// Board bundles a full set of simulated hardware.
type Board struct {
	UART     *UART
	USB      *USB
	GPIO     *gpio.Table
	Sessions *Sessions
}

// New creates a Board.
func New() *Board {
	return &Board{
		UART:     NewUART(),
		USB:      NewUSB(),
		GPIO:     gpio.NewTable(),
		Sessions: NewSessions(),
	}
}

// Hardware returns the board as bridge collaborators.
func (b *Board) Hardware() bridge.Hardware {
	return bridge.Hardware{
		UART:     b.UART,
		USB:      b.USB,
		GPIO:     b.GPIO,
		Sessions: b.Sessions,
	}
}
