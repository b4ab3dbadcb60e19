package simhw

import (
	"fmt"
	"sync"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

// UART simulates the UART peripherals. With Loopback set every
// transmitted byte is received back on the same channel.
type UART struct {
	Loopback bool

	lock  sync.Mutex
	ports map[bridge.UARTChannel]*uartPort
	fault error
}

type uartPort struct {
	baud  uint32
	onRx  func([]byte)
	tx    []byte
	bauds []uint32
}

// NewUART creates a simulated UART.
func NewUART() *UART {
	return &UART{ports: make(map[bridge.UARTChannel]*uartPort)}
}

// Fail makes every following call fail with err, nil clears it.
func (u *UART) Fail(err error) {
	u.lock.Lock()
	u.fault = err
	u.lock.Unlock()
}

// Init implements bridge.UART.
func (u *UART) Init(ch bridge.UARTChannel, baud uint32) error {
	u.lock.Lock()
	defer u.lock.Unlock()
	if u.fault != nil {
		return u.fault
	}
	if _, ok := u.ports[ch]; ok {
		return fmt.Errorf("uart %s already initialized", ch)
	}
	u.ports[ch] = &uartPort{baud: baud, bauds: []uint32{baud}}
	return nil
}

// Deinit implements bridge.UART.
func (u *UART) Deinit(ch bridge.UARTChannel) error {
	u.lock.Lock()
	defer u.lock.Unlock()
	delete(u.ports, ch)
	return nil
}

// SetBaud implements bridge.UART.
func (u *UART) SetBaud(ch bridge.UARTChannel, baud uint32) error {
	u.lock.Lock()
	defer u.lock.Unlock()
	p, err := u.port(ch)
	if err != nil {
		return err
	}
	p.baud = baud
	p.bauds = append(p.bauds, baud)
	return nil
}

// StartRx implements bridge.UART.
func (u *UART) StartRx(ch bridge.UARTChannel, onRx func([]byte)) error {
	u.lock.Lock()
	defer u.lock.Unlock()
	p, err := u.port(ch)
	if err != nil {
		return err
	}
	p.onRx = onRx
	return nil
}

// Tx implements bridge.UART.
func (u *UART) Tx(ch bridge.UARTChannel, data []byte) error {
	u.lock.Lock()
	p, err := u.port(ch)
	if err != nil {
		u.lock.Unlock()
		return err
	}
	p.tx = append(p.tx, data...)
	onRx := p.onRx
	loop := u.Loopback
	u.lock.Unlock()
	if loop && onRx != nil {
		onRx(append([]byte(nil), data...))
	}
	return nil
}

// TxWaitComplete implements bridge.UART.
func (u *UART) TxWaitComplete(ch bridge.UARTChannel) error {
	u.lock.Lock()
	defer u.lock.Unlock()
	_, err := u.port(ch)
	return err
}

func (u *UART) port(ch bridge.UARTChannel) (*uartPort, error) {
	if u.fault != nil {
		return nil, u.fault
	}
	p, ok := u.ports[ch]
	if !ok {
		return nil, fmt.Errorf("uart %s not initialized", ch)
	}
	return p, nil
}

// Inject delivers bytes as if they arrived on the wire. It reports
// false when reception is not started on ch.
func (u *UART) Inject(ch bridge.UARTChannel, data []byte) bool {
	u.lock.Lock()
	var onRx func([]byte)
	if p, ok := u.ports[ch]; ok {
		onRx = p.onRx
	}
	u.lock.Unlock()
	if onRx == nil {
		return false
	}
	onRx(data)
	return true
}

// Active reports whether ch is initialized.
func (u *UART) Active(ch bridge.UARTChannel) bool {
	u.lock.Lock()
	defer u.lock.Unlock()
	_, ok := u.ports[ch]
	return ok
}

// Baud returns the rate programmed on ch, 0 if not initialized.
func (u *UART) Baud(ch bridge.UARTChannel) uint32 {
	u.lock.Lock()
	defer u.lock.Unlock()
	if p, ok := u.ports[ch]; ok {
		return p.baud
	}
	return 0
}

// BaudHistory returns every rate programmed on ch since Init.
func (u *UART) BaudHistory(ch bridge.UARTChannel) []uint32 {
	u.lock.Lock()
	defer u.lock.Unlock()
	if p, ok := u.ports[ch]; ok {
		return append([]uint32(nil), p.bauds...)
	}
	return nil
}

// Transmitted returns the bytes written to ch since Init.
func (u *UART) Transmitted(ch bridge.UARTChannel) []byte {
	u.lock.Lock()
	defer u.lock.Unlock()
	if p, ok := u.ports[ch]; ok {
		return append([]byte(nil), p.tx...)
	}
	return nil
}
