// Package bugst opens bridge UARTs with go.bug.st/serial.
package bugst

import (
	"time"

	"go.bug.st/serial"

	"github.com/robotalks/uartbridge/pkg/uart"
)

// ReadTimeout bounds a single read so closing a port is noticed.
var ReadTimeout = 100 * time.Millisecond

type port struct {
	serial.Port
}

// SetBaud implements uart.Port.
func (p port) SetBaud(baud uint32) error {
	return p.SetMode(mode(baud))
}

func mode(baud uint32) *serial.Mode {
	return &serial.Mode{
		BaudRate: int(baud),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Open opens device at baud, 8N1.
func Open(device string, baud uint32) (uart.Port, error) {
	p, err := serial.Open(device, mode(baud))
	if err != nil {
		return nil, err
	}
	if err = p.SetReadTimeout(ReadTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return port{Port: p}, nil
}

// NewDriver creates a UART driver for ports.
func NewDriver(ports uart.Ports) *uart.Driver {
	return uart.NewDriver(uart.OpenFunc(Open), ports)
}
