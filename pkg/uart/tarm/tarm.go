// Package tarm opens bridge UARTs with github.com/tarm/serial.
package tarm

import (
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/robotalks/uartbridge/pkg/uart"
)

// ReadTimeout bounds a single read so closing a port is noticed.
var ReadTimeout = 100 * time.Millisecond

type openFunc func(*serial.Config) (io.ReadWriteCloser, error)

func openPort(conf *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(conf)
}

// port reopens the device to change the rate, tarm/serial has no way
// to reconfigure an open port. Writes hold the read lock so a reopen
// waits for the one in flight.
type port struct {
	open openFunc

	lock sync.RWMutex
	conf serial.Config
	dev  io.ReadWriteCloser
	gen  int
}

// Open opens device at baud.
func Open(device string, baud uint32) (uart.Port, error) {
	return openWith(openPort, device, baud)
}

func openWith(open openFunc, device string, baud uint32) (*port, error) {
	p := &port{open: open, conf: serial.Config{
		Name:        device,
		Baud:        int(baud),
		ReadTimeout: ReadTimeout,
	}}
	dev, err := open(&p.conf)
	if err != nil {
		return nil, err
	}
	p.dev = dev
	return p, nil
}

func (p *port) current() (io.ReadWriteCloser, int) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.dev, p.gen
}

// Read implements io.Reader. A read interrupted by a rate change
// returns no data.
func (p *port) Read(b []byte) (int, error) {
	dev, gen := p.current()
	if dev == nil {
		return 0, uart.ErrNotOpen
	}
	n, err := dev.Read(b)
	if err != nil {
		if cur, curGen := p.current(); cur != nil && curGen != gen {
			return n, nil
		}
	}
	return n, err
}

// Write implements io.Writer.
func (p *port) Write(b []byte) (int, error) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if p.dev == nil {
		return 0, uart.ErrNotOpen
	}
	return p.dev.Write(b)
}

// SetBaud implements uart.Port. The port stays closed if reopening
// fails.
func (p *port) SetBaud(baud uint32) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.dev == nil {
		return uart.ErrNotOpen
	}
	if int(baud) == p.conf.Baud {
		return nil
	}
	err := p.dev.Close()
	p.dev, p.gen = nil, p.gen+1
	if err != nil {
		return err
	}
	p.conf.Baud = int(baud)
	dev, err := p.open(&p.conf)
	if err != nil {
		return err
	}
	p.dev = dev
	return nil
}

// Drain implements uart.Port. Writes go straight to the device and
// tarm/serial offers no tcdrain, so there is nothing to wait for.
func (p *port) Drain() error {
	return nil
}

// Close implements io.Closer.
func (p *port) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.dev == nil {
		return nil
	}
	err := p.dev.Close()
	p.dev = nil
	return err
}

// NewDriver creates a UART driver for ports.
func NewDriver(ports uart.Ports) *uart.Driver {
	return uart.NewDriver(uart.OpenFunc(Open), ports)
}
