// Package uart implements the bridge UART over host serial devices.
package uart

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

var (
	// ErrUnknownChannel indicates no device is mapped to the channel.
	ErrUnknownChannel = errors.New("no device for uart channel")
	// ErrNotOpen indicates the channel is not initialized.
	ErrNotOpen = errors.New("uart channel not initialized")
	// ErrAlreadyOpen indicates Init on an initialized channel.
	ErrAlreadyOpen = errors.New("uart channel already initialized")
)

// rxChunkSize is the largest chunk delivered to the receive callback.
const rxChunkSize = bridge.PacketSize

// Port is an open serial device.
type Port interface {
	io.ReadWriteCloser
	// SetBaud changes the rate of the open port.
	SetBaud(baud uint32) error
	// Drain blocks until written bytes left the port.
	Drain() error
}

// Opener opens a serial device.
type Opener interface {
	Open(device string, baud uint32) (Port, error)
}

// OpenFunc is the func form of Opener.
type OpenFunc func(device string, baud uint32) (Port, error)

// Open implements Opener.
func (f OpenFunc) Open(device string, baud uint32) (Port, error) {
	return f(device, baud)
}

// Ports maps UART channels to device paths.
type Ports map[bridge.UARTChannel]string

// Driver implements bridge.UART on top of an Opener. A read goroutine
// per channel stands in for DMA reception.
type Driver struct {
	opener Opener
	ports  Ports

	lock  sync.Mutex
	chans map[bridge.UARTChannel]*channel
}

type channel struct {
	device  string
	port    Port
	closing atomic.Bool
	rxDone  chan struct{}
}

// NewDriver creates a Driver.
func NewDriver(opener Opener, ports Ports) *Driver {
	return &Driver{
		opener: opener,
		ports:  ports,
		chans:  make(map[bridge.UARTChannel]*channel),
	}
}

func (d *Driver) channel(ch bridge.UARTChannel) (*channel, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	c, ok := d.chans[ch]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ch, ErrNotOpen)
	}
	return c, nil
}

// Init implements bridge.UART.
func (d *Driver) Init(ch bridge.UARTChannel, baud uint32) error {
	device, ok := d.ports[ch]
	if !ok || device == "" {
		return fmt.Errorf("%s: %w", ch, ErrUnknownChannel)
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, ok := d.chans[ch]; ok {
		return fmt.Errorf("%s: %w", ch, ErrAlreadyOpen)
	}
	port, err := d.opener.Open(device, baud)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	d.chans[ch] = &channel{device: device, port: port}
	glog.V(2).Infof("uart %s opened %s at %d", ch, device, baud)
	return nil
}

// Deinit implements bridge.UART. It returns after the read goroutine exited.
func (d *Driver) Deinit(ch bridge.UARTChannel) error {
	d.lock.Lock()
	c, ok := d.chans[ch]
	delete(d.chans, ch)
	d.lock.Unlock()
	if !ok {
		return nil
	}
	c.closing.Store(true)
	err := c.port.Close()
	if c.rxDone != nil {
		<-c.rxDone
	}
	glog.V(2).Infof("uart %s closed %s", ch, c.device)
	return err
}

// SetBaud implements bridge.UART.
func (d *Driver) SetBaud(ch bridge.UARTChannel, baud uint32) error {
	c, err := d.channel(ch)
	if err != nil {
		return err
	}
	return c.port.SetBaud(baud)
}

// StartRx implements bridge.UART.
func (d *Driver) StartRx(ch bridge.UARTChannel, onRx func([]byte)) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	c, ok := d.chans[ch]
	if !ok {
		return fmt.Errorf("%s: %w", ch, ErrNotOpen)
	}
	if c.rxDone != nil {
		return fmt.Errorf("%s: reception already started", ch)
	}
	c.rxDone = make(chan struct{})
	go c.readLoop(onRx)
	return nil
}

func (c *channel) readLoop(onRx func([]byte)) {
	defer close(c.rxDone)
	buf := make([]byte, rxChunkSize)
	for {
		n, err := c.port.Read(buf)
		if c.closing.Load() {
			return
		}
		if n > 0 {
			onRx(append([]byte(nil), buf[:n]...))
		}
		if err != nil && err != io.EOF {
			glog.Warningf("uart %s read: %v", c.device, err)
			return
		}
	}
}

// Tx implements bridge.UART.
func (d *Driver) Tx(ch bridge.UARTChannel, p []byte) error {
	c, err := d.channel(ch)
	if err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// TxWaitComplete implements bridge.UART.
func (d *Driver) TxWaitComplete(ch bridge.UARTChannel) error {
	c, err := d.channel(ch)
	if err != nil {
		return err
	}
	return c.port.Drain()
}
