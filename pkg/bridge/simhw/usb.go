package simhw

import (
	"fmt"
	"sync"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

// USB simulates the dual CDC device together with its hosts.
type USB struct {
	lock  sync.Mutex
	mode  bridge.USBMode
	chans [2]usbChan
}

type usbChan struct {
	cb        *bridge.CDCCallbacks
	connected bool
	fromHost  []byte
	toHost    []byte
	line      bridge.ControlLine
	coding    bridge.LineCoding
}

// NewUSB creates a simulated device in single mode with a host
// connected on both channels.
func NewUSB() *USB {
	u := &USB{}
	for n := range u.chans {
		u.chans[n].connected = true
	}
	return u
}

func (u *USB) channel(ch bridge.USBChannel) (*usbChan, error) {
	if ch < bridge.USBPrimary || ch > bridge.USBSecondary {
		return nil, fmt.Errorf("invalid usb channel %d", ch)
	}
	if ch == bridge.USBSecondary && u.mode != bridge.USBDual {
		return nil, fmt.Errorf("usb channel %s unavailable in %s mode", ch, u.mode)
	}
	return &u.chans[ch], nil
}

// SetMode implements bridge.USB.
func (u *USB) SetMode(mode bridge.USBMode) error {
	u.lock.Lock()
	defer u.lock.Unlock()
	u.mode = mode
	return nil
}

// SetCallbacks implements bridge.USB.
func (u *USB) SetCallbacks(ch bridge.USBChannel, cb *bridge.CDCCallbacks) {
	u.lock.Lock()
	defer u.lock.Unlock()
	if ch >= bridge.USBPrimary && ch <= bridge.USBSecondary {
		u.chans[ch].cb = cb
	}
}

// Send implements bridge.USB. Without a host the packet is accepted
// but never completes.
func (u *USB) Send(ch bridge.USBChannel, p []byte) error {
	u.lock.Lock()
	c, err := u.channel(ch)
	if err != nil {
		u.lock.Unlock()
		return err
	}
	if !c.connected {
		u.lock.Unlock()
		return nil
	}
	c.toHost = append(c.toHost, p...)
	cb := c.cb
	u.lock.Unlock()
	if cb != nil && cb.OnTxComplete != nil {
		go cb.OnTxComplete()
	}
	return nil
}

// Receive implements bridge.USB.
func (u *USB) Receive(ch bridge.USBChannel, buf []byte) int {
	u.lock.Lock()
	defer u.lock.Unlock()
	c, err := u.channel(ch)
	if err != nil {
		return 0
	}
	n := copy(buf, c.fromHost)
	c.fromHost = c.fromHost[n:]
	return n
}

// ControlLine implements bridge.USB.
func (u *USB) ControlLine(ch bridge.USBChannel) bridge.ControlLine {
	u.lock.Lock()
	defer u.lock.Unlock()
	if c, err := u.channel(ch); err == nil {
		return c.line
	}
	return 0
}

// LineCoding implements bridge.USB.
func (u *USB) LineCoding(ch bridge.USBChannel) bridge.LineCoding {
	u.lock.Lock()
	defer u.lock.Unlock()
	if c, err := u.channel(ch); err == nil {
		return c.coding
	}
	return bridge.LineCoding{}
}

// Mode returns the current device mode.
func (u *USB) Mode() bridge.USBMode {
	u.lock.Lock()
	defer u.lock.Unlock()
	return u.mode
}

// Bound reports whether callbacks are installed on ch.
func (u *USB) Bound(ch bridge.USBChannel) bool {
	u.lock.Lock()
	defer u.lock.Unlock()
	return u.chans[ch].cb != nil
}

func (u *USB) hostEvent(ch bridge.USBChannel, fn func(c *usbChan) func(cb *bridge.CDCCallbacks)) {
	u.lock.Lock()
	c := &u.chans[ch]
	notify := fn(c)
	cb := c.cb
	u.lock.Unlock()
	if cb != nil && notify != nil {
		notify(cb)
	}
}

// HostWrite queues bytes sent by the host on ch.
func (u *USB) HostWrite(ch bridge.USBChannel, p []byte) {
	u.hostEvent(ch, func(c *usbChan) func(*bridge.CDCCallbacks) {
		c.fromHost = append(c.fromHost, p...)
		return func(cb *bridge.CDCCallbacks) {
			if cb.OnRx != nil {
				cb.OnRx()
			}
		}
	})
}

// HostRead drains the bytes the device sent to the host on ch.
func (u *USB) HostRead(ch bridge.USBChannel) []byte {
	u.lock.Lock()
	defer u.lock.Unlock()
	p := u.chans[ch].toHost
	u.chans[ch].toHost = nil
	return p
}

// HostPending returns the count of host bytes not yet received.
func (u *USB) HostPending(ch bridge.USBChannel) int {
	u.lock.Lock()
	defer u.lock.Unlock()
	return len(u.chans[ch].fromHost)
}

// SetLineCoding changes the host line coding on ch.
func (u *USB) SetLineCoding(ch bridge.USBChannel, lc bridge.LineCoding) {
	u.hostEvent(ch, func(c *usbChan) func(*bridge.CDCCallbacks) {
		c.coding = lc
		return func(cb *bridge.CDCCallbacks) {
			if cb.OnLineCoding != nil {
				cb.OnLineCoding(lc)
			}
		}
	})
}

// SetControlLine changes the host DTR/RTS state on ch.
func (u *USB) SetControlLine(ch bridge.USBChannel, line bridge.ControlLine) {
	u.hostEvent(ch, func(c *usbChan) func(*bridge.CDCCallbacks) {
		c.line = line
		return func(cb *bridge.CDCCallbacks) {
			if cb.OnControlLine != nil {
				cb.OnControlLine(line)
			}
		}
	})
}

// Connect attaches or detaches the host on ch.
func (u *USB) Connect(ch bridge.USBChannel, connected bool) {
	u.hostEvent(ch, func(c *usbChan) func(*bridge.CDCCallbacks) {
		c.connected = connected
		return func(cb *bridge.CDCCallbacks) {
			if cb.OnState != nil {
				cb.OnState(connected)
			}
		}
	})
}
