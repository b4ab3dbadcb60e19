// Package cdc implements a virtual dual CDC device whose hosts connect
// over websockets.
package cdc

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

var (
	// ErrUnknownChannel indicates a channel number out of range.
	ErrUnknownChannel = errors.New("unknown cdc channel")
	// ErrUnavailable indicates the channel is not exposed in the current mode.
	ErrUnavailable = errors.New("cdc channel unavailable in single mode")
	// ErrBusy indicates a host is already attached to the channel.
	ErrBusy = errors.New("cdc channel busy")
	// ErrNoHost indicates no host is attached to the channel.
	ErrNoHost = errors.New("no host attached")
)

// DefaultRxBufferSize is the host to device buffer of each channel.
const DefaultRxBufferSize = bridge.PacketSize * 4

// Channels is the number of CDC channels.
const Channels = 2

// Device implements bridge.USB.
type Device struct {
	lock  sync.Mutex
	mode  bridge.USBMode
	ports [Channels]*port
}

type port struct {
	ch      bridge.USBChannel
	rxLimit int

	lock    sync.Mutex
	cb      *bridge.CDCCallbacks
	host    PacketReadWriter
	rx      []byte
	rxSpace chan struct{}
	line    bridge.ControlLine
	coding  bridge.LineCoding

	sendLock sync.Mutex
}

// NewDevice creates a Device in single mode. rxBufferSize bounds the
// bytes buffered from each host, DefaultRxBufferSize if not positive.
func NewDevice(rxBufferSize int) *Device {
	if rxBufferSize <= 0 {
		rxBufferSize = DefaultRxBufferSize
	}
	d := &Device{}
	for n := range d.ports {
		d.ports[n] = &port{
			ch:      bridge.USBChannel(n),
			rxLimit: rxBufferSize,
			rxSpace: make(chan struct{}, 1),
		}
	}
	return d
}

func (d *Device) port(ch bridge.USBChannel) (*port, error) {
	if ch < 0 || int(ch) >= Channels {
		return nil, fmt.Errorf("%d: %w", ch, ErrUnknownChannel)
	}
	return d.ports[ch], nil
}

// exposed returns the port if the host can see it in the current mode.
func (d *Device) exposed(ch bridge.USBChannel) (*port, error) {
	p, err := d.port(ch)
	if err != nil {
		return nil, err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if ch != bridge.USBPrimary && d.mode != bridge.USBDual {
		return nil, ErrUnavailable
	}
	return p, nil
}

// SetMode implements bridge.USB. Hosts of channels which disappear are
// disconnected.
func (d *Device) SetMode(mode bridge.USBMode) error {
	d.lock.Lock()
	d.mode = mode
	d.lock.Unlock()
	glog.V(2).Infof("cdc mode %s", mode)
	if mode == bridge.USBSingle {
		for _, p := range d.ports[1:] {
			p.detach(nil)
		}
	}
	return nil
}

// Mode returns the current mode.
func (d *Device) Mode() bridge.USBMode {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.mode
}

// SetCallbacks implements bridge.USB.
func (d *Device) SetCallbacks(ch bridge.USBChannel, cb *bridge.CDCCallbacks) {
	p, err := d.port(ch)
	if err != nil {
		return
	}
	p.lock.Lock()
	p.cb = cb
	p.lock.Unlock()
}

// Send implements bridge.USB. The packet is written to the host in the
// background and OnTxComplete follows once it is out. Without a host
// the packet is accepted and never completes.
func (d *Device) Send(ch bridge.USBChannel, data []byte) error {
	p, err := d.exposed(ch)
	if err != nil {
		return err
	}
	p.lock.Lock()
	host := p.host
	p.lock.Unlock()
	if host == nil {
		return nil
	}
	pkt := EncodeData(data)
	go func() {
		p.sendLock.Lock()
		err := host.WritePacket(pkt)
		p.sendLock.Unlock()
		if err != nil {
			glog.Warningf("cdc %s send: %v", p.ch, err)
			p.detach(host)
			return
		}
		if cb := p.callbacks(); cb != nil && cb.OnTxComplete != nil {
			cb.OnTxComplete()
		}
	}()
	return nil
}

// Receive implements bridge.USB.
func (d *Device) Receive(ch bridge.USBChannel, buf []byte) int {
	p, err := d.exposed(ch)
	if err != nil {
		return 0
	}
	p.lock.Lock()
	n := copy(buf, p.rx)
	p.rx = p.rx[n:]
	p.lock.Unlock()
	if n > 0 {
		select {
		case p.rxSpace <- struct{}{}:
		default:
		}
	}
	return n
}

// ControlLine implements bridge.USB.
func (d *Device) ControlLine(ch bridge.USBChannel) bridge.ControlLine {
	p, err := d.port(ch)
	if err != nil {
		return 0
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.line
}

// LineCoding implements bridge.USB.
func (d *Device) LineCoding(ch bridge.USBChannel) bridge.LineCoding {
	p, err := d.port(ch)
	if err != nil {
		return bridge.LineCoding{}
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.coding
}

// Connected reports whether a host is attached to ch.
func (d *Device) Connected(ch bridge.USBChannel) bool {
	p, err := d.port(ch)
	if err != nil {
		return false
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.host != nil
}

// Attach serves a host on ch until its connection fails or the
// channel disappears. The host is rejected while another is attached.
func (d *Device) Attach(ch bridge.USBChannel, host PacketReadWriter) error {
	p, err := d.exposed(ch)
	if err != nil {
		return err
	}
	p.lock.Lock()
	if p.host != nil {
		p.lock.Unlock()
		return ErrBusy
	}
	p.host, p.rx = host, nil
	cb := p.cb
	p.lock.Unlock()
	glog.Infof("cdc %s host attached", ch)
	if cb != nil && cb.OnState != nil {
		cb.OnState(true)
	}
	err = p.serve(host)
	p.detach(host)
	if err == io.EOF {
		err = nil
	}
	return err
}

// Detach disconnects the host on ch.
func (d *Device) Detach(ch bridge.USBChannel) error {
	p, err := d.port(ch)
	if err != nil {
		return err
	}
	if !p.detach(nil) {
		return ErrNoHost
	}
	return nil
}

// Handler returns the websocket handler attaching hosts to ch.
func (d *Device) Handler(ch bridge.USBChannel) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		if err := d.Attach(ch, NewWebsocket(conn)); err != nil {
			glog.Warningf("cdc %s host: %v", ch, err)
		}
	})
}

// Path returns the HTTP path serving ch.
func Path(ch bridge.USBChannel) string {
	return fmt.Sprintf("/cdc%d", ch)
}

// Handle registers the websocket handlers of all channels on mux.
func (d *Device) Handle(mux *http.ServeMux) {
	for n := 0; n < Channels; n++ {
		ch := bridge.USBChannel(n)
		mux.Handle(Path(ch), d.Handler(ch))
	}
}

func (p *port) callbacks() *bridge.CDCCallbacks {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.cb
}

func (p *port) serve(host PacketReadWriter) error {
	for {
		pkt, err := host.ReadPacket()
		if err != nil {
			return err
		}
		data, ctl, err := DecodeFrame(pkt)
		if err != nil {
			glog.Warningf("cdc %s: %v", p.ch, err)
			continue
		}
		if ctl != nil {
			p.control(ctl.LineCoding(), ctl.ControlLine())
			continue
		}
		if !p.receive(host, data) {
			return nil
		}
	}
}

// receive buffers host data, pausing the host while the buffer is
// full. It returns false once host is detached.
func (p *port) receive(host PacketReadWriter, data []byte) bool {
	for len(data) > 0 {
		p.lock.Lock()
		if p.host != host {
			p.lock.Unlock()
			return false
		}
		n := p.rxLimit - len(p.rx)
		if n > len(data) {
			n = len(data)
		}
		p.rx = append(p.rx, data[:n]...)
		data = data[n:]
		cb := p.cb
		p.lock.Unlock()
		if n > 0 && cb != nil && cb.OnRx != nil {
			cb.OnRx()
		}
		if len(data) > 0 {
			<-p.rxSpace
		}
	}
	return true
}

func (p *port) control(lc bridge.LineCoding, line bridge.ControlLine) {
	p.lock.Lock()
	codingChanged, lineChanged := p.coding != lc, p.line != line
	p.coding, p.line = lc, line
	cb := p.cb
	p.lock.Unlock()
	if cb == nil {
		return
	}
	if codingChanged && cb.OnLineCoding != nil {
		cb.OnLineCoding(lc)
	}
	if lineChanged && cb.OnControlLine != nil {
		cb.OnControlLine(line)
	}
}

// detach removes host, any host if nil, and reports whether one was
// attached.
func (p *port) detach(host PacketReadWriter) bool {
	p.lock.Lock()
	cur := p.host
	if cur == nil || (host != nil && cur != host) {
		p.lock.Unlock()
		return false
	}
	p.host, p.rx = nil, nil
	p.line = 0
	cb := p.cb
	p.lock.Unlock()
	select {
	case p.rxSpace <- struct{}{}:
	default:
	}
	if closer, ok := cur.(io.Closer); ok {
		closer.Close()
	}
	glog.Infof("cdc %s host detached", p.ch)
	if cb != nil && cb.OnState != nil {
		cb.OnState(false)
	}
	return true
}
