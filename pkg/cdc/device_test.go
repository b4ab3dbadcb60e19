package cdc

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/bridge/simhw"
	"github.com/robotalks/uartbridge/pkg/gpio"
	"github.com/robotalks/uartbridge/pkg/msgs"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

type chanPackets struct {
	readCh  chan []byte
	writeCh chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func newChanPackets() *chanPackets {
	return &chanPackets{
		readCh:  make(chan []byte, 4),
		writeCh: make(chan []byte, 4),
		closeCh: make(chan struct{}),
	}
}

func (c *chanPackets) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-c.readCh:
		return pkt, nil
	case <-c.closeCh:
		return nil, io.EOF
	}
}

func (c *chanPackets) WritePacket(pkt []byte) error {
	select {
	case c.writeCh <- pkt:
		return nil
	case <-c.closeCh:
		return io.ErrClosedPipe
	}
}

func (c *chanPackets) Close() error {
	c.once.Do(func() { close(c.closeCh) })
	return nil
}

type callbackRecorder struct {
	txComplete chan struct{}
	rx         chan struct{}
	state      chan bool
	line       chan bridge.ControlLine
	coding     chan bridge.LineCoding
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{
		txComplete: make(chan struct{}, 16),
		rx:         make(chan struct{}, 16),
		state:      make(chan bool, 16),
		line:       make(chan bridge.ControlLine, 16),
		coding:     make(chan bridge.LineCoding, 16),
	}
}

func (r *callbackRecorder) callbacks() *bridge.CDCCallbacks {
	return &bridge.CDCCallbacks{
		OnTxComplete:  func() { r.txComplete <- struct{}{} },
		OnRx:          func() { r.rx <- struct{}{} },
		OnState:       func(c bool) { r.state <- c },
		OnControlLine: func(l bridge.ControlLine) { r.line <- l },
		OnLineCoding:  func(lc bridge.LineCoding) { r.coding <- lc },
	}
}

func attach(t *testing.T, d *Device, ch bridge.USBChannel) (*chanPackets, chan error) {
	host := newChanPackets()
	errCh := make(chan error, 1)
	go func() { errCh <- d.Attach(ch, host) }()
	require.Eventually(t, func() bool { return d.Connected(ch) }, waitFor, tick)
	return host, errCh
}

func TestDeviceDataAndControl(t *testing.T) {
	d := NewDevice(0)
	require.NoError(t, d.SetMode(bridge.USBDual))
	rec := newCallbackRecorder()
	d.SetCallbacks(bridge.USBSecondary, rec.callbacks())
	host, errCh := attach(t, d, bridge.USBSecondary)
	require.True(t, <-rec.state)

	host.readCh <- EncodeData([]byte("hello"))
	<-rec.rx
	buf := make([]byte, bridge.PacketSize)
	n := d.Receive(bridge.USBSecondary, buf)
	require.Equal(t, "hello", string(buf[:n]))
	require.Zero(t, d.Receive(bridge.USBSecondary, buf))

	require.NoError(t, d.Send(bridge.USBSecondary, []byte("abc")))
	require.Equal(t, EncodeData([]byte("abc")), <-host.writeCh)
	<-rec.txComplete

	ctl, err := EncodeControl(msgs.NewCDCControl(bridge.LineCoding{Rate: 38400, DataBits: 8}, bridge.ControlDTR))
	require.NoError(t, err)
	host.readCh <- ctl
	require.Equal(t, bridge.LineCoding{Rate: 38400, DataBits: 8}, <-rec.coding)
	require.Equal(t, bridge.ControlDTR, <-rec.line)
	require.Equal(t, uint32(38400), d.LineCoding(bridge.USBSecondary).Rate)
	require.Equal(t, bridge.ControlDTR, d.ControlLine(bridge.USBSecondary))

	// a second host is rejected
	require.Equal(t, ErrBusy, d.Attach(bridge.USBSecondary, newChanPackets()))

	require.NoError(t, d.Detach(bridge.USBSecondary))
	require.False(t, <-rec.state)
	require.NoError(t, <-errCh)
	require.Equal(t, ErrNoHost, d.Detach(bridge.USBSecondary))
}

func TestDeviceBackpressure(t *testing.T) {
	d := NewDevice(4)
	host, _ := attach(t, d, bridge.USBPrimary)
	host.readCh <- EncodeData([]byte("0123456789"))

	var got []byte
	buf := make([]byte, 3)
	require.Eventually(t, func() bool {
		n := d.Receive(bridge.USBPrimary, buf)
		got = append(got, buf[:n]...)
		return len(got) == 10
	}, waitFor, tick)
	require.Equal(t, "0123456789", string(got))
}

func TestDeviceSingleMode(t *testing.T) {
	d := NewDevice(0)
	require.Equal(t, ErrUnavailable, d.Attach(bridge.USBSecondary, newChanPackets()))
	require.Equal(t, ErrUnavailable, d.Send(bridge.USBSecondary, []byte("x")))
	require.Error(t, d.Attach(bridge.USBChannel(3), newChanPackets()))

	require.NoError(t, d.SetMode(bridge.USBDual))
	_, errCh := attach(t, d, bridge.USBSecondary)
	require.NoError(t, d.SetMode(bridge.USBSingle))
	require.NoError(t, <-errCh)
	require.False(t, d.Connected(bridge.USBSecondary))
}

func TestSendWithoutHost(t *testing.T) {
	d := NewDevice(0)
	rec := newCallbackRecorder()
	d.SetCallbacks(bridge.USBPrimary, rec.callbacks())
	require.NoError(t, d.Send(bridge.USBPrimary, []byte("lost")))
	select {
	case <-rec.txComplete:
		t.Fatal("completed without host")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWebsocketBridge(t *testing.T) {
	d := NewDevice(0)
	mux := http.NewServeMux()
	d.Handle(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	uart := simhw.NewUART()
	ctrl := bridge.NewController(bridge.Hardware{UART: uart, USB: d, GPIO: gpio.NewTable()})
	b, err := ctrl.Enable(bridge.Config{USBChannel: bridge.USBSecondary, UARTChannel: bridge.USART})
	require.NoError(t, err)
	defer ctrl.Disable(b)
	require.Eventually(t, func() bool { return d.Mode() == bridge.USBDual }, waitFor, tick)

	host, err := Dial("ws" + strings.TrimPrefix(server.URL, "http") + Path(bridge.USBSecondary))
	require.NoError(t, err)
	defer host.Close()
	require.Eventually(t, func() bool { return d.Connected(bridge.USBSecondary) }, waitFor, tick)

	require.NoError(t, host.SetControl(bridge.LineCoding{Rate: 57600, DataBits: 8}, 0))
	require.Eventually(t, func() bool { return uart.Baud(bridge.USART) == 57600 }, waitFor, tick)

	_, err = host.Write([]byte("to uart"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return string(uart.Transmitted(bridge.USART)) == "to uart"
	}, waitFor, tick)

	require.True(t, uart.Inject(bridge.USART, []byte("to host")))
	buf := make([]byte, 16)
	n, err := io.ReadAtLeast(host, buf, 7)
	require.NoError(t, err)
	require.Equal(t, "to host", string(buf[:n]))
}
