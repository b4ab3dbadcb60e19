package uart

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

type chanPort struct {
	readCh  chan []byte
	closeCh chan struct{}

	lock    sync.Mutex
	written []byte
	bauds   []uint32
	drains  int
	closed  bool
}

func newChanPort() *chanPort {
	return &chanPort{readCh: make(chan []byte, 4), closeCh: make(chan struct{})}
}

func (p *chanPort) Read(b []byte) (int, error) {
	select {
	case data := <-p.readCh:
		return copy(b, data), nil
	case <-p.closeCh:
		return 0, errors.New("closed")
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func (p *chanPort) Write(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	// short writes
	if len(b) > 3 {
		b = b[:3]
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *chanPort) SetBaud(baud uint32) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.bauds = append(p.bauds, baud)
	return nil
}

func (p *chanPort) Drain() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.drains++
	return nil
}

func (p *chanPort) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.closed {
		p.closed = true
		close(p.closeCh)
	}
	return nil
}

type fakeOpener struct {
	ports  map[string]*chanPort
	opened []string
}

func (o *fakeOpener) Open(device string, baud uint32) (Port, error) {
	p, ok := o.ports[device]
	if !ok {
		return nil, errors.New("no such device")
	}
	o.opened = append(o.opened, device)
	p.bauds = append(p.bauds, baud)
	return p, nil
}

func TestDriver(t *testing.T) {
	port := newChanPort()
	opener := &fakeOpener{ports: map[string]*chanPort{"/dev/ttyUSB0": port}}
	d := NewDriver(opener, Ports{bridge.USART: "/dev/ttyUSB0", bridge.LPUART: "/dev/missing"})

	require.True(t, errors.Is(d.Tx(bridge.USART, []byte("x")), ErrNotOpen))
	require.Error(t, d.Init(bridge.LPUART, 9600))
	require.True(t, errors.Is(d.Init(bridge.UARTChannel(5), 9600), ErrUnknownChannel))

	require.NoError(t, d.Init(bridge.USART, 115200))
	require.True(t, errors.Is(d.Init(bridge.USART, 115200), ErrAlreadyOpen))
	require.NoError(t, d.SetBaud(bridge.USART, 9600))

	rxCh := make(chan []byte, 4)
	require.NoError(t, d.StartRx(bridge.USART, func(p []byte) { rxCh <- p }))
	require.Error(t, d.StartRx(bridge.USART, func([]byte) {}))
	port.readCh <- []byte("hello")
	select {
	case p := <-rxCh:
		require.Equal(t, "hello", string(p))
	case <-time.After(time.Second):
		t.Fatal("no data received")
	}

	require.NoError(t, d.Tx(bridge.USART, []byte("abcdefgh")))
	require.NoError(t, d.TxWaitComplete(bridge.USART))

	require.NoError(t, d.Deinit(bridge.USART))
	require.NoError(t, d.Deinit(bridge.USART))
	require.True(t, errors.Is(d.SetBaud(bridge.USART, 9600), ErrNotOpen))

	port.lock.Lock()
	defer port.lock.Unlock()
	require.Equal(t, "abcdefgh", string(port.written))
	require.Equal(t, []uint32{115200, 9600}, port.bauds)
	require.Equal(t, 1, port.drains)
	require.True(t, port.closed)
	require.Equal(t, []string{"/dev/ttyUSB0"}, opener.opened)
}

func TestDriverWithBridge(t *testing.T) {
	port := newChanPort()
	d := NewDriver(&fakeOpener{ports: map[string]*chanPort{"loop": port}}, Ports{bridge.USART: "loop"})
	usb := &stubUSB{}
	ctrl := bridge.NewController(bridge.Hardware{UART: d, USB: usb, GPIO: stubGPIO{}})
	b, err := ctrl.Enable(bridge.Config{USBChannel: bridge.USBPrimary, BaudMode: bridge.Fixed, BaudRate: 19200})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, err := b.State()
		return err == nil && st.Baud == 19200
	}, time.Second, time.Millisecond)
	port.readCh <- []byte("uart")
	require.Eventually(t, func() bool { return usb.sent() == "uart" }, time.Second, time.Millisecond)
	require.NoError(t, ctrl.Disable(b))
	require.NoError(t, b.Err())
}

type stubUSB struct {
	lock sync.Mutex
	cb   *bridge.CDCCallbacks
	buf  []byte
}

func (u *stubUSB) SetMode(bridge.USBMode) error { return nil }

func (u *stubUSB) SetCallbacks(ch bridge.USBChannel, cb *bridge.CDCCallbacks) {
	u.lock.Lock()
	u.cb = cb
	u.lock.Unlock()
}

func (u *stubUSB) Send(ch bridge.USBChannel, p []byte) error {
	u.lock.Lock()
	u.buf = append(u.buf, p...)
	cb := u.cb
	u.lock.Unlock()
	if cb != nil {
		go cb.OnTxComplete()
	}
	return nil
}

func (u *stubUSB) sent() string {
	u.lock.Lock()
	defer u.lock.Unlock()
	return string(u.buf)
}

func (u *stubUSB) Receive(bridge.USBChannel, []byte) int            { return 0 }
func (u *stubUSB) ControlLine(bridge.USBChannel) bridge.ControlLine { return 0 }
func (u *stubUSB) LineCoding(bridge.USBChannel) bridge.LineCoding   { return bridge.LineCoding{} }

type stubGPIO struct{}

func (stubGPIO) InitPin(bridge.Pin, bridge.PinMode) error { return nil }
func (stubGPIO) WritePin(bridge.Pin, bool) error          { return nil }
