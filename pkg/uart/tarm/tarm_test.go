package tarm

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"

	"github.com/robotalks/uartbridge/pkg/uart"
)

type fakeDevice struct {
	baud    int
	entered chan struct{}
	release chan struct{}

	lock    sync.Mutex
	written []byte
	closes  int
}

func (d *fakeDevice) Read([]byte) (int, error) { return 0, io.EOF }

func (d *fakeDevice) Write(b []byte) (int, error) {
	if d.entered != nil {
		close(d.entered)
		<-d.release
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.closes > 0 {
		return 0, errors.New("file already closed")
	}
	d.written = append(d.written, b...)
	return len(b), nil
}

func (d *fakeDevice) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.closes++
	return nil
}

type fakeOpener struct {
	lock    sync.Mutex
	devices []*fakeDevice
	err     error
}

func (o *fakeOpener) open(conf *serial.Config) (io.ReadWriteCloser, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	dev := &fakeDevice{baud: conf.Baud}
	o.devices = append(o.devices, dev)
	return dev, nil
}

func (o *fakeOpener) device(n int) *fakeDevice {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.devices[n]
}

func TestWriteDuringSetBaud(t *testing.T) {
	opener := &fakeOpener{}
	p, err := openWith(opener.open, "/dev/ttyFAKE", 115200)
	require.NoError(t, err)
	first := opener.device(0)
	first.entered, first.release = make(chan struct{}), make(chan struct{})

	wrote := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte("hello"))
		wrote <- err
	}()
	<-first.entered

	reopened := make(chan error, 1)
	go func() { reopened <- p.SetBaud(9600) }()
	select {
	case <-reopened:
		t.Fatal("port reopened during a write")
	case <-time.After(20 * time.Millisecond):
	}

	close(first.release)
	require.NoError(t, <-wrote)
	require.NoError(t, <-reopened)
	require.Equal(t, "hello", string(first.written))
	require.Equal(t, 1, first.closes)

	second := opener.device(1)
	require.Equal(t, 9600, second.baud)
	n, err := p.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "world", string(second.written))
	require.NoError(t, p.SetBaud(9600))
	require.NoError(t, p.Close())
}

func TestFailedReopen(t *testing.T) {
	opener := &fakeOpener{}
	p, err := openWith(opener.open, "/dev/ttyFAKE", 115200)
	require.NoError(t, err)

	opener.err = errors.New("device unplugged")
	require.EqualError(t, p.SetBaud(9600), "device unplugged")
	_, err = p.Write([]byte("x"))
	require.ErrorIs(t, err, uart.ErrNotOpen)
	_, err = p.Read(make([]byte, 4))
	require.ErrorIs(t, err, uart.ErrNotOpen)
	require.ErrorIs(t, p.SetBaud(115200), uart.ErrNotOpen)
	require.NoError(t, p.Close())
	require.Equal(t, 1, opener.device(0).closes)
}
