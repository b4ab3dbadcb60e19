package cdc

import (
	"io"
	"net/url"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/msgs"
)

// Host is the host end of a CDC channel. It implements
// io.ReadWriteCloser over data frames.
type Host struct {
	rw PacketReadWriter

	sendLock sync.Mutex
	pending  []byte
}

// NewHost creates a Host over a packet connection.
func NewHost(rw PacketReadWriter) *Host {
	return &Host{rw: rw}
}

// Dial connects to a CDC channel websocket, e.g. ws://localhost:8250/cdc1.
func Dial(rawurl string) (*Host, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	origin := &url.URL{Scheme: "http", Host: u.Host}
	conn, err := websocket.Dial(rawurl, "", origin.String())
	if err != nil {
		return nil, err
	}
	return NewHost(NewWebsocket(conn)), nil
}

// Read implements io.Reader. Control frames are skipped.
func (h *Host) Read(p []byte) (int, error) {
	for len(h.pending) == 0 {
		pkt, err := h.rw.ReadPacket()
		if err != nil {
			return 0, err
		}
		data, _, err := DecodeFrame(pkt)
		if err != nil {
			return 0, err
		}
		h.pending = data
	}
	n := copy(p, h.pending)
	h.pending = h.pending[n:]
	return n, nil
}

// Write implements io.Writer.
func (h *Host) Write(p []byte) (int, error) {
	h.sendLock.Lock()
	defer h.sendLock.Unlock()
	if err := h.rw.WritePacket(EncodeData(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetControl sends the line coding and control lines.
func (h *Host) SetControl(lc bridge.LineCoding, line bridge.ControlLine) error {
	pkt, err := EncodeControl(msgs.NewCDCControl(lc, line))
	if err != nil {
		return err
	}
	h.sendLock.Lock()
	defer h.sendLock.Unlock()
	return h.rw.WritePacket(pkt)
}

// Close implements io.Closer.
func (h *Host) Close() error {
	if closer, ok := h.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
