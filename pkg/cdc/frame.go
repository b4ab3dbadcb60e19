package cdc

import (
	"errors"
	"fmt"

	"github.com/golang/protobuf/proto"
	"golang.org/x/net/websocket"

	"github.com/robotalks/uartbridge/pkg/msgs"
)

// Frame kinds, the first byte of every packet.
const (
	FrameData    byte = 0x00
	FrameControl byte = 0x01
)

// ErrEmptyFrame indicates a packet without the kind byte.
var ErrEmptyFrame = errors.New("empty frame")

// PacketReader reads packets in bytes.
type PacketReader interface {
	ReadPacket() ([]byte, error)
}

// PacketWriter writes packets in bytes.
type PacketWriter interface {
	WritePacket([]byte) error
}

// PacketReadWriter reads/writes packets in bytes.
type PacketReadWriter interface {
	PacketReader
	PacketWriter
}

// WebsocketReadWriter implements PacketReadWriter with binary
// websocket messages.
type WebsocketReadWriter websocket.Conn

// NewWebsocket wraps websocket.Conn.
func NewWebsocket(conn *websocket.Conn) *WebsocketReadWriter {
	return (*WebsocketReadWriter)(conn)
}

// ReadPacket implements PacketReader.
func (p *WebsocketReadWriter) ReadPacket() (pkt []byte, err error) {
	err = websocket.Message.Receive((*websocket.Conn)(p), &pkt)
	return
}

// WritePacket implements PacketWriter.
func (p *WebsocketReadWriter) WritePacket(pkt []byte) error {
	return websocket.Message.Send((*websocket.Conn)(p), pkt)
}

// Close implements io.Closer.
func (p *WebsocketReadWriter) Close() error {
	return (*websocket.Conn)(p).Close()
}

// EncodeData builds a data frame.
func EncodeData(p []byte) []byte {
	pkt := make([]byte, len(p)+1)
	pkt[0] = FrameData
	copy(pkt[1:], p)
	return pkt
}

// EncodeControl builds a control frame.
func EncodeControl(m *msgs.CDCControl) ([]byte, error) {
	payload, err := proto.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append([]byte{FrameControl}, payload...), nil
}

// DecodeFrame splits a packet. For control frames ctl is set, for data
// frames data refers into pkt.
func DecodeFrame(pkt []byte) (data []byte, ctl *msgs.CDCControl, err error) {
	if len(pkt) == 0 {
		return nil, nil, ErrEmptyFrame
	}
	switch pkt[0] {
	case FrameData:
		return pkt[1:], nil, nil
	case FrameControl:
		ctl = &msgs.CDCControl{}
		if err = proto.Unmarshal(pkt[1:], ctl); err != nil {
			return nil, nil, err
		}
		return nil, ctl, nil
	}
	return nil, nil, fmt.Errorf("unknown frame kind 0x%02x", pkt[0])
}
