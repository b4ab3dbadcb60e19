// Package msgs defines the protobuf messages exchanged with CDC hosts
// and remote controllers.
package msgs

import (
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

// Command operations.
const (
	OpEnable  = "enable"
	OpDisable = "disable"
	OpSet     = "set"
	OpGet     = "get"
)

// CDCControl carries the host side line coding and control lines of a
// CDC channel.
type CDCControl struct {
	Rate     uint32 `protobuf:"varint,1,opt,name=rate,proto3" json:"rate,omitempty"`
	StopBits uint32 `protobuf:"varint,2,opt,name=stop_bits,proto3" json:"stop_bits,omitempty"`
	Parity   uint32 `protobuf:"varint,3,opt,name=parity,proto3" json:"parity,omitempty"`
	DataBits uint32 `protobuf:"varint,4,opt,name=data_bits,proto3" json:"data_bits,omitempty"`
	Dtr      bool   `protobuf:"varint,5,opt,name=dtr,proto3" json:"dtr,omitempty"`
	Rts      bool   `protobuf:"varint,6,opt,name=rts,proto3" json:"rts,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *CDCControl) ProtoMessage() {}

// Reset implements proto.Message.
func (m *CDCControl) Reset() { *m = CDCControl{} }

// String implements proto.Message.
func (m *CDCControl) String() string { return proto.CompactTextString(m) }

// LineCoding extracts the line coding.
func (m *CDCControl) LineCoding() bridge.LineCoding {
	return bridge.LineCoding{
		Rate:     m.Rate,
		StopBits: uint8(m.StopBits),
		Parity:   uint8(m.Parity),
		DataBits: uint8(m.DataBits),
	}
}

// ControlLine extracts the control line bits.
func (m *CDCControl) ControlLine() bridge.ControlLine {
	var line bridge.ControlLine
	if m.Dtr {
		line |= bridge.ControlDTR
	}
	if m.Rts {
		line |= bridge.ControlRTS
	}
	return line
}

// NewCDCControl creates a CDCControl.
func NewCDCControl(lc bridge.LineCoding, line bridge.ControlLine) *CDCControl {
	return &CDCControl{
		Rate:     lc.Rate,
		StopBits: uint32(lc.StopBits),
		Parity:   uint32(lc.Parity),
		DataBits: uint32(lc.DataBits),
		Dtr:      line.DTR(),
		Rts:      line.RTS(),
	}
}

// BridgeConfig is the serialized bridge.Config.
type BridgeConfig struct {
	UsbChannel   int32  `protobuf:"varint,1,opt,name=usb_channel,proto3" json:"usb_channel,omitempty"`
	UartChannel  int32  `protobuf:"varint,2,opt,name=uart_channel,proto3" json:"uart_channel,omitempty"`
	BaudMode     int32  `protobuf:"varint,3,opt,name=baud_mode,proto3" json:"baud_mode,omitempty"`
	BaudRate     uint32 `protobuf:"varint,4,opt,name=baud_rate,proto3" json:"baud_rate,omitempty"`
	FlowPins     int32  `protobuf:"varint,5,opt,name=flow_pins,proto3" json:"flow_pins,omitempty"`
	SoftwareDeRe bool   `protobuf:"varint,6,opt,name=software_de_re,proto3" json:"software_de_re,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *BridgeConfig) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BridgeConfig) Reset() { *m = BridgeConfig{} }

// String implements proto.Message.
func (m *BridgeConfig) String() string { return proto.CompactTextString(m) }

// NewBridgeConfig serializes conf.
func NewBridgeConfig(conf bridge.Config) *BridgeConfig {
	return &BridgeConfig{
		UsbChannel:   int32(conf.USBChannel),
		UartChannel:  int32(conf.UARTChannel),
		BaudMode:     int32(conf.BaudMode),
		BaudRate:     conf.BaudRate,
		FlowPins:     int32(conf.FlowPins),
		SoftwareDeRe: conf.SoftwareDeRe,
	}
}

// Config converts back to bridge.Config.
func (m *BridgeConfig) Config() bridge.Config {
	return bridge.Config{
		USBChannel:   bridge.USBChannel(m.UsbChannel),
		UARTChannel:  bridge.UARTChannel(m.UartChannel),
		BaudMode:     bridge.BaudMode(m.BaudMode),
		BaudRate:     m.BaudRate,
		FlowPins:     bridge.FlowPins(m.FlowPins),
		SoftwareDeRe: m.SoftwareDeRe,
	}
}

// BridgeState reports the bridge status.
type BridgeState struct {
	Enabled    bool   `protobuf:"varint,1,opt,name=enabled,proto3" json:"enabled,omitempty"`
	RxBytes    uint64 `protobuf:"varint,2,opt,name=rx_bytes,proto3" json:"rx_bytes,omitempty"`
	TxBytes    uint64 `protobuf:"varint,3,opt,name=tx_bytes,proto3" json:"tx_bytes,omitempty"`
	Dropped    uint64 `protobuf:"varint,4,opt,name=dropped,proto3" json:"dropped,omitempty"`
	Baud       uint32 `protobuf:"varint,5,opt,name=baud,proto3" json:"baud,omitempty"`
	TxRestarts uint32 `protobuf:"varint,6,opt,name=tx_restarts,proto3" json:"tx_restarts,omitempty"`
	Fault      string `protobuf:"bytes,7,opt,name=fault,proto3" json:"fault,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *BridgeState) ProtoMessage() {}

// Reset implements proto.Message.
func (m *BridgeState) Reset() { *m = BridgeState{} }

// String implements proto.Message.
func (m *BridgeState) String() string { return proto.CompactTextString(m) }

// NewBridgeState snapshots b, a nil or disabled bridge reports
// Enabled false.
func NewBridgeState(b *bridge.Bridge) *BridgeState {
	if b == nil {
		return &BridgeState{}
	}
	st, err := b.State()
	if err != nil {
		return &BridgeState{}
	}
	m := &BridgeState{
		Enabled:    true,
		RxBytes:    st.RxBytes,
		TxBytes:    st.TxBytes,
		Dropped:    st.Dropped,
		Baud:       st.Baud,
		TxRestarts: st.TxRestarts,
	}
	if err := b.Err(); err != nil {
		m.Fault = err.Error()
	}
	return m
}

// Command is a remote request against the bridge controller.
type Command struct {
	Seq    uint32        `protobuf:"varint,1,opt,name=seq,proto3" json:"seq,omitempty"`
	Op     string        `protobuf:"bytes,2,opt,name=op,proto3" json:"op,omitempty"`
	Config *BridgeConfig `protobuf:"bytes,3,opt,name=config,proto3" json:"config,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Command) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Command) Reset() { *m = Command{} }

// String implements proto.Message.
func (m *Command) String() string { return proto.CompactTextString(m) }

// Reply is the response to a Command with the same Seq.
type Reply struct {
	Seq    uint32        `protobuf:"varint,1,opt,name=seq,proto3" json:"seq,omitempty"`
	Err    string        `protobuf:"bytes,2,opt,name=err,proto3" json:"err,omitempty"`
	Config *BridgeConfig `protobuf:"bytes,3,opt,name=config,proto3" json:"config,omitempty"`
	State  *BridgeState  `protobuf:"bytes,4,opt,name=state,proto3" json:"state,omitempty"`
}

// ProtoMessage implements proto.Message.
func (m *Reply) ProtoMessage() {}

// Reset implements proto.Message.
func (m *Reply) Reset() { *m = Reply{} }

// String implements proto.Message.
func (m *Reply) String() string { return proto.CompactTextString(m) }
