package msgs

import (
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

func TestBridgeConfigConversion(t *testing.T) {
	conf := bridge.Config{
		USBChannel:   bridge.USBPrimary,
		UARTChannel:  bridge.LPUART,
		BaudMode:     bridge.Fixed,
		BaudRate:     57600,
		FlowPins:     bridge.FlowPairB,
		SoftwareDeRe: true,
	}
	cmd := &Command{Seq: 7, Op: OpSet, Config: NewBridgeConfig(conf)}
	data, err := proto.Marshal(cmd)
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, proto.Unmarshal(data, &decoded))
	require.Equal(t, uint32(7), decoded.Seq)
	require.Equal(t, OpSet, decoded.Op)
	require.NotNil(t, decoded.Config)
	require.Equal(t, conf, decoded.Config.Config())
}

func TestCDCControl(t *testing.T) {
	m := NewCDCControl(bridge.LineCoding{Rate: 9600, DataBits: 8}, bridge.ControlRTS)
	require.Equal(t, bridge.LineCoding{Rate: 9600, DataBits: 8}, m.LineCoding())
	require.Equal(t, bridge.ControlRTS, m.ControlLine())
	require.False(t, m.Dtr)
	m.Dtr = true
	require.Equal(t, bridge.ControlRTS|bridge.ControlDTR, m.ControlLine())
}

func TestBridgeStateOfDisabledBridge(t *testing.T) {
	require.Equal(t, &BridgeState{}, NewBridgeState(nil))
}
