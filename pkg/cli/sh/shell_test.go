package sh

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/msgs"
)

func TestFormatState(t *testing.T) {
	color.NoColor = true
	require.Equal(t, "disabled", FormatState(nil))
	require.Equal(t, "disabled", FormatState(&msgs.BridgeState{}))
	require.Equal(t,
		"enabled baud=9600 rx=10 tx=20 dropped=3 tx-restarts=1 fault: uart: broken",
		FormatState(&msgs.BridgeState{
			Enabled:    true,
			Baud:       9600,
			RxBytes:    10,
			TxBytes:    20,
			Dropped:    3,
			TxRestarts: 1,
			Fault:      "uart: broken",
		}))
}

func TestFormatConfig(t *testing.T) {
	require.Equal(t, "-", FormatConfig(nil))
	conf := bridge.Config{USBChannel: bridge.USBPrimary, UARTChannel: bridge.LPUART, BaudMode: bridge.Fixed, BaudRate: 9600}
	require.Equal(t, conf.String(), FormatConfig(msgs.NewBridgeConfig(conf)))
	parsed, err := bridge.ParseConfig(bridge.DefaultConfig, FormatConfig(msgs.NewBridgeConfig(conf)))
	require.NoError(t, err)
	require.Equal(t, conf, parsed)
}

func TestShortID(t *testing.T) {
	require.Equal(t, "bench", shortID("bench"))
	require.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
}
