package console

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/bridge/simhw"
	"github.com/robotalks/uartbridge/pkg/gpio"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

func TestExec(t *testing.T) {
	s := New(simhw.NewUSB(), "v1.2")
	s.AddCmds(&Command{Name: "echo", Help: "print args", Func: func(args []string) (string, error) {
		if len(args) == 0 {
			return "", errors.New("nothing to echo")
		}
		return strings.Join(args, "|"), nil
	}})
	require.Equal(t, "v1.2", s.Exec("version"))
	require.Equal(t, "a b|c", s.Exec(`echo "a b" c`))
	require.Equal(t, "error: nothing to echo", s.Exec("echo"))
	require.Equal(t, "unknown command: reboot", s.Exec("reboot now"))
	require.Equal(t, "", s.Exec("   "))
	help := s.Exec("help")
	require.Contains(t, help, "echo       print args")
	require.Contains(t, help, "uptime")
}

func TestSessionOverUSB(t *testing.T) {
	usb := simhw.NewUSB()
	s := New(usb, "v1")
	s.OpenSession(bridge.USBPrimary)
	s.OpenSession(bridge.USBPrimary)
	require.True(t, s.Opened(bridge.USBPrimary))

	var out bytes.Buffer
	usb.HostWrite(bridge.USBPrimary, []byte("vers"))
	usb.HostWrite(bridge.USBPrimary, []byte("ion\r"))
	require.Eventually(t, func() bool {
		out.Write(usb.HostRead(bridge.USBPrimary))
		return out.String() == "\r\nv1\r\n"+Prompt
	}, waitFor, tick)

	s.CloseSession(bridge.USBPrimary)
	s.CloseSession(bridge.USBPrimary)
	require.False(t, s.Opened(bridge.USBPrimary))
	require.False(t, usb.Bound(bridge.USBPrimary))
}

func TestSessionsFollowBridge(t *testing.T) {
	board := simhw.New()
	s := New(board.USB, "v1")
	// the device starts with a session on the primary channel
	s.OpenSession(bridge.USBPrimary)
	ctrl := bridge.NewController(bridge.Hardware{
		UART:     board.UART,
		USB:      board.USB,
		GPIO:     gpio.NewTable(),
		Sessions: s,
	})
	b, err := ctrl.Enable(bridge.Config{USBChannel: bridge.USBSecondary})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return board.USB.Mode() == bridge.USBDual }, waitFor, tick)
	require.True(t, s.Opened(bridge.USBPrimary))

	var out bytes.Buffer
	board.USB.HostWrite(bridge.USBPrimary, []byte("version\n"))
	require.Eventually(t, func() bool {
		out.Write(board.USB.HostRead(bridge.USBPrimary))
		return strings.Contains(out.String(), "v1")
	}, waitFor, tick)

	require.NoError(t, b.SetConfig(bridge.Config{USBChannel: bridge.USBPrimary}))
	require.False(t, s.Opened(bridge.USBPrimary))

	require.NoError(t, ctrl.Disable(b))
	require.True(t, s.Opened(bridge.USBPrimary))
	require.True(t, board.USB.Bound(bridge.USBPrimary))
	s.CloseSession(bridge.USBPrimary)
}
