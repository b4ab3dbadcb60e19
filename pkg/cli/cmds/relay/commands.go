package relay

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/fatih/color"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/cdc"
	"github.com/robotalks/uartbridge/pkg/cli/sh"
	"github.com/robotalks/uartbridge/pkg/msgs"
)

// termEscape ends a term session.
const termEscape = "~."

func printReply(c *ishell.Context, reply *msgs.Reply, err error) {
	if err == nil {
		sh.ShellFrom(c).Print(c, reply)
	}
}

// currentConfig fetches the active config as the base of set.
func currentConfig(c *ishell.Context) (bridge.Config, error) {
	reply, err := sh.DoCommand(c, msgs.OpGet, nil)
	if err != nil {
		return bridge.Config{}, err
	}
	if reply.Config == nil {
		err = bridge.ErrNotEnabled
		c.Err(err)
		return bridge.Config{}, err
	}
	return reply.Config.Config(), nil
}

// mergeArgs applies KEY=VALUE arguments onto base.
func mergeArgs(base bridge.Config, args []string) (bridge.Config, error) {
	if len(args) == 0 {
		return base, fmt.Errorf("KEY=VALUE required")
	}
	return bridge.ParseConfig(base, strings.Join(args, ","))
}

// enableArgs returns the config to enable with, nil to use the bridge
// defaults.
func enableArgs(args []string) (*bridge.Config, error) {
	if len(args) == 0 {
		return nil, nil
	}
	conf, err := mergeArgs(bridge.DefaultConfig, args)
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

// waitInterrupt blocks until Enter in interactive mode or Ctrl-C.
func waitInterrupt(c *ishell.Context) {
	if sh.ShellFrom(c).Interactive {
		c.ReadLine()
		return
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	<-sigCh
}

var (
	// StatusCmd prints the bridge state and config.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			reply, err := sh.DoCommand(c, msgs.OpGet, nil)
			printReply(c, reply, err)
		}),
	}

	// ConfigCmd prints the active config.
	ConfigCmd = ishell.Cmd{
		Name: "config",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			conf, err := currentConfig(c)
			if err == nil {
				c.Println(conf.String())
			}
		}),
	}

	// SetCmd reconfigures the running bridge.
	SetCmd = ishell.Cmd{
		Name: "set",
		Help: "KEY=VALUE... (usb, uart, baud, flow, dere)",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			if _, err := mergeArgs(bridge.DefaultConfig, c.Args); err != nil {
				c.Err(err)
				return
			}
			base, err := currentConfig(c)
			if err != nil {
				return
			}
			conf, err := mergeArgs(base, c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			reply, err := sh.DoCommand(c, msgs.OpSet, &conf)
			printReply(c, reply, err)
		}),
	}

	// EnableCmd enables the bridge.
	EnableCmd = ishell.Cmd{
		Name: "enable",
		Help: "[KEY=VALUE...]",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			conf, err := enableArgs(c.Args)
			if err != nil {
				c.Err(err)
				return
			}
			reply, err := sh.DoCommand(c, msgs.OpEnable, conf)
			printReply(c, reply, err)
		}),
	}

	// DisableCmd disables the bridge.
	DisableCmd = ishell.Cmd{
		Name: "disable",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			reply, err := sh.DoCommand(c, msgs.OpDisable, nil)
			printReply(c, reply, err)
		}),
	}

	// WatchCmd prints state updates.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "",
		Func: sh.MustBeConnected(func(c *ishell.Context) {
			s := sh.ShellFrom(c)
			sub := s.Client.Watch(func(st *msgs.BridgeState) {
				c.Println(sh.FormatState(st))
			})
			defer sub.Close()
			if s.Interactive {
				c.Println(color.CyanString("press Enter to stop"))
			}
			waitInterrupt(c)
		}),
	}

	// TermCmd attaches the terminal to a CDC channel.
	TermCmd = ishell.Cmd{
		Name: "term",
		Help: "URL (e.g. ws://localhost:8250/cdc1), type " + termEscape + " to leave",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("URL required"))
				return
			}
			host, err := cdc.Dial(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			defer host.Close()
			if err := host.SetControl(bridge.LineCoding{Rate: 115200, DataBits: 8}, bridge.ControlDTR|bridge.ControlRTS); err != nil {
				c.Err(err)
				return
			}
			go io.Copy(os.Stdout, host)
			c.Println(color.CyanString("connected, type %s to leave", termEscape))
			for {
				line := c.ReadLine()
				if line == termEscape {
					return
				}
				if _, err := host.Write([]byte(line + "\r")); err != nil {
					c.Err(err)
					return
				}
			}
		},
	}
)

func init() {
	sh.AddCmds(
		&StatusCmd,
		&ConfigCmd,
		&SetCmd,
		&EnableCmd,
		&DisableCmd,
		&WatchCmd,
		&TermCmd,
	)
}
