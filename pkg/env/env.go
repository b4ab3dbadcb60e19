// Package env assembles the hardware, the bridge controller and the
// remote surfaces of the uartbridge daemon from flags and environment.
package env

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/bridge/simhw"
	"github.com/robotalks/uartbridge/pkg/cdc"
	"github.com/robotalks/uartbridge/pkg/console"
	fx "github.com/robotalks/uartbridge/pkg/framework"
	"github.com/robotalks/uartbridge/pkg/gpio"
	"github.com/robotalks/uartbridge/pkg/remote/mqtt"
	"github.com/robotalks/uartbridge/pkg/uart"
	"github.com/robotalks/uartbridge/pkg/uart/bugst"
	"github.com/robotalks/uartbridge/pkg/uart/tarm"
)

// Version is reported by the console.
var Version = "dev"

// UART driver names.
const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

// Config provides the options to set up the daemon.
type Config struct {
	// ID names the bridge on MQTT, defaults to the machine ID.
	ID string
	// MQTTBrokerURL enables the MQTT server when set,
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// Listen is the address of the websocket CDC endpoints.
	Listen string
	// USARTDevice and LPUARTDevice are serial device paths.
	USARTDevice  string
	LPUARTDevice string
	// Driver selects the serial library, bugst or tarm.
	Driver string
	// ModemDevice mirrors flow pins onto the modem lines of a serial
	// adapter when set.
	ModemDevice string
	// Bridge is the config text to enable the bridge with at start-up,
	// the bridge stays disabled when empty.
	Bridge string
	// Sim uses a loopback UART instead of serial devices.
	Sim bool
	// RxBufferSize bounds host data pending per CDC channel.
	RxBufferSize int
}

var defaultConfig = Config{
	Listen:       "localhost:8250",
	USARTDevice:  "/dev/ttyUSB0",
	LPUARTDevice: "/dev/ttyUSB1",
	Driver:       DriverBugst,
	RxBufferSize: cdc.DefaultRxBufferSize,
}

func init() {
	for name, val := range map[string]*string{
		"UARTBRIDGE_ID":       &defaultConfig.ID,
		"UARTBRIDGE_MQTT_URL": &defaultConfig.MQTTBrokerURL,
		"UARTBRIDGE_LISTEN":   &defaultConfig.Listen,
		"UARTBRIDGE_USART":    &defaultConfig.USARTDevice,
		"UARTBRIDGE_LPUART":   &defaultConfig.LPUARTDevice,
		"UARTBRIDGE_DRIVER":   &defaultConfig.Driver,
	} {
		if v := os.Getenv(name); v != "" {
			*val = v
		}
	}
	if defaultConfig.ID == "" {
		defaultConfig.ID = MachineID()
	}
}

// MachineID retrieves the unique ID identifying the machine, or the
// host name when it's not available.
func MachineID() string {
	id, err := machineid.ID()
	if err == nil {
		return id
	}
	glog.Warningf("machine id: %v", err)
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "uartbridge"
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Bridge ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL, disabled when empty")
	flag.StringVar(&defaultConfig.Listen, "listen", defaultConfig.Listen, "Listen address of CDC websocket endpoints")
	flag.StringVar(&defaultConfig.USARTDevice, "usart", defaultConfig.USARTDevice, "Serial device of USART")
	flag.StringVar(&defaultConfig.LPUARTDevice, "lpuart", defaultConfig.LPUARTDevice, "Serial device of LPUART")
	flag.StringVar(&defaultConfig.Driver, "driver", defaultConfig.Driver, "Serial driver: bugst or tarm")
	flag.StringVar(&defaultConfig.ModemDevice, "modem", defaultConfig.ModemDevice, "Serial device whose RTS/DTR follow the flow pins")
	flag.StringVar(&defaultConfig.Bridge, "bridge", defaultConfig.Bridge, "Enable the bridge at start, e.g. usb=secondary,uart=usart,baud=host")
	flag.BoolVar(&defaultConfig.Sim, "sim", defaultConfig.Sim, "Use a simulated loopback UART")
	flag.IntVar(&defaultConfig.RxBufferSize, "rx-buffer", defaultConfig.RxBufferSize, "Host data buffered per CDC channel")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Env is the assembled daemon.
type Env struct {
	Config     *Config
	Device     *cdc.Device
	Console    *console.Sessions
	Controller *bridge.Controller
	Server     *mqtt.Server
	// Bridge is the initial bridge configuration, nil if not enabled at
	// start-up.
	Bridge *bridge.Config

	uart   bridge.UART
	pins   pinTable
	closer func() error
}

// pinTable is implemented by gpio.Table and gpio.ModemLines.
type pinTable interface {
	bridge.GPIO
	Pin(bridge.Pin) gpio.State
	Claimed() []bridge.Pin
}

// NewEnv creates Env from config.
func (c *Config) NewEnv() (*Env, error) {
	e := &Env{Config: c, closer: func() error { return nil }}
	if c.Bridge != "" {
		conf, err := bridge.ParseConfig(bridge.DefaultConfig, c.Bridge)
		if err != nil {
			return nil, fmt.Errorf("bridge config: %w", err)
		}
		e.Bridge = &conf
	}

	if c.Sim {
		u := simhw.NewUART()
		u.Loopback = true
		e.uart = u
	} else {
		ports := uart.Ports{bridge.USART: c.USARTDevice, bridge.LPUART: c.LPUARTDevice}
		switch strings.ToLower(c.Driver) {
		case DriverBugst:
			e.uart = bugst.NewDriver(ports)
		case DriverTarm:
			e.uart = tarm.NewDriver(ports)
		default:
			return nil, fmt.Errorf("unknown serial driver %q", c.Driver)
		}
	}

	if c.ModemDevice != "" {
		lines, err := gpio.OpenModemLines(c.ModemDevice, gpio.DefaultModemLines())
		if err != nil {
			return nil, err
		}
		e.pins, e.closer = lines, lines.Close
	} else {
		e.pins = gpio.NewTable()
	}

	e.Device = cdc.NewDevice(c.RxBufferSize)
	e.Console = console.New(e.Device, Version)
	e.Controller = bridge.NewController(bridge.Hardware{
		UART:     e.uart,
		USB:      e.Device,
		GPIO:     e.pins,
		Sessions: e.Console,
	})
	e.addConsoleCmds()

	if c.MQTTBrokerURL != "" {
		server, err := mqtt.NewServer(c.MQTTBrokerURL, c.ID, e.Controller)
		if err != nil {
			e.closer()
			return nil, fmt.Errorf("create MQTT server error: %w", err)
		}
		if e.Bridge != nil {
			server.Defaults = *e.Bridge
		}
		e.Server = server
	}
	return e, nil
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	env, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return env
}

// Runnables returns the components to be run by a framework.Runner.
func (e *Env) Runnables() []fx.Runnable {
	runners := []fx.Runnable{
		fx.NamedRun("bridge", fx.RunFunc(e.runBridge)),
		fx.NamedRun("cdc", fx.RunFunc(e.serveCDC)),
	}
	if e.Server != nil {
		runners = append(runners, fx.NamedRun("mqtt", e.Server))
	}
	return runners
}

// runBridge keeps the device in its default state: console on the
// primary channel and, when configured, the bridge enabled. Everything
// is reverted when ctx is done.
func (e *Env) runBridge(ctx context.Context) error {
	e.Console.OpenSession(bridge.USBPrimary)
	if e.Bridge != nil {
		if _, err := e.Controller.Enable(*e.Bridge); err != nil {
			return err
		}
	}
	<-ctx.Done()
	if b := e.Controller.Active(); b != nil {
		e.Controller.Disable(b)
	}
	e.Console.CloseSession(bridge.USBPrimary)
	return e.closer()
}

func (e *Env) serveCDC(ctx context.Context) error {
	mux := http.NewServeMux()
	e.Device.Handle(mux)
	ln, err := net.Listen("tcp", e.Config.Listen)
	if err != nil {
		return err
	}
	glog.Infof("CDC endpoints on ws://%s%s and %s", ln.Addr(), cdc.Path(bridge.USBPrimary), cdc.Path(bridge.USBSecondary))
	server := &http.Server{Handler: mux}
	err = fx.RunWithContextCloser(ctx, server, func() error {
		return server.Serve(ln)
	})
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (e *Env) addConsoleCmds() {
	e.Console.AddCmds(&console.Command{
		Name: "status",
		Help: "print bridge state",
		Func: func([]string) (string, error) {
			b := e.Controller.Active()
			if b == nil {
				return "bridge disabled", nil
			}
			conf, err := b.Config()
			if err != nil {
				return "", err
			}
			st, err := b.State()
			if err != nil {
				return "", err
			}
			out := fmt.Sprintf("%s\r\nrx=%d tx=%d dropped=%d baud=%d tx-restarts=%d",
				conf, st.RxBytes, st.TxBytes, st.Dropped, st.Baud, st.TxRestarts)
			if err := b.Err(); err != nil {
				out += "\r\nfault: " + err.Error()
			}
			return out, nil
		},
	}, &console.Command{
		Name: "pins",
		Help: "list claimed pins",
		Func: func([]string) (string, error) {
			var lines []string
			for _, pin := range e.pins.Claimed() {
				st := e.pins.Pin(pin)
				lines = append(lines, fmt.Sprintf("%s %s level=%v", pin, st.Mode, st.Level))
			}
			return strings.Join(lines, "\r\n"), nil
		},
	})
}
