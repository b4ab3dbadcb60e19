package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/fatih/color"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/env"
	"github.com/robotalks/uartbridge/pkg/msgs"
	"github.com/robotalks/uartbridge/pkg/remote/mqtt"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	AutoConnect bool
	BrokerURL   string
	ID          string

	Shell  *ishell.Shell
	Client *mqtt.Client
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
	commandTimeout    = 2 * time.Second
)

var (
	// flags

	evalOnly   bool
	outputJSON bool
	brokerURL  string
	bridgeID   string

	// commands
	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
	}
)

func init() {
	brokerURL = env.Default().MQTTBrokerURL
	if brokerURL == "" {
		brokerURL = "mqtt://localhost:1883/"
	}
	bridgeID = env.Default().ID
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&brokerURL, "mqtt", brokerURL, "MQTT broker URL.")
	flag.StringVar(&bridgeID, "id", bridgeID, "Bridge ID.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New() *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,
		BrokerURL:   brokerURL,
		ID:          bridgeID,

		Shell: ishell.New(),
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Client == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// FormatState prints BridgeState into friendly string for display.
func FormatState(st *msgs.BridgeState) string {
	if st == nil || !st.Enabled {
		return color.YellowString("disabled")
	}
	var sb strings.Builder
	sb.WriteString(color.GreenString("enabled"))
	fmt.Fprintf(&sb, " baud=%d rx=%d tx=%d", st.Baud, st.RxBytes, st.TxBytes)
	dropped := fmt.Sprintf(" dropped=%d", st.Dropped)
	if st.Dropped > 0 {
		dropped = color.YellowString(dropped)
	}
	sb.WriteString(dropped)
	fmt.Fprintf(&sb, " tx-restarts=%d", st.TxRestarts)
	if st.Fault != "" {
		sb.WriteString(color.RedString(" fault: %s", st.Fault))
	}
	return sb.String()
}

// FormatConfig prints BridgeConfig in the text form accepted by set.
func FormatConfig(conf *msgs.BridgeConfig) string {
	if conf == nil {
		return "-"
	}
	return conf.Config().String()
}

// Print writes a reply in the selected output format.
func (s *Shell) Print(c *ishell.Context, reply *msgs.Reply) {
	if s.OutputJSON {
		out, err := json.Marshal(reply)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(FormatState(reply.State))
	if reply.Config != nil {
		c.Println(FormatConfig(reply.Config))
	}
}

// DoCommand runs a command and waits for the reply.
func DoCommand(c *ishell.Context, op string, conf *bridge.Config) (*msgs.Reply, error) {
	s := ShellFrom(c)
	if s.Client == nil {
		err := fmt.Errorf("not connected")
		c.Err(err)
		return nil, err
	}
	var m *msgs.BridgeConfig
	if conf != nil {
		m = msgs.NewBridgeConfig(*conf)
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	reply, err := s.Client.Call(ctx, op, m)
	if err != nil {
		c.Err(err)
		return reply, err
	}
	return reply, nil
}

// WithAutoConnect sets AutoConnect.
func (s *Shell) WithAutoConnect(en bool) *Shell {
	s.AutoConnect = en
	return s
}

// Connect connects the bridge with id.
func (s *Shell) Connect(id string) error {
	client, err := mqtt.NewClient(s.BrokerURL, id)
	if err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return err
	}
	s.Disconnect()
	s.Client, s.ID = client, id
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", shortID(id)))
	return nil
}

// Disconnect disconnects current bridge.
func (s *Shell) Disconnect() {
	if s.Client != nil {
		s.Client.Close()
		s.Client = nil
		s.Shell.SetPrompt(unconnectedPrompt)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.AutoConnect && s.ID != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.ID)
		}
		if err := s.Connect(s.ID); err != nil {
			log.Fatalf("connect %q failed: %v", s.ID, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd connects a bridge.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[ID]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			id := s.ID
			if len(c.Args) > 0 {
				id = c.Args[0]
			}
			if id == "" {
				c.Err(fmt.Errorf("ID required"))
				return
			}
			if err := s.Connect(id); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current bridge.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New().WithAutoConnect(true).Run(flag.Args()...)
}
