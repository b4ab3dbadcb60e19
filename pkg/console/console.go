// Package console serves a line console on USB channels not owned by
// the bridge.
package console

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	shlex "github.com/flynn-archive/go-shlex"
	"github.com/golang/glog"

	"github.com/robotalks/uartbridge/pkg/bridge"
)

const (
	// Prompt is printed before every command line.
	Prompt = "> "

	sendTimeout = 100 * time.Millisecond
	maxLineLen  = 256
)

// CommandFunc executes a console command and returns its output.
type CommandFunc func(args []string) (string, error)

// Command is a console command.
type Command struct {
	Name string
	Help string
	Func CommandFunc
}

// Sessions implements bridge.Sessions with a line console per channel.
type Sessions struct {
	usb     bridge.USB
	started time.Time

	lock     sync.Mutex
	commands map[string]*Command
	sessions map[bridge.USBChannel]*session
}

// New creates Sessions over usb with the builtin commands.
func New(usb bridge.USB, version string) *Sessions {
	s := &Sessions{
		usb:      usb,
		started:  time.Now(),
		commands: make(map[string]*Command),
		sessions: make(map[bridge.USBChannel]*session),
	}
	s.AddCmds(
		&Command{Name: "help", Help: "list commands", Func: s.help},
		&Command{Name: "version", Help: "print version", Func: func([]string) (string, error) {
			return version, nil
		}},
		&Command{Name: "uptime", Help: "time since start", Func: func([]string) (string, error) {
			return time.Since(s.started).Truncate(time.Second).String(), nil
		}},
	)
	return s
}

// AddCmds registers commands, replacing ones with the same name.
func (s *Sessions) AddCmds(cmds ...*Command) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, cmd := range cmds {
		s.commands[cmd.Name] = cmd
	}
}

func (s *Sessions) help([]string) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, len(names))
	for n, name := range names {
		lines[n] = fmt.Sprintf("%-10s %s", name, s.commands[name].Help)
	}
	return strings.Join(lines, "\r\n"), nil
}

// Exec runs a command line.
func (s *Sessions) Exec(line string) string {
	args, err := shlex.Split(line)
	if err != nil {
		return "error: " + err.Error()
	}
	if len(args) == 0 {
		return ""
	}
	s.lock.Lock()
	cmd := s.commands[args[0]]
	s.lock.Unlock()
	if cmd == nil {
		return "unknown command: " + args[0]
	}
	out, err := cmd.Func(args[1:])
	if err != nil {
		return "error: " + err.Error()
	}
	return out
}

// OpenSession implements bridge.Sessions.
func (s *Sessions) OpenSession(ch bridge.USBChannel) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.sessions[ch]; ok {
		return
	}
	sess := &session{
		s:      s,
		ch:     ch,
		rxCh:   make(chan struct{}, 1),
		txCh:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.sessions[ch] = sess
	s.usb.SetCallbacks(ch, &bridge.CDCCallbacks{
		OnTxComplete: func() { notify(sess.txCh) },
		OnRx:         func() { notify(sess.rxCh) },
		OnState: func(connected bool) {
			if connected {
				notify(sess.rxCh)
			}
		},
	})
	go sess.run()
	glog.V(2).Infof("console session opened on %s", ch)
}

// CloseSession implements bridge.Sessions.
func (s *Sessions) CloseSession(ch bridge.USBChannel) {
	s.lock.Lock()
	sess, ok := s.sessions[ch]
	delete(s.sessions, ch)
	s.lock.Unlock()
	if !ok {
		return
	}
	s.usb.SetCallbacks(ch, nil)
	close(sess.stopCh)
	<-sess.done
	glog.V(2).Infof("console session closed on %s", ch)
}

// Opened reports whether a session runs on ch.
func (s *Sessions) Opened(ch bridge.USBChannel) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.sessions[ch]
	return ok
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

type session struct {
	s      *Sessions
	ch     bridge.USBChannel
	rxCh   chan struct{}
	txCh   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
	line   []byte
}

func (c *session) run() {
	defer close(c.done)
	// pick up bytes already queued by the host
	notify(c.rxCh)
	buf := make([]byte, bridge.PacketSize)
	for {
		select {
		case <-c.stopCh:
			return
		case <-c.rxCh:
		}
		for {
			n := c.s.usb.Receive(c.ch, buf)
			if n == 0 {
				break
			}
			if !c.input(buf[:n]) {
				return
			}
		}
	}
}

// input handles typed bytes and returns false once stopped.
func (c *session) input(p []byte) bool {
	for _, b := range p {
		switch b {
		case '\r', '\n':
			line := strings.TrimSpace(string(c.line))
			c.line = c.line[:0]
			out := "\r\n"
			if res := c.s.Exec(line); res != "" {
				out += res + "\r\n"
			}
			if !c.write(out + Prompt) {
				return false
			}
		default:
			if len(c.line) < maxLineLen {
				c.line = append(c.line, b)
			}
		}
	}
	return true
}

// write sends p packet by packet. Output is dropped when the host does
// not take a packet in time.
func (c *session) write(s string) bool {
	p := []byte(s)
	for len(p) > 0 {
		n := len(p)
		if n > bridge.PacketSize {
			n = bridge.PacketSize
		}
		select {
		case <-c.txCh:
		default:
		}
		if err := c.s.usb.Send(c.ch, p[:n]); err != nil {
			glog.Warningf("console %s: %v", c.ch, err)
			return true
		}
		select {
		case <-c.txCh:
		case <-c.stopCh:
			return false
		case <-time.After(sendTimeout):
			glog.Warningf("console %s: host not reading, output dropped", c.ch)
			return true
		}
		p = p[n:]
	}
	return true
}
