package mqtt

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/uartbridge/pkg/bridge"
	"github.com/robotalks/uartbridge/pkg/msgs"
)

// Topic names under the bridge ID.
const (
	TopicCmd    = "cmd"
	TopicReply  = "reply"
	TopicState  = "state"
	TopicConfig = "config"
)

// DefaultReportInterval is the default interval for publishing the state.
const DefaultReportInterval = time.Second

// ErrUnknownOp indicates the command operation is not supported.
var ErrUnknownOp = errors.New("unknown operation")

// Topic returns the topic name of a bridge.
func Topic(id, name string) string {
	return id + "/" + name
}

// Server executes commands from `<id>/cmd` against a bridge.Controller
// and publishes retained state and config.
type Server struct {
	Queue      *Queue
	ID         string
	Controller *bridge.Controller
	// Defaults is used by enable when the command carries no config.
	Defaults bridge.Config
	Interval time.Duration

	lock      sync.Mutex
	lastState []byte
	lastConf  []byte
}

// NewServer creates a Server connecting to brokerURL. An empty retained
// state is left as will so watchers see the bridge going away.
func NewServer(brokerURL, id string, ctrl *bridge.Controller) (*Server, error) {
	opts, topicPrefix, err := ClientOptionsFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	opts.SetBinaryWill(topicPrefix+Topic(id, TopicState), nil, 1, true)
	if opts.ClientID == "" {
		opts.SetClientID("uartbridge:" + id)
	}
	s := &Server{
		Queue:      NewQueue(opts, topicPrefix),
		ID:         id,
		Controller: ctrl,
		Defaults:   bridge.DefaultConfig,
	}
	s.Queue.OnConnect = func(*Queue) { s.Report(true) }
	return s, nil
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	token := s.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	sub := s.Queue.Sub(Topic(s.ID, TopicCmd), s.handle)
	s.Report(true)

	interval := s.Interval
	if interval <= 0 {
		interval = DefaultReportInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			s.Queue.PubWith(Topic(s.ID, TopicState), nil, 1, true).Wait()
			s.Queue.Close()
			return nil
		case <-ticker.C:
			s.Report(false)
		}
	}
}

func (s *Server) handle(_ string, payload []byte) {
	var cmd msgs.Command
	if err := proto.Unmarshal(payload, &cmd); err != nil {
		glog.Warningf("invalid command: %v", err)
		return
	}
	glog.V(2).Infof("command %s", cmd.String())
	reply := s.Exec(&cmd)
	data, err := proto.Marshal(reply)
	if err != nil {
		glog.Errorf("marshal reply: %v", err)
		return
	}
	// tokens must not be waited for inside message handlers
	s.Queue.Pub(Topic(s.ID, TopicReply), data)
	s.Report(false)
}

// Exec executes a command and returns the reply.
func (s *Server) Exec(cmd *msgs.Command) *msgs.Reply {
	reply := &msgs.Reply{Seq: cmd.Seq}
	var err error
	switch cmd.Op {
	case msgs.OpEnable:
		conf := s.Defaults
		if cmd.Config != nil {
			conf = cmd.Config.Config()
		}
		_, err = s.Controller.Enable(conf)
	case msgs.OpDisable:
		err = s.Controller.Disable(s.Controller.Active())
	case msgs.OpSet:
		if cmd.Config == nil {
			err = errors.New("missing config")
			break
		}
		b := s.Controller.Active()
		if b == nil {
			err = bridge.ErrNotEnabled
			break
		}
		err = b.SetConfig(cmd.Config.Config())
	case msgs.OpGet:
	default:
		err = ErrUnknownOp
	}
	if err != nil {
		reply.Err = err.Error()
	}
	b := s.Controller.Active()
	reply.State = msgs.NewBridgeState(b)
	if b != nil {
		if conf, err := b.Config(); err == nil {
			reply.Config = msgs.NewBridgeConfig(conf)
		}
	}
	return reply
}

// Report publishes state and config when they changed, or always if
// force is set.
func (s *Server) Report(force bool) {
	b := s.Controller.Active()
	state, err := proto.Marshal(msgs.NewBridgeState(b))
	if err != nil {
		glog.Errorf("marshal state: %v", err)
		return
	}
	var conf []byte
	if b != nil {
		if c, err := b.Config(); err == nil {
			if conf, err = proto.Marshal(msgs.NewBridgeConfig(c)); err != nil {
				glog.Errorf("marshal config: %v", err)
				return
			}
		}
	}

	s.lock.Lock()
	pubState := force || !bytes.Equal(state, s.lastState)
	pubConf := force || !bytes.Equal(conf, s.lastConf)
	s.lastState, s.lastConf = state, conf
	s.lock.Unlock()

	if pubState {
		s.Queue.PubWith(Topic(s.ID, TopicState), state, 1, true)
	}
	if pubConf {
		s.Queue.PubWith(Topic(s.ID, TopicConfig), conf, 1, true)
	}
}
