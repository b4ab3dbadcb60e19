package mqtt

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/robotalks/uartbridge/pkg/msgs"
)

// DefaultCommandExpiration is the default expiration expecting a reply.
const DefaultCommandExpiration = time.Second

// Result is the outcome of a command.
type Result struct {
	Reply *msgs.Reply
	Err   error
}

// Future delivers the Result of a command exactly once.
type Future struct {
	seq    uint32
	timer  *time.Timer
	result chan Result
}

// ResultChan returns the channel receiving the Result.
func (f *Future) ResultChan() <-chan Result {
	return f.result
}

// Client sends commands to a bridge Server and watches its state.
type Client struct {
	Queue      *Queue
	ID         string
	Expiration time.Duration

	lock    sync.Mutex
	seq     uint32
	futures map[uint32]*Future
	sub     *Subscription
}

// NewClient creates a Client for bridge id.
func NewClient(brokerURL, id string) (*Client, error) {
	q, err := NewQueueFromURL(brokerURL)
	if err != nil {
		return nil, err
	}
	return NewClientWithQueue(q, id), nil
}

// NewClientWithQueue creates a Client over an existing Queue.
func NewClientWithQueue(q *Queue, id string) *Client {
	return &Client{
		Queue:      q,
		ID:         id,
		Expiration: DefaultCommandExpiration,
		futures:    make(map[uint32]*Future),
	}
}

// Connect connects to the broker and subscribes the reply topic.
func (c *Client) Connect() error {
	token := c.Queue.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}
	return c.Start()
}

// Start subscribes the reply topic on an already connected Queue.
func (c *Client) Start() error {
	c.lock.Lock()
	if c.sub != nil {
		c.lock.Unlock()
		return nil
	}
	c.sub = c.Queue.Sub(Topic(c.ID, TopicReply), c.handleReply)
	token := c.sub.Token
	c.lock.Unlock()
	token.Wait()
	return token.Error()
}

// Close fails pending commands and disconnects.
func (c *Client) Close() error {
	c.lock.Lock()
	futures := c.futures
	c.futures = make(map[uint32]*Future)
	sub := c.sub
	c.sub = nil
	c.lock.Unlock()
	for _, f := range futures {
		f.timer.Stop()
		f.complete(Result{Err: context.Canceled})
	}
	if sub != nil {
		sub.Close()
	}
	return c.Queue.Close()
}

// Do sends a command and returns the Future of its reply. The Future
// fails with context.DeadlineExceeded when no reply arrives in
// Expiration.
func (c *Client) Do(op string, conf *msgs.BridgeConfig) *Future {
	c.lock.Lock()
	c.seq++
	if c.seq == 0 {
		c.seq++
	}
	f := &Future{seq: c.seq, result: make(chan Result, 1)}
	c.futures[f.seq] = f
	f.timer = time.AfterFunc(c.Expiration, func() {
		if c.take(f.seq) != nil {
			f.complete(Result{Err: context.DeadlineExceeded})
		}
	})
	c.lock.Unlock()

	data, err := proto.Marshal(&msgs.Command{Seq: f.seq, Op: op, Config: conf})
	if err == nil {
		token := c.Queue.Pub(Topic(c.ID, TopicCmd), data)
		token.Wait()
		err = token.Error()
	}
	if err != nil && c.take(f.seq) != nil {
		f.timer.Stop()
		f.complete(Result{Err: err})
	}
	return f
}

// Call sends a command and waits for the reply. An error reported by
// the bridge is returned as error together with the reply.
func (c *Client) Call(ctx context.Context, op string, conf *msgs.BridgeConfig) (*msgs.Reply, error) {
	select {
	case r := <-c.Do(op, conf).ResultChan():
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Reply.Err != "" {
			return r.Reply, errors.New(r.Reply.Err)
		}
		return r.Reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Watch subscribes to the retained state. An empty payload is delivered
// as a disabled state.
func (c *Client) Watch(fn func(*msgs.BridgeState)) *Subscription {
	return c.Queue.Sub(Topic(c.ID, TopicState), func(_ string, payload []byte) {
		var state msgs.BridgeState
		if err := proto.Unmarshal(payload, &state); err != nil {
			glog.Warningf("invalid state: %v", err)
			return
		}
		fn(&state)
	})
}

func (c *Client) take(seq uint32) *Future {
	c.lock.Lock()
	defer c.lock.Unlock()
	f := c.futures[seq]
	delete(c.futures, seq)
	return f
}

func (c *Client) handleReply(_ string, payload []byte) {
	var reply msgs.Reply
	if err := proto.Unmarshal(payload, &reply); err != nil {
		glog.Warningf("invalid reply: %v", err)
		return
	}
	f := c.take(reply.Seq)
	if f == nil {
		glog.V(2).Infof("reply %d expired or unknown", reply.Seq)
		return
	}
	f.timer.Stop()
	f.complete(Result{Reply: &reply})
}

func (f *Future) complete(r Result) {
	f.result <- r
	close(f.result)
}
