package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/golang/glog"
)

// Controller owns the hardware and at most one enabled Bridge.
type Controller struct {
	hw Hardware

	lock   sync.Mutex
	active atomic.Pointer[Bridge]
}

// NewController creates a Controller driving hw.
func NewController(hw Hardware) *Controller {
	if hw.UART == nil || hw.USB == nil || hw.GPIO == nil {
		panic("bridge: UART, USB and GPIO drivers are required")
	}
	return &Controller{hw: hw}
}

// Enable creates the bridge and starts relaying with conf. It returns
// before the hardware is initialized.
func (c *Controller) Enable(conf Config) (*Bridge, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.active.Load() != nil {
		return nil, ErrAlreadyEnabled
	}
	b := newBridge(c.hw, conf)
	c.active.Store(b)
	go b.receiveTask()
	glog.Infof("bridge enabled: %s", conf)
	return b, nil
}

// Disable stops the bridge and blocks until every hardware side effect
// has been reverted.
func (c *Controller) Disable(b *Bridge) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if b == nil || c.active.Load() != b {
		return ErrNotEnabled
	}
	b.stop()
	c.active.Store(nil)
	glog.Info("bridge disabled")
	return nil
}

// Active returns the enabled bridge or nil. It does not wait for a
// concurrent Enable or Disable.
func (c *Controller) Active() *Bridge {
	return c.active.Load()
}

// Bridge is the handle of an enabled bridge.
type Bridge struct {
	hw Hardware

	events  *flags
	rxQueue *byteQueue
	rxBuf   [PacketSize]byte
	// txSem holds a token while USB may accept the next packet.
	txSem   chan struct{}
	usbLock sync.Mutex
	tx      atomic.Pointer[txTask]

	active atomic.Pointer[Config]
	baud   atomic.Uint32
	// deReLock is held by the transmit task for a whole packet.
	deReLock sync.Mutex
	deRe     bool

	pendingLock sync.Mutex
	pending     Config
	reply       chan struct{}
	stopping    bool
	setLock     sync.Mutex

	rxCount    counter
	txCount    counter
	dropped    counter
	txRestarts atomic.Uint32

	faultLock sync.Mutex
	fault     error

	done chan struct{}
}

func newBridge(hw Hardware, conf Config) *Bridge {
	b := &Bridge{
		hw:      hw,
		events:  newFlags(),
		rxQueue: newByteQueue(rxQueueSize),
		txSem:   make(chan struct{}, 1),
		pending: conf,
		done:    make(chan struct{}),
	}
	b.txSem <- struct{}{}
	active := conf.Normalize()
	b.active.Store(&active)
	b.deRe = active.SoftwareDeRe
	return b
}

// SetConfig applies conf while the bridge keeps running and returns
// once every change is in effect.
func (b *Bridge) SetConfig(conf Config) error {
	b.setLock.Lock()
	defer b.setLock.Unlock()

	b.pendingLock.Lock()
	if b.stopping {
		b.pendingLock.Unlock()
		return ErrNotEnabled
	}
	reply := make(chan struct{})
	b.pending, b.reply = conf, reply
	b.pendingLock.Unlock()

	b.events.set(evConfigChange)
	select {
	case <-reply:
		return nil
	case <-b.done:
		select {
		case <-reply:
			return nil
		default:
			return ErrNotEnabled
		}
	}
}

// Config returns the active configuration.
func (b *Bridge) Config() (Config, error) {
	if !b.enabled() {
		return Config{}, ErrNotEnabled
	}
	return *b.active.Load(), nil
}

// State returns the current statistics.
func (b *Bridge) State() (State, error) {
	if !b.enabled() {
		return State{}, ErrNotEnabled
	}
	return State{
		RxBytes:    b.rxCount.load(),
		TxBytes:    b.txCount.load(),
		Dropped:    b.dropped.load(),
		Baud:       b.baud.Load(),
		TxRestarts: b.txRestarts.Load(),
	}, nil
}

// Err returns the first hardware fault, if any. A faulted bridge stops
// relaying data but still accepts SetConfig and Disable.
func (b *Bridge) Err() error {
	b.faultLock.Lock()
	defer b.faultLock.Unlock()
	return b.fault
}

func (b *Bridge) enabled() bool {
	select {
	case <-b.done:
		return false
	default:
		return true
	}
}

func (b *Bridge) stop() {
	b.pendingLock.Lock()
	b.stopping = true
	b.pendingLock.Unlock()
	b.events.set(evStop)
	<-b.done
}

func (b *Bridge) activeConfig() Config {
	return *b.active.Load()
}

// check records err as the bridge fault and reports whether it is nil.
func (b *Bridge) check(op string, err error) bool {
	if err == nil {
		return true
	}
	b.faultLock.Lock()
	if b.fault == nil {
		b.fault = &HardwareError{Op: op, Err: err}
	}
	b.faultLock.Unlock()
	glog.Errorf("bridge %s: %v", op, err)
	return false
}
