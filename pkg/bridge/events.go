package bridge

import (
	"strings"
	"sync"
)

// event is a set of task events.
type event uint32

const (
	evStop event = 1 << iota
	evRxDataReady
	evConfigChange
	evLineCoding
	evControlLine
	evUsbTxComplete
	evUsbRxReady

	evCount = iota
)

const (
	rxEvents = evStop | evRxDataReady | evConfigChange | evLineCoding | evControlLine | evUsbTxComplete
	txEvents = evStop | evUsbRxReady
)

var eventNames = [evCount]string{
	"stop",
	"rx-data",
	"config-change",
	"line-coding",
	"control-line",
	"usb-tx-complete",
	"usb-rx-ready",
}

// String implements fmt.Stringer.
func (e event) String() string {
	var names []string
	for n := 0; n < evCount; n++ {
		if e&(1<<uint(n)) != 0 {
			names = append(names, eventNames[n])
		}
	}
	return strings.Join(names, "|")
}

// flags is a per-task event word. Setting is non-blocking and safe from
// any goroutine, waiting is done by the owning task only.
type flags struct {
	lock    sync.Mutex
	pending event
	wakeCh  chan struct{}
}

func newFlags() *flags {
	return &flags{wakeCh: make(chan struct{}, 1)}
}

// set posts events and wakes the waiter.
func (f *flags) set(ev event) {
	f.lock.Lock()
	f.pending |= ev
	f.lock.Unlock()
	select {
	case f.wakeCh <- struct{}{}:
	default:
	}
}

// take clears and returns pending events within mask.
func (f *flags) take(mask event) event {
	f.lock.Lock()
	defer f.lock.Unlock()
	ev := f.pending & mask
	f.pending &^= ev
	return ev
}

// peek returns pending events within mask without clearing them.
func (f *flags) peek(mask event) event {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.pending & mask
}

// wait blocks until any event in mask is pending, then clears and
// returns all pending events within mask.
func (f *flags) wait(mask event) event {
	for {
		if ev := f.take(mask); ev != 0 {
			return ev
		}
		<-f.wakeCh
	}
}
