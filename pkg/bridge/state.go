package bridge

import (
	"math"
	"sync/atomic"
)

// State is a snapshot of the bridge statistics.
type State struct {
	// RxBytes counts bytes relayed UART to USB.
	RxBytes uint64
	// TxBytes counts bytes relayed USB to UART.
	TxBytes uint64
	// Dropped counts UART bytes discarded because USB was not ready
	// or the receive queue overflowed.
	Dropped uint64
	// Baud is the rate currently programmed into the UART.
	Baud uint32
	// TxRestarts counts restarts of the transmit task by reconfiguration.
	TxRestarts uint32
}

// counter is a saturating monotonic counter.
type counter struct {
	val uint64
}

func (c *counter) add(n int) {
	if n <= 0 {
		return
	}
	for {
		old := atomic.LoadUint64(&c.val)
		next := old + uint64(n)
		if next < old {
			next = math.MaxUint64
		}
		if atomic.CompareAndSwapUint64(&c.val, old, next) {
			return
		}
	}
}

func (c *counter) load() uint64 {
	return atomic.LoadUint64(&c.val)
}
