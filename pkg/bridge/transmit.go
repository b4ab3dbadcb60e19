package bridge

import "github.com/golang/glog"

// txTask relays USB to UART. It is bound to one USB and one UART channel
// for its whole life and is restarted when either changes.
type txTask struct {
	b      *Bridge
	usb    USBChannel
	uart   UARTChannel
	events *flags
	done   chan struct{}
	buf    [PacketSize]byte
}

// startTx starts a transmit task for conf. Data the host sent before the
// task existed is picked up by the initial USB-RX-ready event.
func (b *Bridge) startTx(conf Config) {
	t := &txTask{
		b:      b,
		usb:    conf.USBChannel,
		uart:   conf.UARTChannel,
		events: newFlags(),
		done:   make(chan struct{}),
	}
	t.events.set(evUsbRxReady)
	b.tx.Store(t)
	go t.run()
}

// stopTx stops the transmit task and waits for it to exit. A packet in
// flight completes first.
func (b *Bridge) stopTx() {
	t := b.tx.Swap(nil)
	if t == nil {
		return
	}
	t.events.set(evStop)
	<-t.done
}

func (t *txTask) run() {
	defer close(t.done)
	glog.V(4).Infof("tx task %s->%s started", t.usb, t.uart)
	for {
		ev := t.events.wait(txEvents)
		if ev&evStop != 0 {
			break
		}
		t.pump()
	}
	glog.V(4).Infof("tx task %s->%s stopped", t.usb, t.uart)
}

// pump moves whole packets until the host has nothing more queued.
func (t *txTask) pump() {
	for t.events.peek(evStop) == 0 && t.b.Err() == nil {
		t.b.usbLock.Lock()
		n := t.b.hw.USB.Receive(t.usb, t.buf[:])
		t.b.usbLock.Unlock()
		if n <= 0 {
			return
		}
		if !t.transmit(t.buf[:n]) {
			return
		}
		t.b.txCount.add(n)
		glog.V(2).Infof("usb->uart %d bytes", n)
		if n < PacketSize {
			return
		}
	}
}

// transmit writes p and blocks until it left the wire, holding DE/RE
// low meanwhile when software DE/RE is on.
func (t *txTask) transmit(p []byte) bool {
	b := t.b
	b.deReLock.Lock()
	defer b.deReLock.Unlock()
	deRe := b.deRe
	if deRe && !b.check("gpio write", b.hw.GPIO.WritePin(PinDeRe, false)) {
		return false
	}
	ok := b.check("uart tx", b.hw.UART.Tx(t.uart, p)) &&
		b.check("uart tx wait", b.hw.UART.TxWaitComplete(t.uart))
	if deRe {
		ok = b.check("gpio write", b.hw.GPIO.WritePin(PinDeRe, true)) && ok
	}
	return ok
}
