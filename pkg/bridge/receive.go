package bridge

import (
	"time"

	"github.com/golang/glog"
)

const (
	// usbReadyTimeout bounds the wait for USB to accept a packet; queued
	// UART bytes are dropped when it expires.
	usbReadyTimeout = 100 * time.Millisecond

	// initialBaud is programmed at UART init until a rate is known.
	initialBaud = 115200
)

// receiveTask owns the UART to USB direction and all hardware setup.
func (b *Bridge) receiveTask() {
	defer close(b.done)
	b.setup(b.activeConfig())
	for {
		ev := b.events.wait(rxEvents)
		glog.V(3).Infof("bridge rx events: %s", ev)
		if ev&evStop != 0 {
			// a handshake posted before Stop is still answered
			b.reconfigure()
			break
		}
		if ev&evConfigChange != 0 {
			b.reconfigure()
		}
		if b.Err() != nil {
			b.rxQueue.Reset()
			continue
		}
		if ev&(evRxDataReady|evUsbTxComplete) != 0 {
			b.forwardRx()
		}
		if ev&evLineCoding != 0 {
			if conf := b.activeConfig(); conf.FollowsHost() {
				b.programBaud(conf)
			}
		}
		if ev&evControlLine != 0 {
			b.updateControlLines(b.activeConfig())
		}
	}
	b.teardown()
}

func (b *Bridge) setup(conf Config) {
	b.bindUSB(conf.USBChannel)
	b.initUART(conf)
	if pair, ok := conf.FlowPins.Pair(); ok {
		b.initFlowPins(pair)
		b.updateControlLines(conf)
	}
	if conf.SoftwareDeRe {
		b.initDeRe()
	}
	b.startTx(conf)
}

func (b *Bridge) teardown() {
	conf := b.activeConfig()
	b.stopTx()
	b.check("uart deinit", b.hw.UART.Deinit(conf.UARTChannel))
	b.releaseFlowPins(conf.FlowPins)
	if conf.SoftwareDeRe {
		b.check("gpio init", b.hw.GPIO.InitPin(PinDeRe, PinAnalog))
	}
	b.unbindUSB(conf.USBChannel)
	b.check("usb set mode", b.hw.USB.SetMode(USBSingle))
	if s := b.hw.Sessions; s != nil {
		s.OpenSession(USBPrimary)
	}
	if dropped := b.rxQueue.Reset(); dropped > 0 {
		b.dropped.add(dropped)
	}
}

// reconfigure applies the pending config field by field and releases
// the waiting SetConfig caller. It does nothing without a pending request.
func (b *Bridge) reconfigure() {
	b.pendingLock.Lock()
	next, reply := b.pending, b.reply
	b.reply = nil
	b.pendingLock.Unlock()
	if reply == nil {
		return
	}
	defer close(reply)

	cur, next := b.activeConfig(), next.Normalize()
	usbChanged := next.USBChannel != cur.USBChannel
	uartChanged := next.UARTChannel != cur.UARTChannel

	if usbChanged || uartChanged {
		b.stopTx()
		if usbChanged {
			b.unbindUSB(cur.USBChannel)
			b.bindUSB(next.USBChannel)
		}
		if uartChanged {
			if !cur.FlowPins.AvailableOn(next.UARTChannel) {
				b.releaseFlowPins(cur.FlowPins)
				cur.FlowPins = FlowNone
			}
			b.check("uart deinit", b.hw.UART.Deinit(cur.UARTChannel))
			b.initUART(next)
		}
		b.startTx(next)
		b.txRestarts.Add(1)
	}
	// a new USB channel brings its own host line coding and control lines
	baudChanged := next.BaudMode != cur.BaudMode || next.BaudRate != cur.BaudRate
	if !uartChanged && (baudChanged || usbChanged && next.FollowsHost()) {
		b.programBaud(next)
	}
	if next.FlowPins != cur.FlowPins {
		b.releaseFlowPins(cur.FlowPins)
		if pair, ok := next.FlowPins.Pair(); ok {
			b.initFlowPins(pair)
			b.updateControlLines(next)
		}
	} else if usbChanged {
		b.updateControlLines(next)
	}
	if next.SoftwareDeRe != cur.SoftwareDeRe {
		b.deReLock.Lock()
		if next.SoftwareDeRe {
			b.initDeRe()
		} else {
			b.check("gpio init", b.hw.GPIO.InitPin(PinDeRe, PinAnalog))
		}
		b.deRe = next.SoftwareDeRe
		b.deReLock.Unlock()
	}

	b.active.Store(&next)
	glog.Infof("bridge reconfigured: %s", next)
}

func (b *Bridge) bindUSB(ch USBChannel) {
	if ch == USBPrimary {
		if s := b.hw.Sessions; s != nil {
			s.CloseSession(USBPrimary)
		}
		b.check("usb set mode", b.hw.USB.SetMode(USBSingle))
	} else {
		b.check("usb set mode", b.hw.USB.SetMode(USBDual))
		if s := b.hw.Sessions; s != nil {
			s.OpenSession(USBPrimary)
		}
	}
	// a send still outstanding on the previous channel never completes
	select {
	case b.txSem <- struct{}{}:
	default:
	}
	b.hw.USB.SetCallbacks(ch, &CDCCallbacks{
		OnTxComplete: b.onUSBTxComplete,
		OnRx:         b.onUSBRx,
		OnState: func(connected bool) {
			glog.V(2).Infof("usb %s connected=%v", ch, connected)
		},
		OnControlLine: func(ControlLine) { b.events.set(evControlLine) },
		OnLineCoding:  func(LineCoding) { b.events.set(evLineCoding) },
	})
}

func (b *Bridge) unbindUSB(ch USBChannel) {
	b.hw.USB.SetCallbacks(ch, nil)
	if ch != USBPrimary {
		if s := b.hw.Sessions; s != nil {
			s.CloseSession(USBPrimary)
		}
	}
}

func (b *Bridge) initUART(conf Config) {
	if !b.check("uart init", b.hw.UART.Init(conf.UARTChannel, initialBaud)) {
		return
	}
	b.baud.Store(initialBaud)
	if !b.check("uart start rx", b.hw.UART.StartRx(conf.UARTChannel, b.onUARTRx)) {
		return
	}
	b.programBaud(conf)
}

// programBaud sets the fixed rate, or the host's rate when following it.
// A host which never set a rate leaves the UART unchanged.
func (b *Bridge) programBaud(conf Config) {
	rate := conf.BaudRate
	if conf.FollowsHost() {
		rate = b.hw.USB.LineCoding(conf.USBChannel).Rate
	}
	if rate == 0 {
		return
	}
	if b.check("uart set baud", b.hw.UART.SetBaud(conf.UARTChannel, rate)) {
		b.baud.Store(rate)
		glog.V(2).Infof("uart %s baud %d", conf.UARTChannel, rate)
	}
}

func (b *Bridge) initFlowPins(pair PinPair) {
	b.check("gpio init", b.hw.GPIO.InitPin(pair.RTS, PinOutput))
	b.check("gpio init", b.hw.GPIO.InitPin(pair.DTR, PinOutput))
}

func (b *Bridge) releaseFlowPins(f FlowPins) {
	if pair, ok := f.Pair(); ok {
		b.check("gpio init", b.hw.GPIO.InitPin(pair.RTS, PinAnalog))
		b.check("gpio init", b.hw.GPIO.InitPin(pair.DTR, PinAnalog))
	}
}

// updateControlLines drives the flow pins active-low from RTS/DTR.
func (b *Bridge) updateControlLines(conf Config) {
	pair, ok := conf.FlowPins.Pair()
	if !ok {
		return
	}
	line := b.hw.USB.ControlLine(conf.USBChannel)
	b.check("gpio write", b.hw.GPIO.WritePin(pair.RTS, !line.RTS()))
	b.check("gpio write", b.hw.GPIO.WritePin(pair.DTR, !line.DTR()))
}

func (b *Bridge) initDeRe() {
	b.check("gpio init", b.hw.GPIO.InitPin(PinDeRe, PinOutput))
	b.check("gpio write", b.hw.GPIO.WritePin(PinDeRe, true))
}

// forwardRx drains the receive queue to USB one packet at a time.
func (b *Bridge) forwardRx() {
	ch := b.activeConfig().USBChannel
	for {
		n := b.rxQueue.Get(b.rxBuf[:])
		if n == 0 {
			return
		}
		select {
		case <-b.txSem:
		case <-time.After(usbReadyTimeout):
			dropped := n + b.rxQueue.Reset()
			b.dropped.add(dropped)
			glog.Warningf("usb %s not ready, dropped %d bytes", ch, dropped)
			return
		}
		b.usbLock.Lock()
		err := b.hw.USB.Send(ch, b.rxBuf[:n])
		b.usbLock.Unlock()
		if err != nil {
			b.releaseTxSem()
			b.dropped.add(n)
			glog.Warningf("usb %s send: %v", ch, err)
			return
		}
		b.rxCount.add(n)
		glog.V(2).Infof("uart->usb %d bytes", n)
		if b.events.peek(evStop|evConfigChange) != 0 {
			if b.rxQueue.Used() > 0 {
				b.events.set(evRxDataReady)
			}
			return
		}
	}
}

func (b *Bridge) releaseTxSem() {
	select {
	case b.txSem <- struct{}{}:
	default:
	}
}

func (b *Bridge) onUARTRx(p []byte) {
	if n := b.rxQueue.Put(p); n < len(p) {
		b.dropped.add(len(p) - n)
	}
	b.events.set(evRxDataReady)
}

func (b *Bridge) onUSBTxComplete() {
	b.releaseTxSem()
	b.events.set(evUsbTxComplete)
}

func (b *Bridge) onUSBRx() {
	if t := b.tx.Load(); t != nil {
		t.events.set(evUsbRxReady)
	}
}
