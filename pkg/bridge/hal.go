package bridge

// PacketSize is the size of one USB CDC bulk packet.
const PacketSize = 64

// Pin identifies a GPIO pin on the external header.
type Pin string

// Pins used by the bridge.
const (
	PinA7 Pin = "PA7"
	PinA6 Pin = "PA6"
	PinB2 Pin = "PB2"
	PinC3 Pin = "PC3"
	PinC0 Pin = "PC0"
	PinC1 Pin = "PC1"

	// PinDeRe drives the DE/RE line of a half-duplex transceiver.
	PinDeRe Pin = "PA4"
)

// PinMode is the electrical mode of a pin.
type PinMode int

// Pin modes.
const (
	// PinAnalog is the inert state, the pin is not claimed.
	PinAnalog PinMode = iota
	// PinOutput is a push-pull output.
	PinOutput
)

// String implements fmt.Stringer.
func (m PinMode) String() string {
	switch m {
	case PinAnalog:
		return "analog"
	case PinOutput:
		return "output"
	}
	return "unknown"
}

// USBMode selects how many CDC interfaces the USB device exposes.
type USBMode int

// USB modes.
const (
	USBSingle USBMode = iota
	USBDual
)

// String implements fmt.Stringer.
func (m USBMode) String() string {
	if m == USBDual {
		return "dual"
	}
	return "single"
}

// LineCoding is the serial line setup requested by the USB host.
type LineCoding struct {
	Rate     uint32
	StopBits uint8
	Parity   uint8
	DataBits uint8
}

// ControlLine holds the control line bits set by the USB host.
type ControlLine uint8

// Control line bits.
const (
	ControlDTR ControlLine = 1 << 0
	ControlRTS ControlLine = 1 << 1
)

// DTR reports the Data Terminal Ready bit.
func (c ControlLine) DTR() bool { return c&ControlDTR != 0 }

// RTS reports the Request To Send bit.
func (c ControlLine) RTS() bool { return c&ControlRTS != 0 }

// UART is the UART peripheral driver.
type UART interface {
	Init(ch UARTChannel, baud uint32) error
	Deinit(ch UARTChannel) error
	SetBaud(ch UARTChannel, baud uint32) error
	// StartRx starts DMA-style reception. onRx is invoked from the
	// driver's own execution context and must not block.
	StartRx(ch UARTChannel, onRx func([]byte)) error
	// Tx blocks until all bytes are queued to the peripheral.
	Tx(ch UARTChannel, p []byte) error
	// TxWaitComplete blocks until the last byte left the shift register.
	TxWaitComplete(ch UARTChannel) error
}

// CDCCallbacks are invoked by the USB driver from its own execution
// context. All of them must return quickly.
type CDCCallbacks struct {
	OnTxComplete  func()
	OnRx          func()
	OnState       func(connected bool)
	OnControlLine func(ControlLine)
	OnLineCoding  func(LineCoding)
}

// USB is the USB CDC device driver.
type USB interface {
	SetMode(USBMode) error
	// SetCallbacks installs callbacks on a channel, nil removes them.
	SetCallbacks(ch USBChannel, cb *CDCCallbacks)
	Send(ch USBChannel, p []byte) error
	// Receive copies pending host data into buf and returns the count.
	Receive(ch USBChannel, buf []byte) int
	ControlLine(ch USBChannel) ControlLine
	LineCoding(ch USBChannel) LineCoding
}

// GPIO is the pin driver.
type GPIO interface {
	InitPin(pin Pin, mode PinMode) error
	WritePin(pin Pin, level bool) error
}

// Sessions is the CLI session manager which owns a USB channel
// whenever the bridge does not.
type Sessions interface {
	OpenSession(ch USBChannel)
	CloseSession(ch USBChannel)
}

// Hardware bundles the collaborators the bridge drives.
type Hardware struct {
	UART     UART
	USB      USB
	GPIO     GPIO
	Sessions Sessions
}
