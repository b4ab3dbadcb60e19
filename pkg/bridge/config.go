package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// USBChannel selects the CDC interface carrying bridge traffic.
type USBChannel int

// USB channels. Primary is also the CLI's default channel.
const (
	USBPrimary USBChannel = iota
	USBSecondary
)

// UARTChannel selects the bridged UART peripheral.
type UARTChannel int

// UART channels.
const (
	USART UARTChannel = iota
	LPUART
)

// BaudMode tells whether the baud rate follows the USB host.
type BaudMode int

// Baud modes.
const (
	FollowHost BaudMode = iota
	Fixed
)

// FlowPins selects the GPIO pair carrying RTS/DTR.
type FlowPins int

// Flow pin selections.
const (
	FlowNone FlowPins = iota
	FlowPairA
	FlowPairB
	FlowPairC
)

// PinPair is the pin pair driven from RTS and DTR.
type PinPair struct {
	RTS Pin
	DTR Pin
}

// Pair returns the pins of the selection, ok is false for FlowNone.
func (f FlowPins) Pair() (pair PinPair, ok bool) {
	switch f {
	case FlowPairA:
		return PinPair{RTS: PinA7, DTR: PinA6}, true
	case FlowPairB:
		return PinPair{RTS: PinB2, DTR: PinC3}, true
	case FlowPairC:
		return PinPair{RTS: PinC0, DTR: PinC1}, true
	}
	return PinPair{}, false
}

// AvailableOn reports whether the pair can be used with a UART channel.
// PairC shares its pins with the LPUART.
func (f FlowPins) AvailableOn(ch UARTChannel) bool {
	return !(f == FlowPairC && ch == LPUART)
}

// Config is the bridge configuration. It is always passed by value.
type Config struct {
	USBChannel   USBChannel
	UARTChannel  UARTChannel
	BaudMode     BaudMode
	BaudRate     uint32
	FlowPins     FlowPins
	SoftwareDeRe bool
}

// DefaultConfig is the configuration used when nothing is specified.
var DefaultConfig = Config{
	USBChannel:  USBSecondary,
	UARTChannel: USART,
	BaudMode:    FollowHost,
}

// FollowsHost reports whether the baud rate tracks the host line coding.
func (c Config) FollowsHost() bool {
	return c.BaudMode == FollowHost || c.BaudRate == 0
}

// Normalize returns the config with values out of range replaced by
// defaults and unavailable flow pins dropped.
func (c Config) Normalize() Config {
	if c.USBChannel != USBPrimary && c.USBChannel != USBSecondary {
		c.USBChannel = DefaultConfig.USBChannel
	}
	if c.UARTChannel != USART && c.UARTChannel != LPUART {
		c.UARTChannel = DefaultConfig.UARTChannel
	}
	if c.BaudMode != FollowHost && c.BaudMode != Fixed {
		c.BaudMode = FollowHost
	}
	if _, ok := c.FlowPins.Pair(); !ok || !c.FlowPins.AvailableOn(c.UARTChannel) {
		c.FlowPins = FlowNone
	}
	return c
}

var (
	usbChannelNames  = []string{"primary", "secondary"}
	uartChannelNames = []string{"usart", "lpuart"}
	flowPinsNames    = []string{"none", "a", "b", "c"}
)

func enumName(names []string, v int) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return strconv.Itoa(v)
}

func enumValue(names []string, key, s string) (int, error) {
	for n, name := range names {
		if strings.EqualFold(name, s) {
			return n, nil
		}
	}
	return 0, fmt.Errorf("invalid %s value %q", key, s)
}

// String implements fmt.Stringer.
func (c USBChannel) String() string { return enumName(usbChannelNames, int(c)) }

// String implements fmt.Stringer.
func (c UARTChannel) String() string { return enumName(uartChannelNames, int(c)) }

// String implements fmt.Stringer.
func (f FlowPins) String() string { return enumName(flowPinsNames, int(f)) }

// String implements fmt.Stringer.
func (m BaudMode) String() string {
	if m == Fixed {
		return "fixed"
	}
	return "host"
}

// String formats the config in the form accepted by ParseConfig.
func (c Config) String() string {
	baud := "host"
	if !c.FollowsHost() {
		baud = strconv.FormatUint(uint64(c.BaudRate), 10)
	}
	return fmt.Sprintf("usb=%s,uart=%s,baud=%s,flow=%s,dere=%v",
		c.USBChannel, c.UARTChannel, baud, c.FlowPins, c.SoftwareDeRe)
}

// ParseConfig parses comma or space separated KEY=VALUE settings on top
// of base. Keys: usb, uart, baud (a rate or "host"), flow, dere.
func ParseConfig(base Config, s string) (Config, error) {
	c := base
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	for _, field := range fields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return base, fmt.Errorf("invalid setting %q", field)
		}
		key, val := strings.ToLower(kv[0]), kv[1]
		var err error
		var n int
		switch key {
		case "usb":
			n, err = enumValue(usbChannelNames, key, val)
			c.USBChannel = USBChannel(n)
		case "uart":
			n, err = enumValue(uartChannelNames, key, val)
			c.UARTChannel = UARTChannel(n)
		case "flow":
			n, err = enumValue(flowPinsNames, key, val)
			c.FlowPins = FlowPins(n)
		case "baud":
			if strings.EqualFold(val, "host") {
				c.BaudMode, c.BaudRate = FollowHost, 0
				break
			}
			var rate uint64
			if rate, err = strconv.ParseUint(val, 10, 32); err == nil {
				c.BaudMode, c.BaudRate = Fixed, uint32(rate)
			}
		case "dere":
			c.SoftwareDeRe, err = strconv.ParseBool(val)
		default:
			err = fmt.Errorf("unknown setting %q", key)
		}
		if err != nil {
			return base, err
		}
	}
	return c, nil
}
