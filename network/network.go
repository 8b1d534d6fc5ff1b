// Package network provides the link-layer cost models used to account the
// energy and time of a negotiation dialogue.
//
// Every technology reports Cost.Power as the energy drawn in joules and
// Cost.Time as the radio-on duration in seconds.
package network

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedNetwork is returned for unknown technology names.
var ErrUnsupportedNetwork = errors.New("network type not supported")

// Kind enumerates the supported link technologies.
type Kind int

const (
	KindUnknown Kind = iota
	KindBLE
	KindZigBee
	KindLoRa
	KindWiFi
)

// Kinds lists every supported technology.
var Kinds = []Kind{KindBLE, KindZigBee, KindLoRa, KindWiFi}

func (k Kind) String() string {
	switch k {
	case KindBLE:
		return "ble"
	case KindZigBee:
		return "zigbee"
	case KindLoRa:
		return "lora"
	case KindWiFi:
		return "wifi"
	default:
		return "unknown"
	}
}

// ParseKind maps a case-insensitive technology name to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(strings.TrimSpace(s), k.String()) {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%q: %w", s, ErrUnsupportedNetwork)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Cost is the energy (J) and time (s) of one radio activity.
type Cost struct {
	Power float64
	Time  float64
}

// Add returns the component-wise sum.
func (c Cost) Add(o Cost) Cost {
	return Cost{Power: c.Power + o.Power, Time: c.Time + o.Time}
}

// Technology is the cost collaborator every negotiation strategy talks to.
type Technology interface {
	Kind() Kind
	// CommDistance is the maximum distance in metres at which a user can
	// negotiate with the device.
	CommDistance() float64
	Send(payloadBytes int) Cost
	Receive(payloadBytes int) Cost
}

// Handshaker is implemented by technologies that pay a link set-up cost
// before the first application message. The initiator is the privacy agent,
// the responder is the IoT device. advertised is the number of application
// bytes piggy-backed on the discovery phase.
type Handshaker interface {
	Handshake(advertised int) (initiator, responder Cost)
}

// New returns the default model for k.
func New(k Kind) (Technology, error) {
	switch k {
	case KindBLE:
		return NewBLE(), nil
	case KindZigBee:
		return NewZigBee(), nil
	case KindLoRa:
		return NewLoRa(), nil
	case KindWiFi:
		return NewWiFi(), nil
	default:
		return nil, fmt.Errorf("network: kind %d: %w", int(k), ErrUnsupportedNetwork)
	}
}
