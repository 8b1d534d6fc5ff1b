package negotiation

import "github.com/signalsfoundry/consent-negotiation-sim/network"

type party int

const (
	partyUser party = iota
	partyDevice
)

type message struct {
	from  party
	bytes int
}

// exchange is the fixed message sequence of one negotiation over one
// technology.
type exchange struct {
	handshake  bool
	advertised int
	messages   []message
}

func (e *exchange) send(from party, bytes int) {
	e.messages = append(e.messages, message{from: from, bytes: bytes})
}

// sendAcked sends bytes and, when ack is positive, the receiver's
// acknowledgement of ack bytes.
func (e *exchange) sendAcked(from party, bytes, ack int) {
	e.send(from, bytes)
	if ack > 0 {
		e.send(1-from, ack)
	}
}

// cost replays the exchange over tech. The sender of each message pays
// Send and the receiver pays Receive.
func (e exchange) cost(tech network.Technology) (user, device network.Cost) {
	if e.handshake {
		if hs, ok := tech.(network.Handshaker); ok {
			u, d := hs.Handshake(e.advertised)
			user, device = user.Add(u), device.Add(d)
		}
	}
	for _, m := range e.messages {
		tx, rx := tech.Send(m.bytes), tech.Receive(m.bytes)
		if m.from == partyUser {
			user, device = user.Add(tx), device.Add(rx)
		} else {
			device, user = device.Add(tx), user.Add(rx)
		}
	}
	return user, device
}

const defaultAckSize = 65

func ackSize(tech network.Technology) int {
	if z, ok := tech.(*network.ZigBee); ok && z.AckSize > 0 {
		return z.AckSize
	}
	return defaultAckSize
}

// needsHandshake reports whether the technology establishes a link before
// exchanging application messages.
func needsHandshake(tech network.Technology) bool {
	_, ok := tech.(network.Handshaker)
	return ok
}
