package network

// ZigBee models an IEEE 802.15.4 radio at 250 kbit/s.
type ZigBee struct {
	Voltage float64
	AckSize int
	Range   float64
}

// NewZigBee returns a ZigBee model with the usual CC2530-class figures.
func NewZigBee() *ZigBee {
	return &ZigBee{Voltage: 3.6, AckSize: 65, Range: 100}
}

const (
	zigbeeBitRate   = 250000.0
	zigbeeHeader    = 31
	zigbeeMACAck    = 11
	zigbeeTOnOff    = 0.013
	zigbeeIOnOff    = 0.013
	zigbeeTListen   = 0.0029
	zigbeeIListen   = 0.0325
	zigbeeITx       = 0.0305
	zigbeeIRx       = 0.0325
	zigbeeStartupMW = 2.0
	zigbeeStartupS  = 1.1
	zigbeeAssocMW   = 26.6
	zigbeeAssocS    = 2.0
)

func (z *ZigBee) Kind() Kind            { return KindZigBee }
func (z *ZigBee) CommDistance() float64 { return z.Range }
func (z *ZigBee) airtime(payload int) float64 {
	return 8 * float64(zigbeeHeader+payload) / zigbeeBitRate
}

// Send covers wake-up, CSMA/CA plus ACK listening and the transmission.
func (z *ZigBee) Send(payload int) Cost {
	tTx := z.airtime(payload)
	d := tTx + zigbeeTOnOff + zigbeeTListen
	q := zigbeeTOnOff*zigbeeIOnOff + zigbeeTListen*zigbeeIListen + tTx*zigbeeITx
	return Cost{Power: q * z.Voltage, Time: d}
}

// Receive covers wake-up, the reception and the MAC acknowledgement.
func (z *ZigBee) Receive(payload int) Cost {
	tRx := z.airtime(payload)
	tAck := z.airtime(zigbeeMACAck)
	d := tRx + zigbeeTOnOff + tAck
	q := zigbeeTOnOff*zigbeeIOnOff + tRx*zigbeeIRx + tAck*zigbeeITx
	return Cost{Power: q * z.Voltage, Time: d}
}

// Startup is the cost of bringing the stack up.
func (z *ZigBee) Startup() Cost {
	return Cost{Power: zigbeeStartupMW * z.Voltage / 1000 * zigbeeStartupS, Time: zigbeeStartupS}
}

// Association is the cost of joining the device's PAN.
func (z *ZigBee) Association() Cost {
	return Cost{Power: zigbeeAssocMW * z.Voltage / 1000 * zigbeeAssocS, Time: zigbeeAssocS}
}

// Handshake charges start-up and association on both sides.
func (z *ZigBee) Handshake(int) (Cost, Cost) {
	c := z.Startup().Add(z.Association())
	return c, c
}
