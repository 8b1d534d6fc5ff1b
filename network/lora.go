package network

import "math"

// LoRa models a class A end device using a simple adaptive data rate: the
// spreading factor and bandwidth are picked from the payload size.
type LoRa struct {
	Voltage    float64
	RxCurrent  float64 // mA
	CodingRate float64
	Range      float64
}

// NewLoRa returns a LoRa model with SX1276-class figures.
func NewLoRa() *LoRa {
	return &LoRa{Voltage: 3.3, RxCurrent: 12, CodingRate: 4.0 / 5.0, Range: 10000}
}

type loraMode struct {
	maxPayload int
	sf         int
	bw         float64 // kHz
	txCurrent  float64 // mA
}

var loraModes = []loraMode{
	{maxPayload: 51, sf: 10, bw: 250, txCurrent: 125},
	{maxPayload: 115, sf: 9, bw: 250, txCurrent: 90},
	{maxPayload: 242, sf: 7, bw: 500, txCurrent: 28},
}

func loraModeFor(payload int) loraMode {
	for _, m := range loraModes {
		if payload <= m.maxPayload {
			return m
		}
	}
	return loraModes[len(loraModes)-1]
}

func (l *LoRa) Kind() Kind            { return KindLoRa }
func (l *LoRa) CommDistance() float64 { return l.Range }

// Airtime returns the time on air in seconds for payload bytes, split in as
// many packets as the selected mode requires.
func (l *LoRa) Airtime(payload int) float64 {
	m := loraModeFor(payload)
	tSym := math.Pow(2, float64(m.sf)) / (m.bw * 1000)
	tPre := 4.25 * tSym
	packet := func(n int) float64 {
		sf := float64(m.sf)
		nPhy := 8 + math.Max(math.Ceil((28+8*float64(n)+4*sf)/(4*sf))*(l.CodingRate+4), 0)
		return tPre + nPhy*tSym
	}

	var t float64
	remaining := payload
	for remaining > m.maxPayload {
		t += packet(m.maxPayload)
		remaining -= m.maxPayload
	}
	return t + packet(remaining)
}

func (l *LoRa) Send(payload int) Cost {
	t := l.Airtime(payload)
	return Cost{Power: t * l.Voltage * loraModeFor(payload).txCurrent / 1000, Time: t}
}

func (l *LoRa) Receive(payload int) Cost {
	t := l.Airtime(payload)
	return Cost{Power: t * l.Voltage * l.RxCurrent / 1000, Time: t}
}
