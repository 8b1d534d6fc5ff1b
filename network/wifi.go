package network

import "math"

// WiFi models TCP transfers in 1500 byte packets with a fixed per-packet
// time and a clear channel assessment overhead on reception.
type WiFi struct {
	Voltage    float64
	RxCurrent  float64 // mA
	TxCurrent  float64 // mA
	CCABusy    float64
	PacketTime float64 // s
	MTU        int
	Range      float64
}

// NewWiFi returns a WiFi model with smartphone-class figures.
func NewWiFi() *WiFi {
	return &WiFi{
		Voltage:    3.7,
		RxCurrent:  90,
		TxCurrent:  1800,
		CCABusy:    0.2,
		PacketTime: 0.1,
		MTU:        1500,
		Range:      50,
	}
}

func (w *WiFi) Kind() Kind            { return KindWiFi }
func (w *WiFi) CommDistance() float64 { return w.Range }

func (w *WiFi) packets(payload int) float64 {
	return math.Max(1, math.Ceil(float64(payload)/float64(w.MTU)))
}

func (w *WiFi) Send(payload int) Cost {
	t := w.packets(payload) * w.PacketTime
	return Cost{Power: t * w.Voltage * w.TxCurrent / 1000, Time: t}
}

func (w *WiFi) Receive(payload int) Cost {
	t := w.packets(payload) * w.PacketTime
	return Cost{Power: t * w.Voltage * w.RxCurrent / 1000, Time: t * (1 + w.CCABusy)}
}
