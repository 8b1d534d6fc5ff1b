package network

import (
	"fmt"

	"github.com/patrickmn/go-cache"
)

// Connected-event phase durations [s] and currents [A] of a CC2541-class
// BLE radio.
const (
	bleDHead    = 0.578e-3
	bleDPre     = 0.305e-3
	bleDCPre    = 0.073e-3
	bleDPreRx   = 0.123e-3
	bleDPreRxS1 = 0.388e-3
	bleDRxTx    = 0.08e-3
	bleDPreTx   = 0.053e-3
	bleDTxRx    = 0.057e-3
	bleDTra     = 0.066e-3
	bleDPost    = 0.860e-3
	bleDTail    = 0.08e-3

	bleIHead = 5.924e-3
	bleIPre  = 7.691e-3
	bleICPre = 12.238e-3
	bleIRx   = 26.505e-3
	bleIRxTx = 14.128e-3
	bleITx   = 36.445e-3
	bleITxRx = 15.125e-3
	bleITra  = 11.636e-3
	bleIPost = 7.980e-3
	bleITail = 4.129e-3

	bleQTO = -1.2e-6 // sequence correction offset [As]

	bleSCA = 50     // sleep clock accuracy [ppm]
	bleISL = 0.9e-6 // sleep current [A]

	bleByteTime = 8e-6
)

// Scan-event parameters.
const (
	bleScanDPre     = 0.700e-3
	bleScanDRxTx    = 0.115e-3
	bleScanDPreTx   = 0.014e-3
	bleScanDTxRx    = 0.089e-3
	bleScanDPreRx   = 0.074e-3
	bleScanDRxRx    = 0.377e-3
	bleScanDPost    = 0.816e-3
	bleScanDWOffset = -1.85e-3
	bleScanDChCh    = 1.325e-3

	bleScanIPre  = 7.087e-3
	bleScanIRx   = 26.399e-3
	bleScanIRxTx = 15.011e-3
	bleScanITx   = 35.999e-3
	bleScanITxRx = 16.670e-3
	bleScanIRxS  = 26.426e-3
	bleScanIRxRx = 9.633e-3
	bleScanIPost = 8.012e-3
	bleScanIChCh = 8.550e-3

	bleScanQCTx = -0.2264e-6
	bleScanQCRx = -0.1350e-6
)

// Connection establishment parameters.
const (
	bleAdvIndLen = 37
	bleConReqLen = 44
	bleDTW       = 0.003
)

// BLE is the Kindt et al. energy model for Bluetooth Low Energy: connected
// events, scan events, device discovery and connection establishment.
// Charges are converted to energy with Voltage.
type BLE struct {
	Voltage      float64
	ConnInterval float64 // s
	Range        float64
	Discovery    DiscoveryParams

	memo *cache.Cache
}

// NewBLE returns a BLE model with a 100 ms connection interval and the
// discovery parameters used for all negotiations.
func NewBLE() *BLE {
	return &BLE{
		Voltage:      3.0,
		ConnInterval: 0.1,
		Range:        50,
		Discovery:    DefaultDiscoveryParams(),
		memo:         cache.New(cache.NoExpiration, 0),
	}
}

func (b *BLE) Kind() Kind            { return KindBLE }
func (b *BLE) CommDistance() float64 { return b.Range }

// ConstantParts returns the charge [As] and duration [s] every connected
// event pays regardless of payload.
func (b *BLE) ConstantParts() (charge, duration float64) {
	charge = bleDHead*bleIHead + bleDPre*bleIPre + bleDCPre*bleICPre +
		bleDTra*bleITra + bleDPost*bleIPost + bleDTail*bleITail
	duration = bleDHead + bleDPre + bleDCPre + bleDTra + bleDPost + bleDTail
	return charge, duration
}

// SequenceCharge returns the charge [As] of len(rx) communication sequences
// within one connection event. rx and tx hold the bytes received and sent
// in each sequence and must have the same length.
func (b *BLE) SequenceCharge(master bool, tc float64, rx, tx []int) float64 {
	var q float64
	for i := range rx {
		if i == 0 && !master {
			q += (bleDPreRxS1 + (bleSCA*2.0/1e6)*tc) * bleIRx
		} else {
			q += bleDPreRx * bleIRx
		}
		q += bleByteTime * float64(rx[i]) * bleIRx
		q += (bleDPreTx + bleByteTime*float64(tx[i])) * bleITx
		q += bleDRxTx * bleIRxTx
		q += bleDTxRx * bleITxRx
		q += bleQTO
	}
	if master {
		q -= bleDRxTx * bleIRxTx
	} else {
		q -= bleDTxRx * bleITxRx
	}
	return q
}

// SequenceDuration is the duration [s] counterpart of SequenceCharge.
func (b *BLE) SequenceDuration(master bool, tc float64, rx, tx []int) float64 {
	var d float64
	for i := range rx {
		if i == 0 && !master {
			d += bleDPreRxS1 + bleSCA*2.0/1e6*tc
		} else {
			d += bleDPreRx
		}
		d += bleByteTime * float64(rx[i])
		d += bleDPreTx + bleByteTime*float64(tx[i])
		d += bleDRxTx
		d += bleDTxRx
	}
	if master {
		d -= bleDRxTx
	} else {
		d -= bleDTxRx
	}
	return d
}

// eventCharge returns the charge of a full connection or advertising event
// with n sequences carrying the same payload.
func (b *BLE) eventCharge(master bool, tc float64, n, rx, tx int) float64 {
	c, _ := b.ConstantParts()
	return c + b.SequenceCharge(master, tc, repeat(rx, n), repeat(tx, n))
}

func (b *BLE) eventDuration(master bool, tc float64, n, rx, tx int) float64 {
	_, d := b.ConstantParts()
	return d + b.SequenceDuration(master, tc, repeat(rx, n), repeat(tx, n))
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

type scanEvent int

const (
	scanNoReception scanEvent = iota
	scanAborted
	scanConReqOffset
)

// scanEventCharge returns the charge of one periodic scan event.
func scanEventCharge(window float64, ev scanEvent, nTx int, receptionAfter float64) float64 {
	q := bleScanDPre*bleScanIPre + bleScanDPost*bleScanIPost
	switch ev {
	case scanNoReception:
		q += (window + bleScanDWOffset) * bleScanIRx
	case scanAborted:
		if window < receptionAfter {
			q += (window + bleScanDWOffset) * bleScanIRx
		} else {
			q += (receptionAfter + bleScanDWOffset) * bleScanIRx
		}
	case scanConReqOffset:
		q = bleScanDRxTx*bleScanIRxTx + (bleScanDPreTx+bleByteTime*float64(nTx))*bleScanITx
	}
	return q
}

// transmitWindowOffset is the delay between CONNECT_REQ and the transmit
// window for a connection interval tc.
func transmitWindowOffset(tc float64) float64 {
	if tc > 0.0125 {
		return tc - 0.006454
	}
	return 0.389*tc + 0.000484
}

func bleDP() float64 { return bleDTW / 2 }

// ConnectionEstablishment returns the charge [As] a master (initiator) or a
// slave (advertiser) spends on establishing a connection with interval
// tcNew.
func (b *BLE) ConnectionEstablishment(master bool, tcNew float64) float64 {
	dtwo := transmitWindowOffset(tcNew)
	drift := bleSCA * 2.0 / 1e6 * (0.00125 + dtwo)
	if master {
		q := scanEventCharge(0, scanConReqOffset, bleConReqLen, 0)
		return q + (0.00125+dtwo+bleDP())*bleISL
	}
	return (0.00125+dtwo-drift)*bleISL + (bleDP()+drift)*bleScanIRx
}

// ConnectionEstablishmentDuration returns the time [s] from CONNECT_REQ to
// the first connection event.
func (b *BLE) ConnectionEstablishmentDuration(tcNew float64) float64 {
	return 0.00125 + transmitWindowOffset(tcNew) + bleDP()
}

func (b *BLE) energy(charge float64) float64 {
	if charge < 0 {
		charge = 0
	}
	return charge * b.Voltage
}

// Send is one connected-event sequence in which the master transmits
// payload bytes.
func (b *BLE) Send(payload int) Cost {
	rx, tx := []int{0}, []int{payload}
	return Cost{
		Power: b.energy(b.SequenceCharge(true, b.ConnInterval, rx, tx)),
		Time:  b.SequenceDuration(true, b.ConnInterval, rx, tx),
	}
}

// Receive is one connected-event sequence in which the slave receives
// payload bytes.
func (b *BLE) Receive(payload int) Cost {
	rx, tx := []int{payload}, []int{0}
	return Cost{
		Power: b.energy(b.SequenceCharge(false, b.ConnInterval, rx, tx)),
		Time:  b.SequenceDuration(false, b.ConnInterval, rx, tx),
	}
}

// Handshake charges the constant event parts, device discovery with
// advertised bytes piggy-backed on the advertisements, and connection
// establishment. The privacy agent advertises; the device scans.
func (b *BLE) Handshake(advertised int) (initiator, responder Cost) {
	qc, dc := b.ConstantParts()
	disc := b.DiscoveryResult(advertised)
	dce := b.ConnectionEstablishmentDuration(b.ConnInterval)

	initiator = Cost{
		Power: b.energy(qc) + b.energy(disc.ChargeAdvertiser) +
			b.energy(b.ConnectionEstablishment(true, b.ConnInterval)),
		Time: dc + disc.Latency + dce,
	}
	responder = Cost{
		Power: b.energy(qc) + b.energy(disc.ChargeScanner) +
			b.energy(b.ConnectionEstablishment(false, b.ConnInterval)),
		Time: dc + disc.Latency + dce,
	}
	return initiator, responder
}

// DiscoveryResult returns the memoised discovery estimate for advertised
// extra bytes. The computation is expensive and depends only on the
// parameters, so results are shared between goroutines.
func (b *BLE) DiscoveryResult(advertised int) DiscoveryResult {
	key := fmt.Sprintf("%d/%+v", advertised, b.Discovery)
	if b.memo != nil {
		if v, ok := b.memo.Get(key); ok {
			return v.(DiscoveryResult)
		}
	}
	r := b.Discover(b.Discovery, advertised)
	if b.memo != nil {
		b.memo.Set(key, r, cache.NoExpiration)
	}
	return r
}
