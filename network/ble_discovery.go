package network

import "math"

// DiscoveryParams configures the device discovery model.
type DiscoveryParams struct {
	Points       int     // number of scan offsets phi averaged over
	EpsilonHit   float64 // stop once the cumulative hit probability reaches this
	AdvInterval  float64 // Ta [s]
	ScanInterval float64 // Ts [s]
	ScanWindow   float64 // ds [s]
	MaxAdvDelay  float64 // rho_max [s]
	MaxTime      float64 // latency cap [s]
}

// DefaultDiscoveryParams returns the parameters used for negotiations.
func DefaultDiscoveryParams() DiscoveryParams {
	return DiscoveryParams{
		Points:       100,
		EpsilonHit:   0.9999,
		AdvInterval:  0.25,
		ScanInterval: 5,
		ScanWindow:   2,
		MaxAdvDelay:  0.01,
		MaxTime:      1000,
	}
}

// DiscoveryResult is the expected discovery latency and the charges spent by
// advertiser and scanner.
type DiscoveryResult struct {
	Latency          float64 // s
	ChargeAdvertiser float64 // As
	ChargeScanner    float64 // As
}

// Discover averages the discovery model over p.Points offsets between the
// start of scanning and the first advertising event. advertised bytes are
// added to every ADV_IND packet.
func (b *BLE) Discover(p DiscoveryParams, advertised int) DiscoveryResult {
	if p.Points <= 0 {
		p.Points = 1
	}
	delta := 3.0 * p.ScanInterval / float64(p.Points)
	var joined DiscoveryResult
	phi := 0.0
	for i := 0; i < p.Points; i++ {
		r := b.discoverOnePhi(p, phi, advertised)
		joined.Latency += r.Latency
		joined.ChargeAdvertiser += r.ChargeAdvertiser
		joined.ChargeScanner += r.ChargeScanner
		phi += delta
	}
	n := float64(p.Points)
	joined.Latency /= n
	joined.ChargeAdvertiser = math.Max(0, joined.ChargeAdvertiser/n)
	joined.ChargeScanner = math.Max(0, joined.ChargeScanner/n)
	return joined
}

func (b *BLE) discoverOnePhi(p DiscoveryParams, phi float64, advertised int) DiscoveryResult {
	advLen := bleAdvIndLen + advertised
	tAdv := bleByteTime * float64(advLen)

	t39Idle := b.eventDuration(true, 0, 3, 0, advLen)
	q39Idle := b.eventCharge(true, 0, 3, 0, advLen)
	qChannel := [3]float64{
		b.eventCharge(true, 0, 1, bleConReqLen, advLen),
		b.eventCharge(true, 0, 2, bleConReqLen, advLen),
		b.eventCharge(true, 0, 3, bleConReqLen, advLen),
	}
	// Earliest and latest offsets of the ADV_IND on channels 37, 38, 39
	// relative to the start of the advertising event.
	early := [3]float64{0, tAdv + 150e-6, 2 * (tAdv + 150e-6)}
	late := [3]float64{tAdv, 2*tAdv + 150e-6, 3*tAdv + 2*150e-6}

	noRx := scanEventCharge(p.ScanWindow, scanNoReception, 0, 0)

	nBefore := math.Floor(phi / p.ScanInterval)
	scanBefore := nBefore * noRx
	edge := phi - nBefore*p.ScanInterval
	if edge > p.ScanWindow {
		scanBefore += noRx
	} else {
		scanBefore += scanEventCharge(p.ScanWindow, scanAborted, 0, p.ScanWindow-edge)
	}

	maxEvents := math.MaxInt32
	if p.AdvInterval > 0 {
		maxEvents = int(p.MaxTime/p.AdvInterval) + 1
	}

	var (
		tExp, qAdv, qScan float64
		cumMiss           = 1.0
	)
	for n := 0; 1-cumMiss < p.EpsilonHit && tExp < p.MaxTime && n < maxEvents; n++ {
		fn := float64(n)
		taIdeal := phi + fn*p.AdvInterval
		taReal := taIdeal + fn*p.MaxAdvDelay/2
		sigma := math.Sqrt(fn/12) * p.MaxAdvDelay
		kMin := int(math.Floor(taIdeal / p.ScanInterval))
		kMax := int(math.Floor((taIdeal + fn*p.MaxAdvDelay) / p.ScanInterval))

		var hit float64
		for k := kMin; k <= kMax; k++ {
			ch := k % 3
			start := float64(k) * p.ScanInterval
			pk := advStartProbability(taReal, n, sigma, start+p.ScanWindow-late[ch], taIdeal, p.MaxAdvDelay) -
				advStartProbability(taReal, n, sigma, start-early[ch], taIdeal, p.MaxAdvDelay)
			hit += pk

			current := fn*(p.AdvInterval+p.MaxAdvDelay/2) + late[ch]
			w := cumMiss * pk
			tExp += w * current
			if n >= 1 {
				qAdv += w * (fn - 1) * q39Idle
				qAdv += w * (fn - 1) * (p.AdvInterval - t39Idle) * bleISL
			}
			qAdv += w * qChannel[ch]

			full := math.Floor((current + phi) / p.ScanInterval)
			left := (phi + current) - full*p.ScanInterval
			qScan += w * full * noRx
			if left > p.ScanWindow {
				qScan += w * noRx
			} else {
				qScan += w * scanEventCharge(p.ScanWindow, scanAborted, 0, left)
			}
		}
		cumMiss *= 1 - hit
		if tExp > p.MaxTime {
			break
		}
	}
	if tExp > p.MaxTime {
		tExp = p.MaxTime
	}
	return DiscoveryResult{
		Latency:          tExp,
		ChargeAdvertiser: qAdv,
		ChargeScanner:    qScan - scanBefore,
	}
}

// advStartProbability approximates the probability that advertising event n
// has started before t. The sum of n uniform advertising delays is exact for
// n <= 2 and approximated by a normal distribution beyond.
func advStartProbability(mu float64, n int, sigma, t, taIdeal, rhoMax float64) float64 {
	switch n {
	case 0:
		if t < taIdeal {
			return 0
		}
		return 1
	case 1:
		switch {
		case t < taIdeal:
			return 0
		case t < taIdeal+rhoMax:
			return (t - taIdeal) / rhoMax
		default:
			return 1
		}
	case 2:
		switch {
		case t < taIdeal:
			return 0
		case t < taIdeal+rhoMax:
			return (t - taIdeal) * (t - taIdeal) / (2 * rhoMax * rhoMax)
		case t < taIdeal+2*rhoMax:
			r := taIdeal + 2*rhoMax - t
			return 1 - r*r/(2*rhoMax*rhoMax)
		default:
			return 1
		}
	default:
		return 0.5 * math.Erfc(-(t-mu)/(sigma*math.Sqrt2))
	}
}
