package network

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("  ZigBee ")
	require.NoError(t, err)
	assert.Equal(t, KindZigBee, got)

	_, err = ParseKind("carrier-pigeon")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedNetwork))
	assert.Contains(t, err.Error(), "network type not supported")
}

func TestNewReturnsEveryKind(t *testing.T) {
	for _, k := range Kinds {
		tech, err := New(k)
		require.NoError(t, err)
		assert.Equal(t, k, tech.Kind())
		assert.Greater(t, tech.CommDistance(), 0.0)

		s := tech.Send(100)
		r := tech.Receive(100)
		assert.Greater(t, s.Power, 0.0, "%s send power", k)
		assert.Greater(t, s.Time, 0.0, "%s send time", k)
		assert.Greater(t, r.Power, 0.0, "%s receive power", k)
		assert.Greater(t, r.Time, 0.0, "%s receive time", k)
	}

	_, err := New(KindUnknown)
	assert.ErrorIs(t, err, ErrUnsupportedNetwork)
}

func TestZigBeeSendMatchesFormula(t *testing.T) {
	z := NewZigBee()
	got := z.Send(69)

	tTx := 8.0 * 100 / 250000
	d := tTx + 0.013 + 0.0029
	q := 0.013*0.013 + 0.0029*0.0325 + tTx*0.0305
	assert.InDelta(t, d, got.Time, 1e-12)
	assert.InDelta(t, q*3.6, got.Power, 1e-12)
}

func TestZigBeeHandshakeIsSymmetric(t *testing.T) {
	z := NewZigBee()
	a, b := z.Handshake(0)
	assert.Equal(t, a, b)
	assert.InDelta(t, 3.1, a.Time, 1e-12)
}

func TestLoRaModeSelection(t *testing.T) {
	assert.Equal(t, 10, loraModeFor(51).sf)
	assert.Equal(t, 9, loraModeFor(52).sf)
	assert.Equal(t, 9, loraModeFor(115).sf)
	assert.Equal(t, 7, loraModeFor(116).sf)
	assert.Equal(t, 7, loraModeFor(5000).sf)
}

func TestLoRaFragmentsLargePayloads(t *testing.T) {
	l := NewLoRa()
	one := l.Airtime(242)
	two := l.Airtime(484)
	assert.InDelta(t, 2*one, two, 1e-12)
	assert.Greater(t, l.Airtime(485), two)
}

func TestWiFiReceiveIncludesCCA(t *testing.T) {
	w := NewWiFi()
	s := w.Send(1500)
	r := w.Receive(1500)
	assert.InDelta(t, 0.1, s.Time, 1e-12)
	assert.InDelta(t, 0.12, r.Time, 1e-12)
	assert.InDelta(t, 2*s.Time, w.Send(1501).Time, 1e-12)
}

func TestBLEConstantParts(t *testing.T) {
	b := NewBLE()
	q, d := b.ConstantParts()
	assert.InDelta(t, 1.962e-3, d, 1e-9)
	assert.Greater(t, q, 0.0)
}

func TestBLESequenceGrowsWithPayload(t *testing.T) {
	b := NewBLE()
	small := b.SequenceCharge(true, 0.1, []int{0}, []int{10})
	large := b.SequenceCharge(true, 0.1, []int{0}, []int{200})
	assert.Greater(t, large, small)
	assert.InDelta(t, 190*8e-6*36.445e-3, large-small, 1e-12)

	// The first slave sequence pays for window widening.
	assert.Greater(t,
		b.SequenceDuration(false, 0.1, []int{0}, []int{0}),
		b.SequenceDuration(true, 0.1, []int{0}, []int{0}))
}

func TestBLEDiscoveryIsMemoised(t *testing.T) {
	b := NewBLE()
	b.Discovery.Points = 10

	r1 := b.DiscoveryResult(0)
	assert.Greater(t, r1.Latency, 0.0)
	assert.LessOrEqual(t, r1.Latency, b.Discovery.MaxTime)
	assert.GreaterOrEqual(t, r1.ChargeAdvertiser, 0.0)
	assert.GreaterOrEqual(t, r1.ChargeScanner, 0.0)

	_, found := b.memo.Get("0/" + fmtParams(b.Discovery))
	assert.True(t, found)
	assert.Equal(t, r1, b.DiscoveryResult(0))

	withPP := b.DiscoveryResult(217)
	assert.Greater(t, withPP.ChargeAdvertiser, r1.ChargeAdvertiser)
}

func TestBLEHandshakeCostsBothSides(t *testing.T) {
	b := NewBLE()
	b.Discovery.Points = 5
	user, device := b.Handshake(0)
	assert.Greater(t, user.Power, 0.0)
	assert.Greater(t, device.Power, 0.0)
	assert.Equal(t, user.Time, device.Time)
	assert.False(t, math.IsNaN(user.Power))
}

func TestAdvStartProbabilityIsACDF(t *testing.T) {
	for n := 0; n < 5; n++ {
		prev := 0.0
		for step := -10; step <= 40; step++ {
			x := float64(step) * 0.001
			p := advStartProbability(float64(n)*0.005, n, math.Sqrt(float64(n)/12)*0.01, x, 0, 0.01)
			assert.GreaterOrEqual(t, p, prev-1e-12, "n=%d x=%v", n, x)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			prev = p
		}
	}
}

func fmtParams(p DiscoveryParams) string {
	return fmt.Sprintf("%+v", p)
}
