package negotiation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/consent-negotiation-sim/internal/logging"
	"github.com/signalsfoundry/consent-negotiation-sim/model"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

type padomeState int

const (
	stateNegotiating padomeState = iota
	stateSend
	stateAccept
	stateBreakOff
	stateDeadlineReached
)

func (s padomeState) String() string {
	switch s {
	case stateNegotiating:
		return "negotiating"
	case stateSend:
		return "send"
	case stateAccept:
		return "accept"
	case stateBreakOff:
		return "break_off"
	case stateDeadlineReached:
		return "deadline_reached"
	default:
		return "unknown"
	}
}

// Padome bargains over a discrete offer space. The user's agent refines its
// belief about the device by polling peers and about the user by eliciting
// preferences, both only while it pays off.
type Padome struct {
	deps Deps
	cfg  PadomeConfig
}

func (p *Padome) Protocol() Protocol { return ProtocolPadome }

// Config returns the effective configuration.
func (p *Padome) Config() PadomeConfig { return p.cfg }

// bargain is the result of one user's negotiation.
type bargain struct {
	state  padomeState
	rounds uint32
	// utility realised by the user and the device
	value    float64
	elicited float64
}

// newOfferSpace enumerates {1..negRange}^negValue. All offers share one
// uniform utility belief; acceptance probabilities are drawn per offer.
func newOfferSpace(r *rand.Rand, negValue, negRange int) []model.Offer {
	a, b := r.Float64(), r.Float64()
	if a > b {
		a, b = b, a
	}
	n := 1
	for i := 0; i < negValue; i++ {
		n *= negRange
	}
	offers := make([]model.Offer, 0, n)
	key := make([]int, negValue)
	for i := range key {
		key[i] = 1
	}
	for {
		offers = append(offers, model.Offer{
			Key:        append([]int(nil), key...),
			Low:        a,
			High:       b,
			Acceptance: r.Float64(),
		})
		// odometer increment, last dimension fastest
		i := negValue - 1
		for ; i >= 0; i-- {
			key[i]++
			if key[i] <= negRange {
				break
			}
			key[i] = 1
		}
		if i < 0 {
			return offers
		}
	}
}

// Deadline returns the round limit for n users whose mean distance to the
// device is avgDist.
func (p *Padome) Deadline(n int, avgDist float64) int {
	f := p.cfg.DeadlineFactors
	comm := p.deps.Network.CommDistance()
	distFactor := 0.0
	if comm > 0 {
		distFactor = avgDist / comm * 2
	}
	lo := math.Min(float64(p.cfg.UserPPSize), float64(p.cfg.OwnerPPSize))
	hi := math.Max(float64(p.cfg.UserPPSize), float64(p.cfg.OwnerPPSize))
	ppFactor := lo / hi * 1.5
	d := f.BaseDeadline +
		float64(n)*f.UserCountFactorMultiplier +
		p.cfg.networkFactor(p.deps.Network.Kind().String()) +
		distFactor +
		ppFactor
	return int(math.Ceil(d))
}

// solveForZ returns z with E[(X-z)+] = c for X ~ U(a, b).
func solveForZ(a, b, c float64) float64 {
	if b <= a {
		return a - c
	}
	// For z in [a, b] the expectation is (b-z)^2 / 2(b-a), which reaches
	// (b-a)/2 at z = a. Below a it is the mean minus z.
	if c <= (b-a)/2 {
		return b - math.Sqrt(2*c*(b-a))
	}
	return (a+b)/2 - c
}

func sample(r *rand.Rand, o model.Offer) float64 {
	if o.Elicited {
		return o.Value
	}
	return uniform(r, o.Low, o.High)
}

func entropy(ps []float64) float64 {
	h := 0.0
	for _, p := range ps {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 0 {
		return (s[m-1] + s[m]) / 2
	}
	return s[m]
}

func responseProbability(r *rand.Rand, l model.PrivacyLabel) float64 {
	switch l {
	case model.Fundamentalist:
		return uniform(r, 0.1, 0.3)
	case model.Pragmatist:
		return uniform(r, 0.4, 0.6)
	default:
		return uniform(r, 0.7, 0.9)
	}
}

func findOffer(offers []model.Offer, key model.Offer) (model.Offer, bool) {
	for _, o := range offers {
		if o.SameKey(key) {
			return o, true
		}
	}
	return model.Offer{}, false
}

func bestByMean(offers []model.Offer) int {
	best := 0
	for i, o := range offers {
		if o.Mean() > offers[best].Mean() {
			best = i
		}
	}
	return best
}

// broadcastCost estimates one poll of the peers: the user broadcasts its
// policy and receives one reply per responder, each responder receives the
// poll and replies.
func broadcastCost(tech network.Technology, pp, responders int) (user, peer network.Cost) {
	if hs, ok := tech.(network.Handshaker); ok {
		user, peer = hs.Handshake(pp)
	}
	user = user.Add(tech.Send(pp))
	peer = peer.Add(tech.Receive(pp)).Add(tech.Send(pp))
	rx := tech.Receive(pp)
	for i := 0; i < responders; i++ {
		user = user.Add(rx)
	}
	return user, peer
}

// informationGain estimates the entropy reduction over the acceptance
// beliefs after polling n peers.
func (p *Padome) informationGain(offers []model.Offer, n int) float64 {
	if n == 0 {
		return 0
	}
	ps := make([]float64, len(offers))
	for i, o := range offers {
		ps[i] = o.Acceptance
	}
	h := entropy(ps)
	dist, like := p.cfg.PrivacyTypeDistribution.values(), p.cfg.ResponseLikelihood.values()
	expected := 0.0
	for i := range dist {
		expected += dist[i] * like[i] * float64(n)
	}
	if expected == 0 {
		return 0
	}
	return h - h/(expected+1)
}

func broadcastUtility(gain float64, cost network.Cost, w model.Weights) float64 {
	if w.Energy == 0 {
		return math.Inf(-1)
	}
	return gain - w.Time*math.Log1p(math.Max(cost.Time, 0))/w.Energy*math.Log1p(math.Max(cost.Power, 0))
}

// elicitOpponentModel polls the peers of u when the expected information
// gain outweighs the broadcast cost, and moves the acceptance belief of the
// most promising offer towards the median of the replies.
func (p *Padome) elicitOpponentModel(r *rand.Rand, u *model.User, peers []*model.User) error {
	var responders []*model.User
	for _, peer := range peers {
		if responseProbability(r, peer.Label) > r.Float64() && peer.NegAttempted {
			responders = append(responders, peer)
		}
	}
	if len(responders) == 0 {
		return nil
	}

	tech := p.deps.Network
	userCost, peerCost := broadcastCost(tech, p.cfg.UserPPSize, len(responders))
	gain := p.informationGain(u.Offers, len(peers))
	if broadcastUtility(gain, userCost, u.Weights) <= p.cfg.ReservationValue {
		return nil
	}

	if err := charge(u, userCost); err != nil {
		return err
	}
	best := bestByMean(u.Offers)
	prior := u.Offers[best].Acceptance
	replies := make([]float64, 0, len(responders))
	for _, peer := range responders {
		if err := charge(peer, peerCost); err != nil {
			return err
		}
		reply := prior
		if o, ok := findOffer(peer.Offers, u.Offers[best]); ok && o.Acceptance != 0 {
			reply = o.Acceptance
		}
		replies = append(replies, reply)
	}
	u.Offers[best].Acceptance = (prior + median(replies)) / 2
	return nil
}

func charge(u *model.User, c network.Cost) error {
	if err := u.AddPowerConsumed(c.Power); err != nil {
		return &InvariantError{Protocol: ProtocolPadome, UserID: u.ID, Reason: "broadcast accounting", Err: err}
	}
	if err := u.AddTimeSpent(c.Time); err != nil {
		return &InvariantError{Protocol: ProtocolPadome, UserID: u.ID, Reason: "broadcast accounting", Err: err}
	}
	return nil
}

// trueValue is the utility the user reports for an offer when asked.
func (p *Padome) trueValue(u *model.User, o model.Offer) float64 {
	w := p.cfg.PrivacyWeights[u.Label.String()]
	v := 0.0
	for i, k := range o.Key {
		if i < len(w) {
			v += w[i] * float64(k)
		}
	}
	return v
}

// elicitPreferences asks the user for the true utility of the offers whose
// reservation threshold exceeds their current negotiation value, and
// returns the accumulated elicitation cost.
func (p *Padome) elicitPreferences(r *rand.Rand, u *model.User) float64 {
	cw := p.cfg.UserElicitationCost
	spent := 0.0
	for {
		best, bestZ := -1, math.Inf(-1)
		for i, o := range u.Offers {
			if o.Elicited {
				continue
			}
			if z := solveForZ(o.Low, o.High, cw); z > bestZ {
				best, bestZ = i, z
			}
		}
		if best < 0 {
			return spent
		}
		o := u.Offers[best]
		value := o.Acceptance*sample(r, o) + (1-o.Acceptance)*cw
		if bestZ < value {
			return spent
		}
		u.Offers[best].Value = p.trueValue(u, o)
		u.Offers[best].Elicited = true
		spent += cw
		if spent > p.cfg.ReservationValue {
			return spent
		}
	}
}

func (p *Padome) offerValue(prob, v float64) float64 {
	return prob*v + (1-prob)*p.cfg.ReservationValue
}

// dummyOffer returns the index of the first offer whose belief brackets the
// reservation value, or -1.
func (p *Padome) dummyOffer(offers []model.Offer) int {
	rv := p.cfg.ReservationValue
	for i, o := range offers {
		if o.Elicited {
			if o.Value <= rv {
				return i
			}
			continue
		}
		if o.Low <= rv && rv <= o.High {
			return i
		}
	}
	return -1
}

// negotiate runs the bargaining loop for u.
func (p *Padome) negotiate(r *rand.Rand, u *model.User, peers []*model.User, deadline int) (bargain, error) {
	res := bargain{state: stateNegotiating}
	dummy := p.dummyOffer(u.Offers)
	offered := make(map[int]bool)
	rv := p.cfg.ReservationValue

	for rounds := 0; rounds < deadline; rounds++ {
		if len(peers) > 0 {
			if err := p.elicitOpponentModel(r, u, peers); err != nil {
				return res, err
			}
		}
		res.elicited += p.elicitPreferences(r, u)

		best, bestV := 0, math.Inf(-1)
		for i, o := range u.Offers {
			if v := p.offerValue(o.Acceptance, sample(r, o)); v > bestV {
				best, bestV = i, v
			}
		}
		o := u.Offers[best]
		switch {
		case best == dummy || o.Mean() <= rv:
			res.state, res.value = stateBreakOff, rv
			return res, nil
		case offered[best]:
			res.state, res.value, res.rounds = stateAccept, o.Mean(), uint32(rounds+1)
			return res, nil
		default:
			offered[best] = true
			if r.Float64() < o.Acceptance {
				res.state, res.value, res.rounds = stateAccept, o.Mean(), uint32(rounds+1)
				return res, nil
			}
			res.state = stateSend
		}
	}
	res.state = stateDeadlineReached
	return res, nil
}

// exchange replays rounds alternating offers, user first, and the final
// acceptance. Over BLE a one-round agreement rides on the advertisements.
func (p *Padome) exchange(tech network.Technology, rounds uint32) exchange {
	ex := exchange{handshake: needsHandshake(tech)}
	if rounds == 1 {
		ex.advertised = p.cfg.UserPPSize
		if tech.Kind() == network.KindBLE {
			return ex
		}
	}
	// ZigBee acknowledges every application message.
	ack := 0
	if tech.Kind() == network.KindZigBee {
		ack = ackSize(tech)
	}
	for r := uint32(1); r <= rounds; r++ {
		if r%2 == 1 {
			ex.sendAcked(partyUser, p.cfg.UserPPSize, ack)
		} else {
			ex.sendAcked(partyDevice, p.cfg.OwnerPPSize, ack)
		}
	}
	if rounds%2 == 1 {
		ex.sendAcked(partyDevice, p.cfg.UserPPSize, ack)
	} else {
		ex.sendAcked(partyUser, p.cfg.OwnerPPSize, ack)
	}
	return ex
}

// delta charges the exchange only for an agreement. A break-off still leaves
// the device its reservation value and the user the elicitation spend.
func (p *Padome) delta(tech network.Technology, u *model.User, res bargain) Delta {
	var d Delta
	if u.Consent.IsConsented() {
		d.User, d.Device = p.exchange(tech, u.Consent.Rounds()).cost(tech)
	}
	d.UserUtility = res.value - res.elicited
	d.DeviceUtility = res.value
	return d
}

func (p *Padome) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	ctx, span := p.deps.Tracer.Start(ctx, "Negotiation/padome",
		trace.WithAttributes(attribute.Int("sim.step", inv.Step), attribute.Float64("sim.time", inv.Time)))
	defer span.End()

	var out Outcome
	candidates := eligible(inv, p.deps.Network.CommDistance())
	out.Eligible = len(candidates)
	if len(candidates) == 0 {
		return out, nil
	}

	offers := newOfferSpace(p.deps.Streams.For(inv.Step, -1, purposeOffers), p.cfg.NegValue, p.cfg.NegRange)
	avgDist := 0.0
	for _, u := range candidates {
		u.Offers = model.CloneOffers(offers)
		avgDist += u.CurrLoc.DistanceTo(inv.Device.Location)
	}
	avgDist /= float64(len(candidates))
	deadline := p.Deadline(len(candidates), avgDist)
	span.SetAttributes(attribute.Int("padome.deadline", deadline))

	results := make(map[int]bargain, len(candidates))
	for _, u := range candidates {
		peers := make([]*model.User, 0, len(inv.Users)-1)
		for _, peer := range inv.Users {
			if peer.ID != u.ID {
				peers = append(peers, peer)
			}
		}

		res, err := p.negotiate(p.deps.Streams.For(inv.Step, u.ID, purposeBargain), u, peers, deadline)
		if err != nil {
			return out, err
		}
		u.NegAttempted = true
		results[u.ID] = res
		p.deps.Recorder.ObserveNegotiation(ProtocolPadome.String(), res.state.String(), int(res.rounds))
		if res.rounds == 0 {
			continue
		}
		if err := u.GrantConsent(res.rounds); err != nil {
			return out, &InvariantError{Protocol: ProtocolPadome, UserID: u.ID, Reason: "consent", Err: err}
		}
		out.Consented = append(out.Consented, u.ID)
	}

	tech := p.deps.Network
	err := settle(ctx, p.deps, ProtocolPadome, candidates, inv.Device, func(u *model.User) (Delta, error) {
		res, ok := results[u.ID]
		if !ok {
			return Delta{}, fmt.Errorf("padome: no bargain for user %d", u.ID)
		}
		return p.delta(tech, u, res), nil
	}, &out)
	if err != nil {
		span.RecordError(err)
		return out, err
	}

	span.SetAttributes(attribute.Int("negotiation.eligible", out.Eligible), attribute.Int("negotiation.consented", len(out.Consented)))
	p.deps.Log.Debug(ctx, "padome round complete",
		logging.Float("time", inv.Time),
		logging.Int("eligible", out.Eligible),
		logging.Int("deadline", deadline),
		logging.Int("consented", len(out.Consented)),
	)
	return out, nil
}
