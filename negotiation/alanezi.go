package negotiation

import (
	"context"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/consent-negotiation-sim/internal/logging"
	"github.com/signalsfoundry/consent-negotiation-sim/model"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

const (
	alaneziUserPP  = 217
	alaneziOwnerPP = 639
)

// privacyPolicy is a requested disclosure level per data dimension.
type privacyPolicy [4]int

func (p privacyPolicy) sum() int {
	s := 0
	for _, v := range p {
		s += v
	}
	return s
}

// Policies PP1..PP4, from full to minimal disclosure.
var alaneziPolicies = [4]privacyPolicy{
	{3, 3, 1, 1},
	{3, 3, 1, 0},
	{3, 2, 1, 0},
	{3, 2, 0, 0},
}

// Alanezi decides consent with label-specific stochastic thresholds. At
// most two rounds are needed.
type Alanezi struct {
	deps Deps
}

func (a *Alanezi) Protocol() Protocol { return ProtocolAlanezi }

// fundamentalistUtility scores the device's requested policy (PP2) against
// the full-disclosure policy (PP1) weighted by the user's privacy concern.
func fundamentalistUtility(gamma float64) float64 {
	return float64(alaneziPolicies[1].sum()) - gamma*float64(alaneziPolicies[0].sum())
}

// alaneziDecide returns the number of rounds the user consents after, or 0.
func alaneziDecide(label model.PrivacyLabel, r *rand.Rand) uint32 {
	switch label {
	case model.Fundamentalist:
		gamma := uniform(r, 0.843, 1.0)
		if fundamentalistUtility(gamma) >= 0 {
			return 1
		}
		return 0
	case model.Pragmatist:
		gamma := uniform(r, 0.26, 0.75)
		if gamma > 0.368 {
			return 1
		}
		return 2
	default:
		return 1
	}
}

func (a *Alanezi) exchange(tech network.Technology, rounds uint32) exchange {
	var ex exchange
	switch tech.Kind() {
	case network.KindBLE:
		// The request rides on the advertisements.
		ex = exchange{handshake: true, advertised: alaneziUserPP}
		if rounds >= 2 {
			ex.send(partyUser, alaneziUserPP)
			ex.send(partyDevice, alaneziOwnerPP)
		}
	case network.KindZigBee:
		ex.handshake = true
		ex.sendAcked(partyUser, alaneziUserPP, ackSize(tech))
		if rounds >= 2 {
			ex.sendAcked(partyDevice, alaneziOwnerPP, ackSize(tech))
		}
	default:
		ex.send(partyUser, alaneziUserPP)
		if rounds >= 2 {
			ex.send(partyDevice, alaneziOwnerPP)
			ex.send(partyUser, alaneziUserPP)
		}
	}
	return ex
}

func (a *Alanezi) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	ctx, span := a.deps.Tracer.Start(ctx, "Negotiation/alanezi",
		trace.WithAttributes(attribute.Int("sim.step", inv.Step), attribute.Float64("sim.time", inv.Time)))
	defer span.End()

	var out Outcome
	candidates := eligible(inv, a.deps.Network.CommDistance())
	out.Eligible = len(candidates)

	var consenting []*model.User
	for _, u := range candidates {
		u.NegAttempted = true
		rounds := alaneziDecide(u.Label, a.deps.Streams.For(inv.Step, u.ID, purposeDecision))
		if rounds == 0 {
			a.deps.Recorder.ObserveNegotiation(ProtocolAlanezi.String(), "declined", 0)
			continue
		}
		if err := u.GrantConsent(rounds); err != nil {
			return out, &InvariantError{Protocol: ProtocolAlanezi, UserID: u.ID, Reason: "consent", Err: err}
		}
		a.deps.Recorder.ObserveNegotiation(ProtocolAlanezi.String(), "consented", int(rounds))
		consenting = append(consenting, u)
		out.Consented = append(out.Consented, u.ID)
	}

	tech := a.deps.Network
	err := settle(ctx, a.deps, ProtocolAlanezi, consenting, inv.Device, func(u *model.User) (Delta, error) {
		return exchangeDelta(tech, a.exchange(tech, u.Consent.Rounds()), u, inv.Device), nil
	}, &out)
	if err != nil {
		span.RecordError(err)
		return out, err
	}

	span.SetAttributes(attribute.Int("negotiation.eligible", out.Eligible), attribute.Int("negotiation.consented", len(out.Consented)))
	a.deps.Log.Debug(ctx, "alanezi round complete",
		logging.Float("time", inv.Time),
		logging.Int("eligible", out.Eligible),
		logging.Int("consented", len(out.Consented)),
	)
	return out, nil
}
