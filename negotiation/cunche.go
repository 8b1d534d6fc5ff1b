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
	cuncheUserPP  = 38
	cuncheOwnerPP = 86
)

// Empirical acceptance frequencies per label.
const (
	cuncheFundamentalistThreshold = 0.796
	cuncheFundamentalistOneRound  = 0.25
	cunchePragmatistConsent       = 0.7355
	cunchePragmatistOneRound      = 0.75
)

// Cunche accepts with the frequencies observed in a user study: the device
// announces its policy and the user either accepts it or answers once with
// its own.
type Cunche struct {
	deps Deps
}

func (c *Cunche) Protocol() Protocol { return ProtocolCunche }

// cuncheDecide returns the number of rounds the user consents after, or 0.
func cuncheDecide(label model.PrivacyLabel, r *rand.Rand) uint32 {
	split := func(oneRound float64) uint32 {
		if r.Float64() < oneRound {
			return 1
		}
		return 2
	}
	switch label {
	case model.Fundamentalist:
		if r.Float64() <= cuncheFundamentalistThreshold {
			return 0
		}
		return split(cuncheFundamentalistOneRound)
	case model.Pragmatist:
		if r.Float64() >= cunchePragmatistConsent {
			return 0
		}
		return split(cunchePragmatistOneRound)
	default:
		return 1
	}
}

func (c *Cunche) exchange(tech network.Technology, rounds uint32) exchange {
	ex := exchange{handshake: needsHandshake(tech)}
	ex.send(partyDevice, cuncheOwnerPP)
	ex.send(partyUser, cuncheUserPP)
	if rounds >= 2 {
		// The user's counter-policy and the device's modified policy.
		ex.send(partyUser, cuncheUserPP)
		ex.send(partyDevice, cuncheOwnerPP)
	}
	return ex
}

func (c *Cunche) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	ctx, span := c.deps.Tracer.Start(ctx, "Negotiation/cunche",
		trace.WithAttributes(attribute.Int("sim.step", inv.Step), attribute.Float64("sim.time", inv.Time)))
	defer span.End()

	var out Outcome
	candidates := eligible(inv, c.deps.Network.CommDistance())
	out.Eligible = len(candidates)

	var consenting []*model.User
	for _, u := range candidates {
		u.NegAttempted = true
		rounds := cuncheDecide(u.Label, c.deps.Streams.For(inv.Step, u.ID, purposeDecision))
		if rounds == 0 {
			c.deps.Recorder.ObserveNegotiation(ProtocolCunche.String(), "declined", 0)
			continue
		}
		if err := u.GrantConsent(rounds); err != nil {
			return out, &InvariantError{Protocol: ProtocolCunche, UserID: u.ID, Reason: "consent", Err: err}
		}
		c.deps.Recorder.ObserveNegotiation(ProtocolCunche.String(), "consented", int(rounds))
		consenting = append(consenting, u)
		out.Consented = append(out.Consented, u.ID)
	}

	tech := c.deps.Network
	err := settle(ctx, c.deps, ProtocolCunche, consenting, inv.Device, func(u *model.User) (Delta, error) {
		return exchangeDelta(tech, c.exchange(tech, u.Consent.Rounds()), u, inv.Device), nil
	}, &out)
	if err != nil {
		span.RecordError(err)
		return out, err
	}

	span.SetAttributes(attribute.Int("negotiation.eligible", out.Eligible), attribute.Int("negotiation.consented", len(out.Consented)))
	c.deps.Log.Debug(ctx, "cunche round complete",
		logging.Float("time", inv.Time),
		logging.Int("eligible", out.Eligible),
		logging.Int("consented", len(out.Consented)),
	)
	return out, nil
}
