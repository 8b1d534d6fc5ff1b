package negotiation

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/consent-negotiation-sim/internal/logging"
	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

const (
	concessionMaxRounds             = 5
	concessionFundamentalistConsent = 0.2
)

// Concession lets the device approach one user per round, the one it
// expects the most from, for a bounded number of rounds.
type Concession struct {
	deps Deps
}

func (c *Concession) Protocol() Protocol { return ProtocolConcession }

// assumedUtility is what the device expects from approaching u: users that
// are about to leave are worth the most.
func assumedUtility(u *model.User) float64 {
	return math.Exp(-TimeRemaining(u))
}

// pick returns the candidate with the highest assumed utility. Ties go to
// the lowest ID.
func pick(candidates []*model.User) *model.User {
	var best *model.User
	bestU := math.Inf(-1)
	for _, u := range candidates {
		au := assumedUtility(u)
		if best == nil || au > bestU || (au == bestU && u.ID < best.ID) {
			best, bestU = u, au
		}
	}
	return best
}

func (c *Concession) exchange() exchange {
	var ex exchange
	ex.send(partyDevice, cuncheOwnerPP)
	ex.send(partyUser, cuncheUserPP)
	return ex
}

func (c *Concession) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	ctx, span := c.deps.Tracer.Start(ctx, "Negotiation/concession",
		trace.WithAttributes(attribute.Int("sim.step", inv.Step), attribute.Float64("sim.time", inv.Time)))
	defer span.End()

	var out Outcome
	dist := c.deps.Network.CommDistance()
	out.Eligible = len(eligible(inv, dist))

	var consenting []*model.User
	for round := 0; round < concessionMaxRounds; round++ {
		candidates := eligible(inv, dist)
		if len(candidates) == 0 {
			break
		}
		u := pick(candidates)
		u.NegAttempted = true

		consent := true
		if u.Label == model.Fundamentalist {
			r := c.deps.Streams.For(inv.Step, u.ID, purposeDecision)
			consent = r.Float64() < concessionFundamentalistConsent
		}
		if !consent {
			c.deps.Recorder.ObserveNegotiation(ProtocolConcession.String(), "declined", 0)
			continue
		}
		if err := u.GrantConsent(1); err != nil {
			return out, &InvariantError{Protocol: ProtocolConcession, UserID: u.ID, Reason: "consent", Err: err}
		}
		c.deps.Recorder.ObserveNegotiation(ProtocolConcession.String(), "consented", 1)
		consenting = append(consenting, u)
		out.Consented = append(out.Consented, u.ID)
	}

	tech := c.deps.Network
	err := settle(ctx, c.deps, ProtocolConcession, consenting, inv.Device, func(u *model.User) (Delta, error) {
		return exchangeDelta(tech, c.exchange(), u, inv.Device), nil
	}, &out)
	if err != nil {
		span.RecordError(err)
		return out, err
	}

	span.SetAttributes(attribute.Int("negotiation.eligible", out.Eligible), attribute.Int("negotiation.consented", len(out.Consented)))
	c.deps.Log.Debug(ctx, "concession round complete",
		logging.Float("time", inv.Time),
		logging.Int("eligible", out.Eligible),
		logging.Int("consented", len(out.Consented)),
	)
	return out, nil
}
