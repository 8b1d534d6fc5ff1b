package negotiation

import (
	"math"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

// TimeRemaining returns the minutes u needs to reach its departure
// location from its current one.
func TimeRemaining(u *model.User) float64 {
	if u.Speed <= 0 {
		return 0
	}
	return u.CurrLoc.DistanceTo(u.DepLoc) / u.Speed
}

// Utility trades the time a party still has against the energy it spent:
// w.Time*ln(1+t) - w.Energy*ln(1+e). Negative inputs are clamped to zero.
func Utility(timeRemaining, energy float64, w model.Weights) float64 {
	return w.Time*math.Log1p(math.Max(timeRemaining, 0)) -
		w.Energy*math.Log1p(math.Max(energy, 0))
}

// Sigmoid maps a utility onto (0, 1).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func inRange(u *model.User, d *model.IoTDevice, dist float64) bool {
	return u.CurrLoc.DistanceTo(d.Location) < dist
}

// eligible returns the users of inv inside the communication radius that
// may still be offered a negotiation.
func eligible(inv Invocation, dist float64) []*model.User {
	var out []*model.User
	for _, u := range inv.Users {
		if inRange(u, inv.Device, dist) && u.Eligible() {
			out = append(out, u)
		}
	}
	return out
}
