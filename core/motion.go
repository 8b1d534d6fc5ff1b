package core

import "github.com/signalsfoundry/consent-negotiation-sim/model"

// MotionModel places a user at a simulation time.
type MotionModel interface {
	Position(u *model.User, t float64) model.Point
}

// LinearMotion moves users at constant speed on the straight line from
// their arrival to their departure location.
type LinearMotion struct{}

// Position interpolates by elapsed time over total travel time. Users with
// no travel time or no travel distance stay at their arrival location.
func (LinearMotion) Position(u *model.User, t float64) model.Point {
	travel := u.DepTime - u.ArrTime
	if travel <= 0 || u.ArrLoc == u.DepLoc {
		return u.ArrLoc
	}
	f := (t - u.ArrTime) / travel
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return u.ArrLoc.Add(u.DepLoc.Sub(u.ArrLoc).Scale(f))
}

// StaticMotion leaves users where they are.
type StaticMotion struct{}

// Position returns the current location.
func (StaticMotion) Position(u *model.User, _ float64) model.Point {
	return u.CurrLoc
}
