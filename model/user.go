package model

import (
	"errors"
	"fmt"
)

// ErrNegativeDelta is returned when an accumulator would decrease.
var ErrNegativeDelta = errors.New("negative accumulator delta")

// User is a person carrying a privacy agent through the scenario.
// Timestamps are precomputed by the scenario generator.
type User struct {
	ID    int
	Speed float64 // metres per minute

	ArrLoc  Point
	DepLoc  Point
	CurrLoc Point

	ArrTime float64
	DepTime float64
	// WithinCommRangeTime is when the user crosses into the device's
	// communication radius; 0 means no such event.
	WithinCommRangeTime float64

	Label        PrivacyLabel
	PrivacyCoeff float64
	Weights      Weights

	Consent      ConsentState
	NegAttempted bool

	PowerConsumed float64
	TimeSpent     float64
	Utility       float64
	NormUtility   float64

	Offers []Offer
}

// GrantConsent records consent after the given number of rounds.
func (u *User) GrantConsent(rounds uint32) error {
	if u.Consent.IsConsented() {
		return fmt.Errorf("user %d: %w", u.ID, ErrAlreadyConsented)
	}
	u.Consent = Consented(rounds)
	return nil
}

// AddPowerConsumed adds a non-negative amount of energy.
func (u *User) AddPowerConsumed(v float64) error {
	if v < 0 {
		return fmt.Errorf("user %d power %g: %w", u.ID, v, ErrNegativeDelta)
	}
	u.PowerConsumed += v
	return nil
}

// AddTimeSpent adds a non-negative amount of time.
func (u *User) AddTimeSpent(v float64) error {
	if v < 0 {
		return fmt.Errorf("user %d time %g: %w", u.ID, v, ErrNegativeDelta)
	}
	u.TimeSpent += v
	return nil
}

// AddUtility adds to the accumulated utility. Utility may decrease.
func (u *User) AddUtility(v float64) { u.Utility += v }

// Present reports whether the user is in the scenario at time t.
func (u *User) Present(t float64) bool {
	return u.ArrTime <= t && t < u.DepTime
}

// Eligible reports whether the user may still be offered a negotiation.
func (u *User) Eligible() bool {
	return !u.NegAttempted && !u.Consent.IsConsented()
}

func (u *User) String() string {
	return fmt.Sprintf("user %d (%s, %s)", u.ID, u.Label, u.Consent)
}
