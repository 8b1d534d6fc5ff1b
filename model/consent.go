package model

import (
	"errors"
	"fmt"
)

// ErrAlreadyConsented is returned when consent is granted twice.
var ErrAlreadyConsented = errors.New("user already consented")

// ConsentState is either NotConsented (the zero value) or Consented after a
// positive number of negotiation rounds.
type ConsentState struct {
	rounds uint32
}

// NotConsented returns the zero state.
func NotConsented() ConsentState { return ConsentState{} }

// Consented returns a consented state. Rounds below one are raised to one.
func Consented(rounds uint32) ConsentState {
	if rounds == 0 {
		rounds = 1
	}
	return ConsentState{rounds: rounds}
}

// IsConsented reports whether consent was given.
func (c ConsentState) IsConsented() bool { return c.rounds > 0 }

// Rounds returns the number of rounds it took to consent, or 0.
func (c ConsentState) Rounds() uint32 { return c.rounds }

func (c ConsentState) String() string {
	if !c.IsConsented() {
		return "not-consented"
	}
	return fmt.Sprintf("consented(%d)", c.rounds)
}
