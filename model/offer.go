package model

// Offer is a point of the negotiable offer space together with the PA's
// belief about its utility and the opponent's acceptance probability.
type Offer struct {
	Key []int

	// Utility belief is uniform on [Low, High] until the user is asked.
	Low, High float64
	Value     float64
	Elicited  bool

	Acceptance float64
}

// Mean returns the expected utility of the offer.
func (o Offer) Mean() float64 {
	if o.Elicited {
		return o.Value
	}
	return (o.Low + o.High) / 2
}

// SameKey reports whether both offers address the same point of the offer
// space.
func (o Offer) SameKey(other Offer) bool {
	if len(o.Key) != len(other.Key) {
		return false
	}
	for i := range o.Key {
		if o.Key[i] != other.Key[i] {
			return false
		}
	}
	return true
}

// CloneOffers deep-copies an offer slice.
func CloneOffers(in []Offer) []Offer {
	out := make([]Offer, len(in))
	for i, o := range in {
		o.Key = append([]int(nil), o.Key...)
		out[i] = o
	}
	return out
}
