package negotiation

import "math/rand/v2"

type purpose uint64

const (
	purposeDecision purpose = iota + 1
	purposeOffers
	purposeBargain
)

// Streams hands out independent random generators derived from a run seed,
// so that draws do not depend on goroutine scheduling.
type Streams struct {
	seed uint64
}

// NewStreams returns a stream factory for seed.
func NewStreams(seed uint64) *Streams { return &Streams{seed: seed} }

// For returns the generator for one user at one event step. userID may be
// negative for draws that belong to the whole invocation.
func (s *Streams) For(step, userID int, p purpose) *rand.Rand {
	hi := splitmix(s.seed ^ splitmix(uint64(p)))
	lo := splitmix(uint64(uint32(step))<<32 | uint64(uint32(userID)))
	return rand.New(rand.NewPCG(hi, lo))
}

func splitmix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}
