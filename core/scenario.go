package core

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/consent-negotiation-sim/kb"
	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

// Population is a generated or loaded scenario: the users and the device
// they pass by.
type Population struct {
	Users  []*model.User
	Device *model.IoTDevice
}

// KnowledgeBase loads the population into a fresh knowledge base.
func (p Population) KnowledgeBase() (*kb.KnowledgeBase, error) {
	base := kb.NewKnowledgeBase(p.Device)
	for _, u := range p.Users {
		if err := base.AddUser(u); err != nil {
			return nil, fmt.Errorf("Population: %w", err)
		}
	}
	return base, nil
}

// Generator produces a population. commDistance is the radius around the
// device used to precompute when users come into range.
type Generator interface {
	Generate(r *rand.Rand, commDistance float64) Population
}

// Label shares in percent and privacy coefficient ranges per label.
var (
	labelShares = [3]int{25, 55, 20}
	coeffRanges = map[model.PrivacyLabel][2]float64{
		model.Fundamentalist: {0.001, 0.03},
		model.Pragmatist:     {0.11, 0.15},
		model.Unconcerned:    {0.031, 0.10},
	}
)

func drawLabel(r *rand.Rand) (model.PrivacyLabel, float64) {
	n := r.IntN(100)
	label := model.Unconcerned
	switch {
	case n < labelShares[0]:
		label = model.Fundamentalist
	case n < labelShares[0]+labelShares[1]:
		label = model.Pragmatist
	}
	rng := coeffRanges[label]
	return label, rng[0] + (rng[1]-rng[0])*r.Float64()
}

// entryMargin pulls the precomputed entry point just inside the comm radius
// so the user is strictly in range when its crossing event fires.
const entryMargin = 1e-9

// crossing is the part shared by both generators: a user entering on the
// boundary of a disk around the device and leaving on it again.
type crossing struct {
	radius       float64
	commDistance float64
	device       model.Point
}

func (c crossing) user(r *rand.Rand, id int, arrival, speed float64) *model.User {
	u := &model.User{
		ID:      id,
		Speed:   speed,
		ArrLoc:  PointOnCircle(c.device, c.radius, r.Float64()*2*math.Pi),
		DepLoc:  PointOnCircle(c.device, c.radius, r.Float64()*2*math.Pi),
		ArrTime: arrival,
	}
	u.CurrLoc = u.ArrLoc
	u.Label, u.PrivacyCoeff = drawLabel(r)

	travel := 0.0
	if speed > 0 {
		travel = u.ArrLoc.DistanceTo(u.DepLoc) / speed
	}
	u.DepTime = arrival + travel

	// Users that start inside the radius are covered by their arrival event.
	if s, ok := CircleEntry(u.ArrLoc, u.DepLoc, c.device, c.commDistance*(1-entryMargin)); ok && s > 0 {
		u.WithinCommRangeTime = arrival + s*travel
	}
	return u
}

// ShoppingMall models customers crossing a mall during opening hours.
type ShoppingMall struct {
	Radius      float64 // metres
	Lambda      float64 // arrivals per minute
	LastArrival float64 // minutes
	SpeedMin    float64 // metres per minute
	SpeedMax    float64

	UserWeights   model.Weights
	DeviceWeights model.Weights
}

// DefaultShoppingMall returns a ten-hour mall day.
func DefaultShoppingMall() ShoppingMall {
	return ShoppingMall{
		Radius:        120,
		Lambda:        2.55,
		LastArrival:   10 * 60,
		SpeedMin:      16.2,
		SpeedMax:      90,
		UserWeights:   model.Weights{Time: 0.2, Energy: 0.8},
		DeviceWeights: model.Weights{Time: 0.8, Energy: 0.2},
	}
}

// Generate draws arrivals from a Poisson process until LastArrival.
func (s ShoppingMall) Generate(r *rand.Rand, commDistance float64) Population {
	c := crossing{radius: s.Radius, commDistance: commDistance}
	pop := Population{Device: &model.IoTDevice{Weights: s.DeviceWeights}}

	arrival := 0.0
	for id := 0; ; id++ {
		speed := s.SpeedMin + (s.SpeedMax-s.SpeedMin)*r.Float64()
		arrival += r.ExpFloat64() / s.Lambda
		if arrival > s.LastArrival {
			break
		}
		u := c.user(r, id, arrival, speed)
		u.Weights = s.UserWeights
		pop.Users = append(pop.Users, u)
	}
	return pop
}

// University models a campus over a full day with a daytime peak.
type University struct {
	Radius      float64
	Lambda      float64
	PeakLambda  float64
	PeakStart   float64 // minutes after midnight
	PeakEnd     float64
	LastArrival float64
	SpeedMin    float64
	SpeedMax    float64
	SpeedFactor float64
	// CoeffFactor scales privacy coefficients.
	CoeffFactor float64

	Weights model.Weights
}

// DefaultUniversity returns a 24 hour campus day.
func DefaultUniversity() University {
	return University{
		Radius:      80,
		Lambda:      0.05,
		PeakLambda:  0.3,
		PeakStart:   9 * 60,
		PeakEnd:     17 * 60,
		LastArrival: 24 * 60,
		SpeedMin:    0.27,
		SpeedMax:    1.5,
		SpeedFactor: 1.1,
		CoeffFactor: 0.9,
		Weights:     model.Weights{Time: 0.2, Energy: 0.8},
	}
}

// Generate draws arrivals with the peak rate between PeakStart and PeakEnd.
func (s University) Generate(r *rand.Rand, commDistance float64) Population {
	c := crossing{radius: s.Radius, commDistance: commDistance}
	pop := Population{Device: &model.IoTDevice{Weights: s.Weights}}

	arrival := 0.0
	for id := 0; ; id++ {
		speed := s.SpeedFactor * (s.SpeedMin + (s.SpeedMax-s.SpeedMin)*r.Float64())
		lambda := s.Lambda
		if s.PeakStart <= arrival && arrival < s.PeakEnd {
			lambda = s.PeakLambda
		}
		arrival += r.ExpFloat64() / lambda
		if arrival > s.LastArrival {
			break
		}
		u := c.user(r, id, arrival, speed)
		u.PrivacyCoeff *= s.CoeffFactor
		u.Weights = s.Weights
		pop.Users = append(pop.Users, u)
	}
	return pop
}
