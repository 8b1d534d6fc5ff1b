package core

import (
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

func TestShoppingMallGenerate(t *testing.T) {
	mall := DefaultShoppingMall()
	pop := mall.Generate(rand.New(rand.NewPCG(1, 2)), 50)

	// about 2.55 arrivals per minute over 600 minutes
	if n := len(pop.Users); n < 1300 || n > 1800 {
		t.Fatalf("generated %d users", n)
	}
	if pop.Device.Weights != mall.DeviceWeights {
		t.Fatalf("device weights = %+v", pop.Device.Weights)
	}

	prev := 0.0
	counts := map[model.PrivacyLabel]int{}
	for i, u := range pop.Users {
		if u.ID != i {
			t.Fatalf("user %d has id %d", i, u.ID)
		}
		if u.ArrTime <= prev {
			t.Fatalf("arrivals not increasing at user %d", i)
		}
		prev = u.ArrTime
		for _, p := range []model.Point{u.ArrLoc, u.DepLoc} {
			if math.Abs(p.DistanceTo(model.Point{})-mall.Radius) > 1e-9 {
				t.Fatalf("user %d does not start and end on the boundary", i)
			}
		}
		if u.Speed < mall.SpeedMin || u.Speed > mall.SpeedMax {
			t.Fatalf("user %d speed %v out of range", i, u.Speed)
		}
		if want := u.ArrTime + u.ArrLoc.DistanceTo(u.DepLoc)/u.Speed; math.Abs(u.DepTime-want) > 1e-9 {
			t.Fatalf("user %d departs at %v, want %v", i, u.DepTime, want)
		}
		if w := u.WithinCommRangeTime; w != 0 && (w <= u.ArrTime || w >= u.DepTime) {
			t.Fatalf("user %d enters range at %v outside its stay [%v, %v]", i, w, u.ArrTime, u.DepTime)
		}
		if w := u.WithinCommRangeTime; w != 0 {
			pos := LinearMotion{}.Position(u, w)
			if math.Abs(pos.DistanceTo(model.Point{})-50) > 1e-6 {
				t.Fatalf("user %d is %v m away when entering range", i, pos.DistanceTo(model.Point{}))
			}
		}
		counts[u.Label]++
	}

	n := float64(len(pop.Users))
	for label, want := range map[model.PrivacyLabel]float64{
		model.Fundamentalist: 0.25,
		model.Pragmatist:     0.55,
		model.Unconcerned:    0.20,
	} {
		if got := float64(counts[label]) / n; math.Abs(got-want) > 0.05 {
			t.Fatalf("%s share = %v, want about %v", label, got, want)
		}
	}
}

func TestGeneratorsAreSeeded(t *testing.T) {
	for name, g := range map[string]Generator{
		"mall":       DefaultShoppingMall(),
		"university": DefaultUniversity(),
	} {
		a := g.Generate(rand.New(rand.NewPCG(4, 4)), 40)
		b := g.Generate(rand.New(rand.NewPCG(4, 4)), 40)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("%s: same seed produced different populations", name)
		}
	}
}

func TestUniversityGenerate(t *testing.T) {
	uni := DefaultUniversity()
	pop := uni.Generate(rand.New(rand.NewPCG(3, 3)), 100)
	if len(pop.Users) == 0 {
		t.Fatalf("no users generated")
	}
	peak, offPeak := 0, 0
	for _, u := range pop.Users {
		if u.Speed < uni.SpeedFactor*uni.SpeedMin || u.Speed > uni.SpeedFactor*uni.SpeedMax {
			t.Fatalf("user %d speed %v out of range", u.ID, u.Speed)
		}
		if u.PrivacyCoeff > 0.9*0.15 {
			t.Fatalf("user %d coefficient %v not scaled", u.ID, u.PrivacyCoeff)
		}
		// with a comm radius wider than the campus everyone starts in range
		if u.WithinCommRangeTime != 0 {
			t.Fatalf("user %d has a crossing event inside a covering radius", u.ID)
		}
		if u.ArrTime >= uni.PeakStart && u.ArrTime < uni.PeakEnd {
			peak++
		} else {
			offPeak++
		}
	}
	if peak <= offPeak {
		t.Fatalf("expected the 8 hour peak to dominate: peak %d, off-peak %d", peak, offPeak)
	}
}

func TestCrossingUsersAreInRangeAtEntry(t *testing.T) {
	for name, g := range map[string]Generator{
		"mall":       DefaultShoppingMall(),
		"university": DefaultUniversity(),
	} {
		for _, comm := range []float64{50, 100} {
			pop := g.Generate(rand.New(rand.NewPCG(8, 21)), comm)
			crossings := 0
			for _, u := range pop.Users {
				if u.WithinCommRangeTime == 0 {
					continue
				}
				crossings++
				d := LinearMotion{}.Position(u, u.WithinCommRangeTime).DistanceTo(pop.Device.Location)
				if d >= comm {
					t.Fatalf("%s/%v: user %d is %v m away at its entry event", name, comm, u.ID, d)
				}
			}
			if comm < 80 && crossings == 0 {
				t.Fatalf("%s/%v: expected some users to cross into range", name, comm)
			}
		}
	}
}

func TestGeneratorsStopAtLastArrival(t *testing.T) {
	mall := DefaultShoppingMall()
	mall.LastArrival = 30
	uni := DefaultUniversity()
	uni.LastArrival = 600

	for name, tc := range map[string]struct {
		g    Generator
		last float64
	}{
		"mall":       {mall, mall.LastArrival},
		"university": {uni, uni.LastArrival},
	} {
		for seed := uint64(0); seed < 20; seed++ {
			pop := tc.g.Generate(rand.New(rand.NewPCG(seed, 1)), 50)
			for _, u := range pop.Users {
				if u.ArrTime > tc.last {
					t.Fatalf("%s seed %d: user %d arrives at %v after %v", name, seed, u.ID, u.ArrTime, tc.last)
				}
			}
		}
	}
}
