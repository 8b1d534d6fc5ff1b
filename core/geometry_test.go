package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

func TestCircleEntryCrossing(t *testing.T) {
	p1 := model.Point{X: -100}
	p2 := model.Point{X: 100}
	s, ok := CircleEntry(p1, p2, model.Point{}, 50)
	if !ok {
		t.Fatalf("expected the diameter to enter the circle")
	}
	if math.Abs(s-0.25) > 1e-12 {
		t.Fatalf("entry fraction = %v, want 0.25", s)
	}
}

func TestCircleEntryMiss(t *testing.T) {
	p1 := model.Point{X: -100, Y: 60}
	p2 := model.Point{X: 100, Y: 60}
	if _, ok := CircleEntry(p1, p2, model.Point{}, 50); ok {
		t.Fatalf("segment passing 60 m away entered a 50 m circle")
	}

	// tangent segments touch but never get strictly closer
	p1.Y, p2.Y = 50, 50
	if _, ok := CircleEntry(p1, p2, model.Point{}, 50); ok {
		t.Fatalf("tangent segment entered the circle")
	}
}

func TestCircleEntryStartsInside(t *testing.T) {
	s, ok := CircleEntry(model.Point{X: 1}, model.Point{X: 500}, model.Point{}, 50)
	if !ok || s != 0 {
		t.Fatalf("CircleEntry = (%v, %v), want (0, true)", s, ok)
	}
}

func TestCircleEntryStopsShort(t *testing.T) {
	if _, ok := CircleEntry(model.Point{X: -100}, model.Point{X: -60}, model.Point{}, 50); ok {
		t.Fatalf("segment ending outside the circle entered it")
	}
}

func TestPointOnCircle(t *testing.T) {
	p := PointOnCircle(model.Point{X: 1, Y: 1}, 2, math.Pi/2)
	if math.Abs(p.X-1) > 1e-12 || math.Abs(p.Y-3) > 1e-12 {
		t.Fatalf("PointOnCircle = %+v, want (1, 3)", p)
	}
}
