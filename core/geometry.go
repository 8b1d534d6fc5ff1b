package core

import (
	"math"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

// PointOnCircle returns the point at angle (radians) on the circle of
// radius r around c.
func PointOnCircle(c model.Point, r, angle float64) model.Point {
	return model.Point{X: c.X + r*math.Cos(angle), Y: c.Y + r*math.Sin(angle)}
}

// closestOnSegment returns the parameter s in [0, 1] of the point of the
// segment p1->p2 closest to c.
func closestOnSegment(p1, p2, c model.Point) float64 {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		return 0
	}
	s := -p1.Sub(c).Dot(v) / a
	if s < 0 {
		s = 0
	} else if s > 1 {
		s = 1
	}
	return s
}

// CircleEntry returns the fraction of the segment p1->p2 at which it first
// comes strictly closer than r to c. A segment starting inside the disk
// enters at 0. ok is false when the segment never gets that close.
func CircleEntry(p1, p2, c model.Point, r float64) (s float64, ok bool) {
	w := p1.Sub(c)
	if w.Dot(w) < r*r {
		return 0, true
	}

	// Reject segments whose closest point stays on or outside the circle.
	v := p2.Sub(p1)
	closest := p1.Add(v.Scale(closestOnSegment(p1, p2, c)))
	if closest.DistanceTo(c) >= r {
		return 0, false
	}

	// |w + s v|^2 = r^2, smaller root.
	a := v.Dot(v)
	b := 2 * w.Dot(v)
	cc := w.Dot(w) - r*r
	disc := b*b - 4*a*cc
	if disc < 0 {
		return 0, false
	}
	s = (-b - math.Sqrt(disc)) / (2 * a)
	if s < 0 || s > 1 {
		return 0, false
	}
	return s, true
}
