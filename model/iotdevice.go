package model

import "fmt"

// IoTDevice is the stationary sensing device every user negotiates with.
// Its accumulators are only written by the goroutine that drives the
// simulation.
type IoTDevice struct {
	Location Point
	Weights  Weights

	PowerConsumed float64
	TimeSpent     float64
	Utility       float64
	NormUtility   float64
}

// AddPowerConsumed adds a non-negative amount of energy.
func (d *IoTDevice) AddPowerConsumed(v float64) error {
	if v < 0 {
		return fmt.Errorf("device power %g: %w", v, ErrNegativeDelta)
	}
	d.PowerConsumed += v
	return nil
}

// AddTimeSpent adds a non-negative amount of time.
func (d *IoTDevice) AddTimeSpent(v float64) error {
	if v < 0 {
		return fmt.Errorf("device time %g: %w", v, ErrNegativeDelta)
	}
	d.TimeSpent += v
	return nil
}

// AddUtility adds to the accumulated utility.
func (d *IoTDevice) AddUtility(v float64) { d.Utility += v }
