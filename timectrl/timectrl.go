package timectrl

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/atomic"
)

// Listener is invoked once per event time, in ascending order. step is the
// zero-based index of the event on the axis. A non-nil error stops the run.
type Listener func(ctx context.Context, step int, t float64) error

// EventController advances simulation time over an explicit, sorted axis of
// event times and notifies registered listeners at each one. No other times
// are visited.
type EventController struct {
	mu        sync.RWMutex
	events    []float64
	current   float64
	processed int

	// progress is read by the metrics goroutine while Run advances it.
	progress *atomic.Float64

	listeners []Listener
}

// NewEventController builds the event axis from raw timestamps. Zero values
// are placeholders and are dropped, as are negative times and times past
// horizon when horizon is positive. Duplicates collapse into one event.
func NewEventController(times []float64, horizon float64) *EventController {
	axis := make([]float64, 0, len(times))
	for _, t := range times {
		if t <= 0 {
			continue
		}
		if horizon > 0 && t > horizon {
			continue
		}
		axis = append(axis, t)
	}
	sort.Float64s(axis)

	uniq := axis[:0]
	for i, t := range axis {
		if i > 0 && t == axis[i-1] {
			continue
		}
		uniq = append(uniq, t)
	}

	return &EventController{
		events:   uniq,
		progress: atomic.NewFloat64(0),
	}
}

// Events returns a copy of the event axis.
func (ec *EventController) Events() []float64 {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return append([]float64(nil), ec.events...)
}

// Len returns the number of events on the axis.
func (ec *EventController) Len() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return len(ec.events)
}

// Now returns the current event time.
func (ec *EventController) Now() float64 {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.current
}

// Processed returns how many events have been handled.
func (ec *EventController) Processed() int {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.processed
}

// Progress returns the simulated time covered so far. It only grows.
func (ec *EventController) Progress() float64 {
	return ec.progress.Load()
}

// AddListener registers a callback invoked on every event.
func (ec *EventController) AddListener(fn Listener) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.listeners = append(ec.listeners, fn)
}

// Run visits every event in order on the calling goroutine. Cancellation is
// checked between events.
func (ec *EventController) Run(ctx context.Context) error {
	ec.mu.RLock()
	events := append([]float64(nil), ec.events...)
	listeners := append([]Listener(nil), ec.listeners...)
	ec.mu.RUnlock()

	prev := 0.0
	for step, t := range events {
		if err := ctx.Err(); err != nil {
			return err
		}

		ec.mu.Lock()
		ec.current = t
		ec.mu.Unlock()

		for _, fn := range listeners {
			if err := fn(ctx, step, t); err != nil {
				return err
			}
		}

		ec.mu.Lock()
		ec.processed++
		ec.mu.Unlock()
		ec.progress.Add(t - prev)
		prev = t
	}
	return nil
}

// Start runs the controller in a separate goroutine. The returned channel
// receives the result of Run and is then closed.
func (ec *EventController) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- ec.Run(ctx)
	}()
	return done
}
