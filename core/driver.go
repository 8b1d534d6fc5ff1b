package core

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/consent-negotiation-sim/internal/logging"
	"github.com/signalsfoundry/consent-negotiation-sim/kb"
	"github.com/signalsfoundry/consent-negotiation-sim/model"
	"github.com/signalsfoundry/consent-negotiation-sim/negotiation"
	"github.com/signalsfoundry/consent-negotiation-sim/timectrl"
)

const tracerName = "github.com/signalsfoundry/consent-negotiation-sim/core"

// EventRecorder receives driver progress. Implementations must be safe for
// concurrent use.
type EventRecorder interface {
	ObserveEvent(progress float64, present int, devicePower float64)
	ObserveRun(consented int)
}

type nopEventRecorder struct{}

func (nopEventRecorder) ObserveEvent(float64, int, float64) {}
func (nopEventRecorder) ObserveRun(int)                     {}

// Driver runs one negotiation strategy over the event times of a
// population.
type Driver struct {
	kb       *kb.KnowledgeBase
	strategy negotiation.Strategy
	motion   MotionModel
	log      logging.Logger
	tracer   trace.Tracer
	recorder EventRecorder

	events *timectrl.EventController
}

// DriverOption customises a Driver.
type DriverOption func(*Driver)

// WithMotion replaces the default LinearMotion.
func WithMotion(m MotionModel) DriverOption {
	return func(d *Driver) { d.motion = m }
}

// WithLogger sets the driver logger.
func WithLogger(l logging.Logger) DriverOption {
	return func(d *Driver) { d.log = l }
}

// WithTracer sets the tracer used for run and event spans.
func WithTracer(t trace.Tracer) DriverOption {
	return func(d *Driver) { d.tracer = t }
}

// WithRecorder sets the progress recorder.
func WithRecorder(r EventRecorder) DriverOption {
	return func(d *Driver) { d.recorder = r }
}

// NewDriver builds a driver over the users and device held by base.
func NewDriver(base *kb.KnowledgeBase, strategy negotiation.Strategy, opts ...DriverOption) (*Driver, error) {
	if base == nil {
		return nil, fmt.Errorf("NewDriver: knowledge base is nil")
	}
	if strategy == nil {
		return nil, fmt.Errorf("NewDriver: strategy is nil")
	}
	d := &Driver{
		kb:       base,
		strategy: strategy,
		motion:   LinearMotion{},
		log:      logging.Noop(),
		tracer:   otel.Tracer(tracerName),
		recorder: nopEventRecorder{},
	}
	for _, opt := range opts {
		opt(d)
	}
	times, lastDeparture := base.EventTimes()
	d.events = timectrl.NewEventController(times, lastDeparture)
	d.events.AddListener(d.step)
	return d, nil
}

// Events returns the event time axis.
func (d *Driver) Events() []float64 { return d.events.Events() }

// Progress returns the simulated time covered so far. It may be called
// from any goroutine.
func (d *Driver) Progress() float64 { return d.events.Progress() }

// Run visits every event time once and aggregates the outcome.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "Driver/run",
		trace.WithAttributes(
			attribute.String("negotiation.protocol", d.strategy.Protocol().String()),
			attribute.Int("sim.events", d.events.Len()),
		))
	defer span.End()

	d.log.Info(ctx, "simulation started",
		logging.String("protocol", d.strategy.Protocol().String()),
		logging.Int("events", d.events.Len()),
		logging.Int("users", len(d.kb.ListUsers())),
	)

	if err := d.events.Run(ctx); err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	res := d.aggregate()
	d.recorder.ObserveRun(res.TotalConsented)
	span.SetAttributes(attribute.Int("sim.consented", res.TotalConsented))
	d.log.Info(ctx, "simulation finished",
		logging.Int("consented", res.TotalConsented),
		logging.Float("end_time", res.EndTime),
		logging.Float("device_energy", res.TotalOwnerPower),
	)
	return res, nil
}

func (d *Driver) step(ctx context.Context, step int, t float64) error {
	ctx, span := d.tracer.Start(ctx, "Driver/event",
		trace.WithAttributes(attribute.Int("sim.step", step), attribute.Float64("sim.time", t)))
	defer span.End()

	present := d.kb.Present(t)
	for _, u := range present {
		if err := d.kb.UpdateUserPosition(u.ID, t, d.motion.Position(u, t)); err != nil {
			return fmt.Errorf("Driver: event %d: %w", step, err)
		}
	}

	device := d.kb.Device()
	cp := d.kb.Checkpoint(t, present)
	out, err := d.strategy.Run(ctx, negotiation.Invocation{
		Step:   step,
		Time:   t,
		Users:  present,
		Device: device,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("Driver: event %d at %g: %w", step, t, err)
	}
	if err := d.kb.Commit(cp); err != nil {
		span.RecordError(err)
		return fmt.Errorf("Driver: event %d at %g: %w", step, t, err)
	}

	span.SetAttributes(attribute.Int("sim.present", len(present)), attribute.Int("negotiation.consented", len(out.Consented)))
	d.recorder.ObserveEvent(t, len(present), device.PowerConsumed)
	if len(out.Consented) > 0 {
		d.log.Debug(ctx, "consent granted",
			logging.Float("time", t),
			logging.Int("present", len(present)),
			logging.Any("users", out.Consented),
		)
	}
	return nil
}

func (d *Driver) aggregate() Result {
	users := d.kb.ListUsers()
	device := d.kb.Device()

	res := Result{
		EndTime: d.events.Now(),
		Users:   users,
		Device:  device,
	}
	var power, spent float64
	for _, u := range users {
		if u.Consent.IsConsented() {
			res.TotalConsented++
		}
		power += u.PowerConsumed
		spent += u.TimeSpent
		u.NormUtility = negotiation.Sigmoid(u.Utility)
	}
	device.NormUtility = negotiation.Sigmoid(device.Utility)
	if n := len(users); n > 0 {
		res.AvgUserPower = power / float64(n)
		res.AvgUserTime = spent / float64(n)
	}
	res.TotalOwnerPower = device.PowerConsumed
	res.TotalOwnerTime = device.TimeSpent
	return res
}

// Result is the aggregate outcome of one run.
type Result struct {
	TotalConsented  int
	AvgUserPower    float64 // joules
	TotalOwnerPower float64
	AvgUserTime     float64 // seconds
	TotalOwnerTime  float64
	EndTime         float64 // minutes
	Users           []*model.User
	Device          *model.IoTDevice
}

// ResultHeader names the columns of Row.
var ResultHeader = []string{
	"users", "consented", "avg_user_energy_j", "total_device_energy_j",
	"avg_user_time_s", "total_device_time_s", "end_time_min", "device_norm_utility",
}

// Row formats the result as one results table row.
func (r Result) Row() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	norm := 0.0
	if r.Device != nil {
		norm = r.Device.NormUtility
	}
	return []string{
		strconv.Itoa(len(r.Users)),
		strconv.Itoa(r.TotalConsented),
		f(r.AvgUserPower),
		f(r.TotalOwnerPower),
		f(r.AvgUserTime),
		f(r.TotalOwnerTime),
		f(r.EndTime),
		f(norm),
	}
}
