// Package negotiation implements the bargaining strategies privacy agents
// run against the IoT device, and the accounting of what each dialogue
// costs on the wire.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/consent-negotiation-sim/internal/logging"
	"github.com/signalsfoundry/consent-negotiation-sim/model"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

const tracerName = "github.com/signalsfoundry/consent-negotiation-sim/negotiation"

// ErrUnsupportedProtocol is returned for unknown protocol names.
var ErrUnsupportedProtocol = errors.New("negotiation protocol not supported")

// Protocol enumerates the available strategies.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolAlanezi
	ProtocolCunche
	ProtocolConcession
	ProtocolPadome
)

// Protocols lists every supported protocol.
var Protocols = []Protocol{ProtocolAlanezi, ProtocolCunche, ProtocolConcession, ProtocolPadome}

func (p Protocol) String() string {
	switch p {
	case ProtocolAlanezi:
		return "alanezi"
	case ProtocolCunche:
		return "cunche"
	case ProtocolConcession:
		return "concession"
	case ProtocolPadome:
		return "padome"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a case-insensitive name to a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	for _, p := range Protocols {
		if strings.EqualFold(strings.TrimSpace(s), p.String()) {
			return p, nil
		}
	}
	return ProtocolUnknown, fmt.Errorf("%q: %w", s, ErrUnsupportedProtocol)
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Invocation is one call of a strategy at one event time.
type Invocation struct {
	Step   int
	Time   float64
	Users  []*model.User // co-present users, in arrival order
	Device *model.IoTDevice
}

// Outcome summarises one invocation.
type Outcome struct {
	Eligible  int
	Consented []int // IDs of users that consented in this invocation

	UserCost   network.Cost
	DeviceCost network.Cost
}

// Strategy is a negotiation protocol. Run mutates the users and the device
// of inv and must not be called concurrently.
type Strategy interface {
	Protocol() Protocol
	Run(ctx context.Context, inv Invocation) (Outcome, error)
}

// Recorder receives per-negotiation observations. Implementations must be
// safe for concurrent use.
type Recorder interface {
	ObserveNegotiation(protocol, outcome string, rounds int)
	ObserveAccounting(protocol string, tasks int, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveNegotiation(string, string, int) {}
func (nopRecorder) ObserveAccounting(string, int, float64) {}

// Deps are the collaborators shared by all strategies.
type Deps struct {
	Network network.Technology
	Streams *Streams
	// Workers bounds the accounting pool. Values below one mean GOMAXPROCS.
	Workers int
	Padome  PadomeConfig

	Log      logging.Logger
	Recorder Recorder
	Tracer   trace.Tracer
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Network == nil {
		return d, errors.New("negotiation: network technology is required")
	}
	if d.Streams == nil {
		d.Streams = NewStreams(0)
	}
	if d.Workers < 1 {
		d.Workers = runtime.GOMAXPROCS(0)
	}
	if d.Log == nil {
		d.Log = logging.Noop()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer(tracerName)
	}
	return d, nil
}

// New returns the strategy for p.
func New(p Protocol, deps Deps) (Strategy, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	switch p {
	case ProtocolAlanezi:
		return &Alanezi{deps: deps}, nil
	case ProtocolCunche:
		return &Cunche{deps: deps}, nil
	case ProtocolConcession:
		return &Concession{deps: deps}, nil
	case ProtocolPadome:
		cfg := deps.Padome
		if cfg.isZero() {
			cfg = DefaultPadomeConfig()
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("negotiation: padome: %w", err)
		}
		return &Padome{deps: deps, cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("negotiation: protocol %d: %w", int(p), ErrUnsupportedProtocol)
	}
}

// Run resolves name and runs the strategy once.
func Run(ctx context.Context, name string, deps Deps, inv Invocation) (Outcome, error) {
	p, err := ParseProtocol(name)
	if err != nil {
		return Outcome{}, err
	}
	s, err := New(p, deps)
	if err != nil {
		return Outcome{}, err
	}
	return s.Run(ctx, inv)
}

// Dispatcher is a Strategy selected by name. Each invocation goes through
// Run, so the strategy is rebuilt from deps on every event.
type Dispatcher struct {
	name     string
	protocol Protocol
	deps     Deps
}

// NewDispatcher validates name and deps up front so that a misconfigured
// protocol fails before the first event.
func NewDispatcher(name string, deps Deps) (*Dispatcher, error) {
	p, err := ParseProtocol(name)
	if err != nil {
		return nil, err
	}
	if _, err := New(p, deps); err != nil {
		return nil, err
	}
	return &Dispatcher{name: name, protocol: p, deps: deps}, nil
}

func (d *Dispatcher) Protocol() Protocol { return d.protocol }

func (d *Dispatcher) Run(ctx context.Context, inv Invocation) (Outcome, error) {
	return Run(ctx, d.name, d.deps, inv)
}

// InvariantError reports a state no correct strategy can produce. Callers
// treat it as fatal.
type InvariantError struct {
	Protocol Protocol
	UserID   int
	Reason   string
	Err      error
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s: user %d: %s", e.Protocol, e.UserID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvariantError) Unwrap() error { return e.Err }
