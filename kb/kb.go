package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

var (
	// ErrDuplicateUser is returned when a user ID is added twice.
	ErrDuplicateUser = errors.New("duplicate user")
	// ErrInvariant marks a state transition no strategy may produce.
	ErrInvariant = errors.New("invariant violation")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventUserMoved EventType = iota
	EventNegotiationAttempted
	EventConsentGranted
)

func (e EventType) String() string {
	switch e {
	case EventUserMoved:
		return "user_moved"
	case EventNegotiationAttempted:
		return "negotiation_attempted"
	case EventConsentGranted:
		return "consent_granted"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	At   float64
	User model.User
}

// KnowledgeBase is an in-memory, thread-safe store for the users of a
// scenario and the device they negotiate with.
type KnowledgeBase struct {
	mu sync.RWMutex

	device *model.IoTDevice
	users  map[int]*model.User

	subs   []subscription
	nextID int
}

type subscription struct {
	id int
	fn func(Event)
}

// NewKnowledgeBase constructs a KB around device.
func NewKnowledgeBase(device *model.IoTDevice) *KnowledgeBase {
	if device == nil {
		device = &model.IoTDevice{}
	}
	return &KnowledgeBase{
		device: device,
		users:  make(map[int]*model.User),
	}
}

// Device returns the shared IoT device.
func (kb *KnowledgeBase) Device() *model.IoTDevice {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.device
}

// AddUser adds a new user. It returns an error if the ID already exists.
func (kb *KnowledgeBase) AddUser(u *model.User) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.users[u.ID]; exists {
		return fmt.Errorf("user with ID %d: %w", u.ID, ErrDuplicateUser)
	}
	// store pointer so that strategies update in-place
	kb.users[u.ID] = u
	return nil
}

// GetUser returns the user with the given ID, or nil if not found.
func (kb *KnowledgeBase) GetUser(id int) *model.User {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.users[id]
}

// ListUsers returns a snapshot slice of all users ordered by ID.
func (kb *KnowledgeBase) ListUsers() []*model.User {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]*model.User, 0, len(kb.users))
	for _, u := range kb.users {
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Present returns the users with ArrTime <= t < DepTime, ordered by arrival
// time and then ID.
func (kb *KnowledgeBase) Present(t float64) []*model.User {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var res []*model.User
	for _, u := range kb.users {
		if u.Present(t) {
			res = append(res, u)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ArrTime != res[j].ArrTime {
			return res[i].ArrTime < res[j].ArrTime
		}
		return res[i].ID < res[j].ID
	})
	return res
}

// EventTimes returns every arrival and comm-range crossing timestamp plus
// the latest departure time.
func (kb *KnowledgeBase) EventTimes() (times []float64, lastDeparture float64) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	times = make([]float64, 0, 2*len(kb.users))
	for _, u := range kb.users {
		times = append(times, u.ArrTime, u.WithinCommRangeTime)
		if u.DepTime > lastDeparture {
			lastDeparture = u.DepTime
		}
	}
	return times, lastDeparture
}

// UpdateUserPosition updates a user's current location and notifies
// subscribers.
func (kb *KnowledgeBase) UpdateUserPosition(id int, at float64, pos model.Point) error {
	kb.mu.Lock()
	u, ok := kb.users[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("user with ID %d not found", id)
	}
	u.CurrLoc = pos
	event := Event{Type: EventUserMoved, At: at, User: *u}
	subs := kb.subscribers()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextID
	kb.nextID++
	kb.subs = append(kb.subs, subscription{id: id, fn: fn})

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		for i, sub := range kb.subs {
			if sub.id == id {
				kb.subs = append(kb.subs[:i:i], kb.subs[i+1:]...)
				return
			}
		}
	}
}

// subscribers snapshots the callbacks in registration order. Callers hold mu.
func (kb *KnowledgeBase) subscribers() []func(Event) {
	fns := make([]func(Event), len(kb.subs))
	for i, sub := range kb.subs {
		fns[i] = sub.fn
	}
	return fns
}

type userState struct {
	consent      model.ConsentState
	negAttempted bool
	power        float64
	time         float64
}

// Checkpoint records the negotiation-relevant state of a set of users
// before a strategy runs on them.
type Checkpoint struct {
	at     float64
	states map[int]userState
}

// Checkpoint captures the state of users at event time at.
func (kb *KnowledgeBase) Checkpoint(at float64, users []*model.User) Checkpoint {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	cp := Checkpoint{at: at, states: make(map[int]userState, len(users))}
	for _, u := range users {
		cp.states[u.ID] = userState{
			consent:      u.Consent,
			negAttempted: u.NegAttempted,
			power:        u.PowerConsumed,
			time:         u.TimeSpent,
		}
	}
	return cp
}

// Commit compares the users captured in cp with their current state,
// rejects forbidden transitions and publishes attempt and consent events.
func (kb *KnowledgeBase) Commit(cp Checkpoint) error {
	kb.mu.RLock()
	ids := make([]int, 0, len(cp.states))
	for id := range cp.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var events []Event
	for _, id := range ids {
		before := cp.states[id]
		u, ok := kb.users[id]
		if !ok {
			kb.mu.RUnlock()
			return fmt.Errorf("user with ID %d not found", id)
		}
		if err := checkTransition(id, before, u); err != nil {
			kb.mu.RUnlock()
			return err
		}
		if !before.negAttempted && u.NegAttempted {
			events = append(events, Event{Type: EventNegotiationAttempted, At: cp.at, User: *u})
		}
		if !before.consent.IsConsented() && u.Consent.IsConsented() {
			events = append(events, Event{Type: EventConsentGranted, At: cp.at, User: *u})
		}
	}
	subs := kb.subscribers()
	kb.mu.RUnlock()

	for _, ev := range events {
		for _, sub := range subs {
			sub(ev)
		}
	}
	return nil
}

func checkTransition(id int, before userState, u *model.User) error {
	switch {
	case before.consent.IsConsented() && !u.Consent.IsConsented():
		return fmt.Errorf("user %d: consent revoked: %w", id, ErrInvariant)
	case before.consent.IsConsented() && before.consent != u.Consent:
		return fmt.Errorf("user %d: consent changed from %s to %s: %w", id, before.consent, u.Consent, ErrInvariant)
	case before.negAttempted && !u.NegAttempted:
		return fmt.Errorf("user %d: negotiation attempt reverted: %w", id, ErrInvariant)
	case u.PowerConsumed < before.power:
		return fmt.Errorf("user %d: power consumed decreased: %w", id, ErrInvariant)
	case u.TimeSpent < before.time:
		return fmt.Errorf("user %d: time spent decreased: %w", id, ErrInvariant)
	}
	return nil
}
