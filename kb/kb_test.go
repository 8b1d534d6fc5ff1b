package kb

import (
	"errors"
	"sync"
	"testing"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

func TestAddAndGetUser(t *testing.T) {
	store := NewKnowledgeBase(nil)
	u := &model.User{ID: 1, Label: model.Pragmatist}
	if err := store.AddUser(u); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}
	got := store.GetUser(1)
	if got == nil || got.Label != model.Pragmatist {
		t.Fatalf("GetUser returned %#v, want pragmatist", got)
	}
	if store.Device() == nil {
		t.Fatalf("Device() = nil, want default device")
	}
}

func TestAddUserDuplicate(t *testing.T) {
	store := NewKnowledgeBase(nil)
	if err := store.AddUser(&model.User{ID: 1}); err != nil {
		t.Fatalf("first AddUser error: %v", err)
	}
	err := store.AddUser(&model.User{ID: 1})
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("duplicate AddUser error = %v, want ErrDuplicateUser", err)
	}
}

func TestListUsersIsOrderedByID(t *testing.T) {
	store := NewKnowledgeBase(nil)
	for _, id := range []int{3, 1, 2} {
		if err := store.AddUser(&model.User{ID: id}); err != nil {
			t.Fatalf("AddUser error: %v", err)
		}
	}
	users := store.ListUsers()
	for i, u := range users {
		if u.ID != i+1 {
			t.Fatalf("ListUsers()[%d].ID = %d, want %d", i, u.ID, i+1)
		}
	}
}

func TestPresentIsExactlyTheCoPresentSet(t *testing.T) {
	store := NewKnowledgeBase(nil)
	users := []*model.User{
		{ID: 1, ArrTime: 1, DepTime: 5},
		{ID: 2, ArrTime: 2, DepTime: 3},
		{ID: 3, ArrTime: 5, DepTime: 9},
		{ID: 4, ArrTime: 0.5, DepTime: 5},
	}
	for _, u := range users {
		if err := store.AddUser(u); err != nil {
			t.Fatalf("AddUser error: %v", err)
		}
	}

	got := store.Present(3)
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 1 {
		t.Fatalf("Present(3) = %v, want users 4 and 1", got)
	}
	got = store.Present(5)
	if len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("Present(5) = %v, want user 3", got)
	}
}

func TestEventTimes(t *testing.T) {
	store := NewKnowledgeBase(nil)
	_ = store.AddUser(&model.User{ID: 1, ArrTime: 1, DepTime: 5, WithinCommRangeTime: 2})
	_ = store.AddUser(&model.User{ID: 2, ArrTime: 3, DepTime: 8})

	times, last := store.EventTimes()
	if len(times) != 4 {
		t.Fatalf("len(times) = %d, want 4", len(times))
	}
	if last != 8 {
		t.Fatalf("last departure = %v, want 8", last)
	}
}

func TestUpdateUserPositionAndSubscribe(t *testing.T) {
	store := NewKnowledgeBase(nil)
	if err := store.AddUser(&model.User{ID: 1}); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got Event
	store.Subscribe(func(e Event) {
		got = e
		wg.Done()
	})

	pos := model.Point{X: 1, Y: 2}
	if err := store.UpdateUserPosition(1, 4, pos); err != nil {
		t.Fatalf("UpdateUserPosition error: %v", err)
	}

	wg.Wait()
	if got.Type != EventUserMoved {
		t.Fatalf("got event type %v, want EventUserMoved", got.Type)
	}
	if got.User.CurrLoc != pos || got.At != 4 {
		t.Fatalf("event = %#v, want position %#v at 4", got, pos)
	}
	if err := store.UpdateUserPosition(9, 4, pos); err == nil {
		t.Fatalf("expected error for unknown user")
	}
}

func TestCommitPublishesAttemptAndConsent(t *testing.T) {
	store := NewKnowledgeBase(nil)
	u := &model.User{ID: 1}
	_ = store.AddUser(u)

	var got []EventType
	unsubscribe := store.Subscribe(func(e Event) { got = append(got, e.Type) })

	cp := store.Checkpoint(10, []*model.User{u})
	u.NegAttempted = true
	if err := u.GrantConsent(2); err != nil {
		t.Fatalf("GrantConsent: %v", err)
	}
	u.PowerConsumed = 1
	if err := store.Commit(cp); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if len(got) != 2 || got[0] != EventNegotiationAttempted || got[1] != EventConsentGranted {
		t.Fatalf("events = %v, want attempt then consent", got)
	}

	unsubscribe()
	cp = store.Checkpoint(11, []*model.User{u})
	if err := store.Commit(cp); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("events after unsubscribe = %v", got)
	}
}

func TestCommitRejectsForbiddenTransitions(t *testing.T) {
	cases := []struct {
		name   string
		before model.User
		mutate func(*model.User)
	}{
		{"consent revoked", model.User{Consent: model.Consented(1)}, func(u *model.User) { u.Consent = model.NotConsented() }},
		{"consent changed", model.User{Consent: model.Consented(1)}, func(u *model.User) { u.Consent = model.Consented(3) }},
		{"attempt reverted", model.User{NegAttempted: true}, func(u *model.User) { u.NegAttempted = false }},
		{"power decreased", model.User{PowerConsumed: 2}, func(u *model.User) { u.PowerConsumed = 1 }},
		{"time decreased", model.User{TimeSpent: 2}, func(u *model.User) { u.TimeSpent = 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewKnowledgeBase(nil)
			u := tc.before
			u.ID = 1
			_ = store.AddUser(&u)
			cp := store.Checkpoint(1, []*model.User{&u})
			tc.mutate(&u)
			if err := store.Commit(cp); !errors.Is(err, ErrInvariant) {
				t.Fatalf("Commit error = %v, want ErrInvariant", err)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewKnowledgeBase(nil)
	if err := store.AddUser(&model.User{ID: 1, DepTime: 10}); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}

	var wg sync.WaitGroup
	// Concurrent readers/writers
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.GetUser(1)
			_ = store.ListUsers()
			_ = store.Present(1)
		}()
		go func() {
			defer wg.Done()
			_ = store.UpdateUserPosition(1, float64(i), model.Point{X: float64(i)})
		}()
	}
	wg.Wait()
}

func TestUnsubscribeInRegistrationOrder(t *testing.T) {
	store := NewKnowledgeBase(nil)
	if err := store.AddUser(&model.User{ID: 1}); err != nil {
		t.Fatalf("AddUser error: %v", err)
	}

	var a, b, c int
	unsubA := store.Subscribe(func(Event) { a++ })
	unsubB := store.Subscribe(func(Event) { b++ })
	unsubC := store.Subscribe(func(Event) { c++ })

	unsubA()
	if err := store.UpdateUserPosition(1, 1, model.Point{X: 1}); err != nil {
		t.Fatalf("UpdateUserPosition error: %v", err)
	}
	if a != 0 || b != 1 || c != 1 {
		t.Fatalf("after removing the first subscriber got a=%d b=%d c=%d", a, b, c)
	}

	unsubB()
	unsubA()
	if err := store.UpdateUserPosition(1, 2, model.Point{X: 2}); err != nil {
		t.Fatalf("UpdateUserPosition error: %v", err)
	}
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("after removing the second subscriber got a=%d b=%d c=%d", a, b, c)
	}

	unsubC()
	if err := store.UpdateUserPosition(1, 3, model.Point{X: 3}); err != nil {
		t.Fatalf("UpdateUserPosition error: %v", err)
	}
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("events delivered after every unsubscribe: a=%d b=%d c=%d", a, b, c)
	}
}
