package negotiation

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
	"github.com/signalsfoundry/consent-negotiation-sim/network"
)

// Delta is what one negotiation adds to the user and the device. Workers
// produce deltas; only the coordinating goroutine applies them.
type Delta struct {
	UserID        int
	User          network.Cost
	Device        network.Cost
	UserUtility   float64
	DeviceUtility float64
}

// costFunc computes the delta of one consenting user. It may read the user
// but must not write to it or to the device.
type costFunc func(u *model.User) (Delta, error)

// account fans fn out over users on at most workers goroutines and returns
// the deltas in the order of users. The call returns only after every task
// has finished.
func account(ctx context.Context, workers int, users []*model.User, fn costFunc) ([]Delta, error) {
	deltas := make([]Delta, len(users))
	if len(users) == 0 {
		return deltas, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(users) {
		workers = len(users)
	}

	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	next := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				d, err := fn(users[i])
				if err != nil {
					setErr(err)
					continue
				}
				d.UserID = users[i].ID
				deltas[i] = d
			}
		}()
	}

feed:
	for i := range users {
		if err := ctx.Err(); err != nil {
			setErr(err)
			break
		}
		select {
		case <-ctx.Done():
			setErr(ctx.Err())
			break feed
		case next <- i:
		}
	}
	close(next)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return deltas, nil
}

// fold applies deltas in order and returns the summed costs.
func fold(p Protocol, deltas []Delta, users []*model.User, device *model.IoTDevice) (user, dev network.Cost, err error) {
	byID := make(map[int]*model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, d := range deltas {
		u, ok := byID[d.UserID]
		if !ok {
			return user, dev, &InvariantError{Protocol: p, UserID: d.UserID, Reason: "delta for unknown user"}
		}
		if err := u.AddPowerConsumed(d.User.Power); err != nil {
			return user, dev, &InvariantError{Protocol: p, UserID: u.ID, Reason: "user accounting", Err: err}
		}
		if err := u.AddTimeSpent(d.User.Time); err != nil {
			return user, dev, &InvariantError{Protocol: p, UserID: u.ID, Reason: "user accounting", Err: err}
		}
		u.AddUtility(d.UserUtility)

		if err := device.AddPowerConsumed(d.Device.Power); err != nil {
			return user, dev, &InvariantError{Protocol: p, UserID: u.ID, Reason: "device accounting", Err: err}
		}
		if err := device.AddTimeSpent(d.Device.Time); err != nil {
			return user, dev, &InvariantError{Protocol: p, UserID: u.ID, Reason: "device accounting", Err: err}
		}
		device.AddUtility(d.DeviceUtility)
		if math.IsInf(device.Utility, 0) || math.IsNaN(device.Utility) {
			return user, dev, &InvariantError{
				Protocol: p,
				UserID:   u.ID,
				Reason:   fmt.Sprintf("device utility became %v", device.Utility),
			}
		}

		user = user.Add(d.User)
		dev = dev.Add(d.Device)
	}
	return user, dev, nil
}

// settle runs the accounting pool for users and folds the result into out.
func settle(ctx context.Context, deps Deps, p Protocol, users []*model.User, device *model.IoTDevice, fn costFunc, out *Outcome) error {
	start := time.Now()
	deltas, err := account(ctx, deps.Workers, users, fn)
	if err != nil {
		return err
	}
	deps.Recorder.ObserveAccounting(p.String(), len(users), time.Since(start).Seconds())

	userCost, devCost, err := fold(p, deltas, users, device)
	if err != nil {
		return err
	}
	out.UserCost = out.UserCost.Add(userCost)
	out.DeviceCost = out.DeviceCost.Add(devCost)
	return nil
}

// exchangeDelta turns an exchange into a delta with utility on both sides.
func exchangeDelta(tech network.Technology, ex exchange, u *model.User, device *model.IoTDevice) Delta {
	userCost, devCost := ex.cost(tech)
	remaining := TimeRemaining(u)
	return Delta{
		User:          userCost,
		Device:        devCost,
		UserUtility:   Utility(remaining, userCost.Power, u.Weights),
		DeviceUtility: Utility(remaining, devCost.Power, device.Weights),
	}
}
