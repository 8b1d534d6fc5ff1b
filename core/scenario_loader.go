package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

// internal JSON shapes, unexported so the file format can evolve.
type scenarioJSON struct {
	Device deviceJSON `json:"device"`
	Users  []userJSON `json:"users"`
}

type deviceJSON struct {
	Location pointJSON     `json:"location"`
	Weights  model.Weights `json:"weights"`
}

type userJSON struct {
	ID      int       `json:"id"`
	Speed   float64   `json:"speed"`
	ArrLoc  pointJSON `json:"arr_loc"`
	DepLoc  pointJSON `json:"dep_loc"`
	ArrTime float64   `json:"arr_time"`
	DepTime float64   `json:"dep_time"`
	// optional; 0 means no crossing event
	WithinCommRangeTime float64            `json:"within_comm_range_time"`
	Label               model.PrivacyLabel `json:"label"`
	PrivacyCoeff        float64            `json:"privacy_coeff"`
	Weights             model.Weights      `json:"weights"`
}

type pointJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p pointJSON) point() model.Point { return model.Point{X: p.X, Y: p.Y} }

// DecodeScenario reads a JSON scenario from r.
func DecodeScenario(r io.Reader) (Population, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Population{}, fmt.Errorf("DecodeScenario: decode failed: %w", err)
	}

	pop := Population{
		Device: &model.IoTDevice{
			Location: payload.Device.Location.point(),
			Weights:  payload.Device.Weights,
		},
		Users: make([]*model.User, 0, len(payload.Users)),
	}
	seen := make(map[int]bool, len(payload.Users))
	for i, uj := range payload.Users {
		if seen[uj.ID] {
			return Population{}, fmt.Errorf("DecodeScenario: users[%d]: duplicate id %d", i, uj.ID)
		}
		seen[uj.ID] = true
		if uj.DepTime < uj.ArrTime {
			return Population{}, fmt.Errorf("DecodeScenario: user %d departs before it arrives", uj.ID)
		}
		if uj.Label == model.LabelUnknown {
			return Population{}, fmt.Errorf("DecodeScenario: user %d has no privacy label", uj.ID)
		}
		u := &model.User{
			ID:                  uj.ID,
			Speed:               uj.Speed,
			ArrLoc:              uj.ArrLoc.point(),
			DepLoc:              uj.DepLoc.point(),
			ArrTime:             uj.ArrTime,
			DepTime:             uj.DepTime,
			WithinCommRangeTime: uj.WithinCommRangeTime,
			Label:               uj.Label,
			PrivacyCoeff:        uj.PrivacyCoeff,
			Weights:             uj.Weights,
		}
		u.CurrLoc = u.ArrLoc
		pop.Users = append(pop.Users, u)
	}
	return pop, nil
}

// LoadScenario reads a JSON scenario file.
func LoadScenario(path string) (Population, error) {
	f, err := os.Open(path)
	if err != nil {
		return Population{}, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	return DecodeScenario(f)
}
