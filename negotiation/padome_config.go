package negotiation

import (
	"errors"
	"fmt"
	"math"

	"github.com/signalsfoundry/consent-negotiation-sim/model"
)

// LabelShares holds one value per privacy label.
type LabelShares struct {
	Fundamentalist float64 `yaml:"fundamentalist" json:"fundamentalist"`
	Pragmatist     float64 `yaml:"pragmatist" json:"pragmatist"`
	Unconcerned    float64 `yaml:"unconcerned" json:"unconcerned"`
}

func (s LabelShares) values() [3]float64 {
	return [3]float64{s.Fundamentalist, s.Pragmatist, s.Unconcerned}
}

// DeadlineFactors parameterise the per-invocation round deadline.
type DeadlineFactors struct {
	BaseDeadline              float64 `yaml:"base_deadline" json:"base_deadline"`
	UserCountFactorMultiplier float64 `yaml:"user_count_factor_multiplier" json:"user_count_factor_multiplier"`
	// NetworkFactors is keyed by technology name. "default" applies to
	// technologies without an entry.
	NetworkFactors map[string]float64 `yaml:"network_factors" json:"network_factors"`
}

// PadomeConfig configures the elicitation bargaining strategy.
type PadomeConfig struct {
	ReservationValue    float64 `yaml:"reservation_value" json:"reservation_value"`
	UserPPSize          int     `yaml:"user_pp_size" json:"user_pp_size"`
	OwnerPPSize         int     `yaml:"owner_pp_size" json:"owner_pp_size"`
	NegValue            int     `yaml:"neg_value" json:"neg_value"`
	NegRange            int     `yaml:"neg_range" json:"neg_range"`
	UserElicitationCost float64 `yaml:"user_elicitation_cost" json:"user_elicitation_cost"`

	DeadlineFactors         DeadlineFactors `yaml:"deadline_factors" json:"deadline_factors"`
	PrivacyTypeDistribution LabelShares     `yaml:"privacy_type_distribution" json:"privacy_type_distribution"`
	ResponseLikelihood      LabelShares     `yaml:"response_likelihood" json:"response_likelihood"`
	// PrivacyWeights maps a label name to one weight per negotiable
	// dimension.
	PrivacyWeights map[string][]float64 `yaml:"privacy_weights" json:"privacy_weights"`
}

const maxOfferSpace = 100000

// DefaultPadomeConfig returns the configuration used when none is given.
func DefaultPadomeConfig() PadomeConfig {
	return PadomeConfig{
		ReservationValue:    0.3,
		UserPPSize:          cuncheUserPP,
		OwnerPPSize:         cuncheOwnerPP,
		NegValue:            3,
		NegRange:            5,
		UserElicitationCost: 0.05,
		DeadlineFactors: DeadlineFactors{
			BaseDeadline:              3,
			UserCountFactorMultiplier: 0.5,
			NetworkFactors: map[string]float64{
				"default": 1,
				"ble":     1,
				"zigbee":  1.5,
				"lora":    3,
				"wifi":    0.5,
			},
		},
		PrivacyTypeDistribution: LabelShares{Fundamentalist: 0.25, Pragmatist: 0.55, Unconcerned: 0.2},
		ResponseLikelihood:      LabelShares{Fundamentalist: 0.2, Pragmatist: 0.5, Unconcerned: 0.8},
		PrivacyWeights: map[string][]float64{
			model.Fundamentalist.String(): {0.05, 0.05, 0.05},
			model.Pragmatist.String():     {0.1, 0.08, 0.06},
			model.Unconcerned.String():    {0.2, 0.15, 0.1},
		},
	}
}

func (c PadomeConfig) isZero() bool {
	return c.ReservationValue == 0 && c.UserPPSize == 0 && c.OwnerPPSize == 0 &&
		c.NegValue == 0 && c.NegRange == 0 && c.UserElicitationCost == 0 &&
		c.DeadlineFactors.BaseDeadline == 0 && c.DeadlineFactors.UserCountFactorMultiplier == 0 &&
		len(c.DeadlineFactors.NetworkFactors) == 0 && len(c.PrivacyWeights) == 0 &&
		c.PrivacyTypeDistribution == LabelShares{} && c.ResponseLikelihood == LabelShares{}
}

// Validate reports the first inconsistency in c.
func (c PadomeConfig) Validate() error {
	switch {
	case c.ReservationValue < 0:
		return errors.New("reservation_value must be non-negative")
	case c.UserPPSize <= 0 || c.OwnerPPSize <= 0:
		return errors.New("privacy policy sizes must be positive")
	case c.NegValue < 1 || c.NegRange < 1:
		return errors.New("neg_value and neg_range must be at least 1")
	case math.Pow(float64(c.NegRange), float64(c.NegValue)) > maxOfferSpace:
		return fmt.Errorf("offer space %d^%d exceeds %d offers", c.NegRange, c.NegValue, maxOfferSpace)
	case c.UserElicitationCost < 0:
		return errors.New("user_elicitation_cost must be non-negative")
	}
	if _, ok := c.DeadlineFactors.NetworkFactors["default"]; !ok {
		return errors.New("deadline_factors.network_factors needs a default entry")
	}
	for _, l := range model.Labels {
		w, ok := c.PrivacyWeights[l.String()]
		if !ok {
			return fmt.Errorf("privacy_weights: missing %s", l)
		}
		if len(w) != c.NegValue {
			return fmt.Errorf("privacy_weights: %s has %d weights, want %d", l, len(w), c.NegValue)
		}
	}
	return nil
}

func (c PadomeConfig) networkFactor(kind string) float64 {
	if f, ok := c.DeadlineFactors.NetworkFactors[kind]; ok {
		return f
	}
	return c.DeadlineFactors.NetworkFactors["default"]
}
