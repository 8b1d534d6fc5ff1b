package model

import (
	"fmt"
	"strings"
)

// PrivacyLabel is the Westin-style behavioural class of a user.
type PrivacyLabel int

const (
	LabelUnknown PrivacyLabel = iota
	Fundamentalist
	Pragmatist
	Unconcerned
)

// Labels lists the valid labels in their canonical order.
var Labels = []PrivacyLabel{Fundamentalist, Pragmatist, Unconcerned}

func (l PrivacyLabel) String() string {
	switch l {
	case Fundamentalist:
		return "fundamentalist"
	case Pragmatist:
		return "pragmatist"
	case Unconcerned:
		return "unconcerned"
	default:
		return "unknown"
	}
}

// ParsePrivacyLabel maps a case-insensitive name to a label.
func ParsePrivacyLabel(s string) (PrivacyLabel, error) {
	for _, l := range Labels {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return LabelUnknown, fmt.Errorf("unknown privacy label %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l PrivacyLabel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *PrivacyLabel) UnmarshalText(b []byte) error {
	v, err := ParsePrivacyLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Weights is the utility trade-off between remaining time and energy spent.
type Weights struct {
	Time   float64 `json:"time" yaml:"time"`
	Energy float64 `json:"energy" yaml:"energy"`
}
