package enums

import (
	"fmt"
	"time"
)

// TrialUnit is the unit of a free trial window.
type TrialUnit string

const (
	TrialUnitDay   TrialUnit = "day"
	TrialUnitWeek  TrialUnit = "week"
	TrialUnitMonth TrialUnit = "month"
	TrialUnitYear  TrialUnit = "year"
)

var validTrialUnits = []TrialUnit{
	TrialUnitDay,
	TrialUnitWeek,
	TrialUnitMonth,
	TrialUnitYear,
}

// String implements fmt.Stringer.
func (u TrialUnit) String() string {
	return string(u)
}

// IsValid reports whether the value is a known TrialUnit.
func (u TrialUnit) IsValid() bool {
	for _, candidate := range validTrialUnits {
		if candidate == u {
			return true
		}
	}
	return false
}

// Add returns t advanced by quantity units.
func (u TrialUnit) Add(t time.Time, quantity int) time.Time {
	switch u {
	case TrialUnitDay:
		return t.AddDate(0, 0, quantity)
	case TrialUnitWeek:
		return t.AddDate(0, 0, 7*quantity)
	case TrialUnitMonth:
		return t.AddDate(0, quantity, 0)
	case TrialUnitYear:
		return t.AddDate(quantity, 0, 0)
	default:
		return t
	}
}

// ParseTrialUnit converts raw input into a TrialUnit.
func ParseTrialUnit(value string) (TrialUnit, error) {
	for _, candidate := range validTrialUnits {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid trial unit %q", value)
}
