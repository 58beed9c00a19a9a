package enums

import (
	"fmt"
	"time"
)

// BillingPeriod is the cadence a subscription renews on.
type BillingPeriod string

const (
	BillingPeriodDay      BillingPeriod = "day"
	BillingPeriodWeek     BillingPeriod = "week"
	BillingPeriodMonth    BillingPeriod = "month"
	BillingPeriodQuarter  BillingPeriod = "quarter"
	BillingPeriodSemiYear BillingPeriod = "semi_year"
	BillingPeriodYear     BillingPeriod = "year"
)

var validBillingPeriods = []BillingPeriod{
	BillingPeriodDay,
	BillingPeriodWeek,
	BillingPeriodMonth,
	BillingPeriodQuarter,
	BillingPeriodSemiYear,
	BillingPeriodYear,
}

// String implements fmt.Stringer.
func (p BillingPeriod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known BillingPeriod.
func (p BillingPeriod) IsValid() bool {
	for _, candidate := range validBillingPeriods {
		if candidate == p {
			return true
		}
	}
	return false
}

// Next returns the expiration one period after t.
func (p BillingPeriod) Next(t time.Time) time.Time {
	switch p {
	case BillingPeriodDay:
		return t.AddDate(0, 0, 1)
	case BillingPeriodWeek:
		return t.AddDate(0, 0, 7)
	case BillingPeriodMonth:
		return t.AddDate(0, 1, 0)
	case BillingPeriodQuarter:
		return t.AddDate(0, 3, 0)
	case BillingPeriodSemiYear:
		return t.AddDate(0, 6, 0)
	case BillingPeriodYear:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// ParseBillingPeriod converts raw input into a BillingPeriod.
func ParseBillingPeriod(value string) (BillingPeriod, error) {
	for _, candidate := range validBillingPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period %q", value)
}
