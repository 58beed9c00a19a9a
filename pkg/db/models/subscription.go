package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/pkg/enums"
)

// Subscription persists one recurring billing profile. Rows are never
// hard-deleted once active; the only exception is a pending row left by an
// abandoned checkout attempt, which is removed when the same parent order is
// resubmitted.
type Subscription struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID      uuid.UUID                `gorm:"column:customer_id;type:uuid;not null;index"`
	ParentOrderID   uuid.UUID                `gorm:"column:parent_order_id;type:uuid;not null;index"`
	ProductID       uuid.UUID                `gorm:"column:product_id;type:uuid;not null;index"`
	PriceID         *uuid.UUID               `gorm:"column:price_id;type:uuid"`
	Gateway         string                   `gorm:"column:gateway;not null;index"`
	ProfileID       string                   `gorm:"column:profile_id;not null;default:'';index"`
	TransactionID   string                   `gorm:"column:transaction_id;not null;default:''"`
	Status          enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	Period          enums.BillingPeriod      `gorm:"column:period;type:billing_period;not null"`
	BillTimes       int                      `gorm:"column:bill_times;not null;default:0"`
	TimesBilled     int                      `gorm:"column:times_billed;not null;default:0"`
	InitialAmount   decimal.Decimal          `gorm:"column:initial_amount;type:numeric(12,2);not null"`
	InitialTax      decimal.Decimal          `gorm:"column:initial_tax;type:numeric(12,2);not null;default:0"`
	InitialTaxRate  decimal.Decimal          `gorm:"column:initial_tax_rate;type:numeric(8,4);not null;default:0"`
	RecurringAmount decimal.Decimal          `gorm:"column:recurring_amount;type:numeric(12,2);not null"`
	RecurringTax    decimal.Decimal          `gorm:"column:recurring_tax;type:numeric(12,2);not null;default:0"`
	RecurringRate   decimal.Decimal          `gorm:"column:recurring_tax_rate;type:numeric(8,4);not null;default:0"`
	TrialQuantity   int                      `gorm:"column:trial_quantity;not null;default:0"`
	TrialUnit       *enums.TrialUnit         `gorm:"column:trial_unit;type:trial_unit"`
	Expiration      time.Time                `gorm:"column:expiration;not null;index"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// HasTrial reports whether the profile starts with a free trial window.
func (s *Subscription) HasTrial() bool {
	return s.TrialQuantity > 0 && s.TrialUnit != nil
}

// BilledOut reports whether a fixed-length profile has collected every
// scheduled payment. BillTimes zero means bill until cancelled.
func (s *Subscription) BilledOut() bool {
	return s.BillTimes > 0 && s.TimesBilled >= s.BillTimes
}
