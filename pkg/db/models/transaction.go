package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/pkg/enums"
)

// Transaction records a gateway money movement against an order. Refund
// transactions carry a negative amount and are scoped to the refund order,
// not the original payment.
type Transaction struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	Gateway       string                `gorm:"column:gateway;not null"`
	TransactionID string                `gorm:"column:transaction_id;not null;index"`
	Kind          enums.TransactionKind `gorm:"column:kind;type:transaction_kind;not null"`
	Amount        decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency      enums.Currency        `gorm:"column:currency;type:text;not null;default:'USD'"`
	Status        string                `gorm:"column:status;not null;default:'complete'"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
