package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer is the billing identity orders and subscriptions hang off.
type Customer struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email         string          `gorm:"column:email;not null;uniqueIndex"`
	Name          string          `gorm:"column:name;not null;default:''"`
	UserID        *uuid.UUID      `gorm:"column:user_id;type:uuid;index"`
	PurchaseCount int             `gorm:"column:purchase_count;not null;default:0"`
	PurchaseValue decimal.Decimal `gorm:"column:purchase_value;type:numeric(12,2);not null;default:0"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
