package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is a priced line on an order. Subtotal is the undiscounted
// quantity * item price; Total nets out discount and adds tax.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	PriceID   *uuid.UUID      `gorm:"column:price_id;type:uuid"`
	Name      string          `gorm:"column:name;not null"`
	Quantity  int             `gorm:"column:quantity;not null;default:1"`
	ItemPrice decimal.Decimal `gorm:"column:item_price;type:numeric(12,2);not null"`
	Subtotal  decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Discount  decimal.Decimal `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Tax       decimal.Decimal `gorm:"column:tax;type:numeric(12,2);not null;default:0"`
	Total     decimal.Decimal `gorm:"column:total;type:numeric(12,2);not null"`
	Recurring bool            `gorm:"column:recurring;not null;default:false"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
