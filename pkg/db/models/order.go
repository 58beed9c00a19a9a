package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/pkg/enums"
)

// Order is a payment or refund record. Refund orders reference the original
// payment through ParentID and carry negative totals.
type Order struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ParentID       *uuid.UUID        `gorm:"column:parent_id;type:uuid;index"`
	OrderNumber    int64             `gorm:"column:order_number;not null;uniqueIndex;default:nextval('order_numbers')"`
	Type           enums.OrderType   `gorm:"column:type;type:order_type;not null;default:'payment'"`
	Status         enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	CustomerID     *uuid.UUID        `gorm:"column:customer_id;type:uuid;index"`
	Email          string            `gorm:"column:email;not null"`
	Gateway        string            `gorm:"column:gateway;not null;index"`
	GatewayMode    enums.GatewayMode `gorm:"column:gateway_mode;type:gateway_mode;not null;default:'test'"`
	GatewayOrderID *string           `gorm:"column:gateway_order_id;index"`
	TransactionID  *string           `gorm:"column:transaction_id;index"`
	Currency       enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	Subtotal       decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Discount       decimal.Decimal   `gorm:"column:discount;type:numeric(12,2);not null;default:0"`
	Tax            decimal.Decimal   `gorm:"column:tax;type:numeric(12,2);not null;default:0"`
	TaxRate        decimal.Decimal   `gorm:"column:tax_rate;type:numeric(8,4);not null;default:0"`
	FeesTotal      decimal.Decimal   `gorm:"column:fees_total;type:numeric(12,2);not null;default:0"`
	Total          decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	IPAddress      *string           `gorm:"column:ip_address"`
	Items          []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Notes          []OrderNote       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CompletedAt    *time.Time        `gorm:"column:completed_at"`
	RefundedAt     *time.Time        `gorm:"column:refunded_at"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
