package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderNote is an append-only audit line on an order. Capture and refund
// outcomes land here alongside the gateway transaction ids.
type OrderNote struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	Body      string    `gorm:"column:body;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
