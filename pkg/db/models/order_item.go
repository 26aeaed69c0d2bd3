package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is a non-slot line on an order (direct catalog purchase).
type OrderItem struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProducerID     uuid.UUID       `gorm:"column:producer_id;type:uuid;not null;index"`
	ProductID      uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	Name           string          `gorm:"column:name;not null"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:numeric(12,3);not null"`
	UnitPriceCents int64           `gorm:"column:unit_price_cents;not null"`
	TotalCents     int64           `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}
