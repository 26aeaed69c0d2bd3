package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DeliverySlot is a producer-published window with finite capacity for one
// product. Reserved never exceeds MaxCapacity; bookings are the only writers
// of Reserved.
type DeliverySlot struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ProducerID     uuid.UUID       `gorm:"column:producer_id;type:uuid;not null;index"`
	ProductID      uuid.UUID       `gorm:"column:product_id;type:uuid;not null;index"`
	Date           time.Time       `gorm:"column:date;not null"`
	MaxCapacity    decimal.Decimal `gorm:"column:max_capacity;type:numeric(12,3);not null"`
	Reserved       decimal.Decimal `gorm:"column:reserved;type:numeric(12,3);not null;default:0"`
	UnitPriceCents int64           `gorm:"column:unit_price_cents;not null"`
	IsAvailable    bool            `gorm:"column:is_available;not null;default:true"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
