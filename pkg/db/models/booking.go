package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// Booking is a client hold against a delivery slot. Producer, product and
// unit price are snapshotted at reservation time so later catalog edits do
// not change what was sold.
type Booking struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	DeliverySlotID uuid.UUID           `gorm:"column:delivery_slot_id;type:uuid;not null;index"`
	OrderID        uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	ProducerID     uuid.UUID           `gorm:"column:producer_id;type:uuid;not null;index"`
	ProductID      uuid.UUID           `gorm:"column:product_id;type:uuid;not null"`
	Quantity       decimal.Decimal     `gorm:"column:quantity;type:numeric(12,3);not null"`
	UnitPriceCents int64               `gorm:"column:unit_price_cents;not null"`
	Status         enums.BookingStatus `gorm:"column:status;type:text;not null;default:'temporary';index"`
	ExpiresAt      *time.Time          `gorm:"column:expires_at;index"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalCents returns the booking line amount at the snapshotted price.
func (b Booking) TotalCents() int64 {
	return b.Quantity.Mul(decimal.NewFromInt(b.UnitPriceCents)).Round(0).IntPart()
}
