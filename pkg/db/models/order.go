package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// Order aggregates a client's items and bookings. A draft order is the cart;
// PlatformFeeCents is set once when sale transactions are posted.
type Order struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ClientID         uuid.UUID         `gorm:"column:client_id;type:uuid;not null;index"`
	Status           enums.OrderStatus `gorm:"column:status;type:text;not null;default:'draft';index"`
	TotalCents       int64             `gorm:"column:total_cents;not null;default:0"`
	PlatformFeeCents *int64            `gorm:"column:platform_fee_cents"`
	Metadata         json.RawMessage   `gorm:"column:metadata;type:jsonb"`
	Items            []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Bookings         []Booking         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
