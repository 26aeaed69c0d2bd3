package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductStock tracks the sellable quantity per product. Mushrooms are sold
// by weight, so quantities are decimals rather than unit counts.
type ProductStock struct {
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;primaryKey"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:numeric(12,3);not null;default:0"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
