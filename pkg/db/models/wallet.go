package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a producer's marketplace balance. Created lazily on the first
// sale or withdrawal touching the producer.
type Wallet struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProducerID          uuid.UUID `gorm:"column:producer_id;type:uuid;not null;uniqueIndex:ux_wallets_producer"`
	BalanceCents        int64     `gorm:"column:balance_cents;not null;default:0"`
	PendingBalanceCents int64     `gorm:"column:pending_balance_cents;not null;default:0"`
	TotalEarnedCents    int64     `gorm:"column:total_earned_cents;not null;default:0"`
	TotalWithdrawnCents int64     `gorm:"column:total_withdrawn_cents;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
