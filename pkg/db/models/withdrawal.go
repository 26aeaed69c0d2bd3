package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// Withdrawal is a producer request to pay out available balance. While
// pending, the amount sits in the wallet's pending balance.
type Withdrawal struct {
	ID            uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	WalletID      uuid.UUID              `gorm:"column:wallet_id;type:uuid;not null;index"`
	AmountCents   int64                  `gorm:"column:amount_cents;not null"`
	Status        enums.WithdrawalStatus `gorm:"column:status;type:text;not null;default:'pending';index"`
	BankDetails   json.RawMessage        `gorm:"column:bank_details;type:jsonb"`
	ProcessedAt   *time.Time             `gorm:"column:processed_at"`
	ProcessorNote *string                `gorm:"column:processor_note"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
