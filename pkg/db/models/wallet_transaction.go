package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// WalletTransaction records signed money movement on a wallet. Sales carry a
// positive net amount, withdrawals a negative one. At most one sale row may
// exist per (wallet, order); withdrawals have a nil order id so the unique
// index never collides for them.
type WalletTransaction struct {
	ID           uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	WalletID     uuid.UUID                     `gorm:"column:wallet_id;type:uuid;not null;index;uniqueIndex:ux_wallet_transactions_wallet_order"`
	OrderID      *uuid.UUID                    `gorm:"column:order_id;type:uuid;uniqueIndex:ux_wallet_transactions_wallet_order"`
	WithdrawalID *uuid.UUID                    `gorm:"column:withdrawal_id;type:uuid;index"`
	AmountCents  int64                         `gorm:"column:amount_cents;not null"`
	Status       enums.WalletTransactionStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Type         enums.WalletTransactionType   `gorm:"column:type;type:text;not null"`
	Metadata     json.RawMessage               `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}
