package models

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// IDs are assigned in Go via uuid.New, so the model tags must not carry a
// postgres-only column default that sqlite cannot parse.
func TestAutoMigrateAllModels(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}

	if err := db.AutoMigrate(
		&ProductStock{},
		&DeliverySlot{},
		&Booking{},
		&Order{},
		&OrderItem{},
		&Wallet{},
		&WalletTransaction{},
		&Withdrawal{},
		&OutboxEvent{},
	); err != nil {
		t.Fatalf("failed to migrate models: %v", err)
	}

	order := Order{ID: uuid.New(), ClientID: uuid.New(), Status: enums.OrderStatusDraft}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	var loaded Order
	if err := db.Where("id = ?", order.ID).First(&loaded).Error; err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if loaded.ID != order.ID {
		t.Fatalf("expected id %s, got %s", order.ID, loaded.ID)
	}
}
