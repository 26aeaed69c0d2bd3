package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return conn
}

func TestEmit_InsertsEnvelopeInTx(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	orderID := uuid.New()
	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventOrderPlaced,
			AggregateType: enums.OutboxAggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"order_id": orderID.String()},
			Version:       1,
		})
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 unpublished event, got %d", len(rows))
	}
	if rows[0].AggregateID != orderID {
		t.Fatalf("unexpected aggregate id %s", rows[0].AggregateID)
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(rows[0].Payload, &envelope); err != nil {
		t.Fatalf("payload is not a valid envelope: %v", err)
	}
	if envelope.EventID == "" {
		t.Fatal("expected envelope event id")
	}
	if envelope.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to be populated")
	}
}

func TestEmit_RequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(newTestDB(t)), nil)
	if err := svc.Emit(context.Background(), nil, DomainEvent{}); err == nil {
		t.Fatal("expected error without transaction")
	}
}

func TestEmitIfNotExists_SkipsDuplicate(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	bookingID := uuid.New()
	event := DomainEvent{
		EventType:     enums.OutboxEventBookingExpired,
		AggregateType: enums.OutboxAggregateBooking,
		AggregateID:   bookingID,
		Data:          map[string]string{"booking_id": bookingID.String()},
		Version:       1,
	}

	for i := 0; i < 2; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		})
		if err != nil {
			t.Fatalf("emit %d failed: %v", i, err)
		}
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single deduped event, got %d", len(rows))
	}
}

func TestMarkPublishedAndFailed(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.OutboxEventWithdrawalRequested,
			AggregateType: enums.OutboxAggregateWithdrawal,
			AggregateID:   uuid.New(),
			Data:          map[string]string{},
			Version:       1,
		})
	})
	if err != nil {
		t.Fatalf("emit failed: %v", err)
	}

	rows, _ := repo.FetchUnpublished(10)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	if err := repo.MarkFailed(rows[0].ID, errors.New("topic unavailable")); err != nil {
		t.Fatalf("mark failed errored: %v", err)
	}
	var failed models.OutboxEvent
	if err := db.First(&failed, "id = ?", rows[0].ID).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if failed.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", failed.AttemptCount)
	}
	if failed.LastError == nil || *failed.LastError == "" {
		t.Fatal("expected last error to be recorded")
	}

	if err := repo.MarkPublished(rows[0].ID); err != nil {
		t.Fatalf("mark published errored: %v", err)
	}
	remaining, _ := repo.FetchUnpublished(10)
	if len(remaining) != 0 {
		t.Fatalf("expected no unpublished rows, got %d", len(remaining))
	}
}
