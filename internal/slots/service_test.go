package slots

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/internal/stock"
	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.ProductStock{}, &models.DeliverySlot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return conn
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newServices(t *testing.T, db *gorm.DB) (Service, stock.Service) {
	t.Helper()
	stockSvc, err := stock.NewService(db)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}
	svc, err := NewService(NewRepository(db), stockSvc, gormTxRunner{db: db})
	if err != nil {
		t.Fatalf("slots service: %v", err)
	}
	return svc, stockSvc
}

func seedStock(t *testing.T, db *gorm.DB, qty string) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	row := models.ProductStock{ProductID: productID, Quantity: decimal.RequireFromString(qty)}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return productID
}

func createInput(producerID, productID uuid.UUID, capacity string) CreateSlotInput {
	return CreateSlotInput{
		ProducerID:     producerID,
		ProductID:      productID,
		Date:           time.Now().Add(48 * time.Hour),
		MaxCapacity:    decimal.RequireFromString(capacity),
		UnitPriceCents: 500,
	}
}

func TestCreate_RejectsCapacityAboveStock(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "30")

	_, err := svc.Create(context.Background(), createInput(uuid.New(), productID, "31"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidCapacity) {
		t.Fatalf("expected INVALID_CAPACITY, got %v", err)
	}
}

// reserveBeforeTxRunner drains stock right before the create transaction
// runs, landing a booking between the service call and its capacity check.
type reserveBeforeTxRunner struct {
	db        *gorm.DB
	productID uuid.UUID
	qty       decimal.Decimal
}

func (r *reserveBeforeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := r.db.WithContext(ctx).Exec(`
		UPDATE product_stocks SET quantity = quantity - ? WHERE product_id = ?
	`, r.qty, r.productID).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestCreate_SeesStockDrainedByRacingReservation(t *testing.T) {
	db := newTestDB(t)
	stockSvc, err := stock.NewService(db)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}
	productID := seedStock(t, db, "30")

	runner := &reserveBeforeTxRunner{db: db, productID: productID, qty: decimal.RequireFromString("10")}
	svc, err := NewService(NewRepository(db), stockSvc, runner)
	if err != nil {
		t.Fatalf("slots service: %v", err)
	}

	_, err = svc.Create(context.Background(), createInput(uuid.New(), productID, "25"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidCapacity) {
		t.Fatalf("expected INVALID_CAPACITY after racing reservation, got %v", err)
	}

	var count int64
	if err := db.Model(&models.DeliverySlot{}).Count(&count).Error; err != nil {
		t.Fatalf("count slots: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected create must leave no slot, got %d", count)
	}
}

func TestCreate_RejectsPastDate(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "30")

	input := createInput(uuid.New(), productID, "10")
	input.Date = time.Now().Add(-48 * time.Hour)
	_, err := svc.Create(context.Background(), input)
	if !pkgerrors.IsCode(err, pkgerrors.CodeInvalidCapacity) {
		t.Fatalf("expected INVALID_CAPACITY for past date, got %v", err)
	}
}

func TestCreate_Succeeds(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "30")
	producerID := uuid.New()

	slot, err := svc.Create(context.Background(), createInput(producerID, productID, "25"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !slot.IsAvailable {
		t.Fatal("expected new slot to be available")
	}
	if !slot.Reserved.IsZero() {
		t.Fatalf("expected zero reserved, got %s", slot.Reserved)
	}
}

func TestTryReserve_FillsToCapacityThenRejects(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	ctx := context.Background()

	slot, err := svc.Create(ctx, createInput(uuid.New(), productID, "50"))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("reserve 10 failed: %v", err)
	}
	err = svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("45"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeOverbooking) {
		t.Fatalf("expected OVERBOOKING for 45, got %v", err)
	}
	if err := svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("40")); err != nil {
		t.Fatalf("reserve 40 failed: %v", err)
	}
	err = svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("1"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeOverbooking) {
		t.Fatalf("expected OVERBOOKING at full capacity, got %v", err)
	}

	reloaded, err := svc.Get(ctx, slot.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !reloaded.Reserved.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected reserved 50, got %s", reloaded.Reserved)
	}
}

func TestTryReserve_UnavailableSlot(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	producerID := uuid.New()
	ctx := context.Background()

	slot, _ := svc.Create(ctx, createInput(producerID, productID, "50"))
	if err := svc.SetAvailability(ctx, slot.ID, producerID, false); err != nil {
		t.Fatalf("set availability failed: %v", err)
	}

	err := svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("1"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT for unavailable slot, got %v", err)
	}
}

func TestReleaseReservation_FlooredAtZero(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	ctx := context.Background()

	slot, _ := svc.Create(ctx, createInput(uuid.New(), productID, "50"))
	if err := svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("5")); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	if err := svc.ReleaseReservation(ctx, db, slot.ID, decimal.RequireFromString("20")); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	reloaded, _ := svc.Get(ctx, slot.ID)
	if !reloaded.Reserved.IsZero() {
		t.Fatalf("expected reserved floored at 0, got %s", reloaded.Reserved)
	}
}

func TestUpdateCapacity_RejectsBelowReserved(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	producerID := uuid.New()
	ctx := context.Background()

	slot, _ := svc.Create(ctx, createInput(producerID, productID, "50"))
	if err := svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("30")); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	err := svc.UpdateCapacity(ctx, slot.ID, producerID, decimal.RequireFromString("20"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeCapacityBelowReserved) {
		t.Fatalf("expected CAPACITY_BELOW_RESERVED, got %v", err)
	}

	if err := svc.UpdateCapacity(ctx, slot.ID, producerID, decimal.RequireFromString("40")); err != nil {
		t.Fatalf("capacity 40 should be allowed: %v", err)
	}
}

func TestUpdateCapacity_OwnershipEnforced(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	ctx := context.Background()

	slot, _ := svc.Create(ctx, createInput(uuid.New(), productID, "50"))
	err := svc.UpdateCapacity(ctx, slot.ID, uuid.New(), decimal.RequireFromString("40"))
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN for foreign producer, got %v", err)
	}
}

func TestDelete_BlockedWhileReserved(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	producerID := uuid.New()
	ctx := context.Background()

	slot, _ := svc.Create(ctx, createInput(producerID, productID, "50"))
	if err := svc.TryReserve(ctx, db, slot.ID, decimal.RequireFromString("5")); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	err := svc.Delete(ctx, slot.ID, producerID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected CONFLICT while reserved, got %v", err)
	}

	if err := svc.ReleaseReservation(ctx, db, slot.ID, decimal.RequireFromString("5")); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if err := svc.Delete(ctx, slot.ID, producerID); err != nil {
		t.Fatalf("delete after release failed: %v", err)
	}
}

func TestListByProducer_FiltersByDate(t *testing.T) {
	db := newTestDB(t)
	svc, _ := newServices(t, db)
	productID := seedStock(t, db, "100")
	producerID := uuid.New()
	ctx := context.Background()

	near := createInput(producerID, productID, "10")
	near.Date = time.Now().Add(24 * time.Hour)
	far := createInput(producerID, productID, "10")
	far.Date = time.Now().Add(30 * 24 * time.Hour)

	if _, err := svc.Create(ctx, near); err != nil {
		t.Fatalf("create near slot: %v", err)
	}
	if _, err := svc.Create(ctx, far); err != nil {
		t.Fatalf("create far slot: %v", err)
	}

	cutoff := time.Now().Add(7 * 24 * time.Hour)
	rows, err := svc.ListByProducer(ctx, producerID, &cutoff)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 slot past cutoff, got %d", len(rows))
	}
}
