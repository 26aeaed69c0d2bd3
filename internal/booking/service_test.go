package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/internal/slots"
	"github.com/mycomarket/mycomarket-backend/internal/stock"
	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
	"github.com/mycomarket/mycomarket-backend/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type draftProvider struct{}

func (draftProvider) FindOrCreateDraft(ctx context.Context, tx *gorm.DB, clientID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.WithContext(ctx).
		Where("client_id = ? AND status = ?", clientID, enums.OrderStatusDraft).
		First(&order).Error
	if err == nil {
		return &order, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	order = models.Order{ID: uuid.New(), ClientID: clientID, Status: enums.OrderStatusDraft}
	if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

type fixture struct {
	db       *gorm.DB
	svc      Service
	stockSvc stock.Service
	slotSvc  slots.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.ProductStock{},
		&models.DeliverySlot{},
		&models.Order{},
		&models.OrderItem{},
		&models.Booking{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	stockSvc, err := stock.NewService(db)
	if err != nil {
		t.Fatalf("stock service: %v", err)
	}
	slotSvc, err := slots.NewService(slots.NewRepository(db), stockSvc, gormTxRunner{db: db})
	if err != nil {
		t.Fatalf("slots service: %v", err)
	}
	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)
	svc, err := NewService(NewRepository(db), slotSvc, stockSvc, draftProvider{}, gormTxRunner{db: db}, outboxSvc, 2*time.Hour)
	if err != nil {
		t.Fatalf("booking service: %v", err)
	}
	return &fixture{db: db, svc: svc, stockSvc: stockSvc, slotSvc: slotSvc}
}

func (f *fixture) seedSlot(t *testing.T, stockQty, capacity string) *models.DeliverySlot {
	t.Helper()
	productID := uuid.New()
	row := models.ProductStock{ProductID: productID, Quantity: decimal.RequireFromString(stockQty)}
	if err := f.db.Create(&row).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	slot := &models.DeliverySlot{
		ID:             uuid.New(),
		ProducerID:     uuid.New(),
		ProductID:      productID,
		Date:           time.Now().Add(72 * time.Hour),
		MaxCapacity:    decimal.RequireFromString(capacity),
		Reserved:       decimal.Zero,
		UnitPriceCents: 800,
		IsAvailable:    true,
	}
	if err := f.db.Create(slot).Error; err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	return slot
}

func (f *fixture) reloadSlot(t *testing.T, id uuid.UUID) *models.DeliverySlot {
	t.Helper()
	var slot models.DeliverySlot
	if err := f.db.First(&slot, "id = ?", id).Error; err != nil {
		t.Fatalf("reload slot: %v", err)
	}
	return &slot
}

func (f *fixture) stockOf(t *testing.T, productID uuid.UUID) decimal.Decimal {
	t.Helper()
	qty, err := f.stockSvc.Available(context.Background(), nil, productID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	return qty
}

func TestBook_ReservesSlotAndStock(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	clientID := uuid.New()

	booked, err := f.svc.Book(context.Background(), BookInput{
		SlotID:   slot.ID,
		ClientID: clientID,
		Quantity: decimal.RequireFromString("10"),
	})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}

	if booked.Status != enums.BookingStatusTemporary {
		t.Fatalf("expected temporary status, got %s", booked.Status)
	}
	if booked.ExpiresAt == nil {
		t.Fatal("expected expiry timestamp on hold")
	}
	if booked.UnitPriceCents != 800 {
		t.Fatalf("expected price snapshot 800, got %d", booked.UnitPriceCents)
	}

	reloaded := f.reloadSlot(t, slot.ID)
	if !reloaded.Reserved.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected reserved 10, got %s", reloaded.Reserved)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("expected stock 90, got %s", got)
	}

	var order models.Order
	if err := f.db.First(&order, "id = ?", booked.OrderID).Error; err != nil {
		t.Fatalf("load draft order: %v", err)
	}
	if order.Status != enums.OrderStatusDraft {
		t.Fatalf("expected draft order, got %s", order.Status)
	}
	if order.ClientID != clientID {
		t.Fatal("draft order belongs to wrong client")
	}
}

func TestBook_ReusesExistingDraftOrder(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	clientID := uuid.New()
	ctx := context.Background()

	first, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: clientID, Quantity: decimal.RequireFromString("5")})
	if err != nil {
		t.Fatalf("first book failed: %v", err)
	}
	second, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: clientID, Quantity: decimal.RequireFromString("5")})
	if err != nil {
		t.Fatalf("second book failed: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatal("expected both holds on the same draft order")
	}
}

func TestBook_OverbookingLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	ctx := context.Background()

	if _, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")}); err != nil {
		t.Fatalf("book 10 failed: %v", err)
	}

	_, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("45")})
	if !pkgerrors.IsCode(err, pkgerrors.CodeOverbooking) {
		t.Fatalf("expected OVERBOOKING, got %v", err)
	}

	reloaded := f.reloadSlot(t, slot.ID)
	if !reloaded.Reserved.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("failed book must not change reserved, got %s", reloaded.Reserved)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("failed book must not change stock, got %s", got)
	}
}

func TestBook_InsufficientStockRollsBackSlotReservation(t *testing.T) {
	f := newFixture(t)
	// Capacity outruns stock after an out-of-band stock drop.
	slot := f.seedSlot(t, "8", "50")
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")})
	if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected INSUFFICIENT_STOCK, got %v", err)
	}

	reloaded := f.reloadSlot(t, slot.ID)
	if !reloaded.Reserved.IsZero() {
		t.Fatalf("slot reservation must be rolled back, got %s", reloaded.Reserved)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("8")) {
		t.Fatalf("stock must be unchanged, got %s", got)
	}
}

func TestCancel_ReleasesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	ctx := context.Background()

	booked, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}

	if err := f.svc.Cancel(ctx, booked.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	reloaded := f.reloadSlot(t, slot.ID)
	if !reloaded.Reserved.IsZero() {
		t.Fatalf("expected reserved 0 after cancel, got %s", reloaded.Reserved)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected stock restored, got %s", got)
	}

	err = f.svc.Cancel(ctx, booked.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("second cancel must conflict, got %v", err)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("second cancel must not release again, got %s", got)
	}
}

func TestPromoteAndConfirmLifecycle(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	ctx := context.Background()

	booked, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}

	err = f.svc.ConfirmTx(ctx, f.db, booked.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("confirm from temporary must conflict, got %v", err)
	}

	if err := f.svc.PromoteTx(ctx, f.db, booked.ID); err != nil {
		t.Fatalf("promote failed: %v", err)
	}
	promoted, _ := f.svc.Get(ctx, booked.ID)
	if promoted.Status != enums.BookingStatusPending {
		t.Fatalf("expected pending, got %s", promoted.Status)
	}
	if promoted.ExpiresAt != nil {
		t.Fatal("promote must clear the expiry")
	}

	if err := f.svc.ConfirmTx(ctx, f.db, booked.ID); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	confirmed, _ := f.svc.Get(ctx, booked.ID)
	if confirmed.Status != enums.BookingStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", confirmed.Status)
	}

	err = f.svc.Cancel(ctx, booked.ID)
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("cancel of confirmed booking must conflict, got %v", err)
	}
}

func TestExpireDue_SweepsLapsedHolds(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	ctx := context.Background()

	booked, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}

	// Not yet due.
	count, err := f.svc.ExpireDue(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing due, swept %d", count)
	}

	count, err = f.svc.ExpireDue(ctx, time.Now().Add(2*time.Hour+time.Second), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired hold, swept %d", count)
	}

	reloaded := f.reloadSlot(t, slot.ID)
	if !reloaded.Reserved.IsZero() {
		t.Fatalf("expected reserved 0 after sweep, got %s", reloaded.Reserved)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected stock restored after sweep, got %s", got)
	}

	swept, _ := f.svc.Get(ctx, booked.ID)
	if swept.Status != enums.BookingStatusCancelled {
		t.Fatalf("expected cancelled, got %s", swept.Status)
	}

	var events int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.OutboxEventBookingExpired).
		Count(&events).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 expiry event, got %d", events)
	}
}

// promoteBeforeTxRunner promotes the booking right before the first sweep
// transaction runs, landing a checkout between the due scan and the cancel.
type promoteBeforeTxRunner struct {
	db        *gorm.DB
	bookingID uuid.UUID
	promoted  bool
}

func (r *promoteBeforeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if !r.promoted {
		r.promoted = true
		err := r.db.WithContext(ctx).Model(&models.Booking{}).
			Where("id = ?", r.bookingID).
			Updates(map[string]any{"status": enums.BookingStatusPending, "expires_at": nil}).Error
		if err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).Transaction(fn)
}

func TestExpireDue_RacingPromotionKeepsBookingPending(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	ctx := context.Background()

	booked, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}

	// Backdate the hold so the scan picks it up.
	err = f.db.Model(&models.Booking{}).
		Where("id = ?", booked.ID).
		Update("expires_at", time.Now().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("backdate hold: %v", err)
	}

	runner := &promoteBeforeTxRunner{db: f.db, bookingID: booked.ID}
	sweeper, err := NewService(NewRepository(f.db), f.slotSvc, f.stockSvc, draftProvider{}, runner, outbox.NewService(outbox.NewRepository(f.db), nil), 2*time.Hour)
	if err != nil {
		t.Fatalf("booking service: %v", err)
	}

	count, err := sweeper.ExpireDue(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	// The row was handled for pagination even though nothing was cancelled.
	if count != 1 {
		t.Fatalf("expected 1 processed hold, got %d", count)
	}

	reloaded, err := f.svc.Get(ctx, booked.ID)
	if err != nil {
		t.Fatalf("reload booking: %v", err)
	}
	if reloaded.Status != enums.BookingStatusPending {
		t.Fatalf("promoted booking must survive the sweep, got %s", reloaded.Status)
	}

	slotRow := f.reloadSlot(t, slot.ID)
	if !slotRow.Reserved.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("promoted hold must stay reserved, got %s", slotRow.Reserved)
	}
	if got := f.stockOf(t, slot.ProductID); !got.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("promoted hold must keep its stock, got %s", got)
	}

	var events int64
	if err := f.db.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.OutboxEventBookingExpired).
		Count(&events).Error; err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if events != 0 {
		t.Fatalf("no expiry event expected, got %d", events)
	}
}

func TestExpireDue_SkipsPromotedBookings(t *testing.T) {
	f := newFixture(t)
	slot := f.seedSlot(t, "100", "50")
	ctx := context.Background()

	booked, err := f.svc.Book(ctx, BookInput{SlotID: slot.ID, ClientID: uuid.New(), Quantity: decimal.RequireFromString("10")})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	if err := f.svc.PromoteTx(ctx, f.db, booked.ID); err != nil {
		t.Fatalf("promote failed: %v", err)
	}

	count, err := f.svc.ExpireDue(ctx, time.Now().Add(3*time.Hour), 100)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("promoted booking must not be swept, swept %d", count)
	}

	reloaded := f.reloadSlot(t, slot.ID)
	if !reloaded.Reserved.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("promoted hold must stay reserved, got %s", reloaded.Reserved)
	}
}
