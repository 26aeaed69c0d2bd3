package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/internal/slots"
	"github.com/mycomarket/mycomarket-backend/internal/stock"
	dbpkg "github.com/mycomarket/mycomarket-backend/pkg/db"
	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
	"github.com/mycomarket/mycomarket-backend/pkg/outbox"
)

// Service drives the booking state machine. A hold reserves slot capacity and
// stock in one transaction; losing either rolls back both.
type Service interface {
	Book(ctx context.Context, input BookInput) (*models.Booking, error)
	Cancel(ctx context.Context, bookingID uuid.UUID) error
	Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)

	// Transaction-scoped variants used by the order state machine.
	CancelTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
	PromoteTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
	ConfirmTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error

	// ExpireDue cancels temporary bookings whose hold has lapsed. Safe to run
	// concurrently with client cancels and checkout promotion. Returns the
	// number of due holds processed so callers can drain page by page.
	ExpireDue(ctx context.Context, now time.Time, limit int) (int, error)
}

// BookInput captures a client's reservation request.
type BookInput struct {
	SlotID   uuid.UUID
	ClientID uuid.UUID
	Quantity decimal.Decimal
}

// ExpiredEvent is emitted when the sweep releases a lapsed hold.
type ExpiredEvent struct {
	BookingID      uuid.UUID       `json:"booking_id"`
	OrderID        uuid.UUID       `json:"order_id"`
	DeliverySlotID uuid.UUID       `json:"delivery_slot_id"`
	Quantity       decimal.Decimal `json:"quantity"`
}

const bookRetries = 3

type service struct {
	repo    Repository
	slots   slots.Service
	stock   stock.Service
	orders  OrderProvider
	tx      txRunner
	outbox  outboxPublisher
	holdFor time.Duration
	now     func() time.Time
}

// NewService builds a booking service with the required dependencies.
func NewService(repo Repository, slotSvc slots.Service, stockSvc stock.Service, orders OrderProvider, tx txRunner, outboxSvc outboxPublisher, holdFor time.Duration) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("booking repository required")
	}
	if slotSvc == nil {
		return nil, fmt.Errorf("slots service required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if orders == nil {
		return nil, fmt.Errorf("order provider required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if holdFor <= 0 {
		return nil, fmt.Errorf("hold duration must be positive")
	}
	return &service{
		repo:    repo,
		slots:   slotSvc,
		stock:   stockSvc,
		orders:  orders,
		tx:      tx,
		outbox:  outboxSvc,
		holdFor: holdFor,
		now:     time.Now,
	}, nil
}

func (s *service) Book(ctx context.Context, input BookInput) (*models.Booking, error) {
	if input.SlotID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "slot id required")
	}
	if input.ClientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "client identity missing")
	}
	if !input.Quantity.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var booked *models.Booking
	backoff := retry.WithMaxRetries(bookRetries, retry.NewConstant(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.bookOnce(ctx, input, &booked)
		if dbpkg.IsSerializationConflict(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return booked, nil
}

func (s *service) bookOnce(ctx context.Context, input BookInput, out **models.Booking) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		slot, err := s.slotForUpdate(ctx, tx, input.SlotID)
		if err != nil {
			return err
		}

		if err := s.slots.TryReserve(ctx, tx, slot.ID, input.Quantity); err != nil {
			return err
		}
		if err := s.stock.Reserve(ctx, tx, slot.ProductID, input.Quantity); err != nil {
			return err
		}

		order, err := s.orders.FindOrCreateDraft(ctx, tx, input.ClientID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach draft order")
		}

		expiresAt := s.now().Add(s.holdFor)
		booking := &models.Booking{
			ID:             uuid.New(),
			DeliverySlotID: slot.ID,
			OrderID:        order.ID,
			ProducerID:     slot.ProducerID,
			ProductID:      slot.ProductID,
			Quantity:       input.Quantity,
			UnitPriceCents: slot.UnitPriceCents,
			Status:         enums.BookingStatusTemporary,
			ExpiresAt:      &expiresAt,
		}
		created, err := s.repo.WithTx(tx).Create(ctx, booking)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create booking")
		}
		*out = created
		return nil
	})
}

func (s *service) slotForUpdate(ctx context.Context, tx *gorm.DB, slotID uuid.UUID) (*models.DeliverySlot, error) {
	var slot models.DeliverySlot
	err := tx.WithContext(ctx).Where("id = ?", slotID).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery slot not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery slot")
	}
	return &slot, nil
}

func (s *service) Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.repo.FindByID(ctx, bookingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	return booking, nil
}

func (s *service) Cancel(ctx context.Context, bookingID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.CancelTx(ctx, tx, bookingID)
	})
}

// CancelTx releases the hold exactly once: the compare-and-swap loser sees
// zero rows affected and surfaces a state conflict instead of double-releasing.
func (s *service) CancelTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error {
	return s.cancelWith(ctx, tx, bookingID,
		[]enums.BookingStatus{enums.BookingStatusTemporary, enums.BookingStatusPending})
}

// expireTx is the sweep's cancel path. Only TEMPORARY holds are in scope, so
// a booking promoted by checkout between the due scan and this update loses
// nothing.
func (s *service) expireTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error {
	return s.cancelWith(ctx, tx, bookingID,
		[]enums.BookingStatus{enums.BookingStatusTemporary})
}

func (s *service) cancelWith(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID, from []enums.BookingStatus) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for booking cancel")
	}

	repo := s.repo.WithTx(tx)
	booking, err := repo.FindByID(ctx, bookingID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}

	affected, err := repo.UpdateStatusCAS(ctx, booking.ID, from,
		enums.BookingStatusCancelled, true)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel booking")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "booking cannot be cancelled in current state").
			WithDetails(map[string]any{"status": booking.Status.String()})
	}

	if err := s.slots.ReleaseReservation(ctx, tx, booking.DeliverySlotID, booking.Quantity); err != nil {
		return err
	}
	return s.stock.Release(ctx, tx, booking.ProductID, booking.Quantity)
}

func (s *service) PromoteTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error {
	return s.casTransition(ctx, tx, bookingID,
		[]enums.BookingStatus{enums.BookingStatusTemporary},
		enums.BookingStatusPending, true)
}

func (s *service) ConfirmTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error {
	return s.casTransition(ctx, tx, bookingID,
		[]enums.BookingStatus{enums.BookingStatusPending},
		enums.BookingStatusConfirmed, false)
}

func (s *service) casTransition(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID, from []enums.BookingStatus, to enums.BookingStatus, clearExpiry bool) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for booking transition")
	}
	repo := s.repo.WithTx(tx)
	affected, err := repo.UpdateStatusCAS(ctx, bookingID, from, to, clearExpiry)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update booking status")
	}
	if affected == 0 {
		booking, err := repo.FindByID(ctx, bookingID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
		}
		if booking.Status == to {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "booking transition disallowed").
			WithDetails(map[string]any{
				"status": booking.Status.String(),
				"target": to.String(),
			})
	}
	return nil
}

func (s *service) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.FindExpired(ctx, now, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find expired bookings")
	}

	processed := 0
	for _, booking := range due {
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.expireTx(ctx, tx, booking.ID); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.OutboxEventBookingExpired,
				AggregateType: enums.OutboxAggregateBooking,
				AggregateID:   booking.ID,
				Version:       1,
				Data: ExpiredEvent{
					BookingID:      booking.ID,
					OrderID:        booking.OrderID,
					DeliverySlotID: booking.DeliverySlotID,
					Quantity:       booking.Quantity,
				},
			})
		})
		if err != nil {
			// A racing cancel or promotion already took this hold out of
			// TEMPORARY; the row still counts as handled for this page.
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				processed++
				continue
			}
			return processed, err
		}
		processed++
	}
	return processed, nil
}
