package slots

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/internal/stock"
	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
)

// Service manages producer delivery slots and their reservation counters.
type Service interface {
	Create(ctx context.Context, input CreateSlotInput) (*models.DeliverySlot, error)
	Get(ctx context.Context, slotID uuid.UUID) (*models.DeliverySlot, error)
	ListByProducer(ctx context.Context, producerID uuid.UUID, from *time.Time) ([]models.DeliverySlot, error)
	UpdateCapacity(ctx context.Context, slotID, producerID uuid.UUID, newMax decimal.Decimal) error
	SetAvailability(ctx context.Context, slotID, producerID uuid.UUID, available bool) error
	Delete(ctx context.Context, slotID, producerID uuid.UUID) error

	// TryReserve and ReleaseReservation run inside the caller's transaction so
	// slot capacity and stock move together or not at all.
	TryReserve(ctx context.Context, tx *gorm.DB, slotID uuid.UUID, qty decimal.Decimal) error
	ReleaseReservation(ctx context.Context, tx *gorm.DB, slotID uuid.UUID, qty decimal.Decimal) error
}

// CreateSlotInput carries the producer's slot definition.
type CreateSlotInput struct {
	ProducerID     uuid.UUID
	ProductID      uuid.UUID
	Date           time.Time
	MaxCapacity    decimal.Decimal
	UnitPriceCents int64
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo  Repository
	stock stock.Service
	tx    txRunner
	now   func() time.Time
}

// NewService builds a slots service with the required dependencies.
func NewService(repo Repository, stockSvc stock.Service, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("slots repository required")
	}
	if stockSvc == nil {
		return nil, fmt.Errorf("stock service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, stock: stockSvc, tx: tx, now: time.Now}, nil
}

func (s *service) Create(ctx context.Context, input CreateSlotInput) (*models.DeliverySlot, error) {
	if input.ProducerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "producer identity missing")
	}
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !input.MaxCapacity.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCapacity, "capacity must be positive")
	}
	if input.UnitPriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
	}

	today := s.now().Truncate(24 * time.Hour)
	if input.Date.Before(today) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCapacity, "slot date is in the past")
	}

	// Capacity check and insert share one transaction, so a stock reservation
	// landing in between cannot slip a slot past the guard.
	var created *models.DeliverySlot
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		available, err := s.stock.Available(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		if input.MaxCapacity.GreaterThan(available) {
			return pkgerrors.New(pkgerrors.CodeInvalidCapacity, "capacity exceeds available stock").
				WithDetails(map[string]any{
					"available": available.String(),
					"requested": input.MaxCapacity.String(),
				})
		}

		slot := &models.DeliverySlot{
			ID:             uuid.New(),
			ProducerID:     input.ProducerID,
			ProductID:      input.ProductID,
			Date:           input.Date,
			MaxCapacity:    input.MaxCapacity,
			Reserved:       decimal.Zero,
			UnitPriceCents: input.UnitPriceCents,
			IsAvailable:    true,
		}
		created, err = s.repo.WithTx(tx).Create(ctx, slot)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create delivery slot")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Get(ctx context.Context, slotID uuid.UUID) (*models.DeliverySlot, error) {
	slot, err := s.repo.FindByID(ctx, slotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery slot not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery slot")
	}
	return slot, nil
}

func (s *service) ListByProducer(ctx context.Context, producerID uuid.UUID, from *time.Time) ([]models.DeliverySlot, error) {
	if producerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "producer identity missing")
	}
	rows, err := s.repo.ListByProducer(ctx, producerID, from)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivery slots")
	}
	return rows, nil
}

func (s *service) UpdateCapacity(ctx context.Context, slotID, producerID uuid.UUID, newMax decimal.Decimal) error {
	if !newMax.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeInvalidCapacity, "capacity must be positive")
	}
	slot, err := s.ownedSlot(ctx, slotID, producerID)
	if err != nil {
		return err
	}

	affected, err := s.repo.UpdateCapacityGuarded(ctx, slot.ID, newMax)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update slot capacity")
	}
	if affected == 0 {
		// The guard only rejects when reserved already moved past newMax.
		return pkgerrors.New(pkgerrors.CodeCapacityBelowReserved, "capacity below reserved quantity").
			WithDetails(map[string]any{
				"reserved":  slot.Reserved.String(),
				"requested": newMax.String(),
			})
	}
	return nil
}

func (s *service) SetAvailability(ctx context.Context, slotID, producerID uuid.UUID, available bool) error {
	slot, err := s.ownedSlot(ctx, slotID, producerID)
	if err != nil {
		return err
	}
	if _, err := s.repo.SetAvailability(ctx, slot.ID, available); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update slot availability")
	}
	return nil
}

func (s *service) Delete(ctx context.Context, slotID, producerID uuid.UUID) error {
	slot, err := s.ownedSlot(ctx, slotID, producerID)
	if err != nil {
		return err
	}
	affected, err := s.repo.DeleteIfUnreserved(ctx, slot.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete delivery slot")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "slot has active reservations")
	}
	return nil
}

func (s *service) TryReserve(ctx context.Context, tx *gorm.DB, slotID uuid.UUID, qty decimal.Decimal) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for slot reserve")
	}
	if !qty.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	repo := s.repo.WithTx(tx)
	affected, err := repo.TryReserve(ctx, slotID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve slot capacity")
	}
	if affected == 0 {
		slot, err := repo.FindByID(ctx, slotID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "delivery slot not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery slot")
		}
		if !slot.IsAvailable {
			return pkgerrors.New(pkgerrors.CodeConflict, "delivery slot unavailable")
		}
		return pkgerrors.New(pkgerrors.CodeOverbooking, "slot capacity exceeded").
			WithDetails(map[string]any{
				"remaining": slot.MaxCapacity.Sub(slot.Reserved).String(),
				"requested": qty.String(),
			})
	}
	return nil
}

func (s *service) ReleaseReservation(ctx context.Context, tx *gorm.DB, slotID uuid.UUID, qty decimal.Decimal) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for slot release")
	}
	if !qty.IsPositive() {
		return nil
	}
	affected, err := s.repo.WithTx(tx).ReleaseReservation(ctx, slotID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release slot capacity")
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "delivery slot not found")
	}
	return nil
}

func (s *service) ownedSlot(ctx context.Context, slotID, producerID uuid.UUID) (*models.DeliverySlot, error) {
	if producerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "producer identity missing")
	}
	slot, err := s.Get(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot.ProducerID != producerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "slot does not belong to producer")
	}
	return slot, nil
}
