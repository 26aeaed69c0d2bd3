package slots

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
)

// Repository persists delivery slots. Reservation counters are only touched
// through the guarded updates so `0 <= reserved <= max_capacity` holds under
// concurrent bookings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, slot *models.DeliverySlot) (*models.DeliverySlot, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliverySlot, error)
	ListByProducer(ctx context.Context, producerID uuid.UUID, from *time.Time) ([]models.DeliverySlot, error)
	UpdateCapacityGuarded(ctx context.Context, id uuid.UUID, newMax decimal.Decimal) (int64, error)
	SetAvailability(ctx context.Context, id uuid.UUID, available bool) (int64, error)
	DeleteIfUnreserved(ctx context.Context, id uuid.UUID) (int64, error)
	TryReserve(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (int64, error)
	ReleaseReservation(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a slots repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, slot *models.DeliverySlot) (*models.DeliverySlot, error) {
	if err := r.db.WithContext(ctx).Create(slot).Error; err != nil {
		return nil, err
	}
	return slot, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliverySlot, error) {
	var slot models.DeliverySlot
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&slot).Error
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *repository) ListByProducer(ctx context.Context, producerID uuid.UUID, from *time.Time) ([]models.DeliverySlot, error) {
	q := r.db.WithContext(ctx).Where("producer_id = ?", producerID)
	if from != nil {
		q = q.Where("date >= ?", *from)
	}
	var rows []models.DeliverySlot
	err := q.Order("date ASC").Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateCapacityGuarded(ctx context.Context, id uuid.UUID, newMax decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE delivery_slots
		SET max_capacity = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved <= ?
	`, newMax, id, newMax)
	return res.RowsAffected, res.Error
}

func (r *repository) SetAvailability(ctx context.Context, id uuid.UUID, available bool) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.DeliverySlot{}).
		Where("id = ?", id).
		Update("is_available", available)
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteIfUnreserved(ctx context.Context, id uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		DELETE FROM delivery_slots
		WHERE id = ? AND reserved = 0
	`, id)
	return res.RowsAffected, res.Error
}

func (r *repository) TryReserve(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE delivery_slots
		SET reserved = reserved + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND is_available AND reserved + ? <= max_capacity
	`, qty, id, qty)
	return res.RowsAffected, res.Error
}

func (r *repository) ReleaseReservation(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (int64, error) {
	// Floored at zero so a stray double release cannot corrupt the counter.
	res := r.db.WithContext(ctx).Exec(`
		UPDATE delivery_slots
		SET reserved = CASE WHEN reserved >= ? THEN reserved - ? ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, qty, qty, id)
	return res.RowsAffected, res.Error
}
