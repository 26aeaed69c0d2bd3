package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// Repository persists orders and their lines. Status moves go through a
// compare-and-swap update keyed on the current status.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindOrCreateDraft(ctx context.Context, tx *gorm.DB, clientID uuid.UUID) (*models.Order, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]models.Order, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (int64, error)
	UpdateTotal(ctx context.Context, id uuid.UUID, totalCents int64) error

	CreateItem(ctx context.Context, item *models.OrderItem) (*models.OrderItem, error)
	DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Bookings").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrCreateDraft returns the client's open cart, creating one if needed.
// Runs inside the caller's transaction so a booking and its order commit
// together.
func (r *repository) FindOrCreateDraft(ctx context.Context, tx *gorm.DB, clientID uuid.UUID) (*models.Order, error) {
	db := r.db
	if tx != nil {
		db = tx
	}

	var order models.Order
	err := db.WithContext(ctx).
		Where("client_id = ? AND status = ?", clientID, enums.OrderStatusDraft).
		First(&order).Error
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	order = models.Order{
		ID:       uuid.New(),
		ClientID: clientID,
		Status:   enums.OrderStatusDraft,
	}
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ListByClient returns the client's order history, newest first. Draft orders
// are carts and never appear here.
func (r *repository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Bookings").
		Where("client_id = ? AND status <> ?", clientID, enums.OrderStatusDraft).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) UpdateTotal(ctx context.Context, id uuid.UUID, totalCents int64) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_cents": totalCents,
			"updated_at":  time.Now(),
		}).Error
}

func (r *repository) CreateItem(ctx context.Context, item *models.OrderItem) (*models.OrderItem, error) {
	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

func (r *repository) DeleteItem(ctx context.Context, orderID, itemID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND order_id = ?", itemID, orderID).
		Delete(&models.OrderItem{})
	return res.RowsAffected, res.Error
}
