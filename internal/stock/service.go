package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
)

// Service guards the per-product stock row. All mutation goes through the
// conditional updates here so concurrent bookings can never drive quantity
// negative.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty decimal.Decimal) error
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty decimal.Decimal) error

	// Available reads the current quantity. Pass the caller's transaction
	// when the read must share its snapshot; tx may be nil for a plain read.
	Available(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (decimal.Decimal, error)
}

type service struct {
	db *gorm.DB
}

// NewService builds a stock service bound to the provided DB.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	return &service{db: db}, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty decimal.Decimal) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock reserve")
	}
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if !qty.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE product_stocks
		SET quantity = quantity - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND quantity >= ?
	`, qty, productID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected == 0 {
		var row models.ProductStock
		err := tx.WithContext(ctx).Where("product_id = ?", productID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product stock not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
		}
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").
			WithDetails(map[string]any{
				"product_id": productID.String(),
				"available":  row.Quantity.String(),
				"requested":  qty.String(),
			})
	}
	return nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty decimal.Decimal) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for stock release")
	}
	if !qty.IsPositive() {
		return nil
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE product_stocks
		SET quantity = quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
	`, qty, productID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product stock not found")
	}
	return nil
}

func (s *service) Available(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (decimal.Decimal, error) {
	db := s.db
	if tx != nil {
		db = tx
	}
	var row models.ProductStock
	err := db.WithContext(ctx).Where("product_id = ?", productID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, "product stock not found")
	}
	if err != nil {
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product stock")
	}
	return row.Quantity, nil
}
