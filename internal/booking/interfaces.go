package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
	"github.com/mycomarket/mycomarket-backend/pkg/outbox"
)

// Repository persists bookings. Status moves use compare-and-swap updates so
// a racing sweep and a client cancel can never both release the same hold.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) (*models.Booking, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Booking, error)
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from []enums.BookingStatus, to enums.BookingStatus, clearExpiry bool) (int64, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
}

// OrderProvider attaches bookings to the client's open draft order.
type OrderProvider interface {
	FindOrCreateDraft(ctx context.Context, tx *gorm.DB, clientID uuid.UUID) (*models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}
