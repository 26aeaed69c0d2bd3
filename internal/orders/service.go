package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
	pkgerrors "github.com/mycomarket/mycomarket-backend/pkg/errors"
	"github.com/mycomarket/mycomarket-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BookingLifecycle is the slice of the booking service the state machine
// drives. Every call runs inside the order transition transaction.
type BookingLifecycle interface {
	PromoteTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
	ConfirmTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
	CancelTx(ctx context.Context, tx *gorm.DB, bookingID uuid.UUID) error
}

// Ledger is the slice of the wallet service the state machine drives.
type Ledger interface {
	PostSale(ctx context.Context, tx *gorm.DB, order *models.Order) error
	SettlePending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// Service drives the order state machine. Transitions run atomically: the
// status move, booking transitions and ledger posting commit together or not
// at all.
type Service interface {
	Get(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, clientID uuid.UUID) ([]models.Order, error)
	Cart(ctx context.Context, clientID uuid.UUID) (*models.Order, error)
	AddItem(ctx context.Context, input AddItemInput) (*models.Order, error)
	RemoveItem(ctx context.Context, input RemoveItemInput) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*models.Order, error)
}

// AddItemInput adds a direct catalog line to the client's cart.
type AddItemInput struct {
	ClientID       uuid.UUID
	ProducerID     uuid.UUID
	ProductID      uuid.UUID
	Name           string
	Quantity       decimal.Decimal
	UnitPriceCents int64
}

// RemoveItemInput drops a line from the client's cart.
type RemoveItemInput struct {
	ClientID uuid.UUID
	OrderID  uuid.UUID
	ItemID   uuid.UUID
}

// TransitionInput moves an order to a new status.
type TransitionInput struct {
	OrderID   uuid.UUID
	Target    enums.OrderStatus
	ActorID   uuid.UUID
	ActorRole string
}

// OrderEvent is the outbox payload for order lifecycle changes.
type OrderEvent struct {
	OrderID          uuid.UUID         `json:"order_id"`
	ClientID         uuid.UUID         `json:"client_id"`
	Status           enums.OrderStatus `json:"status"`
	TotalCents       int64             `json:"total_cents"`
	PlatformFeeCents *int64            `json:"platform_fee_cents,omitempty"`
}

// allowedTransitions is the full state machine. Draft orders are carts;
// delivered, cancelled and invoice_paid are terminal.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusDraft:          {enums.OrderStatusPending, enums.OrderStatusCancelled},
	enums.OrderStatusPending:        {enums.OrderStatusConfirmed, enums.OrderStatusDelivered, enums.OrderStatusInvoicePending, enums.OrderStatusCancelled},
	enums.OrderStatusConfirmed:      {enums.OrderStatusShipped, enums.OrderStatusDelivered, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:        {enums.OrderStatusDelivered, enums.OrderStatusCancelled},
	enums.OrderStatusInvoicePending: {enums.OrderStatusInvoicePaid, enums.OrderStatusInvoiceOverdue, enums.OrderStatusCancelled},
	enums.OrderStatusInvoiceOverdue: {enums.OrderStatusInvoicePaid, enums.OrderStatusCancelled},
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	bookings   BookingLifecycle
	ledger     Ledger
	settlement enums.OrderStatus
}

// NewService builds an order service. settlement is the fulfillment status
// that releases pending producer balances.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, bookings BookingLifecycle, ledger Ledger, settlement enums.OrderStatus) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if bookings == nil {
		return nil, fmt.Errorf("booking lifecycle required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("wallet ledger required")
	}
	if !settlement.IsValid() {
		return nil, fmt.Errorf("invalid settlement status")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     outboxSvc,
		bookings:   bookings,
		ledger:     ledger,
		settlement: settlement,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID, clientID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to client")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, clientID uuid.UUID) ([]models.Order, error) {
	if clientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "client identity missing")
	}
	rows, err := s.repo.ListByClient(ctx, clientID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return rows, nil
}

// Cart returns the client's open draft order, creating one if needed.
func (s *service) Cart(ctx context.Context, clientID uuid.UUID) (*models.Order, error) {
	if clientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "client identity missing")
	}
	var cart *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		draft, err := s.repo.FindOrCreateDraft(ctx, tx, clientID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		cart, err = s.loadOrder(ctx, s.repo.WithTx(tx), draft.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *service) AddItem(ctx context.Context, input AddItemInput) (*models.Order, error) {
	if input.ClientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "client identity missing")
	}
	if input.ProductID == uuid.Nil || input.ProducerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product and producer ids required")
	}
	if !input.Quantity.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if input.UnitPriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price cannot be negative")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		draft, err := s.repo.FindOrCreateDraft(ctx, tx, input.ClientID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}

		total := input.Quantity.Mul(decimal.NewFromInt(input.UnitPriceCents)).Round(0).IntPart()
		item := &models.OrderItem{
			ID:             uuid.New(),
			OrderID:        draft.ID,
			ProducerID:     input.ProducerID,
			ProductID:      input.ProductID,
			Name:           input.Name,
			Quantity:       input.Quantity,
			UnitPriceCents: input.UnitPriceCents,
			TotalCents:     total,
		}
		if _, err := repo.CreateItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add order item")
		}

		updated, err = s.recomputeTotal(ctx, repo, draft.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) RemoveItem(ctx context.Context, input RemoveItemInput) (*models.Order, error) {
	if input.ClientID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "client identity missing")
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.ClientID != input.ClientID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to client")
		}
		if order.Status != enums.OrderStatusDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "items can only be removed from a draft order")
		}

		affected, err := repo.DeleteItem(ctx, order.ID, input.ItemID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove order item")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}

		updated, err = s.recomputeTotal(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOrder(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if order.Status == input.Target {
			result = order
			return nil
		}
		if !transitionAllowed(order.Status, input.Target) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order transition disallowed").
				WithDetails(map[string]any{
					"status": order.Status.String(),
					"target": input.Target.String(),
				})
		}

		affected, err := repo.UpdateStatusCAS(ctx, order.ID, order.Status, input.Target)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if affected == 0 {
			// A concurrent transition won the race.
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order was modified concurrently")
		}
		order.Status = input.Target

		if err := s.applyTransition(ctx, tx, repo, order, input); err != nil {
			return err
		}

		result, err = s.loadOrder(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyTransition runs the side effects owed to the new status. The caller
// already moved the status row; everything here shares its transaction.
func (s *service) applyTransition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, input TransitionInput) error {
	switch {
	case input.Target == enums.OrderStatusPending:
		return s.placeOrder(ctx, tx, repo, order, input)

	// Settlement is checked before confirmation so a settlement status of
	// confirmed still releases producer balances.
	case s.settles(input.Target):
		return s.settleOrder(ctx, tx, repo, order, input)

	case input.Target == enums.OrderStatusConfirmed || input.Target == enums.OrderStatusInvoicePending:
		return s.confirmOrder(ctx, tx, repo, order, input)

	case input.Target == enums.OrderStatusCancelled:
		return s.cancelOrder(ctx, tx, repo, order, input)

	default:
		return nil
	}
}

// settles reports whether the target status releases pending balances.
// Delivered is at or past every allowed settlement status, and a paid invoice
// settles the deferred-payment path.
func (s *service) settles(target enums.OrderStatus) bool {
	return target == s.settlement ||
		target == enums.OrderStatusDelivered ||
		target == enums.OrderStatusInvoicePaid
}

func (s *service) placeOrder(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, input TransitionInput) error {
	if len(order.Items) == 0 && len(order.Bookings) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "cannot place an empty order")
	}

	for _, booking := range order.Bookings {
		if booking.Status != enums.BookingStatusTemporary {
			continue
		}
		if err := s.bookings.PromoteTx(ctx, tx, booking.ID); err != nil {
			return err
		}
	}

	placed, err := s.recomputeTotal(ctx, repo, order.ID)
	if err != nil {
		return err
	}
	*order = *placed

	return s.emit(ctx, tx, enums.OutboxEventOrderPlaced, order, input)
}

func (s *service) confirmOrder(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, input TransitionInput) error {
	for _, booking := range order.Bookings {
		if booking.Status != enums.BookingStatusPending {
			continue
		}
		if err := s.bookings.ConfirmTx(ctx, tx, booking.ID); err != nil {
			return err
		}
	}

	if err := s.ledger.PostSale(ctx, tx, order); err != nil {
		return err
	}

	if input.Target == enums.OrderStatusConfirmed {
		return s.emit(ctx, tx, enums.OutboxEventOrderConfirmed, order, input)
	}
	return nil
}

func (s *service) settleOrder(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, input TransitionInput) error {
	for _, booking := range order.Bookings {
		if booking.Status != enums.BookingStatusPending {
			continue
		}
		if err := s.bookings.ConfirmTx(ctx, tx, booking.ID); err != nil {
			return err
		}
	}

	// Repost first so a direct pending-to-delivered jump still records sales.
	if err := s.ledger.PostSale(ctx, tx, order); err != nil {
		return err
	}
	if err := s.ledger.SettlePending(ctx, tx, order.ID); err != nil {
		return err
	}

	return s.emit(ctx, tx, enums.OutboxEventOrderSettled, order, input)
}

func (s *service) cancelOrder(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, input TransitionInput) error {
	for _, booking := range order.Bookings {
		if booking.Status != enums.BookingStatusTemporary && booking.Status != enums.BookingStatusPending {
			continue
		}
		if err := s.bookings.CancelTx(ctx, tx, booking.ID); err != nil {
			// The expiry sweep may have released this hold already.
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				continue
			}
			return err
		}
	}

	if err := s.ledger.CancelPending(ctx, tx, order.ID); err != nil {
		return err
	}

	return s.emit(ctx, tx, enums.OutboxEventOrderCancelled, order, input)
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, order *models.Order, input TransitionInput) error {
	var actor *outbox.ActorRef
	if input.ActorID != uuid.Nil {
		actor = &outbox.ActorRef{ActorID: input.ActorID, Role: input.ActorRole}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         actor,
		Data: OrderEvent{
			OrderID:          order.ID,
			ClientID:         order.ClientID,
			Status:           order.Status,
			TotalCents:       order.TotalCents,
			PlatformFeeCents: order.PlatformFeeCents,
		},
	})
}

// recomputeTotal sums item lines and non-cancelled booking lines and writes
// the result back.
func (s *service) recomputeTotal(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, item := range order.Items {
		total += item.TotalCents
	}
	for _, booking := range order.Bookings {
		if booking.Status == enums.BookingStatusCancelled {
			continue
		}
		total += booking.TotalCents()
	}

	if err := repo.UpdateTotal(ctx, order.ID, total); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order total")
	}
	order.TotalCents = total
	return order, nil
}

func (s *service) loadOrder(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func transitionAllowed(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
