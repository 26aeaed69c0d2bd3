package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

// Service maintains the per-producer ledger: sale posting with commission
// split, pending-to-available settlement, and the withdrawal workflow.
type Service interface {
	// PostSale and its companions run inside the order transition transaction.
	PostSale(ctx context.Context, tx *gorm.DB, order *models.Order) error
	SettlePending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
	CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error

	RequestWithdrawal(ctx context.Context, input WithdrawalRequest) (*models.Withdrawal, error)
	ResolveWithdrawal(ctx context.Context, input WithdrawalResolution) error
	ListWithdrawals(ctx context.Context, status enums.WithdrawalStatus) ([]models.Withdrawal, error)
	Summary(ctx context.Context, producerID uuid.UUID) (*models.Wallet, error)
}

// WithdrawalRequest is a producer's payout request against available balance.
type WithdrawalRequest struct {
	ProducerID  uuid.UUID
	AmountCents int64
	BankDetails json.RawMessage
}

// WithdrawalResolution is the admin decision on a pending withdrawal.
type WithdrawalResolution struct {
	WithdrawalID uuid.UUID
	Outcome      enums.WithdrawalStatus
	Note         *string
	ActorID      uuid.UUID
}

// WithdrawalEvent is the outbox payload for withdrawal lifecycle changes.
type WithdrawalEvent struct {
	WithdrawalID uuid.UUID              `json:"withdrawal_id"`
	WalletID     uuid.UUID              `json:"wallet_id"`
	AmountCents  int64                  `json:"amount_cents"`
	Status       enums.WithdrawalStatus `json:"status"`
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	rate       decimal.Decimal
	settlement enums.OrderStatus
	now        func() time.Time
}

// NewService builds a wallet service. rate is the platform commission as a
// fraction; settlement is the order status that releases pending balances.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, rate decimal.Decimal, settlement enums.OrderStatus) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be in [0, 1)")
	}
	if !settlement.IsValid() {
		return nil, fmt.Errorf("invalid settlement status")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     outboxSvc,
		rate:       rate,
		settlement: settlement,
		now:        time.Now,
	}, nil
}

// PostSale posts one SALE transaction per producer represented in the order.
// Reposting for the same order updates amounts in place instead of
// duplicating rows.
func (s *service) PostSale(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for sale posting")
	}
	if order == nil || order.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}

	gross := grossByProducer(order)
	if len(gross) == 0 {
		return nil
	}

	finalized := order.Status == s.settlement ||
		order.Status == enums.OrderStatusDelivered ||
		order.Status == enums.OrderStatusInvoicePaid
	repo := s.repo.WithTx(tx)

	feeTotal := int64(0)
	for producerID, grossCents := range gross {
		fee := s.commission(grossCents)
		net := grossCents - fee
		feeTotal += fee

		wallet, err := repo.FindOrCreateByProducer(ctx, producerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load producer wallet")
		}

		existing, err := repo.FindSaleTransaction(ctx, wallet.ID, order.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sale transaction")
		}

		if existing == nil {
			if err := s.createSale(ctx, repo, wallet.ID, order.ID, net, finalized); err != nil {
				return err
			}
			continue
		}
		if err := s.restateSale(ctx, repo, existing, net); err != nil {
			return err
		}
	}

	// platform fee is set once, on first posting
	if order.PlatformFeeCents == nil {
		if err := tx.WithContext(ctx).Model(&models.Order{}).
			Where("id = ? AND platform_fee_cents IS NULL", order.ID).
			Update("platform_fee_cents", feeTotal).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set platform fee")
		}
		order.PlatformFeeCents = &feeTotal
	}
	return nil
}

func (s *service) createSale(ctx context.Context, repo Repository, walletID, orderID uuid.UUID, net int64, finalized bool) error {
	status := enums.WalletTransactionStatusPending
	deltaBalance, deltaPending := int64(0), net
	if finalized {
		status = enums.WalletTransactionStatusCompleted
		deltaBalance, deltaPending = net, 0
	}

	oid := orderID
	txn := &models.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    walletID,
		OrderID:     &oid,
		AmountCents: net,
		Status:      status,
		Type:        enums.WalletTransactionTypeSale,
	}
	if _, err := repo.CreateTransaction(ctx, txn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sale transaction")
	}
	if err := repo.AdjustBalances(ctx, walletID, deltaBalance, deltaPending, net, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "post sale to wallet")
	}
	return nil
}

func (s *service) restateSale(ctx context.Context, repo Repository, existing *models.WalletTransaction, net int64) error {
	diff := net - existing.AmountCents
	if diff == 0 {
		return nil
	}
	if err := repo.UpdateTransaction(ctx, existing.ID, map[string]any{"amount_cents": net}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restate sale transaction")
	}

	deltaBalance, deltaPending := int64(0), int64(0)
	switch existing.Status {
	case enums.WalletTransactionStatusPending:
		deltaPending = diff
	case enums.WalletTransactionStatusCompleted:
		deltaBalance = diff
	default:
		// cancelled sales stay cancelled; the balance was never credited
		return nil
	}
	if err := repo.AdjustBalances(ctx, existing.WalletID, deltaBalance, deltaPending, diff, 0); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restate wallet balances")
	}
	return nil
}

// SettlePending releases every pending sale on the order from pendingBalance
// to balance.
func (s *service) SettlePending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for settlement")
	}
	repo := s.repo.WithTx(tx)
	pending, err := repo.FindPendingSalesByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending sales")
	}
	for _, txn := range pending {
		if err := repo.UpdateTransaction(ctx, txn.ID, map[string]any{
			"status": enums.WalletTransactionStatusCompleted,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle sale transaction")
		}
		if err := repo.AdjustBalances(ctx, txn.WalletID, txn.AmountCents, -txn.AmountCents, 0, 0); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release pending balance")
		}
	}
	return nil
}

// CancelPending voids pending sales when the order is cancelled. Completed
// sales are never reversed here.
func (s *service) CancelPending(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for sale cancellation")
	}
	repo := s.repo.WithTx(tx)
	pending, err := repo.FindPendingSalesByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending sales")
	}
	for _, txn := range pending {
		if err := repo.UpdateTransaction(ctx, txn.ID, map[string]any{
			"status": enums.WalletTransactionStatusCancelled,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel sale transaction")
		}
		if err := repo.AdjustBalances(ctx, txn.WalletID, 0, -txn.AmountCents, 0, 0); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revert pending balance")
		}
	}
	return nil
}

func (s *service) RequestWithdrawal(ctx context.Context, input WithdrawalRequest) (*models.Withdrawal, error) {
	if input.ProducerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "producer identity missing")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	var created *models.Withdrawal
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		wallet, err := repo.FindByProducer(ctx, input.ProducerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "wallet has no available balance")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
		}

		affected, err := repo.DebitAvailableGuarded(ctx, wallet.ID, input.AmountCents)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit wallet")
		}
		if affected == 0 {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient wallet balance").
				WithDetails(map[string]any{
					"available": wallet.BalanceCents,
					"requested": input.AmountCents,
				})
		}

		withdrawal := &models.Withdrawal{
			ID:          uuid.New(),
			WalletID:    wallet.ID,
			AmountCents: input.AmountCents,
			Status:      enums.WithdrawalStatusPending,
			BankDetails: input.BankDetails,
		}
		if _, err := repo.CreateWithdrawal(ctx, withdrawal); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create withdrawal")
		}

		wid := withdrawal.ID
		txn := &models.WalletTransaction{
			ID:           uuid.New(),
			WalletID:     wallet.ID,
			WithdrawalID: &wid,
			AmountCents:  -input.AmountCents,
			Status:       enums.WalletTransactionStatusPending,
			Type:         enums.WalletTransactionTypeWithdrawal,
		}
		if _, err := repo.CreateTransaction(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create withdrawal transaction")
		}

		created = withdrawal
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventWithdrawalRequested,
			AggregateType: enums.OutboxAggregateWithdrawal,
			AggregateID:   withdrawal.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{ActorID: input.ProducerID, Role: "producer"},
			Data: WithdrawalEvent{
				WithdrawalID: withdrawal.ID,
				WalletID:     wallet.ID,
				AmountCents:  input.AmountCents,
				Status:       enums.WithdrawalStatusPending,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) ResolveWithdrawal(ctx context.Context, input WithdrawalResolution) error {
	if input.WithdrawalID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "withdrawal id required")
	}
	if input.Outcome != enums.WithdrawalStatusCompleted && input.Outcome != enums.WithdrawalStatusRejected {
		return pkgerrors.New(pkgerrors.CodeValidation, "outcome must be completed or rejected")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		withdrawal, err := repo.FindWithdrawalByID(ctx, input.WithdrawalID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "withdrawal not found")
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal")
		}

		affected, err := repo.ResolveWithdrawalCAS(ctx, withdrawal.ID, input.Outcome, input.Note, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve withdrawal")
		}
		if affected == 0 {
			// A concurrent operator already processed it.
			return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "withdrawal already processed").
				WithDetails(map[string]any{"status": withdrawal.Status.String()})
		}

		amt := withdrawal.AmountCents
		txnStatus := enums.WalletTransactionStatusCompleted
		if input.Outcome == enums.WithdrawalStatusCompleted {
			if err := repo.AdjustBalances(ctx, withdrawal.WalletID, 0, -amt, 0, amt); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "finalize withdrawal")
			}
		} else {
			txnStatus = enums.WalletTransactionStatusCancelled
			if err := repo.AdjustBalances(ctx, withdrawal.WalletID, amt, -amt, 0, 0); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore rejected withdrawal")
			}
		}

		txn, err := repo.FindTransactionByWithdrawal(ctx, withdrawal.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load withdrawal transaction")
		}
		if txn != nil {
			if err := repo.UpdateTransaction(ctx, txn.ID, map[string]any{"status": txnStatus}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update withdrawal transaction")
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventWithdrawalResolved,
			AggregateType: enums.OutboxAggregateWithdrawal,
			AggregateID:   withdrawal.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{ActorID: input.ActorID, Role: "admin"},
			Data: WithdrawalEvent{
				WithdrawalID: withdrawal.ID,
				WalletID:     withdrawal.WalletID,
				AmountCents:  amt,
				Status:       input.Outcome,
			},
		})
	})
}

func (s *service) ListWithdrawals(ctx context.Context, status enums.WithdrawalStatus) ([]models.Withdrawal, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid withdrawal status")
	}
	rows, err := s.repo.ListWithdrawalsByStatus(ctx, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list withdrawals")
	}
	return rows, nil
}

func (s *service) Summary(ctx context.Context, producerID uuid.UUID) (*models.Wallet, error) {
	if producerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "producer identity missing")
	}
	wallet, err := s.repo.FindOrCreateByProducer(ctx, producerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) commission(grossCents int64) int64 {
	return decimal.NewFromInt(grossCents).Mul(s.rate).Round(0).IntPart()
}

func grossByProducer(order *models.Order) map[uuid.UUID]int64 {
	gross := make(map[uuid.UUID]int64)
	for _, item := range order.Items {
		gross[item.ProducerID] += item.TotalCents
	}
	for _, b := range order.Bookings {
		if b.Status == enums.BookingStatusCancelled {
			continue
		}
		gross[b.ProducerID] += b.TotalCents()
	}
	return gross
}
