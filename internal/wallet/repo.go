package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mycomarket/mycomarket-backend/pkg/db"
	"github.com/mycomarket/mycomarket-backend/pkg/db/models"
	"github.com/mycomarket/mycomarket-backend/pkg/enums"
)

// Repository persists wallets, their transactions and withdrawal requests.
// Balance mutation goes through guarded updates; callers never write balance
// fields directly.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindOrCreateByProducer(ctx context.Context, producerID uuid.UUID) (*models.Wallet, error)
	FindByProducer(ctx context.Context, producerID uuid.UUID) (*models.Wallet, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	AdjustBalances(ctx context.Context, walletID uuid.UUID, deltaBalance, deltaPending, deltaEarned, deltaWithdrawn int64) error
	DebitAvailableGuarded(ctx context.Context, walletID uuid.UUID, amountCents int64) (int64, error)

	CreateTransaction(ctx context.Context, txn *models.WalletTransaction) (*models.WalletTransaction, error)
	UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error
	FindSaleTransaction(ctx context.Context, walletID, orderID uuid.UUID) (*models.WalletTransaction, error)
	FindPendingSalesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error)
	FindTransactionByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*models.WalletTransaction, error)

	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error)
	FindWithdrawalByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error)
	ResolveWithdrawalCAS(ctx context.Context, id uuid.UUID, status enums.WithdrawalStatus, note *string, processedAt time.Time) (int64, error)
	ListWithdrawalsByStatus(ctx context.Context, status enums.WithdrawalStatus) ([]models.Withdrawal, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a wallet repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrCreateByProducer(ctx context.Context, producerID uuid.UUID) (*models.Wallet, error) {
	wallet, err := r.FindByProducer(ctx, producerID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := models.Wallet{ID: uuid.New(), ProducerID: producerID}
	if err := r.db.WithContext(ctx).Create(&created).Error; err != nil {
		// A concurrent request created the wallet first.
		if dbpkg.IsUniqueViolation(err, "ux_wallets_producer") {
			return r.FindByProducer(ctx, producerID)
		}
		return nil, err
	}
	return &created, nil
}

func (r *repository) FindByProducer(ctx context.Context, producerID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("producer_id = ?", producerID).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) AdjustBalances(ctx context.Context, walletID uuid.UUID, deltaBalance, deltaPending, deltaEarned, deltaWithdrawn int64) error {
	updates := map[string]any{"updated_at": time.Now()}
	if deltaBalance != 0 {
		updates["balance_cents"] = gorm.Expr("balance_cents + ?", deltaBalance)
	}
	if deltaPending != 0 {
		updates["pending_balance_cents"] = gorm.Expr("pending_balance_cents + ?", deltaPending)
	}
	if deltaEarned != 0 {
		updates["total_earned_cents"] = gorm.Expr("total_earned_cents + ?", deltaEarned)
	}
	if deltaWithdrawn != 0 {
		updates["total_withdrawn_cents"] = gorm.Expr("total_withdrawn_cents + ?", deltaWithdrawn)
	}
	return r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(updates).Error
}

func (r *repository) DebitAvailableGuarded(ctx context.Context, walletID uuid.UUID, amountCents int64) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE wallets
		SET balance_cents = balance_cents - ?,
			pending_balance_cents = pending_balance_cents + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND balance_cents >= ?
	`, amountCents, amountCents, walletID, amountCents)
	return res.RowsAffected, res.Error
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.WalletTransaction) (*models.WalletTransaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	updates["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) FindSaleTransaction(ctx context.Context, walletID, orderID uuid.UUID) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("wallet_id = ? AND order_id = ? AND type = ?", walletID, orderID, enums.WalletTransactionTypeSale).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindPendingSalesByOrder(ctx context.Context, orderID uuid.UUID) ([]models.WalletTransaction, error) {
	var rows []models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ? AND status = ?", orderID, enums.WalletTransactionTypeSale, enums.WalletTransactionStatusPending).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindTransactionByWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*models.WalletTransaction, error) {
	var txn models.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("withdrawal_id = ? AND type = ?", withdrawalID, enums.WalletTransactionTypeWithdrawal).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) (*models.Withdrawal, error) {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

func (r *repository) FindWithdrawalByID(ctx context.Context, id uuid.UUID) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&w).Error
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *repository) ResolveWithdrawalCAS(ctx context.Context, id uuid.UUID, status enums.WithdrawalStatus, note *string, processedAt time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, enums.WithdrawalStatusPending).
		Updates(map[string]any{
			"status":         status,
			"processor_note": note,
			"processed_at":   processedAt,
			"updated_at":     time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListWithdrawalsByStatus(ctx context.Context, status enums.WithdrawalStatus) ([]models.Withdrawal, error) {
	var rows []models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
