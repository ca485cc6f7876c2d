package repository

import (
	"context"
	"time"

	"github.com/custodix/walletcore/app/models"
)

// WalletRepository defines the interface for user wallet database operations
type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByUserAndCurrency(ctx context.Context, userID uint, currency string) (*models.Wallet, error)
	GetByID(ctx context.Context, id uint) (*models.Wallet, error)
	// GetForUpdate reads the wallet row under an exclusive row lock. Must be
	// called inside a transaction.
	GetForUpdate(ctx context.Context, userID uint, currency string) (*models.Wallet, error)
	// SaveBalances persists the balance components with an optimistic version
	// bump; returns ErrVersionConflict when the row moved underneath us.
	SaveBalances(ctx context.Context, wallet *models.Wallet) error
	List(ctx context.Context, offset, limit int) ([]models.Wallet, error)
	Count(ctx context.Context) (int64, error)
	ListAutoCashout(ctx context.Context) ([]models.Wallet, error)
}

// InternalWalletRepository defines the interface for provider float wallets
type InternalWalletRepository interface {
	Create(ctx context.Context, wallet *models.InternalWallet) error
	GetByID(ctx context.Context, id uint) (*models.InternalWallet, error)
	GetByProviderAndCurrency(ctx context.Context, provider, currency string) (*models.InternalWallet, error)
	GetForUpdate(ctx context.Context, provider, currency string) (*models.InternalWallet, error)
	SaveBalances(ctx context.Context, wallet *models.InternalWallet) error
	List(ctx context.Context) ([]models.InternalWallet, error)
}

// AuditRepository defines the interface for the append-only ledger and
// reconciliation snapshots
type AuditRepository interface {
	Append(ctx context.Context, entry *models.BalanceAuditLog) error
	GetByAuditID(ctx context.Context, auditID string) (*models.BalanceAuditLog, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.BalanceAuditLog, error)
	// LastForWallet returns the most recent audit row for one balance
	// component of one wallet, or gorm.ErrRecordNotFound.
	LastForWallet(ctx context.Context, walletType string, walletID uint, currency, balanceType string) (*models.BalanceAuditLog, error)
	CountForWallet(ctx context.Context, walletType string, walletID uint) (int64, error)
	ListForWallet(ctx context.Context, walletType string, walletID uint, limit int) ([]models.BalanceAuditLog, error)
	CreateSnapshot(ctx context.Context, snapshot *models.BalanceSnapshot) error
	LatestSnapshot(ctx context.Context, walletType string, walletID uint) (*models.BalanceSnapshot, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// IdempotencyRepository defines the interface for idempotency tokens
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*models.IdempotencyToken, error)
	Create(ctx context.Context, token *models.IdempotencyToken) error
	MarkCompleted(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// NotificationRepository defines the interface for the notification outbox
type NotificationRepository interface {
	Enqueue(ctx context.Context, n *models.NotificationOutbox) error
	DuePending(ctx context.Context, now time.Time, limit int) ([]models.NotificationOutbox, error)
	MarkSent(ctx context.Context, id uint) error
	MarkAttemptFailed(ctx context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error
}

// CashoutRepository defines the interface for cash-out requests
type CashoutRepository interface {
	Create(ctx context.Context, req *models.CashoutRequest) error
	GetByRequestID(ctx context.Context, requestID string) (*models.CashoutRequest, error)
	DueConfirming(ctx context.Context, now time.Time, limit int) ([]models.CashoutRequest, error)
	MarkConfirmed(ctx context.Context, id uint) error
	MarkAttemptFailed(ctx context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error
}

// ExchangeOrderRepository defines the interface for exchange orders
type ExchangeOrderRepository interface {
	Create(ctx context.Context, order *models.ExchangeOrder) error
	DueUnconfirmed(ctx context.Context, now time.Time, limit int) ([]models.ExchangeOrder, error)
	MarkConfirmed(ctx context.Context, id uint) error
	MarkAttemptFailed(ctx context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error
}

// Store bundles every repository over one database handle and provides the
// transaction boundary used by the transaction safety service. Transaction
// invokes fn with a Store bound to the open transaction; returning an error
// rolls everything back.
type Store interface {
	Wallets() WalletRepository
	InternalWallets() InternalWalletRepository
	AuditLogs() AuditRepository
	Tokens() IdempotencyRepository
	Notifications() NotificationRepository
	Cashouts() CashoutRepository
	ExchangeOrders() ExchangeOrderRepository
	Transaction(ctx context.Context, fn func(Store) error) error
}
