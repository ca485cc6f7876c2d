package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrVersionConflict is returned when an optimistic balance save hits a row
// whose version moved since it was read.
var ErrVersionConflict = errors.New("wallet version conflict")

// gormStore implements Store over a GORM handle (plain or transactional).
type gormStore struct {
	db              *gorm.DB
	wallets         WalletRepository
	internalWallets InternalWalletRepository
	auditLogs       AuditRepository
	tokens          IdempotencyRepository
	notifications   NotificationRepository
	cashouts        CashoutRepository
	exchangeOrders  ExchangeOrderRepository
}

// NewStore creates a repository store backed by GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:              db,
		wallets:         &walletRepository{db: db},
		internalWallets: &internalWalletRepository{db: db},
		auditLogs:       &auditRepository{db: db},
		tokens:          &idempotencyRepository{db: db},
		notifications:   &notificationRepository{db: db},
		cashouts:        &cashoutRepository{db: db},
		exchangeOrders:  &exchangeOrderRepository{db: db},
	}
}

func (s *gormStore) Wallets() WalletRepository                 { return s.wallets }
func (s *gormStore) InternalWallets() InternalWalletRepository { return s.internalWallets }
func (s *gormStore) AuditLogs() AuditRepository                { return s.auditLogs }
func (s *gormStore) Tokens() IdempotencyRepository             { return s.tokens }
func (s *gormStore) Notifications() NotificationRepository     { return s.notifications }
func (s *gormStore) Cashouts() CashoutRepository               { return s.cashouts }
func (s *gormStore) ExchangeOrders() ExchangeOrderRepository   { return s.exchangeOrders }

func (s *gormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
