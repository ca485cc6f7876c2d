// Package repotest provides an in-memory repository.Store for service tests.
// Transaction snapshots all state and restores it when fn fails, mimicking a
// database rollback.
package repotest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
)

var _ repository.Store = (*Store)(nil)

// Store is the in-memory fake. Access internal state only between calls, not
// while service goroutines are running.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex

	UserWallets     map[string]models.Wallet
	ProviderWallets map[string]models.InternalWallet
	AuditEntries    []models.BalanceAuditLog
	Snapshots       []models.BalanceSnapshot
	IdemTokens      map[string]models.IdempotencyToken
	Outbox          []models.NotificationOutbox
	CashoutRequests []models.CashoutRequest
	Orders          []models.ExchangeOrder
}

// New creates an empty store.
func New() *Store {
	return &Store{
		UserWallets:     make(map[string]models.Wallet),
		ProviderWallets: make(map[string]models.InternalWallet),
		IdemTokens:      make(map[string]models.IdempotencyToken),
	}
}

func userKey(userID uint, currency string) string {
	return fmt.Sprintf("%d:%s", userID, currency)
}

func internalKey(provider, currency string) string {
	return fmt.Sprintf("%s:%s", provider, currency)
}

// AddWallet seeds a user wallet with the given available balance.
func (s *Store) AddWallet(userID uint, currency string, available decimal.Decimal) *models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := models.Wallet{
		ID:               uint(len(s.UserWallets) + 1),
		UserID:           userID,
		Currency:         currency,
		AvailableBalance: available,
	}
	s.UserWallets[userKey(userID, currency)] = w
	return &w
}

// AddInternalWallet seeds a provider float wallet; total is recomputed.
func (s *Store) AddInternalWallet(provider, currency string, available, locked, reserved decimal.Decimal) *models.InternalWallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := models.InternalWallet{
		ID:               uint(len(s.ProviderWallets) + 1),
		Provider:         provider,
		Currency:         currency,
		AvailableBalance: available,
		LockedBalance:    locked,
		ReservedBalance:  reserved,
	}
	w.RecomputeTotal()
	s.ProviderWallets[internalKey(provider, currency)] = w
	return &w
}

// Corrupt overwrites one component of a seeded wallet directly, bypassing
// every safety layer, for validation/repair tests.
func (s *Store) Corrupt(walletType string, key string, mutate func(available, locked, reserved decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if walletType == models.WalletTypeInternal {
		w := s.ProviderWallets[key]
		w.AvailableBalance, w.LockedBalance, w.ReservedBalance = mutate(w.AvailableBalance, w.LockedBalance, w.ReservedBalance)
		s.ProviderWallets[key] = w
		return
	}
	w := s.UserWallets[key]
	w.AvailableBalance, w.FrozenBalance, w.LockedBalance = mutate(w.AvailableBalance, w.FrozenBalance, w.LockedBalance)
	s.UserWallets[key] = w
}

func (s *Store) Transaction(_ context.Context, fn func(repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	walletSnap := make(map[string]models.Wallet, len(s.UserWallets))
	for k, v := range s.UserWallets {
		walletSnap[k] = v
	}
	internalSnap := make(map[string]models.InternalWallet, len(s.ProviderWallets))
	for k, v := range s.ProviderWallets {
		internalSnap[k] = v
	}
	tokenSnap := make(map[string]models.IdempotencyToken, len(s.IdemTokens))
	for k, v := range s.IdemTokens {
		tokenSnap[k] = v
	}
	entriesSnap := append([]models.BalanceAuditLog(nil), s.AuditEntries...)
	snapshotsSnap := append([]models.BalanceSnapshot(nil), s.Snapshots...)
	notifSnap := append([]models.NotificationOutbox(nil), s.Outbox...)
	cashoutSnap := append([]models.CashoutRequest(nil), s.CashoutRequests...)
	orderSnap := append([]models.ExchangeOrder(nil), s.Orders...)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.UserWallets = walletSnap
		s.ProviderWallets = internalSnap
		s.IdemTokens = tokenSnap
		s.AuditEntries = entriesSnap
		s.Snapshots = snapshotsSnap
		s.Outbox = notifSnap
		s.CashoutRequests = cashoutSnap
		s.Orders = orderSnap
		s.mu.Unlock()
		return err
	}
	return nil
}
