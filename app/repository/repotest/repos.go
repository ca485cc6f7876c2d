package repotest

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
)

func (s *Store) Wallets() repository.WalletRepository { return &walletRepo{s} }

func (s *Store) InternalWallets() repository.InternalWalletRepository { return &internalRepo{s} }

func (s *Store) AuditLogs() repository.AuditRepository { return &auditRepo{s} }

func (s *Store) Tokens() repository.IdempotencyRepository { return &tokenRepo{s} }

func (s *Store) Notifications() repository.NotificationRepository { return &notificationRepo{s} }

func (s *Store) Cashouts() repository.CashoutRepository { return &cashoutRepo{s} }

func (s *Store) ExchangeOrders() repository.ExchangeOrderRepository { return &orderRepo{s} }

type walletRepo struct{ s *Store }

func (r *walletRepo) Create(_ context.Context, wallet *models.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if wallet.ID == 0 {
		wallet.ID = uint(len(r.s.UserWallets) + 1)
	}
	r.s.UserWallets[userKey(wallet.UserID, wallet.Currency)] = *wallet
	return nil
}

func (r *walletRepo) GetByUserAndCurrency(_ context.Context, userID uint, currency string) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.UserWallets[userKey(userID, currency)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := w
	return &copied, nil
}

func (r *walletRepo) GetByID(_ context.Context, id uint) (*models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.UserWallets {
		if w.ID == id {
			copied := w
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *walletRepo) GetForUpdate(ctx context.Context, userID uint, currency string) (*models.Wallet, error) {
	return r.GetByUserAndCurrency(ctx, userID, currency)
}

func (r *walletRepo) SaveBalances(_ context.Context, wallet *models.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := userKey(wallet.UserID, wallet.Currency)
	stored, ok := r.s.UserWallets[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != wallet.Version {
		return repository.ErrVersionConflict
	}
	wallet.Version++
	r.s.UserWallets[key] = *wallet
	return nil
}

func (r *walletRepo) List(_ context.Context, offset, limit int) ([]models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]models.Wallet, 0, len(r.s.UserWallets))
	for _, w := range r.s.UserWallets {
		all = append(all, w)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *walletRepo) Count(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return int64(len(r.s.UserWallets)), nil
}

func (r *walletRepo) ListAutoCashout(_ context.Context) ([]models.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Wallet
	for _, w := range r.s.UserWallets {
		if w.AutoCashout && w.CashoutThreshold.IsPositive() && w.AvailableBalance.GreaterThanOrEqual(w.CashoutThreshold) {
			out = append(out, w)
		}
	}
	return out, nil
}

type internalRepo struct{ s *Store }

func (r *internalRepo) Create(_ context.Context, wallet *models.InternalWallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if wallet.ID == 0 {
		wallet.ID = uint(len(r.s.ProviderWallets) + 1)
	}
	r.s.ProviderWallets[internalKey(wallet.Provider, wallet.Currency)] = *wallet
	return nil
}

func (r *internalRepo) GetByID(_ context.Context, id uint) (*models.InternalWallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.ProviderWallets {
		if w.ID == id {
			copied := w
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *internalRepo) GetByProviderAndCurrency(_ context.Context, provider, currency string) (*models.InternalWallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.ProviderWallets[internalKey(provider, currency)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := w
	return &copied, nil
}

func (r *internalRepo) GetForUpdate(ctx context.Context, provider, currency string) (*models.InternalWallet, error) {
	return r.GetByProviderAndCurrency(ctx, provider, currency)
}

func (r *internalRepo) SaveBalances(_ context.Context, wallet *models.InternalWallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := internalKey(wallet.Provider, wallet.Currency)
	stored, ok := r.s.ProviderWallets[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if stored.Version != wallet.Version {
		return repository.ErrVersionConflict
	}
	wallet.RecomputeTotal()
	wallet.Version++
	r.s.ProviderWallets[key] = *wallet
	return nil
}

func (r *internalRepo) List(_ context.Context) ([]models.InternalWallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.InternalWallet, 0, len(r.s.ProviderWallets))
	for _, w := range r.s.ProviderWallets {
		out = append(out, w)
	}
	return out, nil
}

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(_ context.Context, entry *models.BalanceAuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry.ID = uint(len(r.s.AuditEntries) + 1)
	r.s.AuditEntries = append(r.s.AuditEntries, *entry)
	return nil
}

func (r *auditRepo) GetByAuditID(_ context.Context, auditID string) (*models.BalanceAuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.AuditEntries {
		if r.s.AuditEntries[i].AuditID == auditID {
			copied := r.s.AuditEntries[i]
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *auditRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.BalanceAuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.AuditEntries {
		e := &r.s.AuditEntries[i]
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			copied := *e
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func auditWalletID(e *models.BalanceAuditLog) uint {
	if e.WalletType == models.WalletTypeInternal {
		return e.InternalWalletID
	}
	return e.WalletID
}

func (r *auditRepo) LastForWallet(_ context.Context, walletType string, walletID uint, currency, balanceType string) (*models.BalanceAuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.AuditEntries) - 1; i >= 0; i-- {
		e := &r.s.AuditEntries[i]
		if e.WalletType == walletType && auditWalletID(e) == walletID && e.Currency == currency && e.BalanceType == balanceType {
			copied := *e
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *auditRepo) CountForWallet(_ context.Context, walletType string, walletID uint) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for i := range r.s.AuditEntries {
		e := &r.s.AuditEntries[i]
		if e.WalletType == walletType && auditWalletID(e) == walletID {
			n++
		}
	}
	return n, nil
}

func (r *auditRepo) ListForWallet(_ context.Context, walletType string, walletID uint, limit int) ([]models.BalanceAuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.BalanceAuditLog
	for i := len(r.s.AuditEntries) - 1; i >= 0 && len(out) < limit; i-- {
		e := &r.s.AuditEntries[i]
		if e.WalletType == walletType && auditWalletID(e) == walletID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *auditRepo) CreateSnapshot(_ context.Context, snapshot *models.BalanceSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	snapshot.ID = uint(len(r.s.Snapshots) + 1)
	r.s.Snapshots = append(r.s.Snapshots, *snapshot)
	return nil
}

func (r *auditRepo) LatestSnapshot(_ context.Context, walletType string, walletID uint) (*models.BalanceSnapshot, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.Snapshots) - 1; i >= 0; i-- {
		sn := r.s.Snapshots[i]
		id := sn.WalletID
		if sn.WalletType == models.WalletTypeInternal {
			id = sn.InternalWalletID
		}
		if sn.WalletType == walletType && id == walletID {
			copied := sn
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *auditRepo) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.AuditEntries[:0]
	var pruned int64
	for _, e := range r.s.AuditEntries {
		if e.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, e)
	}
	r.s.AuditEntries = kept
	return pruned, nil
}

type tokenRepo struct{ s *Store }

func (r *tokenRepo) Get(_ context.Context, key string) (*models.IdempotencyToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.IdemTokens[key]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := t
	return &copied, nil
}

func (r *tokenRepo) Create(_ context.Context, token *models.IdempotencyToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.IdemTokens[token.Key]; exists {
		return gorm.ErrDuplicatedKey
	}
	r.s.IdemTokens[token.Key] = *token
	return nil
}

func (r *tokenRepo) MarkCompleted(_ context.Context, key string) error {
	return r.setStatus(key, models.TokenStatusCompleted)
}

func (r *tokenRepo) MarkFailed(_ context.Context, key string) error {
	return r.setStatus(key, models.TokenStatusFailed)
}

func (r *tokenRepo) setStatus(key, status string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.IdemTokens[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t.Status = status
	r.s.IdemTokens[key] = t
	return nil
}

func (r *tokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, t := range r.s.IdemTokens {
		if t.ExpiresAt.Before(now) {
			delete(r.s.IdemTokens, k)
			n++
		}
	}
	return n, nil
}

type notificationRepo struct{ s *Store }

func (r *notificationRepo) Enqueue(_ context.Context, n *models.NotificationOutbox) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.ID = uint(len(r.s.Outbox) + 1)
	r.s.Outbox = append(r.s.Outbox, *n)
	return nil
}

func (r *notificationRepo) DuePending(_ context.Context, now time.Time, limit int) ([]models.NotificationOutbox, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.NotificationOutbox
	for _, n := range r.s.Outbox {
		if n.Status == models.OutboxStatusPending && !n.NextAttemptAt.After(now) && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *notificationRepo) MarkSent(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Outbox {
		if r.s.Outbox[i].ID == id {
			now := time.Now()
			r.s.Outbox[i].Status = models.OutboxStatusSent
			r.s.Outbox[i].SentAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *notificationRepo) MarkAttemptFailed(_ context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Outbox {
		if r.s.Outbox[i].ID == id {
			r.s.Outbox[i].Attempts++
			r.s.Outbox[i].LastError = errMsg
			r.s.Outbox[i].NextAttemptAt = nextAttempt
			if terminal {
				r.s.Outbox[i].Status = models.OutboxStatusFailed
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type cashoutRepo struct{ s *Store }

func (r *cashoutRepo) Create(_ context.Context, req *models.CashoutRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req.ID = uint(len(r.s.CashoutRequests) + 1)
	r.s.CashoutRequests = append(r.s.CashoutRequests, *req)
	return nil
}

func (r *cashoutRepo) GetByRequestID(_ context.Context, requestID string) (*models.CashoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.CashoutRequests {
		if r.s.CashoutRequests[i].RequestID == requestID {
			copied := r.s.CashoutRequests[i]
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *cashoutRepo) DueConfirming(_ context.Context, now time.Time, limit int) ([]models.CashoutRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.CashoutRequest
	for _, c := range r.s.CashoutRequests {
		if c.Status == models.CashoutStatusConfirming && !c.NextAttemptAt.After(now) && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *cashoutRepo) MarkConfirmed(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.CashoutRequests {
		if r.s.CashoutRequests[i].ID == id {
			r.s.CashoutRequests[i].Status = models.CashoutStatusConfirmed
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *cashoutRepo) MarkAttemptFailed(_ context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.CashoutRequests {
		if r.s.CashoutRequests[i].ID == id {
			r.s.CashoutRequests[i].Attempts++
			r.s.CashoutRequests[i].LastError = errMsg
			r.s.CashoutRequests[i].NextAttemptAt = nextAttempt
			if terminal {
				r.s.CashoutRequests[i].Status = models.CashoutStatusFailed
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type orderRepo struct{ s *Store }

func (r *orderRepo) Create(_ context.Context, order *models.ExchangeOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order.ID = uint(len(r.s.Orders) + 1)
	r.s.Orders = append(r.s.Orders, *order)
	return nil
}

func (r *orderRepo) DueUnconfirmed(_ context.Context, now time.Time, limit int) ([]models.ExchangeOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.ExchangeOrder
	for _, o := range r.s.Orders {
		if o.Status == models.ExchangeStatusUnconfirmed && !o.NextAttemptAt.After(now) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *orderRepo) MarkConfirmed(_ context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Orders {
		if r.s.Orders[i].ID == id {
			r.s.Orders[i].Status = models.ExchangeStatusConfirmed
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *orderRepo) MarkAttemptFailed(_ context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Orders {
		if r.s.Orders[i].ID == id {
			r.s.Orders[i].Attempts++
			r.s.Orders[i].LastError = errMsg
			r.s.Orders[i].NextAttemptAt = nextAttempt
			if terminal {
				r.s.Orders[i].Status = models.ExchangeStatusFailed
			}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}
