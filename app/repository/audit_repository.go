package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
)

// auditRepository implements AuditRepository using GORM
type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.BalanceAuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) GetByAuditID(ctx context.Context, auditID string) (*models.BalanceAuditLog, error) {
	var entry models.BalanceAuditLog
	err := r.db.WithContext(ctx).Where("audit_id = ?", auditID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.BalanceAuditLog, error) {
	var entry models.BalanceAuditLog
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditRepository) LastForWallet(ctx context.Context, walletType string, walletID uint, currency, balanceType string) (*models.BalanceAuditLog, error) {
	var entry models.BalanceAuditLog
	q := r.db.WithContext(ctx).
		Where("wallet_type = ? AND currency = ? AND balance_type = ?", walletType, currency, balanceType)
	if walletType == models.WalletTypeInternal {
		q = q.Where("internal_wallet_id = ?", walletID)
	} else {
		q = q.Where("wallet_id = ?", walletID)
	}
	err := q.Order("id DESC").First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *auditRepository) CountForWallet(ctx context.Context, walletType string, walletID uint) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&models.BalanceAuditLog{}).Where("wallet_type = ?", walletType)
	if walletType == models.WalletTypeInternal {
		q = q.Where("internal_wallet_id = ?", walletID)
	} else {
		q = q.Where("wallet_id = ?", walletID)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *auditRepository) ListForWallet(ctx context.Context, walletType string, walletID uint, limit int) ([]models.BalanceAuditLog, error) {
	var entries []models.BalanceAuditLog
	q := r.db.WithContext(ctx).Where("wallet_type = ?", walletType)
	if walletType == models.WalletTypeInternal {
		q = q.Where("internal_wallet_id = ?", walletID)
	} else {
		q = q.Where("wallet_id = ?", walletID)
	}
	err := q.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *auditRepository) CreateSnapshot(ctx context.Context, snapshot *models.BalanceSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *auditRepository) LatestSnapshot(ctx context.Context, walletType string, walletID uint) (*models.BalanceSnapshot, error) {
	var snapshot models.BalanceSnapshot
	q := r.db.WithContext(ctx).Where("wallet_type = ?", walletType)
	if walletType == models.WalletTypeInternal {
		q = q.Where("internal_wallet_id = ?", walletID)
	} else {
		q = q.Where("wallet_id = ?", walletID)
	}
	err := q.Order("id DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// PruneOlderThan is the administrative retention purge, the only delete path
// on the ledger.
func (r *auditRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.BalanceAuditLog{})
	return res.RowsAffected, res.Error
}
