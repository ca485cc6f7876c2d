package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/custodix/walletcore/app/models"
)

// walletRepository implements WalletRepository using GORM
type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new wallet repository instance
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *walletRepository) GetByUserAndCurrency(ctx context.Context, userID uint, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) GetByID(ctx context.Context, id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, id).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) GetForUpdate(ctx context.Context, userID uint, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// SaveBalances writes the balance components guarded by the version counter.
// The caller is expected to hold the row lock; the version check catches
// writers that bypassed it.
func (r *walletRepository) SaveBalances(ctx context.Context, wallet *models.Wallet) error {
	res := r.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"available_balance": wallet.AvailableBalance,
			"frozen_balance":    wallet.FrozenBalance,
			"locked_balance":    wallet.LockedBalance,
			"version":           gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	wallet.Version++
	return nil
}

func (r *walletRepository) List(ctx context.Context, offset, limit int) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.WithContext(ctx).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&wallets).Error
	return wallets, err
}

func (r *walletRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Wallet{}).Count(&count).Error
	return count, err
}

func (r *walletRepository) ListAutoCashout(ctx context.Context) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.WithContext(ctx).
		Where("auto_cashout = ? AND available_balance >= cashout_threshold AND cashout_threshold > 0", true).
		Find(&wallets).Error
	return wallets, err
}
