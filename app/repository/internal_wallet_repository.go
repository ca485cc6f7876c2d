package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/custodix/walletcore/app/models"
)

// internalWalletRepository implements InternalWalletRepository using GORM
type internalWalletRepository struct {
	db *gorm.DB
}

// NewInternalWalletRepository creates a new internal wallet repository instance
func NewInternalWalletRepository(db *gorm.DB) InternalWalletRepository {
	return &internalWalletRepository{db: db}
}

func (r *internalWalletRepository) Create(ctx context.Context, wallet *models.InternalWallet) error {
	wallet.RecomputeTotal()
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *internalWalletRepository) GetByID(ctx context.Context, id uint) (*models.InternalWallet, error) {
	var wallet models.InternalWallet
	if err := r.db.WithContext(ctx).First(&wallet, id).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *internalWalletRepository) GetByProviderAndCurrency(ctx context.Context, provider, currency string) (*models.InternalWallet, error) {
	var wallet models.InternalWallet
	err := r.db.WithContext(ctx).
		Where("provider = ? AND currency = ?", provider, currency).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *internalWalletRepository) GetForUpdate(ctx context.Context, provider, currency string) (*models.InternalWallet, error) {
	var wallet models.InternalWallet
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND currency = ?", provider, currency).
		First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *internalWalletRepository) SaveBalances(ctx context.Context, wallet *models.InternalWallet) error {
	wallet.RecomputeTotal()
	res := r.db.WithContext(ctx).Model(&models.InternalWallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"available_balance": wallet.AvailableBalance,
			"locked_balance":    wallet.LockedBalance,
			"reserved_balance":  wallet.ReservedBalance,
			"total_balance":     wallet.TotalBalance,
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

func (r *internalWalletRepository) List(ctx context.Context) ([]models.InternalWallet, error) {
	var wallets []models.InternalWallet
	err := r.db.WithContext(ctx).Order("id ASC").Find(&wallets).Error
	return wallets, err
}
