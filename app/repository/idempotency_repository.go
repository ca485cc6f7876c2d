package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
)

// idempotencyRepository implements IdempotencyRepository using GORM
type idempotencyRepository struct {
	db *gorm.DB
}

// NewIdempotencyRepository creates a new idempotency repository instance
func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyToken, error) {
	var token models.IdempotencyToken
	err := r.db.WithContext(ctx).Where("token_key = ?", key).First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *idempotencyRepository) Create(ctx context.Context, token *models.IdempotencyToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *idempotencyRepository) MarkCompleted(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&models.IdempotencyToken{}).
		Where("token_key = ?", key).
		Update("status", models.TokenStatusCompleted).Error
}

func (r *idempotencyRepository) MarkFailed(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Model(&models.IdempotencyToken{}).
		Where("token_key = ?", key).
		Update("status", models.TokenStatusFailed).Error
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.IdempotencyToken{})
	return res.RowsAffected, res.Error
}
