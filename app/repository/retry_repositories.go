package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
)

// notificationRepository implements NotificationRepository using GORM
type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification outbox repository instance
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Enqueue(ctx context.Context, n *models.NotificationOutbox) error {
	if n.NextAttemptAt.IsZero() {
		n.NextAttemptAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *notificationRepository) DuePending(ctx context.Context, now time.Time, limit int) ([]models.NotificationOutbox, error) {
	var rows []models.NotificationOutbox
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", models.OutboxStatusPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *notificationRepository) MarkSent(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.NotificationOutbox{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  models.OutboxStatusSent,
			"sent_at": &now,
		}).Error
}

func (r *notificationRepository) MarkAttemptFailed(ctx context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      errMsg,
		"next_attempt_at": nextAttempt,
	}
	if terminal {
		updates["status"] = models.OutboxStatusFailed
	}
	return r.db.WithContext(ctx).Model(&models.NotificationOutbox{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// cashoutRepository implements CashoutRepository using GORM
type cashoutRepository struct {
	db *gorm.DB
}

// NewCashoutRepository creates a new cash-out repository instance
func NewCashoutRepository(db *gorm.DB) CashoutRepository {
	return &cashoutRepository{db: db}
}

func (r *cashoutRepository) Create(ctx context.Context, req *models.CashoutRequest) error {
	if req.NextAttemptAt.IsZero() {
		req.NextAttemptAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *cashoutRepository) GetByRequestID(ctx context.Context, requestID string) (*models.CashoutRequest, error) {
	var req models.CashoutRequest
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *cashoutRepository) DueConfirming(ctx context.Context, now time.Time, limit int) ([]models.CashoutRequest, error) {
	var rows []models.CashoutRequest
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?", []string{models.CashoutStatusPending, models.CashoutStatusConfirming}, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *cashoutRepository) MarkConfirmed(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.CashoutRequest{}).
		Where("id = ?", id).
		Update("status", models.CashoutStatusConfirmed).Error
}

func (r *cashoutRepository) MarkAttemptFailed(ctx context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      errMsg,
		"next_attempt_at": nextAttempt,
		"status":          models.CashoutStatusConfirming,
	}
	if terminal {
		updates["status"] = models.CashoutStatusFailed
	}
	return r.db.WithContext(ctx).Model(&models.CashoutRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// exchangeOrderRepository implements ExchangeOrderRepository using GORM
type exchangeOrderRepository struct {
	db *gorm.DB
}

// NewExchangeOrderRepository creates a new exchange order repository instance
func NewExchangeOrderRepository(db *gorm.DB) ExchangeOrderRepository {
	return &exchangeOrderRepository{db: db}
}

func (r *exchangeOrderRepository) Create(ctx context.Context, order *models.ExchangeOrder) error {
	if order.NextAttemptAt.IsZero() {
		order.NextAttemptAt = time.Now()
	}
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *exchangeOrderRepository) DueUnconfirmed(ctx context.Context, now time.Time, limit int) ([]models.ExchangeOrder, error) {
	var rows []models.ExchangeOrder
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_attempt_at <= ?", []string{models.ExchangeStatusPending, models.ExchangeStatusUnconfirmed}, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *exchangeOrderRepository) MarkConfirmed(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.ExchangeOrder{}).
		Where("id = ?", id).
		Update("status", models.ExchangeStatusConfirmed).Error
}

func (r *exchangeOrderRepository) MarkAttemptFailed(ctx context.Context, id uint, errMsg string, nextAttempt time.Time, terminal bool) error {
	updates := map[string]interface{}{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_error":      errMsg,
		"next_attempt_at": nextAttempt,
		"status":          models.ExchangeStatusUnconfirmed,
	}
	if terminal {
		updates["status"] = models.ExchangeStatusFailed
	}
	return r.db.WithContext(ctx).Model(&models.ExchangeOrder{}).
		Where("id = ?", id).
		Updates(updates).Error
}
