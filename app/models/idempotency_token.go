package models

import "time"

// Idempotency token lifecycle states.
const (
	TokenStatusPending   = "pending"
	TokenStatusCompleted = "completed"
	TokenStatusFailed    = "failed"
)

// IdempotencyToken guards at-most-once application of a logical operation
// across retries and duplicate deliveries. Tokens expire at a fixed horizon
// to bound storage growth.
type IdempotencyToken struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Key           string    `gorm:"column:token_key;type:varchar(128);not null;uniqueIndex" json:"key"`
	OperationType string    `gorm:"type:varchar(50);not null" json:"operation_type"`
	ResourceID    string    `gorm:"type:varchar(128)" json:"resource_id"`
	Status        string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ExpiresAt     time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCompleted reports whether the operation behind this token already
// committed. Expired tokens no longer guard anything.
func (t *IdempotencyToken) IsCompleted(now time.Time) bool {
	return t.Status == TokenStatusCompleted && now.Before(t.ExpiresAt)
}
