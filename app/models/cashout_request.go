package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Cash-out request states.
const (
	CashoutStatusPending    = "pending"
	CashoutStatusConfirming = "confirming"
	CashoutStatusConfirmed  = "confirmed"
	CashoutStatusFailed     = "failed"
)

// CashoutRequest tracks a withdrawal whose funds have been moved into the
// wallet's locked balance and are awaiting provider confirmation. The retry
// engine re-drives requests stuck in the confirming state.
type CashoutRequest struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	RequestID     string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"request_id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	Currency      string          `gorm:"type:varchar(10);not null" json:"currency"`
	Amount        decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount"`
	Status        string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProviderRef   string          `gorm:"type:varchar(128)" json:"provider_ref"`
	Attempts      int             `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int             `gorm:"not null;default:10" json:"max_attempts"`
	NextAttemptAt time.Time       `gorm:"not null;index" json:"next_attempt_at"`
	LastError     string          `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
