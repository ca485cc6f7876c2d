package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exchange order states.
const (
	ExchangeStatusPending     = "pending"
	ExchangeStatusUnconfirmed = "unconfirmed"
	ExchangeStatusConfirmed   = "confirmed"
	ExchangeStatusFailed      = "failed"
)

// ExchangeOrder tracks a currency exchange whose provider-side confirmation
// is still outstanding. Unconfirmed orders are swept by the retry engine.
type ExchangeOrder struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	OrderID       string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	UserID        uint            `gorm:"not null;index" json:"user_id"`
	FromCurrency  string          `gorm:"type:varchar(10);not null" json:"from_currency"`
	ToCurrency    string          `gorm:"type:varchar(10);not null" json:"to_currency"`
	FromAmount    decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"from_amount"`
	ToAmount      decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"to_amount"`
	Rate          decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"rate"`
	Status        string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProviderRef   string          `gorm:"type:varchar(128)" json:"provider_ref"`
	Attempts      int             `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int             `gorm:"not null;default:10" json:"max_attempts"`
	NextAttemptAt time.Time       `gorm:"not null;index" json:"next_attempt_at"`
	LastError     string          `gorm:"type:text" json:"last_error"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
