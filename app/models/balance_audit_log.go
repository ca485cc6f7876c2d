package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Change type constants for audit rows.
const (
	ChangeTypeCredit = "credit"
	ChangeTypeDebit  = "debit"
)

// Wallet type discriminators used by audit rows and balance operations.
const (
	WalletTypeUser     = "user"
	WalletTypeInternal = "internal"
)

// BalanceAuditLog is the append-only ledger: exactly one row per committed
// balance mutation. Rows are never updated or deleted outside the
// administrative retention purge.
type BalanceAuditLog struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	AuditID          string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"audit_id"`
	WalletType       string          `gorm:"type:varchar(20);not null;index:idx_audit_wallet,priority:1" json:"wallet_type"`
	UserID           uint            `gorm:"index:idx_audit_wallet,priority:2" json:"user_id"`
	WalletID         uint            `gorm:"index:idx_audit_wallet,priority:3" json:"wallet_id"`
	InternalWalletID uint            `gorm:"index" json:"internal_wallet_id"`
	Currency         string          `gorm:"type:varchar(10);not null" json:"currency"`
	BalanceType      string          `gorm:"type:varchar(20);not null" json:"balance_type"`
	AmountBefore     decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount_before"`
	AmountAfter      decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"amount_after"`
	ChangeAmount     decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"change_amount"`
	ChangeType       string          `gorm:"type:varchar(10);not null" json:"change_type"`
	TransactionID    string          `gorm:"type:varchar(64);not null;index" json:"transaction_id"`
	IdempotencyKey   *string         `gorm:"type:varchar(128);index:ux_audit_idem,unique" json:"idempotency_key,omitempty"`
	PreChecksum      string          `gorm:"type:varchar(64);not null" json:"pre_checksum"`
	PostChecksum     string          `gorm:"type:varchar(64);not null" json:"post_checksum"`
	ValidationPassed bool            `gorm:"default:true" json:"validation_passed"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (BalanceAuditLog) TableName() string {
	return "balance_audit_logs"
}
