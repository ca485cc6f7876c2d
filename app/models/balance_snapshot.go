package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot trigger events.
const (
	SnapshotTriggerScheduled     = "scheduled"
	SnapshotTriggerManual        = "manual"
	SnapshotTriggerPreOperation  = "pre_operation"
	SnapshotTriggerPostOperation = "post_operation"
)

// BalanceSnapshot is a point-in-time copy of a wallet's full balance
// breakdown, used as a reconciliation baseline.
type BalanceSnapshot struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	SnapshotID        string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"snapshot_id"`
	WalletType        string          `gorm:"type:varchar(20);not null;index" json:"wallet_type"`
	UserID            uint            `gorm:"index" json:"user_id"`
	WalletID          uint            `gorm:"index" json:"wallet_id"`
	InternalWalletID  uint            `gorm:"index" json:"internal_wallet_id"`
	Currency          string          `gorm:"type:varchar(10);not null" json:"currency"`
	AvailableBalance  decimal.Decimal `gorm:"type:decimal(24,8);not null" json:"available_balance"`
	FrozenBalance     decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"frozen_balance"`
	LockedBalance     decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"locked_balance"`
	ReservedBalance   decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"reserved_balance"`
	Checksum          string          `gorm:"type:varchar(64);not null" json:"checksum"`
	TransactionCount  int64           `gorm:"not null;default:0" json:"transaction_count"`
	LastTransactionID string          `gorm:"type:varchar(64)" json:"last_transaction_id"`
	TriggerEvent      string          `gorm:"type:varchar(20);not null" json:"trigger_event"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
