package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance type constants shared by wallet mutations and audit rows.
const (
	BalanceTypeAvailable = "available"
	BalanceTypeFrozen    = "frozen"
	BalanceTypeLocked    = "locked"
	BalanceTypeReserved  = "reserved"
)

// Wallet is a user-owned custodial wallet. All three balance components must
// stay non-negative at all times; the schema, the transaction safety service
// and the repair tooling each enforce this independently.
type Wallet struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           uint            `gorm:"not null;index:ux_wallets_user_currency,unique,priority:1" json:"user_id"`
	Currency         string          `gorm:"type:varchar(10);not null;index:ux_wallets_user_currency,unique,priority:2" json:"currency"`
	AvailableBalance decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"available_balance"`
	FrozenBalance    decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"frozen_balance"`
	LockedBalance    decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"locked_balance"`
	Version          uint64          `gorm:"not null;default:0" json:"version"`
	AutoCashout      bool            `gorm:"default:false;index" json:"auto_cashout"`
	CashoutThreshold decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"cashout_threshold"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Balance returns the named balance component.
func (w *Wallet) Balance(balanceType string) decimal.Decimal {
	switch balanceType {
	case BalanceTypeFrozen:
		return w.FrozenBalance
	case BalanceTypeLocked:
		return w.LockedBalance
	default:
		return w.AvailableBalance
	}
}

// SetBalance overwrites the named balance component.
func (w *Wallet) SetBalance(balanceType string, amount decimal.Decimal) {
	switch balanceType {
	case BalanceTypeFrozen:
		w.FrozenBalance = amount
	case BalanceTypeLocked:
		w.LockedBalance = amount
	default:
		w.AvailableBalance = amount
	}
}

// HasNegativeComponent reports whether any balance component is below zero.
func (w *Wallet) HasNegativeComponent() bool {
	return w.AvailableBalance.IsNegative() || w.FrozenBalance.IsNegative() || w.LockedBalance.IsNegative()
}
