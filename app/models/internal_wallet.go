package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InternalWallet holds platform-custodied provider float. Invariant:
// total_balance == available + locked + reserved, exactly.
type InternalWallet struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	Provider         string          `gorm:"type:varchar(50);not null;index:ux_internal_wallets_provider_currency,unique,priority:1" json:"provider"`
	Currency         string          `gorm:"type:varchar(10);not null;index:ux_internal_wallets_provider_currency,unique,priority:2" json:"currency"`
	AvailableBalance decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"available_balance"`
	LockedBalance    decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"locked_balance"`
	ReservedBalance  decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"reserved_balance"`
	TotalBalance     decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"total_balance"`
	MinimumBalance   decimal.Decimal `gorm:"type:decimal(24,8);not null;default:0" json:"minimum_balance"`
	Version          uint64          `gorm:"not null;default:0" json:"version"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Balance returns the named balance component.
func (w *InternalWallet) Balance(balanceType string) decimal.Decimal {
	switch balanceType {
	case BalanceTypeLocked:
		return w.LockedBalance
	case BalanceTypeReserved:
		return w.ReservedBalance
	default:
		return w.AvailableBalance
	}
}

// SetBalance overwrites the named balance component. TotalBalance is not
// touched; callers persist through RecomputeTotal.
func (w *InternalWallet) SetBalance(balanceType string, amount decimal.Decimal) {
	switch balanceType {
	case BalanceTypeLocked:
		w.LockedBalance = amount
	case BalanceTypeReserved:
		w.ReservedBalance = amount
	default:
		w.AvailableBalance = amount
	}
}

// ComponentSum returns available + locked + reserved.
func (w *InternalWallet) ComponentSum() decimal.Decimal {
	return w.AvailableBalance.Add(w.LockedBalance).Add(w.ReservedBalance)
}

// RecomputeTotal sets TotalBalance from the components. Every mutation path
// must call this before persisting.
func (w *InternalWallet) RecomputeTotal() {
	w.TotalBalance = w.ComponentSum()
}

// HasNegativeComponent reports whether any balance component is below zero.
func (w *InternalWallet) HasNegativeComponent() bool {
	return w.AvailableBalance.IsNegative() || w.LockedBalance.IsNegative() || w.ReservedBalance.IsNegative()
}
