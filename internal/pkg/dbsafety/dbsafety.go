package dbsafety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
	"github.com/custodix/walletcore/internal/pkg/audit"
	"github.com/custodix/walletcore/internal/pkg/locks"
)

// Repair types accepted by EmergencyBalanceRepair.
const (
	RepairZeroNegative   = "zero_negative"
	RepairRecomputeTotal = "recompute_total"
)

var (
	ErrUnknownRepairType = errors.New("unknown repair type")
	ErrNothingToRepair   = errors.New("nothing to repair")
)

// Violation is one application-level constraint breach. These mirror the
// schema CHECK constraints so bulk paths that bypass them still get caught.
type Violation struct {
	WalletType  string          `json:"wallet_type"`
	WalletID    uint            `json:"wallet_id"`
	Currency    string          `json:"currency"`
	Constraint  string          `json:"constraint"`
	BalanceType string          `json:"balance_type,omitempty"`
	Observed    decimal.Decimal `json:"observed"`
	Expected    decimal.Decimal `json:"expected"`
}

// RepairAction is one planned or applied balance correction.
type RepairAction struct {
	BalanceType string          `json:"balance_type"`
	Before      decimal.Decimal `json:"before"`
	After       decimal.Decimal `json:"after"`
	AuditID     string          `json:"audit_id,omitempty"`
}

// RepairReport describes what a repair run did, or would do under dry-run.
type RepairReport struct {
	WalletType string         `json:"wallet_type"`
	WalletID   uint           `json:"wallet_id"`
	Currency   string         `json:"currency"`
	RepairType string         `json:"repair_type"`
	DryRun     bool           `json:"dry_run"`
	RepairID   string         `json:"repair_id"`
	Actions    []RepairAction `json:"actions"`
	RanAt      time.Time      `json:"ran_at"`
}

const checkPageSize = 500

// Service mirrors storage integrity constraints in application logic and
// applies minimal, fully audited emergency corrections. Repairs require an
// explicit non-dry-run call; validation findings never trigger them.
type Service struct {
	store repository.Store
	locks *locks.Manager
	audit *audit.Service
}

func NewService(store repository.Store, lockMgr *locks.Manager, auditSvc *audit.Service) *Service {
	return &Service{store: store, locks: lockMgr, audit: auditSvc}
}

// CheckConstraints sweeps both wallet populations for breaches of the
// invariants the schema also enforces: non-negative components everywhere,
// and exact total on internal wallets.
func (s *Service) CheckConstraints(ctx context.Context) ([]Violation, error) {
	var out []Violation

	offset := 0
	for {
		wallets, err := s.store.Wallets().List(ctx, offset, checkPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list wallets: %w", err)
		}
		for i := range wallets {
			out = append(out, userViolations(&wallets[i])...)
		}
		if len(wallets) < checkPageSize {
			break
		}
		offset += checkPageSize
	}

	internals, err := s.store.InternalWallets().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list internal wallets: %w", err)
	}
	for i := range internals {
		out = append(out, internalViolations(&internals[i])...)
	}

	if len(out) > 0 {
		log.Warnf("[DBSafety] Constraint check found %d violations", len(out))
	}
	return out, nil
}

func userViolations(w *models.Wallet) []Violation {
	var out []Violation
	for _, balanceType := range []string{models.BalanceTypeAvailable, models.BalanceTypeFrozen, models.BalanceTypeLocked} {
		if amount := w.Balance(balanceType); amount.IsNegative() {
			out = append(out, Violation{
				WalletType:  models.WalletTypeUser,
				WalletID:    w.ID,
				Currency:    w.Currency,
				Constraint:  "non_negative_balance",
				BalanceType: balanceType,
				Observed:    amount,
				Expected:    decimal.Zero,
			})
		}
	}
	return out
}

func internalViolations(w *models.InternalWallet) []Violation {
	var out []Violation
	for _, balanceType := range []string{models.BalanceTypeAvailable, models.BalanceTypeLocked, models.BalanceTypeReserved} {
		if amount := w.Balance(balanceType); amount.IsNegative() {
			out = append(out, Violation{
				WalletType:  models.WalletTypeInternal,
				WalletID:    w.ID,
				Currency:    w.Currency,
				Constraint:  "non_negative_balance",
				BalanceType: balanceType,
				Observed:    amount,
				Expected:    decimal.Zero,
			})
		}
	}
	if !w.TotalBalance.Equal(w.ComponentSum()) {
		out = append(out, Violation{
			WalletType: models.WalletTypeInternal,
			WalletID:   w.ID,
			Currency:   w.Currency,
			Constraint: "total_equals_component_sum",
			Observed:   w.TotalBalance,
			Expected:   w.ComponentSum(),
		})
	}
	return out
}

// EmergencyBalanceRepair applies the minimal correction for one wallet.
// zero_negative lifts negative components to exactly zero; recompute_total
// resets an internal wallet's stored total from its components. With dryRun
// the planned actions are reported and nothing is written. Applied repairs
// run under the wallet lock and write one audit row per corrected component.
func (s *Service) EmergencyBalanceRepair(ctx context.Context, walletType string, walletID uint, repairType string, dryRun bool) (*RepairReport, error) {
	switch repairType {
	case RepairZeroNegative, RepairRecomputeTotal:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRepairType, repairType)
	}
	if repairType == RepairRecomputeTotal && walletType != models.WalletTypeInternal {
		return nil, fmt.Errorf("%w: recompute_total applies to internal wallets only", ErrUnknownRepairType)
	}

	report := &RepairReport{
		WalletType: walletType,
		WalletID:   walletID,
		RepairType: repairType,
		DryRun:     dryRun,
		RepairID:   fmt.Sprintf("repair-%s", uuid.New().String()),
		RanAt:      time.Now(),
	}

	if dryRun {
		if err := s.planRepair(ctx, report); err != nil {
			return nil, err
		}
		log.Infof("[DBSafety] Dry-run %s on %s wallet %d would touch %d components",
			repairType, walletType, walletID, len(report.Actions))
		return report, nil
	}

	if err := s.applyRepair(ctx, report); err != nil {
		return nil, err
	}
	log.Warnf("[DBSafety] Applied %s repair %s on %s wallet %d (%d components corrected)",
		repairType, report.RepairID, walletType, walletID, len(report.Actions))
	return report, nil
}

// planRepair fills the report from a plain read, without locks.
func (s *Service) planRepair(ctx context.Context, report *RepairReport) error {
	if report.WalletType == models.WalletTypeInternal {
		wallet, err := s.store.InternalWallets().GetByID(ctx, report.WalletID)
		if err != nil {
			return fmt.Errorf("failed to load internal wallet %d: %w", report.WalletID, err)
		}
		report.Currency = wallet.Currency
		report.Actions = planInternal(wallet, report.RepairType)
		return nil
	}
	wallet, err := s.store.Wallets().GetByID(ctx, report.WalletID)
	if err != nil {
		return fmt.Errorf("failed to load wallet %d: %w", report.WalletID, err)
	}
	report.Currency = wallet.Currency
	report.Actions = planUser(wallet)
	return nil
}

func planUser(w *models.Wallet) []RepairAction {
	var actions []RepairAction
	for _, balanceType := range []string{models.BalanceTypeAvailable, models.BalanceTypeFrozen, models.BalanceTypeLocked} {
		if amount := w.Balance(balanceType); amount.IsNegative() {
			actions = append(actions, RepairAction{BalanceType: balanceType, Before: amount, After: decimal.Zero})
		}
	}
	return actions
}

func planInternal(w *models.InternalWallet, repairType string) []RepairAction {
	var actions []RepairAction
	if repairType == RepairRecomputeTotal {
		if !w.TotalBalance.Equal(w.ComponentSum()) {
			actions = append(actions, RepairAction{BalanceType: "total", Before: w.TotalBalance, After: w.ComponentSum()})
		}
		return actions
	}
	for _, balanceType := range []string{models.BalanceTypeAvailable, models.BalanceTypeLocked, models.BalanceTypeReserved} {
		if amount := w.Balance(balanceType); amount.IsNegative() {
			actions = append(actions, RepairAction{BalanceType: balanceType, Before: amount, After: decimal.Zero})
		}
	}
	return actions
}

// applyRepair re-reads the wallet under its lock inside one transaction, so
// the corrections are computed against current state, not the caller's view.
// The lock key matches the one live balance mutations take, so a repair never
// interleaves with a concurrent transfer.
func (s *Service) applyRepair(ctx context.Context, report *RepairReport) error {
	lockKey, err := s.repairLockKey(ctx, report)
	if err != nil {
		return err
	}
	return s.locks.LockedWallet(ctx, lockKey, locks.DefaultTimeout, func() error {
		return s.store.Transaction(ctx, func(tx repository.Store) error {
			if report.WalletType == models.WalletTypeInternal {
				return s.repairInternal(ctx, tx, report)
			}
			return s.repairUser(ctx, tx, report)
		})
	})
}

func (s *Service) repairLockKey(ctx context.Context, report *RepairReport) (string, error) {
	if report.WalletType == models.WalletTypeInternal {
		wallet, err := s.store.InternalWallets().GetByID(ctx, report.WalletID)
		if err != nil {
			return "", fmt.Errorf("failed to load internal wallet %d: %w", report.WalletID, err)
		}
		return fmt.Sprintf("internal:%s:%s", wallet.Provider, wallet.Currency), nil
	}
	wallet, err := s.store.Wallets().GetByID(ctx, report.WalletID)
	if err != nil {
		return "", fmt.Errorf("failed to load wallet %d: %w", report.WalletID, err)
	}
	return fmt.Sprintf("user:%d:%s", wallet.UserID, wallet.Currency), nil
}

func (s *Service) repairUser(ctx context.Context, tx repository.Store, report *RepairReport) error {
	wallet, err := tx.Wallets().GetByID(ctx, report.WalletID)
	if err != nil {
		return fmt.Errorf("failed to load wallet %d: %w", report.WalletID, err)
	}
	wallet, err = tx.Wallets().GetForUpdate(ctx, wallet.UserID, wallet.Currency)
	if err != nil {
		return fmt.Errorf("failed to lock wallet %d: %w", report.WalletID, err)
	}
	report.Currency = wallet.Currency

	actions := planUser(wallet)
	if len(actions) == 0 {
		return ErrNothingToRepair
	}
	for i := range actions {
		action := &actions[i]
		wallet.SetBalance(action.BalanceType, action.After)
		entry, err := s.audit.LogBalanceChange(ctx, tx, audit.ChangeInput{
			WalletType:       models.WalletTypeUser,
			UserID:           wallet.UserID,
			WalletID:         wallet.ID,
			Currency:         wallet.Currency,
			BalanceType:      action.BalanceType,
			AmountBefore:     action.Before,
			AmountAfter:      action.After,
			TransactionID:    report.RepairID,
			IdempotencyKey:   fmt.Sprintf("%s:%s", report.RepairID, action.BalanceType),
			ValidationPassed: true,
		})
		if err != nil {
			return fmt.Errorf("failed to audit repair: %w", err)
		}
		action.AuditID = entry.AuditID
	}
	if err := tx.Wallets().SaveBalances(ctx, wallet); err != nil {
		return fmt.Errorf("failed to persist repaired balances: %w", err)
	}
	report.Actions = actions
	return nil
}

func (s *Service) repairInternal(ctx context.Context, tx repository.Store, report *RepairReport) error {
	wallet, err := tx.InternalWallets().GetByID(ctx, report.WalletID)
	if err != nil {
		return fmt.Errorf("failed to load internal wallet %d: %w", report.WalletID, err)
	}
	wallet, err = tx.InternalWallets().GetForUpdate(ctx, wallet.Provider, wallet.Currency)
	if err != nil {
		return fmt.Errorf("failed to lock internal wallet %d: %w", report.WalletID, err)
	}
	report.Currency = wallet.Currency

	actions := planInternal(wallet, report.RepairType)
	if len(actions) == 0 {
		return ErrNothingToRepair
	}

	if report.RepairType == RepairRecomputeTotal {
		// SaveBalances recomputes the stored total from the components; the
		// correction is recorded as a snapshot, not a component audit row.
		if err := tx.InternalWallets().SaveBalances(ctx, wallet); err != nil {
			return fmt.Errorf("failed to persist recomputed total: %w", err)
		}
		if _, err := s.audit.CreateBalanceSnapshot(ctx, tx, audit.SnapshotInput{
			WalletType:       models.WalletTypeInternal,
			InternalWalletID: wallet.ID,
			Currency:         wallet.Currency,
			Available:        wallet.AvailableBalance,
			Locked:           wallet.LockedBalance,
			Reserved:         wallet.ReservedBalance,
			TriggerEvent:     "emergency_repair",
		}); err != nil {
			return fmt.Errorf("failed to snapshot repaired wallet: %w", err)
		}
		report.Actions = actions
		return nil
	}

	for i := range actions {
		action := &actions[i]
		wallet.SetBalance(action.BalanceType, action.After)
		entry, err := s.audit.LogBalanceChange(ctx, tx, audit.ChangeInput{
			WalletType:       models.WalletTypeInternal,
			InternalWalletID: wallet.ID,
			Currency:         wallet.Currency,
			BalanceType:      action.BalanceType,
			AmountBefore:     action.Before,
			AmountAfter:      action.After,
			TransactionID:    report.RepairID,
			IdempotencyKey:   fmt.Sprintf("%s:%s", report.RepairID, action.BalanceType),
			ValidationPassed: true,
		})
		if err != nil {
			return fmt.Errorf("failed to audit repair: %w", err)
		}
		action.AuditID = entry.AuditID
	}
	if err := tx.InternalWallets().SaveBalances(ctx, wallet); err != nil {
		return fmt.Errorf("failed to persist repaired balances: %w", err)
	}
	report.Actions = actions
	return nil
}
