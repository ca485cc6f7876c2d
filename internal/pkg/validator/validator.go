package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
	"github.com/custodix/walletcore/internal/pkg/audit"
)

// IssueKind classifies a validation finding.
type IssueKind string

const (
	IssueNegativeBalance      IssueKind = "NEGATIVE_BALANCE"
	IssueBalanceInconsistency IssueKind = "BALANCE_INCONSISTENCY"
	IssueAuditTrailGap        IssueKind = "AUDIT_TRAIL_GAP"
	IssueInternalBalanceError IssueKind = "INTERNAL_BALANCE_ERROR"
)

// Severity ranks a finding. Any critical finding fails the whole check.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Confidence penalties per finding.
const (
	criticalPenalty = 0.3
	warningPenalty  = 0.1
)

// Issue is one validation finding on one balance component.
type Issue struct {
	Kind        IssueKind `json:"kind"`
	Severity    Severity  `json:"severity"`
	BalanceType string    `json:"balance_type,omitempty"`
	Detail      string    `json:"detail"`
}

// Result is the outcome of validating one wallet.
type Result struct {
	WalletType      string    `json:"wallet_type"`
	WalletID        uint      `json:"wallet_id"`
	Currency        string    `json:"currency"`
	Valid           bool      `json:"valid"`
	Issues          []Issue   `json:"issues,omitempty"`
	Confidence      float64   `json:"confidence"`
	Recommendations []string  `json:"recommendations,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// BatchResult aggregates a ValidateAllWallets run.
type BatchResult struct {
	Checked        int       `json:"checked"`
	Passed         int       `json:"passed"`
	Failed         int       `json:"failed"`
	CriticalIssues int       `json:"critical_issues"`
	Failures       []*Result `json:"failures,omitempty"`
	Elapsed        string    `json:"elapsed"`
}

// Notifier delivers alerts for critical findings. Best-effort.
type Notifier interface {
	Notify(ctx context.Context, severity, subject, body string) error
}

const listPageSize = 500

// Service runs consistency checks over wallets and the audit trail. It only
// reads; repairs go through the database safety service.
type Service struct {
	store    repository.Store
	notifier Notifier
}

// NewService creates the balance validator. notifier may be nil.
func NewService(store repository.Store, notifier Notifier) *Service {
	return &Service{store: store, notifier: notifier}
}

type resultBuilder struct {
	result *Result
}

func newResult(walletType string, walletID uint, currency string) *resultBuilder {
	return &resultBuilder{result: &Result{
		WalletType: walletType,
		WalletID:   walletID,
		Currency:   currency,
		Valid:      true,
		Confidence: 1.0,
		CheckedAt:  time.Now(),
	}}
}

func (b *resultBuilder) add(kind IssueKind, severity Severity, balanceType, detail string) {
	b.result.Issues = append(b.result.Issues, Issue{
		Kind:        kind,
		Severity:    severity,
		BalanceType: balanceType,
		Detail:      detail,
	})
	if severity == SeverityCritical {
		b.result.Valid = false
		b.result.Confidence -= criticalPenalty
	} else {
		b.result.Confidence -= warningPenalty
	}
	if b.result.Confidence < 0 {
		b.result.Confidence = 0
	}
}

func (b *resultBuilder) recommend(text string) {
	b.result.Recommendations = append(b.result.Recommendations, text)
}

// ValidateUserWallet checks one user wallet: non-negative components and
// agreement with the last audit entry per component.
func (s *Service) ValidateUserWallet(ctx context.Context, userID uint, currency string) (*Result, error) {
	wallet, err := s.store.Wallets().GetByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet for user %d %s: %w", userID, currency, err)
	}
	return s.validateUserWallet(ctx, wallet), nil
}

func (s *Service) validateUserWallet(ctx context.Context, wallet *models.Wallet) *Result {
	b := newResult(models.WalletTypeUser, wallet.ID, wallet.Currency)

	components := map[string]decimal.Decimal{
		models.BalanceTypeAvailable: wallet.AvailableBalance,
		models.BalanceTypeFrozen:    wallet.FrozenBalance,
		models.BalanceTypeLocked:    wallet.LockedBalance,
	}
	for balanceType, amount := range components {
		if amount.IsNegative() {
			b.add(IssueNegativeBalance, SeverityCritical, balanceType,
				fmt.Sprintf("%s balance is %s", balanceType, amount.String()))
			b.recommend(fmt.Sprintf("run emergency repair (zero_negative) on wallet %d for the %s component", wallet.ID, balanceType))
		}
		s.checkAuditAgreement(ctx, b, models.WalletTypeUser, wallet.ID, wallet.Currency, balanceType, amount)
	}
	return b.result
}

// ValidateInternalWallet checks one provider float wallet: non-negative
// components, exact total, minimum float level and audit agreement.
func (s *Service) ValidateInternalWallet(ctx context.Context, provider, currency string) (*Result, error) {
	wallet, err := s.store.InternalWallets().GetByProviderAndCurrency(ctx, provider, currency)
	if err != nil {
		return nil, fmt.Errorf("failed to load internal wallet %s %s: %w", provider, currency, err)
	}
	return s.validateInternalWallet(ctx, wallet), nil
}

func (s *Service) validateInternalWallet(ctx context.Context, wallet *models.InternalWallet) *Result {
	b := newResult(models.WalletTypeInternal, wallet.ID, wallet.Currency)

	components := map[string]decimal.Decimal{
		models.BalanceTypeAvailable: wallet.AvailableBalance,
		models.BalanceTypeLocked:    wallet.LockedBalance,
		models.BalanceTypeReserved:  wallet.ReservedBalance,
	}
	for balanceType, amount := range components {
		if amount.IsNegative() {
			b.add(IssueNegativeBalance, SeverityCritical, balanceType,
				fmt.Sprintf("%s balance is %s", balanceType, amount.String()))
			b.recommend(fmt.Sprintf("run emergency repair (zero_negative) on internal wallet %d for the %s component", wallet.ID, balanceType))
		}
		s.checkAuditAgreement(ctx, b, models.WalletTypeInternal, wallet.ID, wallet.Currency, balanceType, amount)
	}

	if !wallet.TotalBalance.Equal(wallet.ComponentSum()) {
		b.add(IssueBalanceInconsistency, SeverityCritical, "",
			fmt.Sprintf("total %s != available+locked+reserved %s", wallet.TotalBalance.String(), wallet.ComponentSum().String()))
		b.recommend(fmt.Sprintf("run emergency repair (recompute_total) on internal wallet %d", wallet.ID))
	}
	if wallet.AvailableBalance.LessThan(wallet.MinimumBalance) {
		b.add(IssueInternalBalanceError, SeverityWarning, models.BalanceTypeAvailable,
			fmt.Sprintf("available %s below configured minimum %s", wallet.AvailableBalance.String(), wallet.MinimumBalance.String()))
		b.recommend(fmt.Sprintf("top up %s float for %s", wallet.Currency, wallet.Provider))
	}
	return b.result
}

// checkAuditAgreement flags components whose current value diverges from the
// last committed audit entry.
func (s *Service) checkAuditAgreement(ctx context.Context, b *resultBuilder, walletType string, walletID uint, currency, balanceType string, current decimal.Decimal) {
	last, err := s.store.AuditLogs().LastForWallet(ctx, walletType, walletID, currency, balanceType)
	if err != nil {
		// No trail yet is not a gap; balances seeded outside this system
		// simply have nothing to diverge from.
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Validator] Audit trail lookup failed for %s wallet %d: %v", walletType, walletID, err)
		}
		return
	}
	if !last.AmountAfter.Equal(current) {
		b.add(IssueAuditTrailGap, SeverityWarning, balanceType,
			fmt.Sprintf("%s balance is %s but last audit entry %s recorded %s",
				balanceType, current.String(), last.AuditID, last.AmountAfter.String()))
		b.recommend(fmt.Sprintf("reconcile wallet %d against the audit trail from entry %s onward", walletID, last.AuditID))
	}
}

// ValidateAllWallets runs both wallet populations through validation and
// aggregates the findings. Critical findings raise an alert.
func (s *Service) ValidateAllWallets(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	batch := &BatchResult{}

	offset := 0
	for {
		wallets, err := s.store.Wallets().List(ctx, offset, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list wallets: %w", err)
		}
		for i := range wallets {
			s.collect(batch, s.validateUserWallet(ctx, &wallets[i]))
		}
		if len(wallets) < listPageSize {
			break
		}
		offset += listPageSize
	}

	internals, err := s.store.InternalWallets().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list internal wallets: %w", err)
	}
	for i := range internals {
		s.collect(batch, s.validateInternalWallet(ctx, &internals[i]))
	}

	batch.Elapsed = time.Since(start).String()
	log.Infof("[Validator] Checked %d wallets: %d passed, %d failed, %d critical issues (%s)",
		batch.Checked, batch.Passed, batch.Failed, batch.CriticalIssues, batch.Elapsed)

	if batch.CriticalIssues > 0 && s.notifier != nil {
		body := fmt.Sprintf("%d critical balance issues across %d wallets", batch.CriticalIssues, batch.Failed)
		if err := s.notifier.Notify(ctx, "critical", "balance validation failed", body); err != nil {
			log.Errorf("[Validator] Failed to deliver validation alert: %v", err)
		}
	}
	return batch, nil
}

func (s *Service) collect(batch *BatchResult, result *Result) {
	batch.Checked++
	if result.Valid {
		batch.Passed++
		return
	}
	batch.Failed++
	batch.Failures = append(batch.Failures, result)
	for _, issue := range result.Issues {
		if issue.Severity == SeverityCritical {
			batch.CriticalIssues++
		}
	}
}

// Discrepancy is a wallet whose stored balance no longer matches the ledger.
type Discrepancy struct {
	WalletType  string          `json:"wallet_type"`
	WalletID    uint            `json:"wallet_id"`
	Currency    string          `json:"currency"`
	BalanceType string          `json:"balance_type"`
	Stored      decimal.Decimal `json:"stored"`
	Ledger      decimal.Decimal `json:"ledger"`
	Difference  decimal.Decimal `json:"difference"`
}

// DetectDiscrepancies reports every component whose stored balance diverges
// from the last audit entry, across both wallet populations.
func (s *Service) DetectDiscrepancies(ctx context.Context) ([]Discrepancy, error) {
	var out []Discrepancy

	offset := 0
	for {
		wallets, err := s.store.Wallets().List(ctx, offset, listPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list wallets: %w", err)
		}
		for i := range wallets {
			w := &wallets[i]
			for balanceType, amount := range map[string]decimal.Decimal{
				models.BalanceTypeAvailable: w.AvailableBalance,
				models.BalanceTypeFrozen:    w.FrozenBalance,
				models.BalanceTypeLocked:    w.LockedBalance,
			} {
				if d, ok := s.discrepancy(ctx, models.WalletTypeUser, w.ID, w.Currency, balanceType, amount); ok {
					out = append(out, d)
				}
			}
		}
		if len(wallets) < listPageSize {
			break
		}
		offset += listPageSize
	}

	internals, err := s.store.InternalWallets().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list internal wallets: %w", err)
	}
	for i := range internals {
		w := &internals[i]
		for balanceType, amount := range map[string]decimal.Decimal{
			models.BalanceTypeAvailable: w.AvailableBalance,
			models.BalanceTypeLocked:    w.LockedBalance,
			models.BalanceTypeReserved:  w.ReservedBalance,
		} {
			if d, ok := s.discrepancy(ctx, models.WalletTypeInternal, w.ID, w.Currency, balanceType, amount); ok {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func (s *Service) discrepancy(ctx context.Context, walletType string, walletID uint, currency, balanceType string, stored decimal.Decimal) (Discrepancy, bool) {
	last, err := s.store.AuditLogs().LastForWallet(ctx, walletType, walletID, currency, balanceType)
	if err != nil || last.AmountAfter.Equal(stored) {
		return Discrepancy{}, false
	}
	return Discrepancy{
		WalletType:  walletType,
		WalletID:    walletID,
		Currency:    currency,
		BalanceType: balanceType,
		Stored:      stored,
		Ledger:      last.AmountAfter,
		Difference:  stored.Sub(last.AmountAfter),
	}, true
}

// ValidateAgainstAuditTrail walks the recent trail of one wallet and checks
// checksum integrity and amount continuity between consecutive entries.
func (s *Service) ValidateAgainstAuditTrail(ctx context.Context, walletType string, walletID uint, depth int) (*Result, error) {
	if depth <= 0 {
		depth = 100
	}
	entries, err := s.store.AuditLogs().ListForWallet(ctx, walletType, walletID, depth)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit trail: %w", err)
	}

	currency := ""
	if len(entries) > 0 {
		currency = entries[0].Currency
	}
	b := newResult(walletType, walletID, currency)

	// entries are newest-first; track the previous (older) entry per component
	prevByType := make(map[string]*models.BalanceAuditLog)
	for i := len(entries) - 1; i >= 0; i-- {
		e := &entries[i]
		if !audit.VerifyChecksum(e) {
			b.add(IssueAuditTrailGap, SeverityCritical, e.BalanceType,
				fmt.Sprintf("audit entry %s fails checksum verification", e.AuditID))
			b.recommend("audit trail may be tampered; escalate to reconciliation")
		}
		if prev, ok := prevByType[e.BalanceType]; ok {
			if !prev.AmountAfter.Equal(e.AmountBefore) {
				b.add(IssueAuditTrailGap, SeverityWarning, e.BalanceType,
					fmt.Sprintf("entry %s starts at %s but previous entry %s ended at %s",
						e.AuditID, e.AmountBefore.String(), prev.AuditID, prev.AmountAfter.String()))
			}
		}
		prevByType[e.BalanceType] = e
	}
	return b.result, nil
}
