package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
)

// Store is the slice of the repository layer the audit service writes
// through. A transaction-bound repository.Store satisfies it, so ledger rows
// written during a balance mutation join that mutation's transaction.
type Store interface {
	AuditLogs() repository.AuditRepository
}

// Sink is the best-effort secondary mirror. Mirror failures are logged and
// dropped; they never propagate into the primary ledger write.
type Sink interface {
	Mirror(ctx context.Context, entry *models.BalanceAuditLog) error
}

// ChangeInput describes one committed balance mutation to be recorded.
type ChangeInput struct {
	WalletType       string
	UserID           uint
	WalletID         uint
	InternalWalletID uint
	Currency         string
	BalanceType      string
	AmountBefore     decimal.Decimal
	AmountAfter      decimal.Decimal
	TransactionID    string
	IdempotencyKey   string
	ValidationPassed bool
}

// SnapshotInput captures a wallet's full balance breakdown for a snapshot.
type SnapshotInput struct {
	WalletType       string
	UserID           uint
	WalletID         uint
	InternalWalletID uint
	Currency         string
	Available        decimal.Decimal
	Frozen           decimal.Decimal
	Locked           decimal.Decimal
	Reserved         decimal.Decimal
	TriggerEvent     string
}

// Service records every balance mutation in the append-only ledger and
// maintains reconciliation snapshots.
type Service struct {
	sink Sink
}

// NewService creates the audit service. sink may be nil.
func NewService(sink Sink) *Service {
	return &Service{sink: sink}
}

// LogBalanceChange appends exactly one ledger row for a committed balance
// mutation. It is idempotent on the idempotency key: a key already present
// in the ledger returns the existing row instead of writing a duplicate.
func (s *Service) LogBalanceChange(ctx context.Context, store Store, in ChangeInput) (*models.BalanceAuditLog, error) {
	if in.IdempotencyKey != "" {
		existing, err := store.AuditLogs().GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			log.Debugf("[Audit] Duplicate idempotency key %s, returning audit %s", in.IdempotencyKey, existing.AuditID)
			return existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	}

	now := time.Now()
	change := in.AmountAfter.Sub(in.AmountBefore)
	changeType := models.ChangeTypeCredit
	if change.IsNegative() {
		changeType = models.ChangeTypeDebit
		change = change.Abs()
	}

	walletID := in.WalletID
	if in.WalletType == models.WalletTypeInternal {
		walletID = in.InternalWalletID
	}

	entry := &models.BalanceAuditLog{
		AuditID:          uuid.New().String(),
		WalletType:       in.WalletType,
		UserID:           in.UserID,
		WalletID:         in.WalletID,
		InternalWalletID: in.InternalWalletID,
		Currency:         in.Currency,
		BalanceType:      in.BalanceType,
		AmountBefore:     in.AmountBefore,
		AmountAfter:      in.AmountAfter,
		ChangeAmount:     change,
		ChangeType:       changeType,
		TransactionID:    in.TransactionID,
		PreChecksum:      Checksum(in.WalletType, walletID, in.Currency, in.BalanceType, in.AmountBefore, now),
		PostChecksum:     Checksum(in.WalletType, walletID, in.Currency, in.BalanceType, in.AmountAfter, now),
		ValidationPassed: in.ValidationPassed,
		CreatedAt:        now,
	}
	if in.IdempotencyKey != "" {
		key := in.IdempotencyKey
		entry.IdempotencyKey = &key
	}

	if err := store.AuditLogs().Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}

	s.mirror(ctx, entry)
	return entry, nil
}

// mirror pushes the entry into the secondary sink. Isolated failure domain:
// errors are logged, never returned.
func (s *Service) mirror(ctx context.Context, entry *models.BalanceAuditLog) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Mirror(ctx, entry); err != nil {
		log.Warnf("[Audit] Secondary sink failed for audit %s: %v", entry.AuditID, err)
	}
}

// CreateBalanceSnapshot records a point-in-time balance breakdown as a
// reconciliation baseline.
func (s *Service) CreateBalanceSnapshot(ctx context.Context, store Store, in SnapshotInput) (*models.BalanceSnapshot, error) {
	now := time.Now()

	walletID := in.WalletID
	if in.WalletType == models.WalletTypeInternal {
		walletID = in.InternalWalletID
	}

	count, err := store.AuditLogs().CountForWallet(ctx, in.WalletType, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit trail: %w", err)
	}
	lastTxID := ""
	if recent, err := store.AuditLogs().ListForWallet(ctx, in.WalletType, walletID, 1); err == nil && len(recent) > 0 {
		lastTxID = recent[0].TransactionID
	}

	total := in.Available.Add(in.Frozen).Add(in.Locked).Add(in.Reserved)
	snapshot := &models.BalanceSnapshot{
		SnapshotID:        uuid.New().String(),
		WalletType:        in.WalletType,
		UserID:            in.UserID,
		WalletID:          in.WalletID,
		InternalWalletID:  in.InternalWalletID,
		Currency:          in.Currency,
		AvailableBalance:  in.Available,
		FrozenBalance:     in.Frozen,
		LockedBalance:     in.Locked,
		ReservedBalance:   in.Reserved,
		Checksum:          Checksum(in.WalletType, walletID, in.Currency, "total", total, now),
		TransactionCount:  count,
		LastTransactionID: lastTxID,
		TriggerEvent:      in.TriggerEvent,
		CreatedAt:         now,
	}

	if err := store.AuditLogs().CreateSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("failed to create balance snapshot: %w", err)
	}
	log.Infof("[Audit] Snapshot %s for %s wallet %d (%s, trigger=%s)",
		snapshot.SnapshotID, in.WalletType, walletID, in.Currency, in.TriggerEvent)
	return snapshot, nil
}

// Checksum produces a deterministic hash over a wallet balance and its
// context, keyed to the calendar day, for tamper and drift detection.
func Checksum(walletType string, walletID uint, currency, balanceType string, amount decimal.Decimal, at time.Time) string {
	payload := fmt.Sprintf("%s|%d|%s|%s|%s|%s",
		walletType, walletID, currency, balanceType, amount.StringFixed(8), at.UTC().Format("2006-01-02"))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum recomputes the post-change checksum of a ledger row and
// reports whether it matches what was recorded at write time.
func VerifyChecksum(entry *models.BalanceAuditLog) bool {
	walletID := entry.WalletID
	if entry.WalletType == models.WalletTypeInternal {
		walletID = entry.InternalWalletID
	}
	expected := Checksum(entry.WalletType, walletID, entry.Currency, entry.BalanceType, entry.AmountAfter, entry.CreatedAt)
	return expected == entry.PostChecksum
}
