package txsafety

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
	"github.com/custodix/walletcore/internal/pkg/audit"
	"github.com/custodix/walletcore/internal/pkg/locks"
)

// Service executes balance mutations with idempotency, bounded per-wallet
// locking, optimistic versioning and a mandatory audit row per operation,
// all inside one storage transaction per batch.
type Service struct {
	store       repository.Store
	locks       *locks.Manager
	audit       *audit.Service
	validate    *validator.Validate
	lockTimeout time.Duration
}

// NewService creates the transaction safety service.
func NewService(store repository.Store, lockMgr *locks.Manager, auditSvc *audit.Service) *Service {
	return &Service{
		store:       store,
		locks:       lockMgr,
		audit:       auditSvc,
		validate:    validator.New(),
		lockTimeout: locks.DefaultTimeout,
	}
}

// validBalanceType rejects components the wallet type does not carry. The
// model setters fall back to available_balance for unknown components, which
// would leave the audit row naming a component that never changed.
func validBalanceType(op BalanceOperation) bool {
	switch op.BalanceType {
	case models.BalanceTypeAvailable, models.BalanceTypeLocked:
		return true
	case models.BalanceTypeFrozen:
		return op.WalletType == models.WalletTypeUser
	case models.BalanceTypeReserved:
		return op.WalletType == models.WalletTypeInternal
	default:
		return false
	}
}

// lockKey gives every wallet a stable identity for lock ordering.
func lockKey(op BalanceOperation) string {
	if op.WalletType == models.WalletTypeInternal {
		return fmt.Sprintf("wallet:internal:%s:%s", op.Provider, op.Currency)
	}
	return fmt.Sprintf("wallet:user:%d:%s", op.UserID, op.Currency)
}

// tokenExpiry bounds idempotency token lifetime to the end of the day.
func tokenExpiry(now time.Time) time.Time {
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
}

func failure(status ResultStatus, err error) (*Result, error) {
	return &Result{Status: status, Error: err.Error()}, err
}

// ExecuteBalanceOperations applies a batch of balance operations atomically.
// A completed idempotency token for the context's transaction ID
// short-circuits to DUPLICATE without touching balances. Locks for every
// distinct wallet are taken in canonical order with a bounded wait. Any
// failure anywhere rolls the whole batch back.
func (s *Service) ExecuteBalanceOperations(ctx context.Context, ops []BalanceOperation, opCtx OperationContext) (*Result, error) {
	if len(ops) == 0 {
		return failure(StatusValidationFailed, fmt.Errorf("%w: empty operation batch", ErrValidation))
	}
	if err := s.validate.Struct(opCtx); err != nil {
		return failure(StatusValidationFailed, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	for i, op := range ops {
		if err := s.validate.Struct(op); err != nil {
			return failure(StatusValidationFailed, fmt.Errorf("%w: operation %d: %v", ErrValidation, i, err))
		}
		if !op.Amount.IsPositive() {
			return failure(StatusValidationFailed, fmt.Errorf("%w: operation %d: amount must be positive", ErrValidation, i))
		}
		if !validBalanceType(op) {
			return failure(StatusValidationFailed, fmt.Errorf("%w: operation %d: balance type %q not valid for %s wallet",
				ErrValidation, i, op.BalanceType, op.WalletType))
		}
	}

	now := time.Now()
	token, err := s.store.Tokens().Get(ctx, opCtx.TransactionID)
	switch {
	case err == nil:
		if token.IsCompleted(now) {
			log.Infof("[TxSafety] Duplicate transaction %s, skipping", opCtx.TransactionID)
			return &Result{Status: StatusDuplicate, DuplicateDetected: true}, nil
		}
		// A pending token from a crashed earlier attempt; carry on, the
		// per-operation audit idempotency keys keep the replay safe.
	case errors.Is(err, gorm.ErrRecordNotFound):
		token = &models.IdempotencyToken{
			Key:           opCtx.TransactionID,
			OperationType: opCtx.OperationType,
			ResourceID:    opCtx.InitiatedBy,
			Status:        models.TokenStatusPending,
			ExpiresAt:     tokenExpiry(now),
		}
		if err := s.store.Tokens().Create(ctx, token); err != nil {
			return failure(StatusFailed, fmt.Errorf("failed to create idempotency token: %w", err))
		}
	default:
		return failure(StatusFailed, fmt.Errorf("failed to check idempotency token: %w", err))
	}

	// Canonically ordered lock acquisition prevents deadlock when two
	// transfers touch the same wallets in opposite directions.
	keySet := make(map[string]struct{}, len(ops))
	for _, op := range ops {
		keySet[lockKey(op)] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, key := range keys {
		release, err := s.locks.Acquire(ctx, key, s.lockTimeout)
		if err != nil {
			s.markTokenFailed(ctx, opCtx.TransactionID)
			return failure(StatusFailed, fmt.Errorf("failed to lock %s: %w", key, err))
		}
		releases = append(releases, release)
	}

	var auditIDs []string
	txErr := s.store.Transaction(ctx, func(tx repository.Store) error {
		for i, op := range ops {
			auditID, err := s.applyOperation(ctx, tx, op, opCtx, i)
			if err != nil {
				return err
			}
			auditIDs = append(auditIDs, auditID)
		}
		return tx.Tokens().MarkCompleted(ctx, opCtx.TransactionID)
	})
	if txErr != nil {
		s.markTokenFailed(ctx, opCtx.TransactionID)
		switch {
		case errors.Is(txErr, ErrInsufficientFunds):
			return failure(StatusInsufficientFunds, txErr)
		case errors.Is(txErr, ErrValidation):
			return failure(StatusValidationFailed, txErr)
		default:
			log.Errorf("[TxSafety] Transaction %s rolled back: %v", opCtx.TransactionID, txErr)
			return failure(StatusRolledBack, txErr)
		}
	}

	log.Infof("[TxSafety] Transaction %s committed (%d operations)", opCtx.TransactionID, len(ops))
	return &Result{Status: StatusSuccess, AuditIDs: auditIDs}, nil
}

// applyOperation mutates one balance component under the open transaction
// and writes its audit row in the same transaction.
func (s *Service) applyOperation(ctx context.Context, tx repository.Store, op BalanceOperation, opCtx OperationContext, index int) (string, error) {
	txID := op.TransactionID
	if txID == "" {
		txID = opCtx.TransactionID
	}
	idemKey := fmt.Sprintf("%s:%d", opCtx.TransactionID, index)

	if op.WalletType == models.WalletTypeInternal {
		return s.applyInternal(ctx, tx, op, txID, idemKey)
	}
	return s.applyUser(ctx, tx, op, txID, idemKey)
}

func (s *Service) applyUser(ctx context.Context, tx repository.Store, op BalanceOperation, txID, idemKey string) (string, error) {
	wallet, err := tx.Wallets().GetForUpdate(ctx, op.UserID, op.Currency)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: user %d %s", ErrWalletNotFound, op.UserID, op.Currency)
		}
		return "", fmt.Errorf("failed to load wallet: %w", err)
	}

	before := wallet.Balance(op.BalanceType)
	after, err := applyAmount(before, op)
	if err != nil {
		return "", err
	}

	wallet.SetBalance(op.BalanceType, after)
	if wallet.HasNegativeComponent() {
		return "", fmt.Errorf("%w: %s balance of wallet %d would go negative", ErrInsufficientFunds, op.BalanceType, wallet.ID)
	}
	if err := tx.Wallets().SaveBalances(ctx, wallet); err != nil {
		return "", fmt.Errorf("failed to persist wallet %d: %w", wallet.ID, err)
	}

	entry, err := s.audit.LogBalanceChange(ctx, tx, audit.ChangeInput{
		WalletType:       models.WalletTypeUser,
		UserID:           op.UserID,
		WalletID:         wallet.ID,
		Currency:         op.Currency,
		BalanceType:      op.BalanceType,
		AmountBefore:     before,
		AmountAfter:      after,
		TransactionID:    txID,
		IdempotencyKey:   idemKey,
		ValidationPassed: true,
	})
	if err != nil {
		return "", err
	}
	return entry.AuditID, nil
}

func (s *Service) applyInternal(ctx context.Context, tx repository.Store, op BalanceOperation, txID, idemKey string) (string, error) {
	wallet, err := tx.InternalWallets().GetForUpdate(ctx, op.Provider, op.Currency)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: internal %s %s", ErrWalletNotFound, op.Provider, op.Currency)
		}
		return "", fmt.Errorf("failed to load internal wallet: %w", err)
	}

	before := wallet.Balance(op.BalanceType)
	after, err := applyAmount(before, op)
	if err != nil {
		return "", err
	}

	wallet.SetBalance(op.BalanceType, after)
	if wallet.HasNegativeComponent() {
		return "", fmt.Errorf("%w: %s balance of internal wallet %s/%s would go negative",
			ErrInsufficientFunds, op.BalanceType, op.Provider, op.Currency)
	}
	if err := tx.InternalWallets().SaveBalances(ctx, wallet); err != nil {
		return "", fmt.Errorf("failed to persist internal wallet %d: %w", wallet.ID, err)
	}

	entry, err := s.audit.LogBalanceChange(ctx, tx, audit.ChangeInput{
		WalletType:       models.WalletTypeInternal,
		InternalWalletID: wallet.ID,
		Currency:         op.Currency,
		BalanceType:      op.BalanceType,
		AmountBefore:     before,
		AmountAfter:      after,
		TransactionID:    txID,
		IdempotencyKey:   idemKey,
		ValidationPassed: true,
	})
	if err != nil {
		return "", err
	}
	return entry.AuditID, nil
}

func applyAmount(before decimal.Decimal, op BalanceOperation) (decimal.Decimal, error) {
	if op.Op == OpDebit {
		after := before.Sub(op.Amount)
		if after.IsNegative() {
			return decimal.Decimal{}, fmt.Errorf("%w: %s %s available, %s requested",
				ErrInsufficientFunds, before.String(), op.BalanceType, op.Amount.String())
		}
		return after, nil
	}
	return before.Add(op.Amount), nil
}

func (s *Service) markTokenFailed(ctx context.Context, key string) {
	if err := s.store.Tokens().MarkFailed(ctx, key); err != nil {
		log.Warnf("[TxSafety] Failed to mark token %s failed: %v", key, err)
	}
}
