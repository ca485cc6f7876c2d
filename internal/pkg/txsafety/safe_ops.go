package txsafety

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
)

// Internal wallet actions accepted by SafeInternalWalletOperation.
const (
	InternalOpCredit  = "credit"
	InternalOpDebit   = "debit"
	InternalOpLock    = "lock"
	InternalOpUnlock  = "unlock"
	InternalOpReserve = "reserve"
	InternalOpRelease = "release"
)

// SafeCredit credits a user wallet's balance component.
func (s *Service) SafeCredit(ctx context.Context, userID uint, currency, balanceType string, amount decimal.Decimal, transactionID string) (*Result, error) {
	return s.ExecuteBalanceOperations(ctx, []BalanceOperation{{
		WalletType:  models.WalletTypeUser,
		UserID:      userID,
		Currency:    currency,
		BalanceType: balanceType,
		Amount:      amount,
		Op:          OpCredit,
	}}, OperationContext{
		TransactionID: transactionID,
		OperationType: "credit",
	})
}

// SafeDebit debits a user wallet's balance component. It pre-checks the
// current balance before locking so obviously doomed debits fail without
// touching storage; the authoritative check still happens under the lock.
func (s *Service) SafeDebit(ctx context.Context, userID uint, currency, balanceType string, amount decimal.Decimal, transactionID string) (*Result, error) {
	wallet, err := s.store.Wallets().GetByUserAndCurrency(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return failure(StatusFailed, fmt.Errorf("%w: user %d %s", ErrWalletNotFound, userID, currency))
		}
		return failure(StatusFailed, fmt.Errorf("failed to load wallet: %w", err))
	}
	if wallet.Balance(balanceType).LessThan(amount) {
		return failure(StatusInsufficientFunds, fmt.Errorf("%w: %s %s available, %s requested",
			ErrInsufficientFunds, wallet.Balance(balanceType).String(), balanceType, amount.String()))
	}

	return s.ExecuteBalanceOperations(ctx, []BalanceOperation{{
		WalletType:  models.WalletTypeUser,
		UserID:      userID,
		Currency:    currency,
		BalanceType: balanceType,
		Amount:      amount,
		Op:          OpDebit,
	}}, OperationContext{
		TransactionID: transactionID,
		OperationType: "debit",
	})
}

// TransferBetweenWallets moves amount between two users' available balances
// as one atomic debit+credit pair.
func (s *Service) TransferBetweenWallets(ctx context.Context, fromUserID, toUserID uint, currency string, amount decimal.Decimal, transactionID string) (*Result, error) {
	if fromUserID == toUserID {
		return failure(StatusValidationFailed, fmt.Errorf("%w: transfer to self", ErrValidation))
	}
	return s.ExecuteBalanceOperations(ctx, []BalanceOperation{
		{
			WalletType:  models.WalletTypeUser,
			UserID:      fromUserID,
			Currency:    currency,
			BalanceType: models.BalanceTypeAvailable,
			Amount:      amount,
			Op:          OpDebit,
		},
		{
			WalletType:  models.WalletTypeUser,
			UserID:      toUserID,
			Currency:    currency,
			BalanceType: models.BalanceTypeAvailable,
			Amount:      amount,
			Op:          OpCredit,
		},
	}, OperationContext{
		TransactionID: transactionID,
		OperationType: "transfer",
	})
}

// SafeInternalWalletOperation applies a provider-float action. Moves between
// components are paired debit+credit operations, so total_balance ==
// available + locked + reserved holds at every commit point.
func (s *Service) SafeInternalWalletOperation(ctx context.Context, provider, currency, action string, amount decimal.Decimal, transactionID string) (*Result, error) {
	op := func(balanceType, direction string) BalanceOperation {
		return BalanceOperation{
			WalletType:  models.WalletTypeInternal,
			Provider:    provider,
			Currency:    currency,
			BalanceType: balanceType,
			Amount:      amount,
			Op:          direction,
		}
	}

	var ops []BalanceOperation
	switch action {
	case InternalOpCredit:
		ops = []BalanceOperation{op(models.BalanceTypeAvailable, OpCredit)}
	case InternalOpDebit:
		ops = []BalanceOperation{op(models.BalanceTypeAvailable, OpDebit)}
	case InternalOpLock:
		ops = []BalanceOperation{op(models.BalanceTypeAvailable, OpDebit), op(models.BalanceTypeLocked, OpCredit)}
	case InternalOpUnlock:
		ops = []BalanceOperation{op(models.BalanceTypeLocked, OpDebit), op(models.BalanceTypeAvailable, OpCredit)}
	case InternalOpReserve:
		ops = []BalanceOperation{op(models.BalanceTypeAvailable, OpDebit), op(models.BalanceTypeReserved, OpCredit)}
	case InternalOpRelease:
		ops = []BalanceOperation{op(models.BalanceTypeReserved, OpDebit), op(models.BalanceTypeAvailable, OpCredit)}
	default:
		return failure(StatusValidationFailed, fmt.Errorf("%w: unknown internal wallet action %q", ErrValidation, action))
	}

	return s.ExecuteBalanceOperations(ctx, ops, OperationContext{
		TransactionID: transactionID,
		OperationType: "internal_" + action,
	})
}
