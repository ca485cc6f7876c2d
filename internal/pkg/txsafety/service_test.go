package txsafety

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository/repotest"
	"github.com/custodix/walletcore/internal/pkg/audit"
	"github.com/custodix/walletcore/internal/pkg/locks"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(store *repotest.Store) *Service {
	return NewService(store, locks.NewManager(), audit.NewService(nil))
}

func availableOf(t *testing.T, store *repotest.Store, userID uint, currency string) decimal.Decimal {
	t.Helper()
	w, err := store.Wallets().GetByUserAndCurrency(context.Background(), userID, currency)
	require.NoError(t, err)
	return w.AvailableBalance
}

func TestSafeDebitScenario(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100.00"))
	svc := newTestService(store)
	ctx := context.Background()

	result, err := svc.SafeDebit(ctx, 1, "USD", models.BalanceTypeAvailable, money("30.00"), "tx-debit-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("70.00")))

	require.Len(t, store.AuditEntries, 1)
	entry := store.AuditEntries[0]
	assert.Equal(t, models.ChangeTypeDebit, entry.ChangeType)
	assert.True(t, entry.ChangeAmount.Equal(money("30.00")))
	assert.True(t, entry.AmountBefore.Equal(money("100.00")))
	assert.True(t, entry.AmountAfter.Equal(money("70.00")))

	// Second debit exceeds the remaining balance.
	result, err = svc.SafeDebit(ctx, 1, "USD", models.BalanceTypeAvailable, money("80.00"), "tx-debit-2")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, StatusInsufficientFunds, result.Status)
	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("70.00")), "balance unchanged")
	assert.Len(t, store.AuditEntries, 1, "no audit row for the failed debit")
}

func TestSafeCreditWritesAuditRow(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("0"))
	svc := newTestService(store)

	result, err := svc.SafeCredit(context.Background(), 1, "USD", models.BalanceTypeAvailable, money("25.50"), "tx-credit-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	require.Len(t, result.AuditIDs, 1)
	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("25.50")))

	token, err := store.Tokens().Get(context.Background(), "tx-credit-1")
	require.NoError(t, err)
	assert.Equal(t, models.TokenStatusCompleted, token.Status)
}

func TestExecuteBalanceOperationsIdempotent(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("0"))
	svc := newTestService(store)
	ctx := context.Background()

	ops := []BalanceOperation{{
		WalletType:  models.WalletTypeUser,
		UserID:      1,
		Currency:    "USD",
		BalanceType: models.BalanceTypeAvailable,
		Amount:      money("10.00"),
		Op:          OpCredit,
	}}
	opCtx := OperationContext{TransactionID: "tx-idem-1", OperationType: "credit"}

	first, err := svc.ExecuteBalanceOperations(ctx, ops, opCtx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, first.Status)

	second, err := svc.ExecuteBalanceOperations(ctx, ops, opCtx)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.True(t, second.DuplicateDetected)
	assert.True(t, second.Succeeded())

	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("10.00")), "replay must not change balances")
	assert.Len(t, store.AuditEntries, 1)
}

func TestExecuteBalanceOperationsValidation(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100"))
	svc := newTestService(store)
	ctx := context.Background()

	tests := []struct {
		name  string
		ops   []BalanceOperation
		opCtx OperationContext
	}{
		{"empty batch", nil, OperationContext{TransactionID: "tx-v1", OperationType: "credit"}},
		{"missing transaction id", []BalanceOperation{{
			WalletType: models.WalletTypeUser, UserID: 1, Currency: "USD",
			BalanceType: models.BalanceTypeAvailable, Amount: money("1"), Op: OpCredit,
		}}, OperationContext{OperationType: "credit"}},
		{"zero amount", []BalanceOperation{{
			WalletType: models.WalletTypeUser, UserID: 1, Currency: "USD",
			BalanceType: models.BalanceTypeAvailable, Amount: money("0"), Op: OpCredit,
		}}, OperationContext{TransactionID: "tx-v2", OperationType: "credit"}},
		{"negative amount", []BalanceOperation{{
			WalletType: models.WalletTypeUser, UserID: 1, Currency: "USD",
			BalanceType: models.BalanceTypeAvailable, Amount: money("-5"), Op: OpDebit,
		}}, OperationContext{TransactionID: "tx-v3", OperationType: "debit"}},
		{"unknown balance type", []BalanceOperation{{
			WalletType: models.WalletTypeUser, UserID: 1, Currency: "USD",
			BalanceType: "bonus", Amount: money("1"), Op: OpCredit,
		}}, OperationContext{TransactionID: "tx-v4", OperationType: "credit"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := svc.ExecuteBalanceOperations(ctx, tc.ops, tc.opCtx)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, StatusValidationFailed, result.Status)
		})
	}

	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("100")))
	assert.Empty(t, store.AuditEntries)
}

func TestConcurrentDebitRace(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100.00"))
	svc := newTestService(store)
	ctx := context.Background()

	amounts := []string{"60.00", "70.00"}
	results := make([]*Result, len(amounts))
	var wg sync.WaitGroup
	for i, amt := range amounts {
		wg.Add(1)
		go func(i int, amt string) {
			defer wg.Done()
			r, _ := svc.ExecuteBalanceOperations(ctx, []BalanceOperation{{
				WalletType:  models.WalletTypeUser,
				UserID:      1,
				Currency:    "USD",
				BalanceType: models.BalanceTypeAvailable,
				Amount:      money(amt),
				Op:          OpDebit,
			}}, OperationContext{TransactionID: "tx-race-" + amt, OperationType: "debit"})
			results[i] = r
		}(i, amt)
	}
	wg.Wait()

	var succeeded, insufficient int
	var debited decimal.Decimal
	for i, r := range results {
		switch r.Status {
		case StatusSuccess:
			succeeded++
			debited = money(amounts[i])
		case StatusInsufficientFunds:
			insufficient++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one debit wins")
	assert.Equal(t, 1, insufficient, "the other gets INSUFFICIENT_FUNDS")

	final := availableOf(t, store, 1, "USD")
	assert.True(t, final.Equal(money("100.00").Sub(debited)),
		"final balance reflects only the successful debit, got %s", final)
	assert.Len(t, store.AuditEntries, 1)
}

func TestTransferBetweenWallets(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100.00"))
	store.AddWallet(2, "USD", money("10.00"))
	svc := newTestService(store)

	result, err := svc.TransferBetweenWallets(context.Background(), 1, 2, "USD", money("40.00"), "tx-transfer-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Len(t, result.AuditIDs, 2)

	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("60.00")))
	assert.True(t, availableOf(t, store, 2, "USD").Equal(money("50.00")))
}

func TestTransferRollsBackOnMissingDestination(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100.00"))
	svc := newTestService(store)

	result, err := svc.TransferBetweenWallets(context.Background(), 1, 99, "USD", money("40.00"), "tx-transfer-2")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.Equal(t, StatusRolledBack, result.Status)

	// Debit leg was applied first inside the transaction and must be undone.
	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("100.00")))
	assert.Empty(t, store.AuditEntries, "rollback removes the partial audit row")
}

func TestTransferInsufficientFundsLeavesBothUntouched(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("10.00"))
	store.AddWallet(2, "USD", money("0"))
	svc := newTestService(store)

	result, err := svc.TransferBetweenWallets(context.Background(), 1, 2, "USD", money("40.00"), "tx-transfer-3")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, StatusInsufficientFunds, result.Status)

	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("10.00")))
	assert.True(t, availableOf(t, store, 2, "USD").Equal(money("0")))
}

func TestTransferToSelfRejected(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100.00"))
	svc := newTestService(store)

	result, err := svc.TransferBetweenWallets(context.Background(), 1, 1, "USD", money("5"), "tx-transfer-4")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StatusValidationFailed, result.Status)
}

func TestSafeInternalWalletOperations(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("10000"), money("1000"), money("500"))
	svc := newTestService(store)
	ctx := context.Background()

	result, err := svc.SafeInternalWalletOperation(ctx, "paygate", "USD", InternalOpLock, money("200"), "tx-int-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	w, err := store.InternalWallets().GetByProviderAndCurrency(ctx, "paygate", "USD")
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(money("9800")))
	assert.True(t, w.LockedBalance.Equal(money("1200")))
	assert.True(t, w.TotalBalance.Equal(w.ComponentSum()), "total tracks component sum")
	assert.True(t, w.TotalBalance.Equal(money("11500")), "moves between components keep the total")

	result, err = svc.SafeInternalWalletOperation(ctx, "paygate", "USD", InternalOpReserve, money("300"), "tx-int-2")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	result, err = svc.SafeInternalWalletOperation(ctx, "paygate", "USD", InternalOpRelease, money("300"), "tx-int-3")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)

	w, err = store.InternalWallets().GetByProviderAndCurrency(ctx, "paygate", "USD")
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(money("9800")))
	assert.True(t, w.ReservedBalance.Equal(money("500")))
	assert.True(t, w.TotalBalance.Equal(money("11500")))
}

func TestSafeInternalWalletOperationInsufficient(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	svc := newTestService(store)
	ctx := context.Background()

	result, err := svc.SafeInternalWalletOperation(ctx, "paygate", "USD", InternalOpLock, money("500"), "tx-int-4")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, StatusInsufficientFunds, result.Status)

	w, err := store.InternalWallets().GetByProviderAndCurrency(ctx, "paygate", "USD")
	require.NoError(t, err)
	assert.True(t, w.AvailableBalance.Equal(money("100")))
	assert.True(t, w.LockedBalance.Equal(money("0")))
}

func TestSafeInternalWalletOperationUnknownAction(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	svc := newTestService(store)

	result, err := svc.SafeInternalWalletOperation(context.Background(), "paygate", "USD", "teleport", money("5"), "tx-int-5")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StatusValidationFailed, result.Status)
}

func TestLockTimeoutSurfacesAsDistinctError(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100.00"))
	lockMgr := locks.NewManager()
	svc := NewService(store, lockMgr, audit.NewService(nil))
	svc.lockTimeout = 50 * time.Millisecond

	release, err := lockMgr.Acquire(context.Background(), "wallet:user:1:USD", time.Second)
	require.NoError(t, err)
	defer release()

	result, err := svc.SafeCredit(context.Background(), 1, "USD", models.BalanceTypeAvailable, money("5"), "tx-lock-1")
	assert.ErrorIs(t, err, locks.ErrLockTimeout)
	assert.Equal(t, StatusFailed, result.Status)
	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("100.00")))
}

func TestSafeDebitMissingWallet(t *testing.T) {
	store := repotest.New()
	svc := newTestService(store)

	result, err := svc.SafeDebit(context.Background(), 9, "USD", models.BalanceTypeAvailable, money("5"), "tx-missing-1")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestBalanceTypeMustMatchWalletType(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("0"))
	store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	svc := newTestService(store)
	ctx := context.Background()

	// A user wallet has no reserved component; the model setter would fall
	// back to available, leaving the audit row naming the wrong component.
	result, err := svc.SafeCredit(ctx, 1, "USD", models.BalanceTypeReserved, money("40.00"), "tx-mismatch-1")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StatusValidationFailed, result.Status)
	assert.True(t, availableOf(t, store, 1, "USD").Equal(money("0")), "available must not absorb the credit")
	assert.Empty(t, store.AuditEntries)

	// An internal wallet has no frozen component.
	result, err = svc.ExecuteBalanceOperations(ctx, []BalanceOperation{{
		WalletType:  models.WalletTypeInternal,
		Provider:    "paygate",
		Currency:    "USD",
		BalanceType: models.BalanceTypeFrozen,
		Amount:      money("10.00"),
		Op:          OpCredit,
	}}, OperationContext{TransactionID: "tx-mismatch-2", OperationType: "test"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StatusValidationFailed, result.Status)
	assert.Empty(t, store.AuditEntries)

	// The components each wallet type does carry still work.
	result, err = svc.SafeCredit(ctx, 1, "USD", models.BalanceTypeFrozen, money("5.00"), "tx-mismatch-3")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	result, err = svc.ExecuteBalanceOperations(ctx, []BalanceOperation{{
		WalletType:  models.WalletTypeInternal,
		Provider:    "paygate",
		Currency:    "USD",
		BalanceType: models.BalanceTypeReserved,
		Amount:      money("5.00"),
		Op:          OpCredit,
	}}, OperationContext{TransactionID: "tx-mismatch-4", OperationType: "test"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
}
