package validator

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository/repotest"
	"github.com/custodix/walletcore/internal/pkg/audit"
	"github.com/custodix/walletcore/internal/pkg/locks"
	"github.com/custodix/walletcore/internal/pkg/txsafety"
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, severity, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, severity+": "+subject)
	return nil
}

func issueKinds(result *Result) []IssueKind {
	kinds := make([]IssueKind, 0, len(result.Issues))
	for _, issue := range result.Issues {
		kinds = append(kinds, issue.Kind)
	}
	return kinds
}

func TestValidateInternalWalletHealthy(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("10000"), money("1000"), money("500"))
	svc := NewService(store, nil)

	result, err := svc.ValidateInternalWallet(context.Background(), "paygate", "USD")
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestValidateInternalWalletNegativeBalance(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("10000"), money("1000"), money("500"))
	// Corrupt available directly, bypassing every safety layer.
	store.Corrupt(models.WalletTypeInternal, "paygate:USD",
		func(_, locked, reserved decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("-50"), locked, reserved
		})
	svc := NewService(store, nil)

	result, err := svc.ValidateInternalWallet(context.Background(), "paygate", "USD")
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Contains(t, issueKinds(result), IssueNegativeBalance)

	var critical int
	for _, issue := range result.Issues {
		if issue.Kind == IssueNegativeBalance {
			assert.Equal(t, SeverityCritical, issue.Severity)
			assert.Equal(t, models.BalanceTypeAvailable, issue.BalanceType)
			critical++
		}
	}
	assert.Equal(t, 1, critical, "exactly one NEGATIVE_BALANCE issue")
	assert.Less(t, result.Confidence, 1.0)
	assert.NotEmpty(t, result.Recommendations)
}

func TestValidateInternalWalletTotalMismatch(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	// Skew the stored total without touching the components.
	stored := store.ProviderWallets["paygate:USD"]
	stored.TotalBalance = money("150")
	store.ProviderWallets["paygate:USD"] = stored
	svc := NewService(store, nil)

	result, err := svc.ValidateInternalWallet(context.Background(), "paygate", "USD")
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Contains(t, issueKinds(result), IssueBalanceInconsistency)
}

func TestValidateInternalWalletBelowMinimum(t *testing.T) {
	store := repotest.New()
	store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	stored := store.ProviderWallets["paygate:USD"]
	stored.MinimumBalance = money("500")
	store.ProviderWallets["paygate:USD"] = stored
	svc := NewService(store, nil)

	result, err := svc.ValidateInternalWallet(context.Background(), "paygate", "USD")
	require.NoError(t, err)

	// A float below minimum is a warning, not a failure.
	assert.True(t, result.Valid)
	assert.Contains(t, issueKinds(result), IssueInternalBalanceError)
}

func TestValidateUserWalletNegativeFrozen(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100"))
	store.Corrupt(models.WalletTypeUser, "1:USD",
		func(available, _, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return available, money("-1"), locked
		})
	svc := NewService(store, nil)

	result, err := svc.ValidateUserWallet(context.Background(), 1, "USD")
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, IssueNegativeBalance, result.Issues[0].Kind)
	assert.Equal(t, models.BalanceTypeFrozen, result.Issues[0].BalanceType)
}

func TestValidateUserWalletAuditAgreement(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("0"))
	lockMgr := locks.NewManager()
	auditSvc := audit.NewService(nil)
	tx := txsafety.NewService(store, lockMgr, auditSvc)
	ctx := context.Background()

	_, err := tx.SafeCredit(ctx, 1, "USD", models.BalanceTypeAvailable, money("40"), "tx-agree-1")
	require.NoError(t, err)

	svc := NewService(store, nil)
	result, err := svc.ValidateUserWallet(ctx, 1, "USD")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues, "balance matches the last audit entry")

	// Drift the balance out from under the ledger.
	store.Corrupt(models.WalletTypeUser, "1:USD",
		func(_, frozen, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("55"), frozen, locked
		})

	result, err = svc.ValidateUserWallet(ctx, 1, "USD")
	require.NoError(t, err)
	assert.Contains(t, issueKinds(result), IssueAuditTrailGap)
	assert.True(t, result.Valid, "a trail gap alone is a warning")
	assert.Less(t, result.Confidence, 1.0)
}

func TestValidateAllWalletsAggregatesAndAlerts(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100"))
	store.AddWallet(2, "EUR", money("50"))
	store.AddInternalWallet("paygate", "USD", money("1000"), money("0"), money("0"))
	store.Corrupt(models.WalletTypeUser, "2:EUR",
		func(_, frozen, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("-10"), frozen, locked
		})
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	batch, err := svc.ValidateAllWallets(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, batch.Checked)
	assert.Equal(t, 2, batch.Passed)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 1, batch.CriticalIssues)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, uint(2), batch.Failures[0].WalletID)

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, "critical: balance validation failed", notifier.calls[0])
}

func TestValidateAllWalletsCleanRunDoesNotAlert(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100"))
	notifier := &recordingNotifier{}
	svc := NewService(store, notifier)

	batch, err := svc.ValidateAllWallets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Passed)
	assert.Empty(t, notifier.calls)
}

func TestDetectDiscrepancies(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("0"))
	lockMgr := locks.NewManager()
	tx := txsafety.NewService(store, lockMgr, audit.NewService(nil))
	ctx := context.Background()

	_, err := tx.SafeCredit(ctx, 1, "USD", models.BalanceTypeAvailable, money("40"), "tx-disc-1")
	require.NoError(t, err)

	svc := NewService(store, nil)
	discrepancies, err := svc.DetectDiscrepancies(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)

	store.Corrupt(models.WalletTypeUser, "1:USD",
		func(_, frozen, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("65"), frozen, locked
		})

	discrepancies, err = svc.DetectDiscrepancies(ctx)
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	d := discrepancies[0]
	assert.Equal(t, models.BalanceTypeAvailable, d.BalanceType)
	assert.True(t, d.Stored.Equal(money("65")))
	assert.True(t, d.Ledger.Equal(money("40")))
	assert.True(t, d.Difference.Equal(money("25")))
}

func TestValidateAgainstAuditTrail(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("0"))
	lockMgr := locks.NewManager()
	tx := txsafety.NewService(store, lockMgr, audit.NewService(nil))
	ctx := context.Background()

	for i, amt := range []string{"40", "10"} {
		_, err := tx.SafeCredit(ctx, 1, "USD", models.BalanceTypeAvailable, money(amt), "tx-trail-"+string(rune('a'+i)))
		require.NoError(t, err)
	}

	svc := NewService(store, nil)
	result, err := svc.ValidateAgainstAuditTrail(ctx, models.WalletTypeUser, 1, 0)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Issues)

	// Tamper with a recorded amount: checksum and continuity both break.
	store.AuditEntries[0].AmountAfter = money("999")

	result, err = svc.ValidateAgainstAuditTrail(ctx, models.WalletTypeUser, 1, 0)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, issueKinds(result), IssueAuditTrailGap)
}
