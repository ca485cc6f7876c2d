package dbsafety

import (
	"context"
	"testing"

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

func TestCheckConstraintsCleanStore(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100"))
	store.AddInternalWallet("paygate", "USD", money("10000"), money("1000"), money("500"))
	svc := newTestService(store)

	violations, err := svc.CheckConstraints(context.Background())
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckConstraintsFindsBreaches(t *testing.T) {
	store := repotest.New()
	store.AddWallet(1, "USD", money("100"))
	store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	store.Corrupt(models.WalletTypeUser, "1:USD",
		func(_, frozen, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("-5"), frozen, locked
		})
	// Components change but the stored total does not, so both constraints trip.
	store.Corrupt(models.WalletTypeInternal, "paygate:USD",
		func(_, locked, reserved decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("-50"), locked, reserved
		})
	svc := newTestService(store)

	violations, err := svc.CheckConstraints(context.Background())
	require.NoError(t, err)
	require.Len(t, violations, 3)

	constraints := make(map[string]int)
	for _, v := range violations {
		constraints[v.Constraint]++
	}
	assert.Equal(t, 2, constraints["non_negative_balance"])
	assert.Equal(t, 1, constraints["total_equals_component_sum"])
}

func TestEmergencyRepairDryRunWritesNothing(t *testing.T) {
	store := repotest.New()
	w := store.AddInternalWallet("paygate", "USD", money("10000"), money("1000"), money("500"))
	store.Corrupt(models.WalletTypeInternal, "paygate:USD",
		func(_, locked, reserved decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("-50"), locked, reserved
		})
	svc := newTestService(store)

	report, err := svc.EmergencyBalanceRepair(context.Background(), models.WalletTypeInternal, w.ID, RepairZeroNegative, true)
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, models.BalanceTypeAvailable, report.Actions[0].BalanceType)
	assert.True(t, report.Actions[0].Before.Equal(money("-50")))
	assert.True(t, report.Actions[0].After.IsZero())
	assert.Empty(t, report.Actions[0].AuditID)

	assert.True(t, store.ProviderWallets["paygate:USD"].AvailableBalance.Equal(money("-50")), "dry run must not mutate")
	assert.Empty(t, store.AuditEntries)
}

func TestEmergencyRepairZeroNegativeInternal(t *testing.T) {
	store := repotest.New()
	w := store.AddInternalWallet("paygate", "USD", money("10000"), money("1000"), money("500"))
	store.Corrupt(models.WalletTypeInternal, "paygate:USD",
		func(_, locked, reserved decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return money("-50"), locked, reserved
		})
	svc := newTestService(store)

	report, err := svc.EmergencyBalanceRepair(context.Background(), models.WalletTypeInternal, w.ID, RepairZeroNegative, false)
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	assert.NotEmpty(t, report.Actions[0].AuditID)

	repaired := store.ProviderWallets["paygate:USD"]
	assert.True(t, repaired.AvailableBalance.IsZero())
	assert.True(t, repaired.TotalBalance.Equal(repaired.ComponentSum()))

	require.Len(t, store.AuditEntries, 1)
	entry := store.AuditEntries[0]
	assert.Equal(t, report.RepairID, entry.TransactionID)
	assert.Equal(t, models.ChangeTypeCredit, entry.ChangeType)
	assert.True(t, entry.ChangeAmount.Equal(money("50")))
	assert.True(t, entry.AmountBefore.Equal(money("-50")))
	assert.True(t, entry.AmountAfter.IsZero())
}

func TestEmergencyRepairZeroNegativeUserWallet(t *testing.T) {
	store := repotest.New()
	w := store.AddWallet(1, "USD", money("100"))
	store.Corrupt(models.WalletTypeUser, "1:USD",
		func(available, _, locked decimal.Decimal) (decimal.Decimal, decimal.Decimal, decimal.Decimal) {
			return available, money("-3"), locked
		})
	svc := newTestService(store)

	report, err := svc.EmergencyBalanceRepair(context.Background(), models.WalletTypeUser, w.ID, RepairZeroNegative, false)
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	assert.Equal(t, models.BalanceTypeFrozen, report.Actions[0].BalanceType)

	repaired := store.UserWallets["1:USD"]
	assert.True(t, repaired.FrozenBalance.IsZero())
	assert.True(t, repaired.AvailableBalance.Equal(money("100")), "untouched components stay put")
	require.Len(t, store.AuditEntries, 1)
}

func TestEmergencyRepairRecomputeTotal(t *testing.T) {
	store := repotest.New()
	w := store.AddInternalWallet("paygate", "USD", money("100"), money("20"), money("0"))
	stored := store.ProviderWallets["paygate:USD"]
	stored.TotalBalance = money("999")
	store.ProviderWallets["paygate:USD"] = stored
	svc := newTestService(store)

	report, err := svc.EmergencyBalanceRepair(context.Background(), models.WalletTypeInternal, w.ID, RepairRecomputeTotal, false)
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	assert.Equal(t, "total", report.Actions[0].BalanceType)
	assert.True(t, report.Actions[0].Before.Equal(money("999")))
	assert.True(t, report.Actions[0].After.Equal(money("120")))

	repaired := store.ProviderWallets["paygate:USD"]
	assert.True(t, repaired.TotalBalance.Equal(money("120")))

	// Correction is recorded as a snapshot, not a component audit row.
	assert.Empty(t, store.AuditEntries)
	require.Len(t, store.Snapshots, 1)
	assert.Equal(t, "emergency_repair", store.Snapshots[0].TriggerEvent)
}

func TestEmergencyRepairNothingToRepair(t *testing.T) {
	store := repotest.New()
	w := store.AddInternalWallet("paygate", "USD", money("100"), money("0"), money("0"))
	svc := newTestService(store)

	_, err := svc.EmergencyBalanceRepair(context.Background(), models.WalletTypeInternal, w.ID, RepairZeroNegative, false)
	require.ErrorIs(t, err, ErrNothingToRepair)
	assert.Empty(t, store.AuditEntries)
}

func TestEmergencyRepairRejectsBadInput(t *testing.T) {
	store := repotest.New()
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.EmergencyBalanceRepair(ctx, models.WalletTypeUser, 1, "drop_tables", false)
	require.ErrorIs(t, err, ErrUnknownRepairType)

	_, err = svc.EmergencyBalanceRepair(ctx, models.WalletTypeUser, 1, RepairRecomputeTotal, false)
	require.ErrorIs(t, err, ErrUnknownRepairType)
}
