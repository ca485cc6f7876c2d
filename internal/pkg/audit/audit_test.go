package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/custodix/walletcore/app/models"
	"github.com/custodix/walletcore/app/repository"
)

type fakeAuditRepo struct {
	entries   []*models.BalanceAuditLog
	snapshots []*models.BalanceSnapshot
	appendErr error
}

func (f *fakeAuditRepo) Append(_ context.Context, entry *models.BalanceAuditLog) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) GetByAuditID(_ context.Context, auditID string) (*models.BalanceAuditLog, error) {
	for _, e := range f.entries {
		if e.AuditID == auditID {
			return e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAuditRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.BalanceAuditLog, error) {
	for _, e := range f.entries {
		if e.IdempotencyKey != nil && *e.IdempotencyKey == key {
			return e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAuditRepo) LastForWallet(_ context.Context, walletType string, walletID uint, currency, balanceType string) (*models.BalanceAuditLog, error) {
	for i := len(f.entries) - 1; i >= 0; i-- {
		e := f.entries[i]
		id := e.WalletID
		if e.WalletType == models.WalletTypeInternal {
			id = e.InternalWalletID
		}
		if e.WalletType == walletType && id == walletID && e.Currency == currency && e.BalanceType == balanceType {
			return e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAuditRepo) CountForWallet(_ context.Context, walletType string, walletID uint) (int64, error) {
	var n int64
	for _, e := range f.entries {
		id := e.WalletID
		if e.WalletType == models.WalletTypeInternal {
			id = e.InternalWalletID
		}
		if e.WalletType == walletType && id == walletID {
			n++
		}
	}
	return n, nil
}

func (f *fakeAuditRepo) ListForWallet(_ context.Context, walletType string, walletID uint, limit int) ([]models.BalanceAuditLog, error) {
	var out []models.BalanceAuditLog
	for i := len(f.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.entries[i]
		id := e.WalletID
		if e.WalletType == models.WalletTypeInternal {
			id = e.InternalWalletID
		}
		if e.WalletType == walletType && id == walletID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) CreateSnapshot(_ context.Context, snapshot *models.BalanceSnapshot) error {
	f.snapshots = append(f.snapshots, snapshot)
	return nil
}

func (f *fakeAuditRepo) LatestSnapshot(_ context.Context, walletType string, walletID uint) (*models.BalanceSnapshot, error) {
	for i := len(f.snapshots) - 1; i >= 0; i-- {
		s := f.snapshots[i]
		id := s.WalletID
		if s.WalletType == models.WalletTypeInternal {
			id = s.InternalWalletID
		}
		if s.WalletType == walletType && id == walletID {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeAuditRepo) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeStore struct {
	audit *fakeAuditRepo
}

func (f *fakeStore) AuditLogs() repository.AuditRepository { return f.audit }

type failingSink struct {
	calls int
}

func (s *failingSink) Mirror(_ context.Context, _ *models.BalanceAuditLog) error {
	s.calls++
	return errors.New("sink unreachable")
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLogBalanceChangeCredit(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{}}
	svc := NewService(nil)

	entry, err := svc.LogBalanceChange(context.Background(), store, ChangeInput{
		WalletType:       models.WalletTypeUser,
		UserID:           7,
		WalletID:         42,
		Currency:         "USD",
		BalanceType:      models.BalanceTypeAvailable,
		AmountBefore:     money("100.00"),
		AmountAfter:      money("130.00"),
		TransactionID:    "tx-1",
		ValidationPassed: true,
	})
	require.NoError(t, err)
	require.Len(t, store.audit.entries, 1)

	assert.NotEmpty(t, entry.AuditID)
	assert.Equal(t, models.ChangeTypeCredit, entry.ChangeType)
	assert.True(t, entry.ChangeAmount.Equal(money("30.00")))
	assert.True(t, entry.ValidationPassed)
	assert.NotEmpty(t, entry.PreChecksum)
	assert.NotEmpty(t, entry.PostChecksum)
	assert.NotEqual(t, entry.PreChecksum, entry.PostChecksum)
	assert.True(t, VerifyChecksum(entry))
}

func TestLogBalanceChangeDebit(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{}}
	svc := NewService(nil)

	entry, err := svc.LogBalanceChange(context.Background(), store, ChangeInput{
		WalletType:    models.WalletTypeUser,
		UserID:        7,
		WalletID:      42,
		Currency:      "USD",
		BalanceType:   models.BalanceTypeAvailable,
		AmountBefore:  money("100.00"),
		AmountAfter:   money("70.00"),
		TransactionID: "tx-2",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChangeTypeDebit, entry.ChangeType)
	assert.True(t, entry.ChangeAmount.Equal(money("30.00")), "change amount is recorded as a positive magnitude")
}

func TestLogBalanceChangeIdempotentOnKey(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{}}
	svc := NewService(nil)
	ctx := context.Background()

	in := ChangeInput{
		WalletType:     models.WalletTypeUser,
		UserID:         7,
		WalletID:       42,
		Currency:       "USD",
		BalanceType:    models.BalanceTypeAvailable,
		AmountBefore:   money("100.00"),
		AmountAfter:    money("130.00"),
		TransactionID:  "tx-3",
		IdempotencyKey: "tx-3:42:available",
	}

	first, err := svc.LogBalanceChange(ctx, store, in)
	require.NoError(t, err)

	second, err := svc.LogBalanceChange(ctx, store, in)
	require.NoError(t, err)

	assert.Equal(t, first.AuditID, second.AuditID)
	assert.Len(t, store.audit.entries, 1, "duplicate key must not append a second row")
}

func TestLogBalanceChangeSinkFailureIsIsolated(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{}}
	sink := &failingSink{}
	svc := NewService(sink)

	_, err := svc.LogBalanceChange(context.Background(), store, ChangeInput{
		WalletType:    models.WalletTypeUser,
		UserID:        7,
		WalletID:      42,
		Currency:      "USD",
		BalanceType:   models.BalanceTypeAvailable,
		AmountBefore:  money("0"),
		AmountAfter:   money("5"),
		TransactionID: "tx-4",
	})
	require.NoError(t, err, "secondary sink failure must never fail the primary write")
	assert.Equal(t, 1, sink.calls)
	assert.Len(t, store.audit.entries, 1)
}

func TestLogBalanceChangeAppendErrorPropagates(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{appendErr: errors.New("disk full")}}
	svc := NewService(nil)

	_, err := svc.LogBalanceChange(context.Background(), store, ChangeInput{
		WalletType:    models.WalletTypeUser,
		WalletID:      42,
		Currency:      "USD",
		BalanceType:   models.BalanceTypeAvailable,
		AmountBefore:  money("0"),
		AmountAfter:   money("5"),
		TransactionID: "tx-5",
	})
	assert.Error(t, err)
}

func TestCreateBalanceSnapshot(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{}}
	svc := NewService(nil)
	ctx := context.Background()

	for _, tx := range []string{"tx-1", "tx-2", "tx-3"} {
		_, err := svc.LogBalanceChange(ctx, store, ChangeInput{
			WalletType:    models.WalletTypeUser,
			UserID:        7,
			WalletID:      42,
			Currency:      "USD",
			BalanceType:   models.BalanceTypeAvailable,
			AmountBefore:  money("0"),
			AmountAfter:   money("10"),
			TransactionID: tx,
		})
		require.NoError(t, err)
	}

	snapshot, err := svc.CreateBalanceSnapshot(ctx, store, SnapshotInput{
		WalletType:   models.WalletTypeUser,
		UserID:       7,
		WalletID:     42,
		Currency:     "USD",
		Available:    money("30.00"),
		Frozen:       money("5.00"),
		Locked:       money("0"),
		TriggerEvent: models.SnapshotTriggerManual,
	})
	require.NoError(t, err)
	require.Len(t, store.audit.snapshots, 1)

	assert.NotEmpty(t, snapshot.SnapshotID)
	assert.NotEmpty(t, snapshot.Checksum)
	assert.Equal(t, int64(3), snapshot.TransactionCount)
	assert.Equal(t, "tx-3", snapshot.LastTransactionID)
	assert.Equal(t, models.SnapshotTriggerManual, snapshot.TriggerEvent)
}

func TestVerifyChecksumDetectsTamper(t *testing.T) {
	store := &fakeStore{audit: &fakeAuditRepo{}}
	svc := NewService(nil)

	entry, err := svc.LogBalanceChange(context.Background(), store, ChangeInput{
		WalletType:    models.WalletTypeUser,
		UserID:        7,
		WalletID:      42,
		Currency:      "USD",
		BalanceType:   models.BalanceTypeAvailable,
		AmountBefore:  money("100.00"),
		AmountAfter:   money("130.00"),
		TransactionID: "tx-6",
	})
	require.NoError(t, err)
	require.True(t, VerifyChecksum(entry))

	entry.AmountAfter = money("9130.00")
	assert.False(t, VerifyChecksum(entry))
}

func TestChecksumIsDeterministicPerDay(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	a := Checksum(models.WalletTypeUser, 42, "USD", models.BalanceTypeAvailable, money("100"), at)
	b := Checksum(models.WalletTypeUser, 42, "USD", models.BalanceTypeAvailable, money("100"), at.Add(5*time.Hour))
	c := Checksum(models.WalletTypeUser, 42, "USD", models.BalanceTypeAvailable, money("100"), at.Add(24*time.Hour))

	assert.Equal(t, a, b, "same day, same inputs")
	assert.NotEqual(t, a, c, "different day")
}
