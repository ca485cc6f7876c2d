package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), "wallet:user:1:EUR", time.Second)
	require.NoError(t, err)
	release()

	// Key space must shrink back after the last release.
	m.mu.Lock()
	assert.Empty(t, m.locks)
	m.mu.Unlock()
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = m.Acquire(context.Background(), "k", 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, "k", 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTryAcquire(t *testing.T) {
	m := NewManager()

	release, ok := m.TryAcquire("k")
	require.True(t, ok)

	_, ok = m.TryAcquire("k")
	assert.False(t, ok)

	release()

	release2, ok := m.TryAcquire("k")
	assert.True(t, ok)
	release2()
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := NewManager()

	release, err := m.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	release()
	release()

	// A double release must not free the lock for a third holder twice.
	r2, err := m.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	r2()
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	m := NewManager()

	r1, err := m.Acquire(context.Background(), "wallet:user:1:EUR", time.Second)
	require.NoError(t, err)
	defer r1()

	r2, err := m.Acquire(context.Background(), "wallet:user:2:EUR", time.Second)
	require.NoError(t, err)
	r2()
}

func TestAcquireSerializesCounter(t *testing.T) {
	m := NewManager()

	const workers = 20
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Acquire(context.Background(), "counter", 5*time.Second)
			if err != nil {
				return
			}
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestLockedWalletPrefixesKey(t *testing.T) {
	m := NewManager()

	release, ok := m.TryAcquire("wallet:user:1:EUR")
	require.True(t, ok)
	defer release()

	err := m.LockedWallet(context.Background(), "user:1:EUR", 50*time.Millisecond, func() error {
		t.Fatal("fn must not run while the wallet lock is held")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestLockedCashoutSkipWhenHeld(t *testing.T) {
	m := NewManager()

	release, ok := m.TryAcquire("cashout:co-1")
	require.True(t, ok)
	defer release()

	ran := false
	err := m.LockedCashout(context.Background(), "co-1", time.Second, true, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestLockedCashoutRunsWhenFree(t *testing.T) {
	m := NewManager()

	ran := false
	err := m.LockedCashout(context.Background(), "co-1", time.Second, true, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// The lock must be released again after fn returns.
	release, ok := m.TryAcquire("cashout:co-1")
	require.True(t, ok)
	release()
}

func TestLockedHolds(t *testing.T) {
	m := NewManager()

	err := m.LockedHolds(context.Background(), "user:1:EUR", time.Second, func() error {
		// Holds and wallet scopes are independent key spaces.
		release, ok := m.TryAcquire("wallet:user:1:EUR")
		require.True(t, ok)
		release()
		return nil
	})
	require.NoError(t, err)
}
