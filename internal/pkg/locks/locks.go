package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a bounded lock acquisition did not obtain
// the lock within its deadline. It is a distinct error so callers can
// surface it instead of retrying silently.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// DefaultTimeout bounds lock waits for balance mutations.
const DefaultTimeout = 30 * time.Second

// Manager provides scoped, timeout-bounded exclusive locks keyed by string
// identity. Lock entries are reference counted and removed once the last
// waiter releases, so the key space does not grow unboundedly.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

// NewManager creates a lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*entry)}
}

func (m *Manager) get(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) put(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}

// Acquire obtains the exclusive lock for key, waiting at most timeout.
// It returns a release function, or ErrLockTimeout / the context error.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	e := m.get(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return m.releaseFunc(key, e), nil
	case <-timer.C:
		m.put(key, e)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		m.put(key, e)
		return nil, ctx.Err()
	}
}

// TryAcquire obtains the lock only if it is immediately free. Background
// jobs use this so they never contend with live user traffic.
func (m *Manager) TryAcquire(key string) (func(), bool) {
	e := m.get(key)
	select {
	case e.ch <- struct{}{}:
		return m.releaseFunc(key, e), true
	default:
		m.put(key, e)
		return nil, false
	}
}

func (m *Manager) releaseFunc(key string, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.put(key, e)
		})
	}
}

// LockedWallet runs fn while holding the wallet-scoped lock.
func (m *Manager) LockedWallet(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	release, err := m.Acquire(ctx, "wallet:"+key, timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// LockedCashout runs fn while holding the cash-out-scoped lock. When skip is
// set and the lock is taken, fn is not run and no error is returned.
func (m *Manager) LockedCashout(ctx context.Context, key string, timeout time.Duration, skip bool, fn func() error) error {
	if skip {
		release, ok := m.TryAcquire("cashout:" + key)
		if !ok {
			return nil
		}
		defer release()
		return fn()
	}
	release, err := m.Acquire(ctx, "cashout:"+key, timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// LockedHolds runs fn while holding the holds-scoped lock for frozen/locked
// balance maintenance.
func (m *Manager) LockedHolds(ctx context.Context, key string, timeout time.Duration, fn func() error) error {
	release, err := m.Acquire(ctx, "holds:"+key, timeout)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
