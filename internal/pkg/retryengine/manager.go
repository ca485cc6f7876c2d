package retryengine

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/custodix/walletcore/internal/pkg/env"
	"github.com/custodix/walletcore/internal/pkg/metrics/counter"
)

// Manager schedules the retry sweep and the housekeeping workers: counter
// flushing and retention pruning.
type Manager struct {
	engine *Engine

	sweepTicker     *time.Ticker
	flushTicker     *time.Ticker
	retentionTicker *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool

	lastReport   *SweepReport
	lastReportMu sync.Mutex
}

func NewManager(engine *Engine) *Manager {
	return &Manager{engine: engine}
}

// Start launches the sweep, counter flush and retention workers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true

	sweepInterval := envMinutes("RETRY_SWEEP_INTERVAL_MINUTES", 2)
	log.Infof("[Retry Manager] Starting background workers (sweep interval: %s)", sweepInterval)

	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker(m.stopCh)

	m.flushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.flushWorker(m.stopCh)

	m.retentionTicker = time.NewTicker(time.Hour)
	m.wg.Add(1)
	go m.retentionWorker(m.stopCh)

	log.Info("[Retry Manager] Started successfully")
}

// Stop halts all workers and waits for them to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	log.Info("[Retry Manager] Stopping background workers...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}
	if m.retentionTicker != nil {
		m.retentionTicker.Stop()
	}

	// Workers hold their own reference to the channel; it is never nilled so
	// a late select cannot block on a nil receive.
	close(m.stopCh)
	m.running = false

	m.wg.Wait()
	log.Info("[Retry Manager] Stopped successfully")
}

// TriggerSweep runs one sweep immediately, outside the schedule.
func (m *Manager) TriggerSweep(ctx context.Context) *SweepReport {
	report := m.engine.RunSweep(ctx)
	m.lastReportMu.Lock()
	m.lastReport = report
	m.lastReportMu.Unlock()
	return report
}

// LastReport returns the most recent sweep report, or nil before the first.
func (m *Manager) LastReport() *SweepReport {
	m.lastReportMu.Lock()
	defer m.lastReportMu.Unlock()
	return m.lastReport
}

func (m *Manager) sweepWorker(stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			log.Info("[Retry Manager] Sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			m.TriggerSweep(context.Background())
		}
	}
}

// flushWorker periodically flushes buffered processing counters from Redis
// into the daily stats table.
func (m *Manager) flushWorker(stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			log.Info("[Retry Manager] Counter flush worker stopping")
			return
		case <-m.flushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[Retry Manager] Counter flush error: %v", err)
			}
		}
	}
}

func (m *Manager) retentionWorker(stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			log.Info("[Retry Manager] Retention worker stopping")
			return
		case <-m.retentionTicker.C:
			m.pruneOnce(context.Background())
		}
	}
}

// pruneOnce applies the retention policy: terminal webhook events, expired
// idempotency tokens and audit rows past the archive horizon.
func (m *Manager) pruneOnce(ctx context.Context) {
	webhookRetention := envHours("WEBHOOK_RETENTION_HOURS", 72)
	if n, err := m.engine.queue.PruneTerminal(ctx, webhookRetention); err != nil {
		log.Errorf("[Retry Manager] Failed to prune webhook events: %v", err)
	} else if n > 0 {
		log.Infof("[Retry Manager] Pruned %d terminal webhook events", n)
	}

	if n, err := m.engine.store.Tokens().DeleteExpired(ctx, time.Now()); err != nil {
		log.Errorf("[Retry Manager] Failed to delete expired idempotency tokens: %v", err)
	} else if n > 0 {
		log.Infof("[Retry Manager] Deleted %d expired idempotency tokens", n)
	}

	auditRetention := envHours("AUDIT_RETENTION_HOURS", 24*180)
	cutoff := time.Now().Add(-auditRetention)
	if n, err := m.engine.store.AuditLogs().PruneOlderThan(ctx, cutoff); err != nil {
		log.Errorf("[Retry Manager] Failed to prune audit logs: %v", err)
	} else if n > 0 {
		log.Infof("[Retry Manager] Purged %d audit rows older than %s", n, cutoff.Format(time.DateOnly))
	}
}

func envMinutes(key string, def int) time.Duration {
	if v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def))); err == nil && v > 0 {
		return time.Duration(v) * time.Minute
	}
	return time.Duration(def) * time.Minute
}

func envHours(key string, def int) time.Duration {
	if v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def))); err == nil && v > 0 {
		return time.Duration(v) * time.Hour
	}
	return time.Duration(def) * time.Hour
}
